// Package engine implements the wallet's WebSocket session protocol. A
// paired device connects, proves its identity with a device token, and
// drives the unlock state machine and credential flows over the socket.
// User-facing legs of a flow (browser redirect, biometric verification,
// proof signing) round-trip to the device as request/response messages.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/internal/keystore"
	"github.com/tusharbhayani/paradym-wallet/internal/storage"
	"github.com/tusharbhayani/paradym-wallet/internal/unlock"
	"github.com/tusharbhayani/paradym-wallet/pkg/config"
	"github.com/tusharbhayani/paradym-wallet/pkg/middleware"
)

const (
	handshakeTimeout = 30 * time.Second
	flowTimeout      = 5 * time.Minute
	actionTimeout    = 5 * time.Minute
	approvalTimeout  = 2 * time.Minute
	signTimeout      = 2 * time.Minute
)

var (
	ErrSessionClosed   = errors.New("session closed")
	ErrFlowNotFound    = errors.New("flow not found")
	ErrActionTimeout   = errors.New("timed out waiting for flow action")
	ErrApprovalTimeout = errors.New("timed out waiting for approval response")
	ErrSignTimeout     = errors.New("timed out waiting for sign response")
)

// UnlockContext is carried by the unlocked state of a session's unlock
// machine
type UnlockContext struct {
	DeviceID   string    `json:"deviceId"`
	UnlockedAt time.Time `json:"unlockedAt"`
}

// FlowHandler executes one flow on a session
type FlowHandler interface {
	Execute(ctx context.Context, session *Session, msg *FlowStartMessage) error
	Cancel()
}

// FlowHandlerFactory creates a handler for a starting flow
type FlowHandlerFactory func(m *Manager, session *Session, flowID string) FlowHandler

// Manager owns WebSocket sessions and routes flows to their handlers
type Manager struct {
	cfg          *config.Config
	logger       *zap.Logger
	store        storage.Store
	trust        *TrustService
	sessionStore SessionStore
	upgrader     websocket.Upgrader

	mu          sync.RWMutex
	sessions    map[string]*Session
	walletIndex map[string]*Session
	handlers    map[FlowType]FlowHandlerFactory
}

// NewManager creates a session manager
func NewManager(cfg *config.Config, store storage.Store, sessionStore SessionStore, trust *TrustService, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		logger:       logger.Named("engine"),
		store:        store,
		trust:        trust,
		sessionStore: sessionStore,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Device tokens authenticate the connection; browser origins
				// do not apply to the native shell.
				return true
			},
		},
		sessions:    make(map[string]*Session),
		walletIndex: make(map[string]*Session),
		handlers:    make(map[FlowType]FlowHandlerFactory),
	}
}

// RegisterFlowHandler registers a handler factory for a flow type
func (m *Manager) RegisterFlowHandler(flowType FlowType, factory FlowHandlerFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[flowType] = factory
}

// Session returns an active session by ID
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// SessionCount returns the number of active sessions
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// HandleConnection upgrades an HTTP request and runs the session until the
// device disconnects
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	session, err := m.handshake(conn)
	if err != nil {
		m.logger.Info("Handshake failed", zap.Error(err))
		writeMessage(conn, &ErrorMessage{
			Message: Message{Type: TypeError, Timestamp: Now()},
			Code:    ErrCodeAuthFailed,
			Details: err.Error(),
		})
		conn.Close()
		return
	}

	m.runSession(session)
}

// handshake reads and validates the opening message. The first frame must
// arrive within the handshake window and carry a valid device token.
func (m *Manager) handshake(conn *websocket.Conn) (*Session, error) {
	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set handshake deadline: %w", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read handshake: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("failed to clear handshake deadline: %w", err)
	}

	var hs HandshakeMessage
	if err := json.Unmarshal(raw, &hs); err != nil {
		return nil, fmt.Errorf("malformed handshake: %w", err)
	}
	if hs.Type != TypeHandshake {
		return nil, fmt.Errorf("expected handshake, got %q", hs.Type)
	}

	deviceID, walletID, err := middleware.ValidateDeviceToken(m.cfg, hs.DeviceToken)
	if err != nil {
		return nil, fmt.Errorf("invalid device token: %w", err)
	}

	session := &Session{
		ID:           uuid.New().String(),
		DeviceID:     deviceID,
		WalletID:     walletID,
		conn:         conn,
		logger:       m.logger.With(zap.String("wallet_id", walletID), zap.String("device_id", deviceID)),
		capabilities: hs.Capabilities,
		flows:        make(map[string]FlowHandler),
		actionCh:     make(chan *FlowActionMessage, 10),
		approvalCh:   make(chan *ApprovalResponseMessage, 10),
		signCh:       make(chan *SignResponseMessage, 10),
		closeCh:      make(chan struct{}),
	}
	keys := keystore.NewService(walletID, m.store.Keys(), newDeviceGate(session), m.logger)
	session.keys = keys
	session.machine = unlock.NewMachine[UnlockContext](keys, session.logger)

	return session, nil
}

// runSession registers the session, runs unlock detection, and reads
// messages until the connection drops
func (m *Manager) runSession(s *Session) {
	m.register(s)
	defer m.unregister(s)

	s.logger.Info("Session established", zap.String("session_id", s.ID))

	if err := s.Send(&HandshakeCompleteMessage{
		Message:   Message{Type: TypeHandshakeComplete, Timestamp: Now()},
		SessionID: s.ID,
		WalletID:  s.WalletID,
	}); err != nil {
		s.logger.Warn("Failed to confirm handshake", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.machine.Initialize(ctx); err != nil {
		s.logger.Error("Unlock detection failed", zap.Error(err))
		s.sendError("", ErrCodeInternalError, "failed to initialize unlock state")
		return
	}
	s.sendUnlockState(nil)

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Info("Session closed", zap.Error(err))
			return
		}
		m.route(ctx, s, raw)
	}
}

// route dispatches one inbound frame. Unlock actions and flow starts block
// on device round trips, so they run in their own goroutines; responses are
// delivered to whoever is waiting on the session's channels.
func (m *Manager) route(ctx context.Context, s *Session, raw []byte) {
	var envelope Message
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.sendError("", ErrCodeInvalidMessage, "malformed message")
		return
	}

	switch envelope.Type {
	case TypeUnlockAction:
		var msg UnlockActionMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError("", ErrCodeInvalidMessage, "malformed unlock action")
			return
		}
		go s.handleUnlockAction(ctx, &msg)

	case TypeFlowStart:
		var msg FlowStartMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError("", ErrCodeInvalidMessage, "malformed flow start")
			return
		}
		go m.handleFlowStart(ctx, s, &msg)

	case TypeFlowAction:
		var msg FlowActionMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError("", ErrCodeInvalidMessage, "malformed flow action")
			return
		}
		select {
		case s.actionCh <- &msg:
		default:
			s.logger.Warn("Dropping flow action, channel full", zap.String("action", msg.Action))
		}

	case TypeApprovalResponse:
		var msg ApprovalResponseMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError("", ErrCodeInvalidMessage, "malformed approval response")
			return
		}
		select {
		case s.approvalCh <- &msg:
		default:
			s.logger.Warn("Dropping approval response, channel full")
		}

	case TypeSignResponse:
		var msg SignResponseMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError("", ErrCodeInvalidMessage, "malformed sign response")
			return
		}
		select {
		case s.signCh <- &msg:
		default:
			s.logger.Warn("Dropping sign response, channel full")
		}

	default:
		s.sendError("", ErrCodeInvalidMessage, fmt.Sprintf("unexpected message type %q", envelope.Type))
	}
}

// handleFlowStart launches a flow on an unlocked session
func (m *Manager) handleFlowStart(ctx context.Context, s *Session, msg *FlowStartMessage) {
	flowID := msg.FlowID
	if flowID == "" {
		flowID = uuid.New().String()
	}

	if state := s.machine.State(); state.Kind != unlock.KindUnlocked {
		s.sendFlowError(flowID, "", false, FlowError{
			Code:    ErrCodeInvalidState,
			Message: fmt.Sprintf("wallet is %s, flows require an unlocked wallet", state.Kind),
		})
		return
	}

	m.mu.RLock()
	factory, ok := m.handlers[msg.FlowType]
	m.mu.RUnlock()
	if !ok {
		s.sendFlowError(flowID, "", false, FlowError{
			Code:    ErrCodeInvalidMessage,
			Message: fmt.Sprintf("unsupported flow type %q", msg.FlowType),
		})
		return
	}

	handler := factory(m, s, flowID)
	if err := s.registerFlow(flowID, handler); err != nil {
		s.sendFlowError(flowID, "", false, FlowError{
			Code:    ErrCodeInvalidState,
			Message: "flow already running",
		})
		return
	}
	defer s.unregisterFlow(flowID)

	flowCtx, cancel := context.WithTimeout(ctx, flowTimeout)
	defer cancel()

	s.logger.Info("Flow started",
		zap.String("flow_id", flowID),
		zap.String("flow_type", string(msg.FlowType)))

	if err := handler.Execute(flowCtx, s, msg); err != nil {
		s.logger.Warn("Flow failed", zap.String("flow_id", flowID), zap.Error(err))
	}
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	existing := m.walletIndex[s.WalletID]
	m.sessions[s.ID] = s
	m.walletIndex[s.WalletID] = s
	m.mu.Unlock()

	// One session per wallet; a reconnect displaces the old connection.
	if existing != nil {
		existing.Close()
	}

	if m.sessionStore != nil {
		ttl := time.Duration(m.cfg.SessionStore.DefaultTTLHours) * time.Hour
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		data := &SessionData{
			ID:        s.ID,
			WalletID:  s.WalletID,
			DeviceID:  s.DeviceID,
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(ttl),
		}
		if err := m.sessionStore.Put(context.Background(), data); err != nil {
			m.logger.Warn("Failed to record session", zap.Error(err))
		}
	}
}

func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	if m.walletIndex[s.WalletID] == s {
		delete(m.walletIndex, s.WalletID)
	}
	m.mu.Unlock()

	s.Close()
	// Drop held key material with the connection.
	s.machine.Reinitialize()

	if m.sessionStore != nil {
		if err := m.sessionStore.Delete(context.Background(), s.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.logger.Warn("Failed to delete session record", zap.Error(err))
		}
	}
}

// Session is one connected device
type Session struct {
	ID       string
	DeviceID string
	WalletID string

	conn         *websocket.Conn
	logger       *zap.Logger
	machine      *unlock.Machine[UnlockContext]
	keys         *keystore.Service
	capabilities []string

	sendMu sync.Mutex

	flowMu sync.Mutex
	flows  map[string]FlowHandler

	actionCh   chan *FlowActionMessage
	approvalCh chan *ApprovalResponseMessage
	signCh     chan *SignResponseMessage

	closeOnce sync.Once
	closeCh   chan struct{}
}

// Machine returns the session's unlock state machine
func (s *Session) Machine() *unlock.Machine[UnlockContext] {
	return s.machine
}

// HasCapability reports whether the device declared a capability at
// handshake
func (s *Session) HasCapability(name string) bool {
	for _, c := range s.capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// Send writes one message to the device
func (s *Session) Send(msg interface{}) error {
	select {
	case <-s.closeCh:
		return ErrSessionClosed
	default:
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// SendProgress reports a flow step
func (s *Session) SendProgress(flowID string, step FlowStep, payload map[string]interface{}) error {
	return s.Send(&FlowProgressMessage{
		Message: Message{Type: TypeFlowProgress, FlowID: flowID, Timestamp: Now()},
		Step:    step,
		Payload: payload,
	})
}

// SendFlowComplete reports successful flow completion
func (s *Session) SendFlowComplete(flowID string, msg *FlowCompleteMessage) error {
	msg.Message = Message{Type: TypeFlowComplete, FlowID: flowID, Timestamp: Now()}
	return s.Send(msg)
}

func (s *Session) sendFlowError(flowID string, step FlowStep, recoverable bool, ferr FlowError) {
	if err := s.Send(&FlowErrorMessage{
		Message:     Message{Type: TypeFlowError, FlowID: flowID, Timestamp: Now()},
		Step:        step,
		Recoverable: recoverable,
		Error:       ferr,
	}); err != nil {
		s.logger.Warn("Failed to send flow error", zap.Error(err))
	}
}

func (s *Session) sendError(flowID, code, details string) {
	if err := s.Send(&ErrorMessage{
		Message: Message{Type: TypeError, FlowID: flowID, Timestamp: Now()},
		Code:    code,
		Details: details,
	}); err != nil {
		s.logger.Warn("Failed to send error", zap.Error(err))
	}
}

// RequestApproval asks the device for a biometric approval and waits for
// the matching response
func (s *Session) RequestApproval(ctx context.Context, operation, prompt string) (*ApprovalResponseMessage, error) {
	messageID := uuid.New().String()
	if err := s.Send(&ApprovalRequestMessage{
		Message:   Message{Type: TypeApprovalRequest, MessageID: messageID, Timestamp: Now()},
		Operation: operation,
		Prompt:    prompt,
	}); err != nil {
		return nil, fmt.Errorf("failed to send approval request: %w", err)
	}

	timer := time.NewTimer(approvalTimeout)
	defer timer.Stop()
	for {
		select {
		case resp := <-s.approvalCh:
			if resp.MessageID != messageID {
				s.logger.Debug("Ignoring stale approval response", zap.String("message_id", resp.MessageID))
				continue
			}
			return resp, nil
		case <-timer.C:
			return nil, ErrApprovalTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closeCh:
			return nil, ErrSessionClosed
		}
	}
}

// RequestSign asks the device to sign a proof of possession and waits for
// the matching response
func (s *Session) RequestSign(ctx context.Context, audience, nonce string) (*SignResponseMessage, error) {
	messageID := uuid.New().String()
	if err := s.Send(&SignRequestMessage{
		Message:  Message{Type: TypeSignRequest, MessageID: messageID, Timestamp: Now()},
		Audience: audience,
		Nonce:    nonce,
	}); err != nil {
		return nil, fmt.Errorf("failed to send sign request: %w", err)
	}

	timer := time.NewTimer(signTimeout)
	defer timer.Stop()
	for {
		select {
		case resp := <-s.signCh:
			if resp.MessageID != messageID {
				s.logger.Debug("Ignoring stale sign response", zap.String("message_id", resp.MessageID))
				continue
			}
			return resp, nil
		case <-timer.C:
			return nil, ErrSignTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closeCh:
			return nil, ErrSessionClosed
		}
	}
}

// WaitForAction blocks until the device sends one of the expected actions
// for the flow
func (s *Session) WaitForAction(ctx context.Context, flowID string, expected ...string) (*FlowActionMessage, error) {
	timer := time.NewTimer(actionTimeout)
	defer timer.Stop()
	for {
		select {
		case msg := <-s.actionCh:
			if msg.FlowID != flowID {
				s.logger.Debug("Ignoring action for other flow", zap.String("flow_id", msg.FlowID))
				continue
			}
			for _, want := range expected {
				if msg.Action == want {
					return msg, nil
				}
			}
			s.logger.Debug("Ignoring unexpected flow action", zap.String("action", msg.Action))
		case <-timer.C:
			return nil, ErrActionTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closeCh:
			return nil, ErrSessionClosed
		}
	}
}

// Close tears down the connection and cancels running flows
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.flowMu.Lock()
		for _, handler := range s.flows {
			handler.Cancel()
		}
		s.flowMu.Unlock()
		s.conn.Close()
	})
}

// registerFlow claims the session's single flow slot. One flow runs at a
// time per session: WaitForAction discards actions carrying a foreign
// flow ID, so a second concurrent flow would silently starve the first.
func (s *Session) registerFlow(flowID string, handler FlowHandler) error {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	if len(s.flows) > 0 {
		return fmt.Errorf("flow already running on session")
	}
	s.flows[flowID] = handler
	return nil
}

func (s *Session) unregisterFlow(flowID string) {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	delete(s.flows, flowID)
}

func writeMessage(conn *websocket.Conn, msg interface{}) {
	_ = conn.WriteJSON(msg)
}
