package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/internal/storage/memory"
	"github.com/tusharbhayani/paradym-wallet/pkg/config"
	"github.com/tusharbhayani/paradym-wallet/pkg/middleware"
)

func configSessionStore(storeType string) config.SessionStoreConfig {
	return config.SessionStoreConfig{Type: storeType, DefaultTTLHours: 1}
}

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Secret:      "test-secret-for-engine-tests",
			ExpiryHours: 1,
			Issuer:      "wallet-test",
		},
		SessionStore: configSessionStore("memory"),
	}
}

// testHarness wires a manager behind a real WebSocket server
type testHarness struct {
	cfg     *config.Config
	manager *Manager
	server  *httptest.Server
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	cfg := testConfig()
	manager := NewManager(cfg, memory.NewStore(), NewMemorySessionStore(), NewTrustService(cfg, zap.NewNop()), zap.NewNop())
	manager.RegisterFlowHandler(FlowTypeIssuance, NewIssuanceHandler)

	server := httptest.NewServer(http.HandlerFunc(manager.HandleConnection))
	t.Cleanup(server.Close)
	return &testHarness{cfg: cfg, manager: manager, server: server}
}

func (h *testHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connect dials and completes the handshake for a wallet, consuming the
// initial unlock snapshot
func (h *testHarness) connect(t *testing.T, walletID string, capabilities ...string) *websocket.Conn {
	t.Helper()
	conn := h.dial(t)

	token, err := middleware.MintDeviceToken(h.cfg, "device-1", walletID)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	send(t, conn, HandshakeMessage{
		Message:      Message{Type: TypeHandshake},
		DeviceToken:  token,
		Capabilities: capabilities,
	})

	var complete HandshakeCompleteMessage
	readAs(t, conn, TypeHandshakeComplete, &complete)
	if complete.WalletID != walletID {
		t.Fatalf("handshake for wrong wallet: %s", complete.WalletID)
	}

	var state UnlockStateMessage
	readAs(t, conn, TypeUnlockState, &state)
	if state.State != "not_configured" {
		t.Fatalf("fresh wallet should be not_configured, got %s", state.State)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg interface{}) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// readAs reads the next frame and decodes it as the expected message type
func readAs(t *testing.T, conn *websocket.Conn, want MessageType, out interface{}) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("failed to set deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var envelope Message
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("malformed frame: %v", err)
	}
	if envelope.Type != want {
		t.Fatalf("expected %s, got %s: %s", want, envelope.Type, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("failed to decode %s: %v", want, err)
	}
}

func unlockAction(t *testing.T, conn *websocket.Conn, msg UnlockActionMessage) UnlockStateMessage {
	t.Helper()
	msg.Type = TypeUnlockAction
	send(t, conn, msg)
	var state UnlockStateMessage
	readAs(t, conn, TypeUnlockState, &state)
	return state
}

func TestHandshake_InvalidToken(t *testing.T) {
	h := newTestHarness(t)
	conn := h.dial(t)

	send(t, conn, HandshakeMessage{
		Message:     Message{Type: TypeHandshake},
		DeviceToken: "not-a-token",
	})

	var errMsg ErrorMessage
	readAs(t, conn, TypeError, &errMsg)
	if errMsg.Code != ErrCodeAuthFailed {
		t.Errorf("expected %s, got %s", ErrCodeAuthFailed, errMsg.Code)
	}
}

func TestHandshake_WrongFirstMessage(t *testing.T) {
	h := newTestHarness(t)
	conn := h.dial(t)

	send(t, conn, UnlockActionMessage{
		Message: Message{Type: TypeUnlockAction},
		Action:  UnlockActionStatus,
	})

	var errMsg ErrorMessage
	readAs(t, conn, TypeError, &errMsg)
	if errMsg.Code != ErrCodeAuthFailed {
		t.Errorf("expected %s, got %s", ErrCodeAuthFailed, errMsg.Code)
	}
}

func TestUnlockLifecycle(t *testing.T) {
	h := newTestHarness(t)
	conn := h.connect(t, "wallet-lifecycle")

	state := unlockAction(t, conn, UnlockActionMessage{Action: UnlockActionSetup, PIN: "123456"})
	if state.State != "key_acquired" {
		t.Fatalf("setup should acquire the key, got %s", state.State)
	}
	if state.UnlockMethod != "pin" {
		t.Errorf("expected pin method, got %s", state.UnlockMethod)
	}

	state = unlockAction(t, conn, UnlockActionMessage{Action: UnlockActionConfirm})
	if state.State != "unlocked" {
		t.Fatalf("confirm should unlock, got %s", state.State)
	}
	if state.UnlockedAt == nil {
		t.Error("unlocked state should carry the unlock time")
	}

	state = unlockAction(t, conn, UnlockActionMessage{Action: UnlockActionLock})
	if state.State != "locked" {
		t.Fatalf("lock should return to locked, got %s", state.State)
	}

	state = unlockAction(t, conn, UnlockActionMessage{Action: UnlockActionUnlockPin, PIN: "999999"})
	if state.State != "locked" {
		t.Errorf("wrong pin must not change state, got %s", state.State)
	}
	if state.Error == nil || state.Error.Code != ErrCodeWrongPin {
		t.Errorf("expected %s error, got %+v", ErrCodeWrongPin, state.Error)
	}

	state = unlockAction(t, conn, UnlockActionMessage{Action: UnlockActionUnlockPin, PIN: "123456"})
	if state.State != "key_acquired" {
		t.Fatalf("correct pin should acquire the key, got %s", state.State)
	}

	state = unlockAction(t, conn, UnlockActionMessage{Action: UnlockActionReject})
	if state.State != "locked" {
		t.Errorf("reject should return to locked, got %s", state.State)
	}
}

func TestUnlock_ShortPINRejected(t *testing.T) {
	h := newTestHarness(t)
	conn := h.connect(t, "wallet-short-pin")

	state := unlockAction(t, conn, UnlockActionMessage{Action: UnlockActionSetup, PIN: "123"})
	if state.State != "not_configured" {
		t.Errorf("short pin must not configure the wallet, got %s", state.State)
	}
	if state.Error == nil {
		t.Error("expected an error on the snapshot")
	}
}

func TestUnlock_Reinitialize(t *testing.T) {
	h := newTestHarness(t)
	conn := h.connect(t, "wallet-reinit")

	if state := unlockAction(t, conn, UnlockActionMessage{Action: UnlockActionSetup, PIN: "123456"}); state.State != "key_acquired" {
		t.Fatalf("setup failed: %s", state.State)
	}
	if state := unlockAction(t, conn, UnlockActionMessage{Action: UnlockActionConfirm}); state.State != "unlocked" {
		t.Fatalf("confirm failed: %s", state.State)
	}

	// Reinitialize re-runs detection; the configured wallet comes back
	// locked, not unlocked.
	state := unlockAction(t, conn, UnlockActionMessage{Action: UnlockActionReinitialize})
	if state.State != "locked" {
		t.Errorf("expected locked after reinitialize, got %s", state.State)
	}
}

func TestFlowStart_RequiresUnlockedWallet(t *testing.T) {
	h := newTestHarness(t)
	conn := h.connect(t, "wallet-flow-locked")

	send(t, conn, FlowStartMessage{
		Message:  Message{Type: TypeFlowStart, FlowID: "flow-1"},
		FlowType: FlowTypeIssuance,
	})

	var ferr FlowErrorMessage
	readAs(t, conn, TypeFlowError, &ferr)
	if ferr.Error.Code != ErrCodeInvalidState {
		t.Errorf("expected %s, got %s", ErrCodeInvalidState, ferr.Error.Code)
	}
	if ferr.Recoverable {
		t.Error("state errors are not recoverable")
	}
}

func TestFlowStart_UnknownFlowType(t *testing.T) {
	h := newTestHarness(t)
	conn := h.connect(t, "wallet-flow-unknown")

	if state := unlockAction(t, conn, UnlockActionMessage{Action: UnlockActionSetup, PIN: "123456"}); state.State != "key_acquired" {
		t.Fatalf("setup failed: %s", state.State)
	}
	if state := unlockAction(t, conn, UnlockActionMessage{Action: UnlockActionConfirm}); state.State != "unlocked" {
		t.Fatalf("confirm failed: %s", state.State)
	}

	send(t, conn, FlowStartMessage{
		Message:  Message{Type: TypeFlowStart, FlowID: "flow-1"},
		FlowType: "presentation",
	})

	var ferr FlowErrorMessage
	readAs(t, conn, TypeFlowError, &ferr)
	if ferr.Error.Code != ErrCodeInvalidMessage {
		t.Errorf("expected %s, got %s", ErrCodeInvalidMessage, ferr.Error.Code)
	}
}

func TestFlowStart_SecondFlowRejectedWhileActive(t *testing.T) {
	h := newTestHarness(t)
	conn := h.connect(t, "wallet-flow-busy")

	if state := unlockAction(t, conn, UnlockActionMessage{Action: UnlockActionSetup, PIN: "123456"}); state.State != "key_acquired" {
		t.Fatalf("setup failed: %s", state.State)
	}
	if state := unlockAction(t, conn, UnlockActionMessage{Action: UnlockActionConfirm}); state.State != "unlocked" {
		t.Fatalf("confirm failed: %s", state.State)
	}

	// An offer endpoint that never answers keeps the first flow parked in
	// offer resolution while the second start arrives.
	release := make(chan struct{})
	issuer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		issuer.Close()
	})

	send(t, conn, FlowStartMessage{
		Message:  Message{Type: TypeFlowStart, FlowID: "flow-1"},
		FlowType: FlowTypeIssuance,
		Payload:  map[string]interface{}{"offerUri": issuer.URL + "/offer"},
	})

	var progress FlowProgressMessage
	readAs(t, conn, TypeFlowProgress, &progress)
	if progress.Step != StepResolvingOffer {
		t.Fatalf("expected %s, got %s", StepResolvingOffer, progress.Step)
	}

	send(t, conn, FlowStartMessage{
		Message:  Message{Type: TypeFlowStart, FlowID: "flow-2"},
		FlowType: FlowTypeIssuance,
		Payload:  map[string]interface{}{"offerUri": issuer.URL + "/offer"},
	})

	var ferr FlowErrorMessage
	readAs(t, conn, TypeFlowError, &ferr)
	if ferr.FlowID != "flow-2" {
		t.Fatalf("rejection should name the second flow, got %q", ferr.FlowID)
	}
	if ferr.Error.Code != ErrCodeInvalidState {
		t.Errorf("expected %s, got %s", ErrCodeInvalidState, ferr.Error.Code)
	}
	if ferr.Recoverable {
		t.Error("a busy session is not a recoverable flow error")
	}
}

func TestSecondConnectionDisplacesFirst(t *testing.T) {
	h := newTestHarness(t)
	first := h.connect(t, "wallet-displace")
	_ = h.connect(t, "wallet-displace")

	// The first connection is closed by the manager.
	if err := first.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("failed to set deadline: %v", err)
	}
	if _, _, err := first.ReadMessage(); err == nil {
		t.Error("expected the displaced connection to be closed")
	}
}

func TestSessionRecordLifecycle(t *testing.T) {
	h := newTestHarness(t)
	conn := h.connect(t, "wallet-record")

	// The manager records the session while connected.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := h.manager.sessionStore.GetByWallet(context.Background(), "wallet-record"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session record never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for {
		if _, err := h.manager.sessionStore.GetByWallet(context.Background(), "wallet-record"); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session record never removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
