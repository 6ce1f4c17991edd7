package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/internal/api"
	"github.com/tusharbhayani/paradym-wallet/internal/engine"
	"github.com/tusharbhayani/paradym-wallet/internal/presence"
	"github.com/tusharbhayani/paradym-wallet/internal/storage"
	"github.com/tusharbhayani/paradym-wallet/internal/storage/memory"
	"github.com/tusharbhayani/paradym-wallet/pkg/config"
	"github.com/tusharbhayani/paradym-wallet/pkg/middleware"
)

// TestHarness runs the full backend behind a test server: REST routes and
// the wallet WebSocket endpoint, backed by in-memory storage.
type TestHarness struct {
	T        *testing.T
	Server   *httptest.Server
	Config   *config.Config
	Router   *gin.Engine
	Storage  storage.Store
	Sessions engine.SessionStore
	Engine   *engine.Manager
	Logger   *zap.Logger

	// Client is a pre-configured HTTP client for making requests
	Client *http.Client

	// BaseURL is the URL of the test server
	BaseURL string
}

// TestHarnessOption configures the test harness
type TestHarnessOption func(*TestHarness)

// WithConfig sets a custom config for the test harness
func WithConfig(cfg *config.Config) TestHarnessOption {
	return func(h *TestHarness) {
		h.Config = cfg
	}
}

// DefaultConfig returns the config the harness uses when none is provided
func DefaultConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:     "localhost",
			Port:     8080,
			RPID:     "localhost",
			RPOrigin: "http://localhost:8080",
			RPName:   "Test Wallet",
		},
		Storage: config.StorageConfig{
			Type: "memory",
		},
		JWT: config.JWTConfig{
			Secret:      "test-secret-key-for-integration-tests",
			ExpiryHours: 24,
			Issuer:      "test-wallet-backend",
		},
		SessionStore: config.SessionStoreConfig{
			Type:            "memory",
			DefaultTTLHours: 1,
		},
	}
}

// NewTestHarness creates a new test harness with a running test server
func NewTestHarness(t *testing.T, opts ...TestHarnessOption) *TestHarness {
	t.Helper()

	gin.SetMode(gin.TestMode)

	h := &TestHarness{
		T:      t,
		Logger: zap.NewNop(),
		Client: &http.Client{},
	}

	// Apply options
	for _, opt := range opts {
		opt(h)
	}

	if h.Config == nil {
		h.Config = DefaultConfig()
	}

	h.Storage = memory.NewStore()
	h.Sessions = engine.NewMemorySessionStore()

	trustSvc := engine.NewTrustService(h.Config, h.Logger)
	h.Engine = engine.NewManager(h.Config, h.Storage, h.Sessions, trustSvc, h.Logger)
	h.Engine.RegisterFlowHandler(engine.FlowTypeIssuance, engine.NewIssuanceHandler)

	presenceSvc, err := presence.NewService(h.Storage, h.Config, h.Logger)
	if err != nil {
		t.Fatalf("Failed to create presence service: %v", err)
	}

	handlers := api.NewHandlers(presenceSvc, h.Storage, h.Engine, h.Config, h.Logger)

	h.Router = gin.New()
	h.Router.Use(gin.Recovery())
	h.Router.GET("/status", handlers.Status)
	h.Router.GET("/health", handlers.Status)
	handlers.RegisterRoutes(h.Router)

	h.Server = httptest.NewServer(h.Router)
	h.BaseURL = h.Server.URL

	t.Cleanup(func() {
		h.Server.Close()
	})

	return h
}

// MintDeviceToken mints a device token for the given identities
func (h *TestHarness) MintDeviceToken(deviceID, walletID string) string {
	h.T.Helper()
	token, err := middleware.MintDeviceToken(h.Config, deviceID, walletID)
	if err != nil {
		h.T.Fatalf("Failed to mint device token: %v", err)
	}
	return token
}

// Request makes an HTTP request to the test server
func (h *TestHarness) Request(method, path string, body interface{}) *Response {
	h.T.Helper()

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			h.T.Fatalf("Failed to marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, h.BaseURL+path, bodyReader)
	if err != nil {
		h.T.Fatalf("Failed to create request: %v", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return h.Do(req)
}

// Do executes an HTTP request and returns a Response wrapper
func (h *TestHarness) Do(req *http.Request) *Response {
	h.T.Helper()

	resp, err := h.Client.Do(req)
	if err != nil {
		h.T.Fatalf("Request failed: %v", err)
	}

	return &Response{
		T:        h.T,
		Response: resp,
	}
}

// GET makes a GET request
func (h *TestHarness) GET(path string) *Response {
	return h.Request(http.MethodGet, path, nil)
}

// POST makes a POST request with a JSON body
func (h *TestHarness) POST(path string, body interface{}) *Response {
	return h.Request(http.MethodPost, path, body)
}

// WithAuth returns a request client that sends the device token
func (h *TestHarness) WithAuth(token string) *AuthenticatedClient {
	return &AuthenticatedClient{
		harness: h,
		token:   token,
	}
}

// AuthenticatedClient wraps the harness with auth headers
type AuthenticatedClient struct {
	harness *TestHarness
	token   string
}

// GET makes an authenticated GET request
func (c *AuthenticatedClient) GET(path string) *Response {
	c.harness.T.Helper()
	req, _ := http.NewRequest(http.MethodGet, c.harness.BaseURL+path, nil)
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.harness.Do(req)
}

// POST makes an authenticated POST request
func (c *AuthenticatedClient) POST(path string, body interface{}) *Response {
	c.harness.T.Helper()
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(jsonBody)
	}
	req, _ := http.NewRequest(http.MethodPost, c.harness.BaseURL+path, bodyReader)
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.harness.Do(req)
}

// DELETE makes an authenticated DELETE request
func (c *AuthenticatedClient) DELETE(path string) *Response {
	c.harness.T.Helper()
	req, _ := http.NewRequest(http.MethodDelete, c.harness.BaseURL+path, nil)
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.harness.Do(req)
}

// Response wraps an HTTP response with assertion helpers
type Response struct {
	T        *testing.T
	Response *http.Response
	body     []byte
	bodyRead bool
}

// Body returns the response body as bytes
func (r *Response) Body() []byte {
	r.T.Helper()
	if !r.bodyRead {
		var err error
		r.body, err = io.ReadAll(r.Response.Body)
		if err != nil {
			r.T.Fatalf("Failed to read response body: %v", err)
		}
		r.Response.Body.Close()
		r.bodyRead = true
	}
	return r.body
}

// JSON unmarshals the response body into the given target
func (r *Response) JSON(target interface{}) *Response {
	r.T.Helper()
	if err := json.Unmarshal(r.Body(), target); err != nil {
		r.T.Fatalf("Failed to unmarshal response: %v\nBody: %s", err, string(r.Body()))
	}
	return r
}

// Status asserts the response status code
func (r *Response) Status(expected int) *Response {
	r.T.Helper()
	if r.Response.StatusCode != expected {
		r.T.Errorf("Expected status %d, got %d\nBody: %s", expected, r.Response.StatusCode, string(r.Body()))
	}
	return r
}

// BodyContains asserts the response body contains a substring
func (r *Response) BodyContains(substr string) *Response {
	r.T.Helper()
	if !bytes.Contains(r.Body(), []byte(substr)) {
		r.T.Errorf("Expected body to contain %q\nBody: %s", substr, string(r.Body()))
	}
	return r
}

// DeviceConn is a WebSocket connection speaking the wallet protocol
type DeviceConn struct {
	T    *testing.T
	Conn *websocket.Conn

	// InitialState is the unlock snapshot pushed right after the handshake
	InitialState engine.UnlockStateMessage
}

// ConnectDevice dials the wallet WebSocket endpoint and completes the
// handshake for the given wallet, consuming the initial unlock snapshot
func (h *TestHarness) ConnectDevice(walletID string, capabilities ...string) *DeviceConn {
	h.T.Helper()

	wsURL := "ws" + strings.TrimPrefix(h.BaseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		h.T.Fatalf("WebSocket dial failed: %v", err)
	}
	h.T.Cleanup(func() { conn.Close() })

	d := &DeviceConn{T: h.T, Conn: conn}
	d.Send(engine.HandshakeMessage{
		Message:      engine.Message{Type: engine.TypeHandshake},
		DeviceToken:  h.MintDeviceToken("device-1", walletID),
		Capabilities: capabilities,
	})

	var complete engine.HandshakeCompleteMessage
	d.ReadAs(engine.TypeHandshakeComplete, &complete)
	if complete.WalletID != walletID {
		h.T.Fatalf("Handshake for wrong wallet: %s", complete.WalletID)
	}

	d.ReadAs(engine.TypeUnlockState, &d.InitialState)
	return d
}

// Send writes a message to the connection
func (d *DeviceConn) Send(msg interface{}) {
	d.T.Helper()
	if err := d.Conn.WriteJSON(msg); err != nil {
		d.T.Fatalf("WebSocket write failed: %v", err)
	}
}

// Read reads the next frame and returns its envelope and raw bytes
func (d *DeviceConn) Read() (engine.Message, []byte) {
	d.T.Helper()
	if err := d.Conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		d.T.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := d.Conn.ReadMessage()
	if err != nil {
		d.T.Fatalf("WebSocket read failed: %v", err)
	}
	var envelope engine.Message
	if err := json.Unmarshal(raw, &envelope); err != nil {
		d.T.Fatalf("Malformed frame: %v", err)
	}
	return envelope, raw
}

// ReadAs reads the next frame and decodes it as the expected message type
func (d *DeviceConn) ReadAs(want engine.MessageType, out interface{}) {
	d.T.Helper()
	envelope, raw := d.Read()
	if envelope.Type != want {
		d.T.Fatalf("Expected %s, got %s: %s", want, envelope.Type, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		d.T.Fatalf("Failed to decode %s: %v", want, err)
	}
}

// UnlockAction sends an unlock action and returns the resulting snapshot
func (d *DeviceConn) UnlockAction(msg engine.UnlockActionMessage) engine.UnlockStateMessage {
	d.T.Helper()
	msg.Type = engine.TypeUnlockAction
	d.Send(msg)
	var state engine.UnlockStateMessage
	d.ReadAs(engine.TypeUnlockState, &state)
	return state
}

// SetupAndUnlock configures the wallet with a PIN and confirms the unlock
func (d *DeviceConn) SetupAndUnlock(pin string) {
	d.T.Helper()
	if state := d.UnlockAction(engine.UnlockActionMessage{Action: engine.UnlockActionSetup, PIN: pin}); state.State != "key_acquired" {
		d.T.Fatalf("Setup failed: %s", state.State)
	}
	if state := d.UnlockAction(engine.UnlockActionMessage{Action: engine.UnlockActionConfirm}); state.State != "unlocked" {
		d.T.Fatalf("Confirm failed: %s", state.State)
	}
}

// SendFlowAction sends an action into a running flow
func (d *DeviceConn) SendFlowAction(flowID, action string, payload map[string]interface{}) {
	d.T.Helper()
	d.Send(engine.FlowActionMessage{
		Message: engine.Message{Type: engine.TypeFlowAction, FlowID: flowID},
		Action:  action,
		Payload: payload,
	})
}
