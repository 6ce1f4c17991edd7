package integration

import (
	"testing"

	"github.com/tusharbhayani/paradym-wallet/internal/engine"
)

func TestUnlockOverWebSocket(t *testing.T) {
	h := NewTestHarness(t)
	device := h.ConnectDevice("wallet-unlock")
	if device.InitialState.State != "not_configured" {
		t.Fatalf("Fresh wallet should be not_configured, got %s", device.InitialState.State)
	}

	state := device.UnlockAction(engine.UnlockActionMessage{
		Action: engine.UnlockActionSetup,
		PIN:    "135790",
	})
	if state.State != "key_acquired" {
		t.Fatalf("Setup should acquire the key, got %s", state.State)
	}

	state = device.UnlockAction(engine.UnlockActionMessage{Action: engine.UnlockActionConfirm})
	if state.State != "unlocked" {
		t.Fatalf("Confirm should unlock, got %s", state.State)
	}

	state = device.UnlockAction(engine.UnlockActionMessage{Action: engine.UnlockActionLock})
	if state.State != "locked" {
		t.Fatalf("Lock should return to locked, got %s", state.State)
	}

	// The wrong PIN is rejected without a state change.
	state = device.UnlockAction(engine.UnlockActionMessage{
		Action: engine.UnlockActionUnlockPin,
		PIN:    "000000",
	})
	if state.State != "locked" {
		t.Errorf("Wrong PIN must not change state, got %s", state.State)
	}
	if state.Error == nil || state.Error.Code != engine.ErrCodeWrongPin {
		t.Errorf("Expected %s, got %+v", engine.ErrCodeWrongPin, state.Error)
	}

	state = device.UnlockAction(engine.UnlockActionMessage{
		Action: engine.UnlockActionUnlockPin,
		PIN:    "135790",
	})
	if state.State != "key_acquired" {
		t.Fatalf("Correct PIN should acquire the key, got %s", state.State)
	}
}

func TestUnlockStateSurvivesReconnect(t *testing.T) {
	h := NewTestHarness(t)

	device := h.ConnectDevice("wallet-reconnect")
	device.SetupAndUnlock("246802")
	device.Conn.Close()

	// A new connection sees the configured wallet locked: key material does
	// not outlive the session.
	second := h.ConnectDevice("wallet-reconnect")
	if second.InitialState.State != "locked" {
		t.Errorf("Configured wallet should reconnect locked, got %s", second.InitialState.State)
	}

	state := second.UnlockAction(engine.UnlockActionMessage{
		Action: engine.UnlockActionUnlockPin,
		PIN:    "246802",
	})
	if state.State != "key_acquired" {
		t.Errorf("PIN set on the first connection should unlock, got %s", state.State)
	}
}
