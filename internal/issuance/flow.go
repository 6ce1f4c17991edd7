// Package issuance drives a credential issuance flow end to end: offer
// resolution, the authorization-code exchange, a user-presence gate, and
// credential retrieval. The flow is an explicit state machine so callers
// can report progress and resume retrieval after recoverable failures.
package issuance

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/internal/domain"
	"github.com/tusharbhayani/paradym-wallet/internal/oid4vci"
)

// State identifies where a flow currently is
type State string

const (
	StateNotStarted           State = "not_started"
	StateAuthorizing          State = "authorizing"
	StateAwaitingUserPresence State = "awaiting_user_presence"
	StateRetrievingCredential State = "retrieving_credential"
	StateError                State = "error"
	StateDone                 State = "done"
)

// Options configures optional flow behavior
type Options struct {
	// OnStateChange is invoked after every state transition. It is called
	// outside the flow's lock; implementations may call back into the flow.
	OnStateChange func(State)
}

// Flow is a single issuance attempt. It is driven by one goroutine; the
// state accessors are safe to call from others.
type Flow struct {
	client  oid4vci.Client
	profile Profile
	logger  *zap.Logger
	notify  func(State)

	mu          sync.Mutex
	state       State
	resolved    *oid4vci.ResolvedOffer
	token       *oid4vci.AccessToken
	credentials []domain.CredentialRecord
	err         error
}

// New creates a flow in the not-started state
func New(client oid4vci.Client, profile Profile, logger *zap.Logger, opts Options) *Flow {
	notify := opts.OnStateChange
	if notify == nil {
		notify = func(State) {}
	}
	return &Flow{
		client:  client,
		profile: profile,
		logger:  logger.Named("issuance"),
		notify:  notify,
		state:   StateNotStarted,
	}
}

// State returns the current flow state
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the terminal error of a failed flow, nil otherwise
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Credentials returns the retrieved credentials once the flow is done
func (f *Flow) Credentials() []domain.CredentialRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credentials
}

// Issuer returns the credential issuer URL once the offer is resolved
func (f *Flow) Issuer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved == nil {
		return ""
	}
	return f.resolved.Offer.CredentialIssuer
}

// Start resolves the offer and runs the authorization-code exchange. It
// blocks until the wallet holds an access token, then parks the flow in
// the awaiting-user-presence state. Offers without an authorization-code
// grant are rejected.
func (f *Flow) Start(ctx context.Context) error {
	if err := f.transition("start", StateNotStarted, StateAuthorizing); err != nil {
		return err
	}

	resolved, err := f.client.ResolveOffer(ctx, oid4vci.ResolveOfferRequest{
		OfferURI: f.profile.OfferURI,
		Authorization: oid4vci.AuthorizationConfig{
			ClientID:    f.profile.ClientID,
			RedirectURI: f.profile.RedirectURI,
		},
	})
	if err != nil {
		return f.fail(fmt.Errorf("failed to resolve offer: %w", err))
	}
	if resolved.ResolvedAuthorizationRequest == nil {
		return f.fail(oid4vci.ErrNoAuthorizationCodeGrant)
	}

	f.mu.Lock()
	f.resolved = resolved
	f.mu.Unlock()

	token, err := f.client.AcquireAccessToken(ctx, resolved)
	if err != nil {
		return f.fail(fmt.Errorf("failed to acquire access token: %w", err))
	}

	f.mu.Lock()
	f.token = token
	f.mu.Unlock()

	f.logger.Info("Authorization complete",
		zap.String("profile", f.profile.Name),
		zap.String("issuer", resolved.Offer.CredentialIssuer))
	return f.transition("await user presence", StateAuthorizing, StateAwaitingUserPresence)
}

// BeginCredentialRetrieval moves the flow from awaiting user presence into
// credential retrieval. Callers invoke it once the user has passed the
// presence check.
func (f *Flow) BeginCredentialRetrieval() error {
	return f.transition("begin credential retrieval", StateAwaitingUserPresence, StateRetrievingCredential)
}

// RetrieveCredentials fetches the offered credentials. A biometric failure
// during proof signing leaves the flow in the retrieving state so the call
// can be retried; every other failure is terminal. On success the flow is
// done and the credentials are returned.
func (f *Flow) RetrieveCredentials(ctx context.Context) ([]domain.CredentialRecord, error) {
	f.mu.Lock()
	if f.state != StateRetrievingCredential {
		state := f.state
		f.mu.Unlock()
		return nil, &InvalidStateError{Op: "retrieve credentials", State: state}
	}
	if f.token == nil {
		// A caller bug, not an issuer problem: retrieval without a token
		// fails here instead of surfacing as a protocol error.
		state := f.state
		f.mu.Unlock()
		return nil, &InvalidStateError{Op: "retrieve credentials without access token", State: state}
	}
	resolved, token := f.resolved, f.token
	f.mu.Unlock()

	configIDs := f.profile.CredentialConfigurationIDs
	if len(configIDs) == 0 {
		configIDs = resolved.Offer.CredentialConfigurationIDs
	}

	records, err := f.client.ReceiveCredentials(ctx, oid4vci.ReceiveCredentialsRequest{
		AccessToken:                token,
		ResolvedOffer:              resolved,
		CredentialConfigurationIDs: configIDs,
		ClientID:                   f.profile.ClientID,
		TrustedSchemes:             f.profile.TrustedSchemes,
	})
	if err != nil {
		if _, ok := domain.AsBiometricError(err); ok {
			// Recoverable: the user can retry the presence check without
			// restarting the flow.
			f.logger.Warn("Credential retrieval blocked by biometric failure", zap.Error(err))
			return nil, err
		}
		return nil, f.fail(fmt.Errorf("failed to retrieve credentials: %w", err))
	}

	for _, record := range records {
		if !f.profile.Accepts(record.Format) {
			return nil, f.fail(fmt.Errorf("%w: %q", ErrUnexpectedCredentialFormat, record.Format))
		}
	}

	f.mu.Lock()
	f.credentials = records
	f.state = StateDone
	f.mu.Unlock()
	f.notify(StateDone)

	f.logger.Info("Credentials retrieved",
		zap.String("profile", f.profile.Name),
		zap.Int("count", len(records)))
	return records, nil
}

// Cancel terminates the flow on behalf of the user. Cancelling a flow that
// already finished is a no-op.
func (f *Flow) Cancel() {
	f.mu.Lock()
	if f.state == StateDone || f.state == StateError {
		f.mu.Unlock()
		return
	}
	f.state = StateError
	f.err = ErrFlowCancelled
	f.mu.Unlock()
	f.notify(StateError)
}

// transition moves from exactly one expected state to the next
func (f *Flow) transition(op string, from, to State) error {
	f.mu.Lock()
	if f.state != from {
		state := f.state
		f.mu.Unlock()
		return &InvalidStateError{Op: op, State: state}
	}
	f.state = to
	f.mu.Unlock()
	f.notify(to)
	return nil
}

// fail parks the flow in the terminal error state and returns err
func (f *Flow) fail(err error) error {
	f.mu.Lock()
	f.state = StateError
	f.err = err
	f.mu.Unlock()
	f.notify(StateError)
	f.logger.Warn("Issuance flow failed", zap.String("profile", f.profile.Name), zap.Error(err))
	return err
}
