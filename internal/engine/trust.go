package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tusharbhayani/paradym-wallet/pkg/config"
	"github.com/tusharbhayani/paradym-wallet/pkg/trust/authzen"
)

// TrustInfo is the outcome of an issuer trust evaluation
type TrustInfo struct {
	Trusted   bool   `json:"trusted"`
	Framework string `json:"framework"`
	Reason    string `json:"reason,omitempty"`
}

// TrustService evaluates credential issuers against AuthZEN trust
// endpoints, caching one evaluator per endpoint
type TrustService struct {
	cfg    *config.Config
	logger *zap.Logger

	evaluatorsMu sync.RWMutex
	evaluators   map[string]*authzen.Evaluator
}

// NewTrustService creates a trust service
func NewTrustService(cfg *config.Config, logger *zap.Logger) *TrustService {
	return &TrustService{
		cfg:        cfg,
		logger:     logger.Named("trust"),
		evaluators: make(map[string]*authzen.Evaluator),
	}
}

// GetEvaluator returns an evaluator for the endpoint, falling back to the
// configured default. A nil evaluator means no trust endpoint is
// configured.
func (ts *TrustService) GetEvaluator(endpoint string) (*authzen.Evaluator, error) {
	if endpoint == "" {
		endpoint = ts.cfg.Trust.DefaultEndpoint
	}
	if endpoint == "" {
		return nil, nil
	}

	ts.evaluatorsMu.RLock()
	eval, ok := ts.evaluators[endpoint]
	ts.evaluatorsMu.RUnlock()
	if ok {
		return eval, nil
	}

	ts.evaluatorsMu.Lock()
	defer ts.evaluatorsMu.Unlock()
	if eval, ok := ts.evaluators[endpoint]; ok {
		return eval, nil
	}

	timeout := time.Duration(ts.cfg.Trust.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	eval, err := authzen.NewEvaluator(&authzen.Config{
		BaseURL: endpoint,
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	ts.evaluators[endpoint] = eval
	ts.logger.Debug("Created trust evaluator", zap.String("endpoint", endpoint))
	return eval, nil
}

// EvaluateIssuer evaluates trust for a credential issuer by URL. With no
// trust endpoint configured every issuer is admitted.
func (ts *TrustService) EvaluateIssuer(ctx context.Context, issuer string, trustEndpoint string) (*TrustInfo, error) {
	eval, err := ts.GetEvaluator(trustEndpoint)
	if err != nil {
		return nil, err
	}
	if eval == nil {
		return &TrustInfo{
			Trusted:   true,
			Framework: "none",
			Reason:    "trust evaluation not configured",
		}, nil
	}

	resp, err := eval.Resolve(ctx, issuer)
	if err != nil {
		ts.logger.Warn("Trust evaluation error",
			zap.String("issuer", issuer),
			zap.Error(err))
		return &TrustInfo{
			Trusted:   false,
			Framework: "authzen",
			Reason:    "trust evaluation failed: " + err.Error(),
		}, nil
	}

	return &TrustInfo{
		Trusted:   resp.Decision,
		Framework: "authzen",
		Reason:    resp.Reason,
	}, nil
}
