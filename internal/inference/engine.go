package inference

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/compass/internal/features"
	"github.com/MarcoPoloResearchLab/compass/internal/users"
	"github.com/MarcoPoloResearchLab/compass/internal/wellness"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single primary attempt.
const DefaultTimeout = 25 * time.Second

const (
	ReasonClientUnavailable = "client_unavailable"
	ReasonPromptFailed      = "prompt_failed"
	ReasonTimeout           = "timeout"
	ReasonRequestFailed     = "request_failed"
	ReasonInvalidPayload    = "invalid_payload"
)

// EngineConfig configures the two-state inference engine.
type EngineConfig struct {
	// Client is the PRIMARY strategy. A nil client routes every call to the fallback.
	Client  Client
	Timeout time.Duration
	Logger  *zap.Logger
}

// Engine selects between the external model and the local rules.
type Engine struct {
	client  Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{client: cfg.Client, timeout: timeout, logger: logger}
}

// Infer always returns a Result. Primary failures are logged and absorbed by the fallback.
func (e *Engine) Infer(ctx context.Context, profile users.Profile, summary features.Summary) Result {
	result, reason, err := e.attemptPrimary(ctx, profile, summary)
	if err == nil {
		return result
	}
	e.logger.Warn("inference fell back to rules",
		zap.String("user_id", profile.ID),
		zap.String("fallback_reason", reason),
		zap.Error(errors.Join(wellness.ErrInferenceFailure, err)))
	return Fallback(profile, summary, reason)
}

func (e *Engine) attemptPrimary(ctx context.Context, profile users.Profile, summary features.Summary) (Result, string, error) {
	if e.client == nil {
		return Result{}, ReasonClientUnavailable, errors.New("no inference client configured")
	}
	request, err := BuildPredictionRequest(profile, summary)
	if err != nil {
		return Result{}, ReasonPromptFailed, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	content, err := e.client.Complete(callCtx, request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Result{}, ReasonTimeout, err
		}
		return Result{}, ReasonRequestFailed, err
	}

	result, err := ParseResult(content)
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			return Result{}, ReasonInvalidPayload + ":" + parseErr.Reason, err
		}
		return Result{}, ReasonInvalidPayload, err
	}
	result.Strategy = StrategyPrimary
	result.ModelVersion = PrimaryModelVersion(e.client.Model())
	return result, "", nil
}
