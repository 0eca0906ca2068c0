package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"
)

// APIError is a non-2xx response from a backend.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("api error %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether a backend error is worth another attempt.
// Client errors other than 429 are not; neither is an open breaker or a
// cancelled caller.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

type ResilienceConfig struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxRetries:    2,
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Timeout:       30 * time.Second,
		RatePerSecond: 5,
		Burst:         10,
	}
}

// Resilient wraps a chat client and an embedder with per-call timeouts,
// failsafe-go retry + circuit breaker, and a per-tenant token bucket.
type Resilient struct {
	chat     ChatClient
	embedder Embedder
	provider string
	timeout  time.Duration
	limiters *tenantLimiters
	logger   *slog.Logger

	chatExec  failsafe.Executor[*ChatResponse]
	embedExec failsafe.Executor[[]float32]
}

func NewResilient(chat ChatClient, embedder Embedder, provider string, cfg ResilienceConfig, logger *slog.Logger) *Resilient {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	r := &Resilient{
		chat:     chat,
		embedder: embedder,
		provider: provider,
		timeout:  cfg.Timeout,
		limiters: newTenantLimiters(cfg.RatePerSecond, cfg.Burst),
		logger:   logger,
	}
	r.chatExec = newExecutor[*ChatResponse](cfg, provider+"-chat", logger)
	r.embedExec = newExecutor[[]float32](cfg, provider+"-embed", logger)
	return r
}

func newExecutor[R any](cfg ResilienceConfig, name string, logger *slog.Logger) failsafe.Executor[R] {
	retry := retrypolicy.NewBuilder[R]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ R, err error) bool { return Retryable(err) }).
		Build()

	breaker := circuitbreaker.NewBuilder[R]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(15 * time.Second).
		WithSuccessThreshold(1).
		HandleIf(func(_ R, err error) bool { return Retryable(err) }).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			logger.Warn("llm circuit breaker state change",
				"breaker", name,
				"from", e.OldState,
				"to", e.NewState,
			)
		}).
		Build()

	return failsafe.With[R](retry, breaker)
}

func (r *Resilient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := r.limiters.wait(ctx, TenantFrom(ctx)); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	start := time.Now()
	resp, err := r.chatExec.WithContext(ctx).Get(func() (*ChatResponse, error) {
		callCtx, cancel := r.withTimeout(ctx)
		defer cancel()
		return r.chat.Chat(callCtx, req)
	})
	llmDuration.WithLabelValues(r.provider, "chat").Observe(time.Since(start).Seconds())
	if err != nil {
		llmCallsTotal.WithLabelValues(r.provider, "chat", "error").Inc()
		return nil, err
	}
	llmCallsTotal.WithLabelValues(r.provider, "chat", "success").Inc()
	llmTokensTotal.WithLabelValues(r.provider, "input").Add(float64(resp.Usage.InputTokens))
	llmTokensTotal.WithLabelValues(r.provider, "output").Add(float64(resp.Usage.OutputTokens))
	return resp, nil
}

func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	if r.embedder == nil {
		return nil, errors.New("no embedder configured")
	}
	if err := r.limiters.wait(ctx, TenantFrom(ctx)); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	start := time.Now()
	vec, err := r.embedExec.WithContext(ctx).Get(func() ([]float32, error) {
		callCtx, cancel := r.withTimeout(ctx)
		defer cancel()
		return r.embedder.Embed(callCtx, text)
	})
	llmDuration.WithLabelValues(r.provider, "embed").Observe(time.Since(start).Seconds())
	if err != nil {
		llmCallsTotal.WithLabelValues(r.provider, "embed", "error").Inc()
		return nil, err
	}
	llmCallsTotal.WithLabelValues(r.provider, "embed", "success").Inc()
	return vec, nil
}

func (r *Resilient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

type tenantLimiters struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newTenantLimiters(perSecond float64, burst int) *tenantLimiters {
	if burst < 1 {
		burst = 1
	}
	return &tenantLimiters{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *tenantLimiters) wait(ctx context.Context, tenant string) error {
	if t.limit <= 0 {
		return nil
	}
	t.mu.Lock()
	l, ok := t.limiters[tenant]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[tenant] = l
	}
	t.mu.Unlock()
	return l.Wait(ctx)
}
