package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	openai "github.com/sashabaranov/go-openai"
)

// RetryPolicy bounds each attempt and the number of attempts.
type RetryPolicy struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseDelay      time.Duration
	MaxDelay       time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		AttemptTimeout: 30 * time.Second,
		BaseDelay:      250 * time.Millisecond,
		MaxDelay:       4 * time.Second,
	}
}

// Resilient wraps a Completer and an Embedder with per-attempt timeouts and
// capped exponential backoff on transient failures.
type Resilient struct {
	completer Completer
	embedder  Embedder
	policy    RetryPolicy
	sleep     func(context.Context, time.Duration) error
}

// NewResilient wraps the collaborators. embedder may be nil.
func NewResilient(c Completer, e Embedder, policy RetryPolicy) *Resilient {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Resilient{
		completer: c,
		embedder:  e,
		policy:    policy,
		sleep:     sleepContext,
	}
}

func (r *Resilient) Name() string {
	return r.completer.Name()
}

func (r *Resilient) Chat(ctx context.Context, messages []Message, tools []ToolSchema, sampling Sampling) (*Response, error) {
	var resp *Response
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = r.completer.Chat(ctx, messages, tools, sampling)
		return err
	})
	return resp, err
}

func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	if r.embedder == nil {
		return nil, ErrEmbeddingsUnsupported
	}
	var vec []float32
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		vec, err = r.embedder.Embed(ctx, text)
		return err
	})
	return vec, err
}

func (r *Resilient) do(ctx context.Context, call func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if serr := r.sleep(ctx, ExponentialBackoff(attempt-1, r.policy.BaseDelay, r.policy.MaxDelay)); serr != nil {
				return fmt.Errorf("%w (last error: %v)", serr, err)
			}
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.policy.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.policy.AttemptTimeout)
		}
		err = call(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		// The caller's own deadline is final; an attempt deadline is not.
		if ctx.Err() != nil || !IsRetryable(err) {
			return err
		}
	}
	return err
}

// IsRetryable reports whether err looks transient: throttling, upstream 5xx,
// network failures or an attempt timeout.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		return IsRetryableHTTPStatus(oaiErr.HTTPStatusCode)
	}
	var oaiReqErr *openai.RequestError
	if errors.As(err, &oaiReqErr) {
		return IsRetryableHTTPStatus(oaiReqErr.HTTPStatusCode)
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return IsRetryableHTTPStatus(antErr.StatusCode)
	}
	var ollamaErr api.StatusError
	if errors.As(err, &ollamaErr) {
		return IsRetryableHTTPStatus(ollamaErr.StatusCode)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
