// Package judge implements the LLM compression judge (C5): it turns a sanitized tool
// call into a CompressionResult by prompting an Anthropic model and parsing its reply.
package judge

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/memengine/internal/sanitizer"
	"github.com/thebtf/memengine/pkg/models"
)

// backoffSchedule is the retry delay sequence over three attempts, per §4.4.
var backoffSchedule = []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second}

const circuitThreshold = 5
const circuitResetSeconds = 30

// circuitState values.
const (
	circuitClosed int32 = iota
	circuitOpen
	circuitHalfOpen
)

// circuitBreaker gates judge calls after a run of transient failures, so a degraded LLM
// endpoint doesn't stall every worker on the full retry schedule.
type circuitBreaker struct {
	failures    int64
	lastFailure int64
	state       int32
}

func (cb *circuitBreaker) allow() bool {
	switch atomic.LoadInt32(&cb.state) {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Now().Unix()-atomic.LoadInt64(&cb.lastFailure) > circuitResetSeconds {
			atomic.CompareAndSwapInt32(&cb.state, circuitOpen, circuitHalfOpen)
			return true
		}
		return false
	default: // half-open
		return true
	}
}

func (cb *circuitBreaker) recordSuccess() {
	atomic.StoreInt64(&cb.failures, 0)
	atomic.StoreInt32(&cb.state, circuitClosed)
}

func (cb *circuitBreaker) recordFailure() {
	failures := atomic.AddInt64(&cb.failures, 1)
	atomic.StoreInt64(&cb.lastFailure, time.Now().Unix())
	if failures >= circuitThreshold {
		atomic.StoreInt32(&cb.state, circuitOpen)
		log.Warn().Int64("failures", failures).Msg("judge circuit breaker opened")
	}
}

// Client compresses tool output into observations via an Anthropic model.
type Client struct {
	anthropic anthropic.Client
	model     string
	breaker   *circuitBreaker
}

// Config configures the judge client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// New builds a Client. APIKey is required.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("judge: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		anthropic: anthropic.NewClient(opts...),
		model:     cfg.Model,
		breaker:   &circuitBreaker{},
	}, nil
}

// Compress sanitizes the tool output, builds the judge prompt, calls the model with retry
// and circuit-breaker protection, and parses the reply into a CompressionResult.
func (c *Client) Compress(ctx context.Context, sessionID, tool, title, output string, candidates []models.Candidate) (*models.CompressionResult, error) {
	sanitizedTitle := sanitizer.Sanitize(title)
	sanitizedOutput := sanitizer.Sanitize(output)

	prompt := buildCompressionPrompt(tool, sanitizedTitle, sanitizedOutput, candidates)

	raw, err := c.call(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseResponse(raw, sessionID, candidates)
}

// Summarize asks the same model to synthesize a completed session's observations and raw
// events into a SessionSummary (SPEC_FULL.md supplemented feature 5), reusing Compress's
// call path (retry schedule, circuit breaker) but a distinct prompt/parse pair.
func (c *Client) Summarize(ctx context.Context, sessionID string, observationTitles, rawEventLines []string) (*models.SessionSummary, error) {
	prompt := buildSummaryPrompt(observationTitles, rawEventLines)

	raw, err := c.call(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return parseSummaryResponse(raw, sessionID)
}

// call issues the prompt with the §4.4 retry schedule: {0, 1, 2, 4}s over 3 attempts. Only
// transient failures are retried; a non-transient failure propagates immediately.
func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	if !c.breaker.allow() {
		return "", &HTTPStatusError{Code: http.StatusServiceUnavailable, Body: "judge circuit breaker open"}
	}

	var lastErr error
	for attempt, delay := range backoffSchedule {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, err := c.doRequest(ctx, prompt)
		if err == nil {
			c.breaker.recordSuccess()
			return text, nil
		}

		lastErr = err
		if !isTransient(err) {
			return "", err
		}
		c.breaker.recordFailure()
	}

	return "", &RetriesExhaustedError{Err: lastErr}
}

func (c *Client) doRequest(ctx context.Context, prompt string) (string, error) {
	model := c.model
	if model == "" {
		model = string(anthropic.ModelClaude3_5HaikuLatest)
	}

	msg, err := c.anthropic.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1536,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &HTTPStatusError{Code: apiErr.StatusCode, Body: apiErr.RawJSON()}
		}
		return "", &HTTPRequestError{Err: err}
	}

	for _, block := range msg.Content {
		if text := block.AsText(); text.Text != "" {
			return text.Text, nil
		}
	}
	return "", &EmptyResponseError{}
}

// isTransient classifies a judge call error per §7's taxonomy: connection failures and 5xx
// responses are retried, everything else propagates.
func isTransient(err error) bool {
	var reqErr *HTTPRequestError
	if errors.As(err, &reqErr) {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests || statusErr.Code == http.StatusServiceUnavailable
	}
	var emptyErr *EmptyResponseError
	if errors.As(err, &emptyErr) {
		return true
	}
	return false
}

// IsTransient classifies an error Compress can return for a caller outside this package —
// the worker's fail(id, increment_retry) branch. RetriesExhaustedError counts as transient:
// every attempt that produced it already passed isTransient, so the underlying condition is
// still worth retrying once the message is reclaimed later. A parse or validation failure
// (JSONParseError, MissingFieldError) is not: re-running it against the same judge reply
// would fail identically.
func IsTransient(err error) bool {
	if isTransient(err) {
		return true
	}
	var retriesErr *RetriesExhaustedError
	return errors.As(err, &retriesErr)
}
