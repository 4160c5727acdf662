package api

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"buddy/types"
)

// Protocol selects which OpenAI-compatible wire shape a profile speaks.
type Protocol string

const (
	ProtocolCompletions Protocol = "completions"
	ProtocolResponses   Protocol = "responses"
)

// Config resolves everything the client needs to reach one model profile.
type Config struct {
	BaseURL  string
	APIKey   string
	Protocol Protocol
	Profile  string
	// StoreFalse and Stream only apply to the /responses protocol; most
	// profiles leave both false for a plain non-streaming request.
	StoreFalse bool
	Stream     bool
	// Logger receives retry/backoff decisions and terminal request
	// failures. A nil Logger disables logging entirely (the zero value for
	// this field, used by tests that construct Config directly).
	Logger *zerolog.Logger
}

// ModelClient is the minimal interface the agent loop depends on, letting
// tests substitute a deterministic double for the network-backed Client.
type ModelClient interface {
	Chat(ctx context.Context, request types.ChatRequest) (types.ChatResponse, error)
}

// RetryPolicy controls how Client retries transient failures.
type RetryPolicy struct {
	MaxAttempts    uint32
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy mirrors the provider's own recommended backoff curve:
// a handful of attempts with a short exponential ramp.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: 250 * time.Millisecond, MaxBackoff: 8 * time.Second}
}

// Client dispatches ChatRequests against an OpenAI-compatible API, handling
// retries and protocol selection transparently.
type Client struct {
	http        *http.Client
	config      Config
	retryPolicy RetryPolicy
}

// New builds a Client from resolved configuration and a request timeout.
func New(config Config, timeout time.Duration) *Client {
	return NewWithRetryPolicy(config, timeout, DefaultRetryPolicy())
}

// NewWithRetryPolicy builds a Client with an explicit retry policy, mainly
// for tests that want fast, deterministic backoff.
func NewWithRetryPolicy(config Config, timeout time.Duration, retryPolicy RetryPolicy) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	config.APIKey = strings.TrimSpace(config.APIKey)
	return &Client{
		http:        &http.Client{Timeout: timeout},
		config:      config,
		retryPolicy: retryPolicy,
	}
}

// Chat sends a model request and returns a normalized chat-style response.
func (c *Client) Chat(ctx context.Context, request types.ChatRequest) (types.ChatResponse, error) {
	return c.dispatchWithRetries(ctx, request)
}

func (c *Client) dispatchOnce(ctx context.Context, request types.ChatRequest) (types.ChatResponse, error) {
	bearer := c.config.APIKey
	var response types.ChatResponse
	var err error
	switch c.config.Protocol {
	case ProtocolResponses:
		response, err = requestResponses(ctx, c.http, c.config.BaseURL, request, bearer, responsesRequestOptions{
			StoreFalse: c.config.StoreFalse,
			Stream:     c.config.Stream,
		})
	default:
		response, err = requestCompletions(ctx, c.http, c.config.BaseURL, request, bearer)
	}
	return response, c.withLoginRequiredHint(err)
}

// withLoginRequiredHint rewrites a bare 401 into a LoginRequired error when
// no bearer credential was ever configured — the one case where "the server
// wants auth this adapter cannot obtain" is actually distinguishable from an
// ordinary bad/expired key.
func (c *Client) withLoginRequiredHint(err error) error {
	apiErr, ok := err.(*Error)
	if !ok || apiErr.StatusCode != http.StatusUnauthorized || c.config.APIKey != "" {
		return err
	}
	return newLoginRequiredError("profile %q requires authentication but no api_key is configured", c.config.Profile)
}

func (c *Client) dispatchWithRetries(ctx context.Context, request types.ChatRequest) (types.ChatResponse, error) {
	var attempt uint32
	for {
		response, err := c.dispatchOnce(ctx, request)
		if err == nil {
			return response, nil
		}
		apiErr, ok := err.(*Error)
		if !ok {
			c.logf(func(e *zerolog.Event) { e.Err(err).Msg("chat request failed") })
			return types.ChatResponse{}, err
		}
		if !c.shouldRetry(apiErr, attempt) {
			final := c.withDiagnosticHints(apiErr)
			c.logf(func(e *zerolog.Event) {
				e.Int("status", apiErr.StatusCode).Uint32("attempt", attempt+1).Msg("chat request failed, not retrying")
			})
			return types.ChatResponse{}, final
		}
		delay := c.retryDelayFor(attempt, apiErr)
		c.logf(func(e *zerolog.Event) {
			e.Int("status", apiErr.StatusCode).Uint32("attempt", attempt+1).Dur("delay", delay).Msg("retrying chat request")
		})
		attempt++
		select {
		case <-ctx.Done():
			return types.ChatResponse{}, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// logf emits one zerolog Warn-level event through the client's configured
// Logger, a no-op when none was supplied.
func (c *Client) logf(build func(*zerolog.Event)) {
	if c.config.Logger == nil {
		return
	}
	build(c.config.Logger.Warn())
}

func (c *Client) shouldRetry(err *Error, attempt uint32) bool {
	if attempt+1 >= c.retryPolicy.MaxAttempts {
		return false
	}
	switch {
	case err.Transport != nil:
		return err.IsTimeoutOrConnect()
	case err.StatusCode != 0:
		return err.StatusCode == 429 || (err.StatusCode >= 500 && err.StatusCode <= 599)
	default:
		return false
	}
}

func (c *Client) retryDelayFor(attempt uint32, err *Error) time.Duration {
	if err.RetryAfterSecs != nil {
		secs := *err.RetryAfterSecs
		if secs < 1 {
			secs = 1
		}
		if secs > 300 {
			secs = 300
		}
		return time.Duration(secs) * time.Second
	}
	pow := math.Pow(2, float64(attempt))
	millis := float64(c.retryPolicy.InitialBackoff.Milliseconds()) * pow
	maxMillis := float64(c.retryPolicy.MaxBackoff.Milliseconds())
	if millis > maxMillis {
		millis = maxMillis
	}
	return time.Duration(millis) * time.Millisecond
}

// withDiagnosticHints appends a protocol-mismatch hint to a 404 so the
// operator knows which profile setting to flip.
func (c *Client) withDiagnosticHints(err *Error) *Error {
	if err.StatusCode == 0 {
		return err
	}
	body := err.Body
	if err.StatusCode == 404 && c.config.Protocol == ProtocolResponses {
		body += "\nHint: this endpoint may not support `/responses`; set `api = \"completions\"` for this model profile."
	}
	if err.StatusCode == 404 && c.config.Protocol == ProtocolCompletions {
		body += "\nHint: this endpoint may not support `/chat/completions`; set `api = \"responses\"` for this model profile."
	}
	return newStatusError(err.StatusCode, body, err.RetryAfterSecs)
}
