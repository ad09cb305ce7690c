// Package client opens validated sessions against the managed agent
// platform.
//
// Open builds an SDK client bound to the configured endpoint and credential,
// then proves the connection with a models-list probe under the retry
// policy: transient failures (timeouts, 429, 5xx) back off and retry with
// each attempt logged, auth failures fail immediately, and an exhausted
// budget surfaces a service-unavailable error carrying the attempt count and
// last cause.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"foundry/pkg/auth"
	"foundry/pkg/clienterrors"
	"foundry/pkg/config"
	"foundry/pkg/logx"
	"foundry/pkg/metrics"
	"foundry/pkg/retry"
)

// Client opens sessions. Independent Clients share nothing but the
// process-wide credential cache.
type Client struct {
	cfg        *config.Config
	cred       azcore.TokenCredential
	policy     *retry.Policy
	logger     *logx.Logger
	recorder   metrics.Recorder
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithCredential supplies a pre-resolved credential, bypassing the chain.
func WithCredential(cred azcore.TokenCredential) Option {
	return func(c *Client) { c.cred = cred }
}

// WithRetryPolicy overrides the policy derived from the config.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithRecorder sets the metrics recorder. Defaults to a no-op.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithHTTPClient overrides the transport. Tests point this at a local server.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client over a validated config.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	c := &Client{
		cfg:      cfg,
		policy:   policyFromConfig(cfg),
		logger:   logx.NewLogger("client"),
		recorder: metrics.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// policyFromConfig maps the config's retry surface onto a policy. A retry
// budget of zero still means one attempt.
func policyFromConfig(cfg *config.Config) *retry.Policy {
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	return retry.NewPolicy(retry.Config{
		MaxAttempts:   attempts,
		InitialDelay:  time.Duration(cfg.RetryInitialDelayMS) * time.Millisecond,
		MaxDelay:      time.Duration(cfg.RetryMaxDelayMS) * time.Millisecond,
		BackoffFactor: cfg.RetryBackoffFactor,
		Jitter:        true,
	}, nil)
}

// Open resolves a credential if none was supplied, builds the SDK client,
// and verifies reachability before handing out a session.
func (c *Client) Open(ctx context.Context) (*Session, error) {
	cred := c.cred
	if cred == nil {
		resolved, err := auth.Resolve(ctx, c.cfg)
		if err != nil {
			c.recorder.IncSessionOpen("auth_failed")
			return nil, err
		}
		cred = resolved.Credential
	}

	opts := []option.RequestOption{
		azure.WithEndpoint(c.cfg.Endpoint, c.cfg.APIVersion),
		azure.WithTokenCredential(cred),
		// Attempts are governed by the configured policy, not the SDK's
		// built-in retries.
		option.WithMaxRetries(0),
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	oai := openai.NewClient(opts...)

	sessionID := uuid.New().String()

	attempts, err := retry.Do(ctx, c.policy, c.logger, "open_session", func(ctx context.Context) error {
		if _, probeErr := oai.Models.List(ctx); probeErr != nil {
			return clienterrors.Classify(probeErr)
		}
		return nil
	})
	for i := 1; i < attempts; i++ {
		c.recorder.IncRetry("open_session")
	}
	if err != nil {
		status := "failed"
		switch {
		case clienterrors.IsAuth(err):
			status = "auth_failed"
		case clienterrors.IsServiceUnavailable(err):
			status = "exhausted"
		}
		c.recorder.IncSessionOpen(status)
		return nil, err
	}

	c.recorder.IncSessionOpen("success")
	c.logger.Info("session %s opened to %s (attempts: %d)", sessionID, c.cfg.Endpoint, attempts)

	return NewSession(sessionID, oai), nil
}

// WithSession opens a session, runs fn, and closes the session on every
// exit path including panics.
func (c *Client) WithSession(ctx context.Context, fn func(ctx context.Context, s *Session) error) error {
	s, err := c.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()
	return fn(ctx, s)
}
