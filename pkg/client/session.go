package client

import (
	"errors"
	"sync"

	"github.com/openai/openai-go"

	"foundry/pkg/logx"
)

// ErrSessionClosed is returned when a session is used after Close.
var ErrSessionClosed = errors.New("session is closed")

// Session is one validated connection to the platform. It owns no remote
// state - closing releases the local handle and marks it unusable.
type Session struct {
	id     string
	oai    openai.Client
	logger *logx.Logger

	mu     sync.Mutex
	closed bool
}

// NewSession wraps an already-configured platform client in a session.
// Client.Open is the usual way to get one; this constructor exists for
// callers that build the underlying client themselves.
func NewSession(id string, oai openai.Client) *Session {
	return &Session{
		id:     id,
		oai:    oai,
		logger: logx.NewLogger("client"),
	}
}

// ID returns the session identifier used in logs and audit rows.
func (s *Session) ID() string {
	return s.id
}

// OpenAI exposes the bound SDK client for the agent layer. Fails once the
// session is closed.
func (s *Session) OpenAI() (openai.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return openai.Client{}, ErrSessionClosed
	}
	return s.oai, nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close marks the session unusable. Safe to call multiple times; only the
// first call does anything.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("session %s closed", s.id)
	return nil
}
