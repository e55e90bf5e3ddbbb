// Package usage records token usage and public request logs on a best-effort basis.
package usage

import (
	"context"
	"errors"
	"sync"
	"time"

	"anagami/internal/domain"
	"anagami/internal/platform/logger"
	"anagami/internal/repo"
)

// State is enabled until the first unrecoverable write error and then stays disabled
// for the process lifetime.
type State struct {
	mu       sync.Mutex
	disabled bool
	cause    error
}

func NewState() *State {
	return &State{}
}

func (s *State) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled
}

// Disable turns logging off and reports whether this call did it.
func (s *State) Disable(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return false
	}
	s.disabled = true
	s.cause = err
	return true
}

func (s *State) Cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

type Entry struct {
	Endpoint  string
	ActorID   string
	Model     string
	TokensIn  int
	TokensOut int
}

type Logger struct {
	Repo      repo.Repo
	State     *State
	Log       *logger.Logger
	Retention int
	Now       func() time.Time
}

func (l *Logger) now() string {
	if l.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return l.Now().UTC().Format(time.RFC3339)
}

func (l *Logger) enabled() bool {
	return l != nil && l.State != nil && l.State.Enabled()
}

// Record stores one usage row. Failures never reach the caller.
func (l *Logger) Record(ctx context.Context, e Entry) {
	if !l.enabled() {
		return
	}
	var actor *string
	if e.ActorID != "" {
		actor = &e.ActorID
	}
	err := l.Repo.InsertUsage(ctx, domain.UsageEntry{
		Endpoint:  e.Endpoint,
		ActorID:   actor,
		Model:     e.Model,
		TokensIn:  e.TokensIn,
		TokensOut: e.TokensOut,
		CreatedAt: l.now(),
	})
	l.fail(ctx, "usage_logs", err)
}

// RecordRequest appends a request log row and prunes old rows.
func (l *Logger) RecordRequest(ctx context.Context, ip, endpoint string, status int) {
	if !l.enabled() {
		return
	}
	err := l.Repo.InsertRequestLog(ctx, domain.RequestLog{
		IP:         ip,
		Endpoint:   endpoint,
		StatusCode: status,
		CreatedAt:  l.now(),
	}, l.Retention)
	l.fail(ctx, "request_logs", err)
}

func (l *Logger) fail(ctx context.Context, table string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return
	}
	if l.State.Disable(err) {
		logger.OrNop(l.Log).Warn("usage logging disabled", "table", table, "error", err)
	}
}
