// Package executor dispatches validated SQL to the backend drivers through
// per-dialect worker pools, a circuit breaker per backend, and the result
// cache.
package executor

import (
	"context"
	"regexp"

	"github.com/querygate/querygate/pkg/models"
)

// Driver executes SQL against one backend worker. Implementations are safe
// for use by one goroutine at a time; the facade's pool serializes access.
type Driver interface {
	// Query runs a single statement and returns the normalized result.
	Query(ctx context.Context, sql string) (*models.ExecutionResult, error)
	// KillSession best-effort terminates a running backend session.
	KillSession(ctx context.Context, sessionID string) error
	// ActiveSession reports the backend session identifier behind the
	// worker's in-flight query, or "" when none is known.
	ActiveSession() string
	// Healthy probes the worker.
	Healthy(ctx context.Context) error
	Close() error
}

var (
	connStringPattern = regexp.MustCompile(`(?i)(password|pwd|secret|token)=\S+`)
	hostPortPattern   = regexp.MustCompile(`\b\d{1,3}(\.\d{1,3}){3}:\d+\b`)
)

// sanitizeDriverError strips credentials and endpoints from driver messages
// before they reach a user.
func sanitizeDriverError(msg string) string {
	msg = connStringPattern.ReplaceAllString(msg, "$1=***")
	msg = hostPortPattern.ReplaceAllString(msg, "***")
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}
