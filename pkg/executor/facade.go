package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/querygate/querygate/pkg/cache"
	"github.com/querygate/querygate/pkg/config"
	"github.com/querygate/querygate/pkg/models"
	"github.com/querygate/querygate/pkg/sqlsafe"
)

// backend is one dialect's worker pool plus its circuit breaker and an
// optional single-instance fallback used when the pool cannot serve.
type backend struct {
	kind     models.DatabaseKind
	pool     chan Driver
	fallback Driver
	breaker  *gobreaker.CircuitBreaker
}

// Facade dispatches validated SQL to the backend registry, consulting the
// result cache first.
type Facade struct {
	cfg      *config.Config
	backends map[models.DatabaseKind]*backend
	results  *cache.ResultCache
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]Driver // ticket id -> driver running its query
}

// NewFacade builds an empty facade; backends are registered explicitly from
// the composition root.
func NewFacade(cfg *config.Config, results *cache.ResultCache, logger *slog.Logger) *Facade {
	return &Facade{
		cfg:      cfg,
		backends: map[models.DatabaseKind]*backend{},
		results:  results,
		logger:   logger.With("component", "executor"),
		active:   map[string]Driver{},
	}
}

// Register installs drivers for one dialect. fallback may be nil.
func (f *Facade) Register(kind models.DatabaseKind, drivers []Driver, fallback Driver) {
	pool := make(chan Driver, len(drivers))
	for _, d := range drivers {
		pool <- d
	}
	f.backends[kind] = &backend{
		kind:     kind,
		pool:     pool,
		fallback: fallback,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    string(kind),
			Timeout: f.cfg.Breaker.CoolOff,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(f.cfg.Breaker.Threshold)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				f.logger.Warn("breaker state change", "backend", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Execute runs the SQL on the backend for its dialect. The result cache is
// consulted before dispatch; successful fresh results are inserted after.
func (f *Facade) Execute(ctx context.Context, sql string, kind models.DatabaseKind, ticketID string, timeout time.Duration) (*models.ExecutionResult, error) {
	b, ok := f.backends[kind]
	if !ok {
		return nil, &models.PipelineError{
			Kind: models.ErrKindExecutionError, Message: fmt.Sprintf("no backend registered for %s", kind),
			FailedAt: string(models.StageExecute),
		}
	}

	if cached := f.results.Get(ctx, sql); cached != nil {
		f.logger.Info("result cache hit", "ticket_id", ticketID)
		return cached, nil
	}

	if timeout <= 0 {
		timeout = f.cfg.Timeouts.DBExecution
	}

	out, err := b.breaker.Execute(func() (any, error) {
		return f.dispatch(ctx, b, sql, ticketID, timeout)
	})
	if err != nil {
		return f.failureResult(ctx, err, ticketID)
	}

	result := out.(*models.ExecutionResult)
	f.normalize(result)
	result.CacheStatus = models.CacheFresh
	f.results.Put(ctx, sql, result)
	f.logger.Info("query executed",
		"ticket_id", ticketID, "backend", kind, "rows", result.RowCount, "elapsed_ms", result.ExecutionTimeMs)
	return result, nil
}

// dispatch acquires a pooled worker within the acquire timeout, falling
// back to the single-instance driver once when the pool is starved or the
// worker is unhealthy.
func (f *Facade) dispatch(ctx context.Context, b *backend, sql, ticketID string, timeout time.Duration) (*models.ExecutionResult, error) {
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var driver Driver
	select {
	case driver = <-b.pool:
		defer func() { b.pool <- driver }()
		if err := driver.Healthy(qctx); err != nil {
			f.logger.Warn("pooled worker unhealthy, using fallback", "backend", b.kind, "error", err)
			return f.runFallback(qctx, b, sql, ticketID)
		}
	case <-time.After(f.cfg.Pool.AcquireTimeout):
		f.logger.Warn("pool acquire timed out, using fallback", "backend", b.kind)
		return f.runFallback(qctx, b, sql, ticketID)
	case <-qctx.Done():
		return nil, qctx.Err()
	}
	return f.runDriver(qctx, driver, sql, ticketID)
}

func (f *Facade) runFallback(ctx context.Context, b *backend, sql, ticketID string) (*models.ExecutionResult, error) {
	if b.fallback == nil {
		return nil, fmt.Errorf("no %s worker available", b.kind)
	}
	return f.runDriver(ctx, b.fallback, sql, ticketID)
}

// runDriver keeps the ticket's active driver registered for the duration of
// the query so Cancel can reach the backend session.
func (f *Facade) runDriver(ctx context.Context, driver Driver, sql, ticketID string) (*models.ExecutionResult, error) {
	f.mu.Lock()
	f.active[ticketID] = driver
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.active, ticketID)
		f.mu.Unlock()
	}()
	return driver.Query(ctx, sql)
}

// normalize enforces the canonical result shape and the hard row cap.
func (f *Facade) normalize(result *models.ExecutionResult) {
	if result.Rows == nil {
		result.Rows = [][]any{}
	}
	if len(result.Rows) > sqlsafe.HardRowCap {
		result.Rows = result.Rows[:sqlsafe.HardRowCap]
		result.Message = fmt.Sprintf("result truncated to %d rows", sqlsafe.HardRowCap)
	}
	result.RowCount = len(result.Rows)
	if result.Status == "" {
		result.Status = models.ExecSuccess
	}
}

// failureResult maps dispatch errors onto the execution status taxonomy.
func (f *Facade) failureResult(ctx context.Context, err error, ticketID string) (*models.ExecutionResult, error) {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		f.logger.Warn("breaker rejected query", "ticket_id", ticketID)
		return nil, models.ErrBreakerOpen
	case errors.Is(err, context.DeadlineExceeded):
		return &models.ExecutionResult{
			Rows: [][]any{}, Status: models.ExecTimeout,
			Message: "query exceeded the execution timeout",
		}, nil
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return &models.ExecutionResult{
			Rows: [][]any{}, Status: models.ExecCancelled,
			Message: "query was cancelled",
		}, nil
	default:
		return &models.ExecutionResult{
			Rows: [][]any{}, Status: models.ExecError,
			Message: sanitizeDriverError(err.Error()),
		}, nil
	}
}

// Cancel best-effort kills the backend session running a ticket's query.
// Tickets with no in-flight query are a no-op.
func (f *Facade) Cancel(ctx context.Context, ticketID string) error {
	f.mu.Lock()
	driver, ok := f.active[ticketID]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	sessionID := driver.ActiveSession()
	if sessionID == "" {
		return nil
	}
	f.logger.Info("killing backend session", "ticket_id", ticketID, "session_id", sessionID)
	return driver.KillSession(ctx, sessionID)
}

// Close shuts every pooled driver down.
func (f *Facade) Close() {
	for _, b := range f.backends {
		close(b.pool)
		for d := range b.pool {
			_ = d.Close()
		}
		if b.fallback != nil {
			_ = b.fallback.Close()
		}
	}
}
