// Package synth turns validated concept mappings and schema context into
// dialect-correct SQL via the LLM provider, with fingerprint caching and a
// fixed post-processing pipeline.
package synth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/querygate/querygate/pkg/cache"
	"github.com/querygate/querygate/pkg/config"
	"github.com/querygate/querygate/pkg/llm"
	"github.com/querygate/querygate/pkg/models"
	"github.com/querygate/querygate/pkg/sqlsafe"
)

// Result is the synthesizer's outcome: exactly one of SQL or Clarification
// is set when Err is nil.
type Result struct {
	SQL           *models.GeneratedSQL
	Clarification *models.Clarification
	Usage         *llm.Usage
	CostOptimized bool
	Warnings      []string
}

// Synthesizer generates SQL from resolved mappings. history and metrics may
// be nil; cost may be nil to disable the cost-aware rewrite.
type Synthesizer struct {
	provider llm.Provider
	fps      *cache.FingerprintCache
	cost     sqlsafe.Estimator
	history  HistoryProvider
	metrics  MetricLibrary
	cfg      *config.Config
	logger   *slog.Logger
}

// NewSynthesizer wires the SQL generator.
func NewSynthesizer(provider llm.Provider, fps *cache.FingerprintCache, cost sqlsafe.Estimator, history HistoryProvider, metrics MetricLibrary, cfg *config.Config, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		provider: provider,
		fps:      fps,
		cost:     cost,
		history:  history,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger.With("component", "synthesizer"),
	}
}

// Generate produces SQL for the ticket. A fingerprint-cache hit skips the
// LLM entirely.
func (s *Synthesizer) Generate(ctx context.Context, ticket *models.QueryTicket, snapshot *models.SchemaSnapshot) (*Result, error) {
	intent := string(models.IntentDataQuery)
	if ticket.Routing != nil && ticket.Routing.EnhancedIntent != "" {
		intent = ticket.Routing.EnhancedIntent
	}
	key := cache.FingerprintKey(ticket.DatabaseKind, snapshot.Fingerprint(), ticket.Request.Text, intent)
	if entry := s.fps.Get(ctx, key); entry != nil {
		s.logger.Info("fingerprint cache hit", "ticket_id", ticket.ID, "usage_count", entry.UsageCount)
		return &Result{SQL: &models.GeneratedSQL{
			Text:                  entry.SQL,
			Confidence:            entry.Confidence,
			Dialect:               ticket.DatabaseKind,
			IdentifiersNormalized: true,
			WasCached:             true,
		}}, nil
	}

	res, err := s.invoke(ctx, ticket, snapshot, "", "")
	if err != nil {
		return nil, err
	}
	if res.SQL != nil {
		s.fps.Put(ctx, key, res.SQL.Text, res.SQL.Confidence)
	}
	return res, nil
}

// Repair re-generates after an execution or validation failure, feeding the
// failed SQL and the error back to the model. Repairs are never cached.
func (s *Synthesizer) Repair(ctx context.Context, ticket *models.QueryTicket, snapshot *models.SchemaSnapshot, failedSQL, failure string) (*Result, error) {
	return s.invoke(ctx, ticket, snapshot, failedSQL, failure)
}

func (s *Synthesizer) invoke(ctx context.Context, ticket *models.QueryTicket, snapshot *models.SchemaSnapshot, repairSQL, repairError string) (*Result, error) {
	limits := s.cfg.LimitsForRole(ticket.OwnerRole)
	in := promptInput{
		Text:        ticket.Request.Text,
		Dialect:     ticket.DatabaseKind,
		Skills:      ticket.Skills,
		Snapshot:    snapshot,
		MaxTables:   limits.MaxTables,
		MaxJoins:    limits.MaxJoins,
		MaxRows:     limits.MaxRows,
		RepairSQL:   repairSQL,
		RepairError: repairError,
	}
	if s.history != nil {
		if past, err := s.history.SimilarQueries(ctx, ticket.Request.Text, ticket.DatabaseKind, 3); err == nil {
			in.History = past
		}
	}
	if s.metrics != nil {
		if defs, err := s.metrics.Metrics(ctx, ticket.DatabaseKind); err == nil {
			in.Metrics = defs
		}
	}

	completion, err := s.provider.Invoke(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: composePrompt(in)},
		{Role: llm.RoleUser, Content: ticket.Request.Text},
	}, llm.Options{Temperature: 0.1, Timeout: s.cfg.Timeouts.LLM})
	if err != nil {
		taxonomy := llm.Classify(err)
		s.logger.Warn("llm synthesis failed", "ticket_id", ticket.ID, "taxonomy", taxonomy, "error", err)
		if taxonomy == llm.TaxonomyBadResponse {
			return nil, &models.PipelineError{
				Kind: models.ErrKindLLMEmpty, Message: "the model returned no SQL",
				FailedAt: string(models.StageSynthesize),
			}
		}
		// Provider details stay out of the user-facing message.
		return &Result{Clarification: &models.Clarification{
			Message: "I could not generate SQL for this question right now. Please try again or rephrase.",
		}}, nil
	}

	res := &Result{Usage: completion.Usage}
	sql := stripProse(completion.Content)

	if msg, isClarification := clarificationText(sql); isClarification {
		res.Clarification = &models.Clarification{Message: msg}
		return res, nil
	}

	sql, confidence := extractConfidence(sql)
	if strings.TrimSpace(sql) == "" {
		return nil, &models.PipelineError{
			Kind: models.ErrKindLLMEmpty, Message: "the model returned no SQL",
			FailedAt: string(models.StageSynthesize),
		}
	}

	sql = normalizeIdentifiers(sql, snapshot)

	if stmts := sqlsafe.SplitStatements(sql); len(stmts) > 1 {
		sql = stmts[0]
		res.Warnings = append(res.Warnings, "model emitted multiple statements; kept the first")
	}

	if ticket.DatabaseKind == models.DatabasePostgres {
		sql = downcaseUnquoted(sql)
	}

	if invalid := invalidIdentifiers(sql, snapshot); len(invalid) > 0 {
		return nil, &models.PipelineError{
			Kind:               models.ErrKindInvalidIdentifiers,
			Message:            fmt.Sprintf("generated SQL references unknown identifiers: %s", strings.Join(invalid, ", ")),
			FailedAt:           string(models.StageSynthesize),
			SQLAttempted:       sql,
			InvalidIdentifiers: invalid,
		}
	}

	if issues := sqlsafe.ValidateDialect(sql, ticket.DatabaseKind); len(issues) > 0 {
		converted, warnings := sqlsafe.ConvertDialect(sql, convertSource(ticket.DatabaseKind), ticket.DatabaseKind)
		res.Warnings = append(res.Warnings, warnings...)
		sql = converted
	}

	sql, res.CostOptimized = s.maybeOptimize(ctx, ticket, sql)

	res.SQL = &models.GeneratedSQL{
		Text:                  sql,
		Confidence:            confidence,
		Dialect:               ticket.DatabaseKind,
		IdentifiersNormalized: true,
	}
	s.logger.Info("sql synthesized",
		"ticket_id", ticket.ID, "confidence", confidence, "cost_optimized", res.CostOptimized)
	return res, nil
}

// maybeOptimize asks the model for a cheaper semantically equivalent
// rewrite when the pre-estimate is expensive. The rewrite is accepted only
// when it is non-empty and differs from the original.
func (s *Synthesizer) maybeOptimize(ctx context.Context, ticket *models.QueryTicket, sql string) (string, bool) {
	if s.cost == nil {
		return sql, false
	}
	est, err := s.cost.Estimate(ctx, sql, ticket.DatabaseKind, false)
	if err != nil {
		return sql, false
	}
	expensive := est.Level == models.CostHigh || est.Level == models.CostCritical || est.HasFullScan
	if !expensive {
		return sql, false
	}

	prompt := fmt.Sprintf(
		"Rewrite this %s SQL to be cheaper to execute while returning the same result. "+
			"Known issues: %s. Return SQL only, no explanations.\n\n%s",
		ticket.DatabaseKind, strings.Join(est.Warnings, "; "), sql)
	completion, err := s.provider.Invoke(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, llm.Options{Temperature: 0.1, Timeout: s.cfg.Timeouts.LLM})
	if err != nil {
		s.logger.Warn("cost rewrite failed, keeping original", "ticket_id", ticket.ID, "error", err)
		return sql, false
	}

	rewritten := stripProse(completion.Content)
	rewritten, _ = extractConfidence(rewritten)
	if strings.TrimSpace(rewritten) == "" || normalizeSpace(rewritten) == normalizeSpace(sql) {
		return sql, false
	}
	return rewritten, true
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// convertSource guesses which dialect the model slipped into.
func convertSource(target models.DatabaseKind) models.DatabaseKind {
	if target == models.DatabaseOracle {
		return models.DatabasePostgres
	}
	return models.DatabaseOracle
}
