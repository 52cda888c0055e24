package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/pkg/cache"
	"github.com/querygate/querygate/pkg/checkpoint"
	"github.com/querygate/querygate/pkg/config"
	"github.com/querygate/querygate/pkg/events"
	"github.com/querygate/querygate/pkg/executor"
	"github.com/querygate/querygate/pkg/kv"
	"github.com/querygate/querygate/pkg/llm"
	"github.com/querygate/querygate/pkg/models"
	"github.com/querygate/querygate/pkg/router"
	"github.com/querygate/querygate/pkg/schema"
	"github.com/querygate/querygate/pkg/skills"
	"github.com/querygate/querygate/pkg/sqlsafe"
	"github.com/querygate/querygate/pkg/synth"
)

// pipelineFetcher serves a fixed schema for pipeline tests.
type pipelineFetcher struct{}

func (pipelineFetcher) ListTables(context.Context) ([]string, error) {
	return []string{"SALES"}, nil
}

func (pipelineFetcher) Describe(context.Context, string) ([]models.Column, error) {
	return []models.Column{
		{Name: "REGION", Type: "VARCHAR2"},
		{Name: "SALES_AMOUNT", Type: "NUMBER"},
		{Name: "ORDER_DATE", Type: "DATE"},
	}, nil
}

func (pipelineFetcher) SampleRows(context.Context, string, int) ([][]string, error) {
	return nil, nil
}

func (pipelineFetcher) Relationships(context.Context) ([]models.Relationship, error) {
	return nil, nil
}

// stubDriver records executed SQL and can fail a leading run of queries.
// With block set, Query parks until KillSession releases it.
type stubDriver struct {
	mu       sync.Mutex
	failures int
	session  string
	block    chan struct{}
	sqls     []string
	kills    []string
}

func (d *stubDriver) Query(_ context.Context, sql string) (*models.ExecutionResult, error) {
	d.mu.Lock()
	d.sqls = append(d.sqls, sql)
	block := d.block
	fail := d.failures > 0
	if fail {
		d.failures--
	}
	d.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail {
		return nil, errors.New("ORA-00904: invalid identifier")
	}
	return &models.ExecutionResult{
		Columns: []string{"REGION", "TOTAL"},
		Rows:    [][]any{{"EMEA", 100}, {"APAC", 80}, {"AMER", 60}},
	}, nil
}

func (d *stubDriver) KillSession(_ context.Context, sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kills = append(d.kills, sessionID)
	if d.block != nil {
		close(d.block)
		d.block = nil
	}
	return nil
}

func (d *stubDriver) ActiveSession() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

func (d *stubDriver) Healthy(context.Context) error { return nil }
func (d *stubDriver) Close() error                  { return nil }

func (d *stubDriver) executed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.sqls))
	copy(out, d.sqls)
	return out
}

func (d *stubDriver) killed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.kills))
	copy(out, d.kills)
	return out
}

type pipelineHarness struct {
	orc      *Orchestrator
	bus      *events.Bus
	provider *llm.FakeProvider
	driver   *stubDriver
	cps      checkpoint.Store
}

func newPipeline(t *testing.T, cfg *config.Config, provider *llm.FakeProvider, driver *stubDriver, synthCost sqlsafe.Estimator) *pipelineHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	store := kv.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	schemas := schema.NewService(store,
		map[models.DatabaseKind]schema.Fetcher{models.DatabaseOracle: pipelineFetcher{}},
		time.Hour, 30*time.Minute, 5*time.Second)
	syn := synth.NewSynthesizer(provider, cache.NewFingerprintCache(store, time.Hour), synthCost, nil, nil, cfg, logger)
	val := sqlsafe.NewValidator(cfg, store, sqlsafe.NewHeuristicEstimator(), sqlsafe.NewNoopRLS(), nil, logger)

	exec := executor.NewFacade(cfg, cache.NewResultCache(store, cfg.Cache), logger)
	exec.Register(models.DatabaseOracle, []executor.Driver{driver}, nil)

	bus := events.NewBus(logger)
	cps := checkpoint.NewMemoryStore()
	orc := New(cfg, router.New(nil, false), skills.NewEngine(), schemas, syn, val, exec, bus, cps, logger)
	return &pipelineHarness{orc: orc, bus: bus, provider: provider, driver: driver, cps: cps}
}

func pipelineTicket(auto bool) *models.QueryTicket {
	return &models.QueryTicket{
		ID:           "ticket-1",
		OwnerUser:    "alice",
		OwnerRole:    "analyst",
		SessionID:    "sess-1",
		DatabaseKind: models.DatabaseOracle,
		AutoApprove:  auto,
		Request:      models.UserRequest{Text: "total sales by region"},
	}
}

func streamRecords(t *testing.T, bus *events.Bus, ticketID string) []models.EventRecord {
	t.Helper()
	ch, err := bus.Subscribe(context.Background(), ticketID)
	require.NoError(t, err)
	var out []models.EventRecord
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, rec)
		case <-time.After(2 * time.Second):
			t.Fatal("event stream did not close")
		}
	}
}

func streamStates(t *testing.T, bus *events.Bus, ticketID string) []models.TicketState {
	t.Helper()
	var out []models.TicketState
	for _, rec := range streamRecords(t, bus, ticketID) {
		out = append(out, rec.State)
	}
	return out
}

const groupBySQL = "SELECT REGION, SUM(SALES_AMOUNT) FROM SALES GROUP BY REGION\n-- CONFIDENCE: 90%"

func TestSubmit_ConversationalShortCircuit(t *testing.T) {
	h := newPipeline(t, config.Defaults(), llm.NewFakeProvider("unused"), &stubDriver{}, nil)
	ticket := pipelineTicket(true)
	ticket.Request.Text = "hello"

	got, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, models.ActionReply, got.NextAction)
	assert.NotEmpty(t, got.Reply)
	assert.Nil(t, got.SQL)
	assert.Equal(t, 0, h.provider.CallCount())
	assert.Equal(t, []models.TicketState{models.StateReceived, models.StateFinished},
		streamStates(t, h.bus, ticket.ID))
}

func TestSubmit_MetadataAnsweredFromSnapshot(t *testing.T) {
	h := newPipeline(t, config.Defaults(), llm.NewFakeProvider("unused"), &stubDriver{}, nil)
	ticket := pipelineTicket(true)
	ticket.Request.Text = "what tables are available?"

	got, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)
	assert.Contains(t, got.Reply, "SALES")
	assert.Equal(t, 0, h.provider.CallCount())
}

func TestSubmit_DataQueryRunsToCompletion(t *testing.T) {
	h := newPipeline(t, config.Defaults(), llm.NewFakeProvider(groupBySQL), &stubDriver{}, nil)
	ticket := pipelineTicket(true)

	got, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFinished, got.NextAction)
	require.NotNil(t, got.Result)
	assert.Equal(t, 3, got.Result.RowCount)
	assert.Equal(t, "Query returned 3 rows.", got.Reply)
	require.NotNil(t, got.Result.DataQuality)

	// The role row cap travels with the executed statement.
	executed := h.driver.executed()
	require.Len(t, executed, 1)
	assert.Contains(t, executed[0], "FETCH FIRST 10000 ROWS ONLY")

	assert.Equal(t, []models.TicketState{
		models.StateReceived, models.StatePlanning, models.StatePrepared,
		models.StateExecuting, models.StateFinished,
	}, streamStates(t, h.bus, ticket.ID))
}

func TestSubmit_AliasedProjectionRunsToCompletion(t *testing.T) {
	provider := llm.NewFakeProvider(
		"SELECT REGION, SUM(SALES_AMOUNT) AS TOTAL_SALES FROM SALES GROUP BY REGION ORDER BY TOTAL_SALES DESC\n-- CONFIDENCE: 90%")
	h := newPipeline(t, config.Defaults(), provider, &stubDriver{}, nil)
	ticket := pipelineTicket(true)

	got, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFinished, got.NextAction)
	assert.Nil(t, got.Error)
	require.NotNil(t, got.Result)

	executed := h.driver.executed()
	require.Len(t, executed, 1)
	assert.Contains(t, executed[0], "AS TOTAL_SALES")
	assert.Contains(t, executed[0], "ORDER BY TOTAL_SALES DESC")
}

func TestSubmit_InjectionInRequestBlocksBeforeSynthesis(t *testing.T) {
	h := newPipeline(t, config.Defaults(), llm.NewFakeProvider(groupBySQL), &stubDriver{}, nil)
	ticket := pipelineTicket(true)
	ticket.Request.Text = "show all orders; DROP TABLE users --"

	got, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, models.ErrKindInjectionBlocked, got.Error.Kind)

	// The hostile text never reaches the model or a backend.
	assert.Equal(t, 0, h.provider.CallCount())
	assert.Empty(t, h.driver.executed())
	assert.Equal(t, []models.TicketState{models.StateReceived, models.StateError},
		streamStates(t, h.bus, ticket.ID))
}

func TestSubmit_SuspendsForApproval(t *testing.T) {
	h := newPipeline(t, config.Defaults(), llm.NewFakeProvider(groupBySQL), &stubDriver{}, nil)
	ticket := pipelineTicket(false)

	got, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, models.ActionAwaitApproval, got.NextAction)
	assert.Empty(t, h.driver.executed())

	state, err := h.bus.GetState(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePendingApproval, state)
}

func TestDecide_ApprovalResumesExecution(t *testing.T) {
	h := newPipeline(t, config.Defaults(), llm.NewFakeProvider(groupBySQL), &stubDriver{}, nil)
	ticket := pipelineTicket(false)

	_, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)

	got, err := h.orc.Decide(context.Background(), ticket.ID, Decision{Approved: true})
	require.NoError(t, err)
	assert.Equal(t, models.ActionFinished, got.NextAction)
	require.Len(t, h.driver.executed(), 1)

	states := streamStates(t, h.bus, ticket.ID)
	pending := 0
	for _, s := range states {
		if s == models.StatePendingApproval {
			pending++
		}
	}
	assert.Equal(t, 1, pending)
	assert.Equal(t, models.StateFinished, states[len(states)-1])
}

func TestDecide_SecondDecisionIsDuplicate(t *testing.T) {
	h := newPipeline(t, config.Defaults(), llm.NewFakeProvider(groupBySQL), &stubDriver{}, nil)
	ticket := pipelineTicket(false)

	_, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)

	_, err = h.orc.Decide(context.Background(), ticket.ID, Decision{Approved: true})
	require.NoError(t, err)

	_, err = h.orc.Decide(context.Background(), ticket.ID, Decision{Approved: true})
	assert.ErrorIs(t, err, models.ErrDuplicateApproval)
}

func TestDecide_RejectionEndsTicket(t *testing.T) {
	h := newPipeline(t, config.Defaults(), llm.NewFakeProvider(groupBySQL), &stubDriver{}, nil)
	ticket := pipelineTicket(false)

	_, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)

	got, err := h.orc.Decide(context.Background(), ticket.ID, Decision{Approved: false})
	require.NoError(t, err)
	assert.Equal(t, models.ActionRejected, got.NextAction)
	assert.Empty(t, h.driver.executed())

	state, err := h.bus.GetState(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateRejected, state)
}

func TestDecide_ModifiedSQLRevalidatesWithoutSecondSuspend(t *testing.T) {
	h := newPipeline(t, config.Defaults(), llm.NewFakeProvider(groupBySQL), &stubDriver{}, nil)
	ticket := pipelineTicket(false)

	_, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)

	got, err := h.orc.Decide(context.Background(), ticket.ID, Decision{
		Approved:    true,
		ModifiedSQL: "SELECT REGION FROM SALES",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ActionFinished, got.NextAction)

	executed := h.driver.executed()
	require.Len(t, executed, 1)
	assert.Contains(t, executed[0], "SELECT REGION FROM SALES")
	// Revalidation re-applies the role row cap to the modified statement.
	assert.Contains(t, executed[0], "FETCH FIRST 10000 ROWS ONLY")
}

func TestSubmit_ClarificationAndResume(t *testing.T) {
	h := newPipeline(t, config.Defaults(), llm.NewFakeProvider(groupBySQL), &stubDriver{}, nil)
	ticket := pipelineTicket(true)
	ticket.Request.Text = "churn propensity in sales"

	got, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, models.ActionClarify, got.NextAction)
	require.NotNil(t, got.Clarification)
	assert.Equal(t, 0, h.provider.CallCount())

	resumed, err := h.orc.Clarify(context.Background(), ticket.ID,
		"use SALES_AMOUNT as propensity and use REGION as churn")
	require.NoError(t, err)
	assert.Equal(t, models.ActionFinished, resumed.NextAction)
	assert.Nil(t, resumed.Clarification)
	assert.Len(t, resumed.Request.History, 2)
	require.NotNil(t, resumed.Result)
}

func TestClarify_NotAwaiting(t *testing.T) {
	h := newPipeline(t, config.Defaults(), llm.NewFakeProvider(groupBySQL), &stubDriver{}, nil)
	ticket := pipelineTicket(true)

	_, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)

	_, err = h.orc.Clarify(context.Background(), ticket.ID, "more detail")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestSubmit_RepairAfterValidationRejection(t *testing.T) {
	provider := llm.NewFakeProvider(
		"UPDATE SALES SET REGION = 'EMEA'\n-- CONFIDENCE: 90%",
		groupBySQL)
	h := newPipeline(t, config.Defaults(), provider, &stubDriver{}, nil)
	ticket := pipelineTicket(true)

	got, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFinished, got.NextAction)
	assert.Equal(t, 1, got.RepairAttempts)
	require.Len(t, h.driver.executed(), 1)
	assert.Contains(t, h.driver.executed()[0], "GROUP BY REGION")
}

func TestSubmit_SecondRejectionIsTerminal(t *testing.T) {
	provider := llm.NewFakeProvider(
		"UPDATE SALES SET REGION = 'EMEA'\n-- CONFIDENCE: 90%",
		"UPDATE SALES SET REGION = 'APAC'\n-- CONFIDENCE: 90%")
	h := newPipeline(t, config.Defaults(), provider, &stubDriver{}, nil)
	ticket := pipelineTicket(true)

	got, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, models.ErrKindValidationSQLRejected, got.Error.Kind)
	assert.Empty(t, h.driver.executed())
}

func TestSubmit_IterationLimit(t *testing.T) {
	cfg := config.Defaults()
	cfg.MaxIterations = 2
	provider := llm.NewFakeProvider(
		"UPDATE SALES SET REGION = 'EMEA'\n-- CONFIDENCE: 90%",
		groupBySQL)
	h := newPipeline(t, cfg, provider, &stubDriver{}, nil)
	ticket := pipelineTicket(true)

	got, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, models.ErrKindIterationLimit, got.Error.Kind)
}

func TestSubmit_PivotRetriesAfterExecutionFailure(t *testing.T) {
	provider := llm.NewFakeProvider(groupBySQL, groupBySQL)
	driver := &stubDriver{failures: 1}
	h := newPipeline(t, config.Defaults(), provider, driver, nil)
	ticket := pipelineTicket(true)

	got, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFinished, got.NextAction)
	assert.Equal(t, 1, got.PivotAttempts)
	assert.Len(t, driver.executed(), 2)
}

func TestSubmit_CostRewriteSurfacesOnVerdict(t *testing.T) {
	provider := llm.NewFakeProvider(
		"SELECT REGION FROM SALES\n-- CONFIDENCE: 90%",
		"SELECT REGION FROM SALES WHERE REGION = 'EMEA'")
	h := newPipeline(t, config.Defaults(), provider, &stubDriver{}, sqlsafe.NewHeuristicEstimator())
	ticket := pipelineTicket(true)

	got, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, models.ActionFinished, got.NextAction)
	require.NotNil(t, got.Verdict)
	assert.True(t, got.Verdict.CostOptimized)
	require.Len(t, h.driver.executed(), 1)
	assert.Contains(t, h.driver.executed()[0], "WHERE REGION = 'EMEA'")
}

func TestSubmit_LowConfidenceAsksForClarification(t *testing.T) {
	provider := llm.NewFakeProvider("SELECT REGION FROM SALES\n-- CONFIDENCE: 40%")
	h := newPipeline(t, config.Defaults(), provider, &stubDriver{}, nil)
	ticket := pipelineTicket(true)

	got, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)
	assert.Equal(t, models.ActionClarify, got.NextAction)
	require.NotNil(t, got.Clarification)
	assert.Contains(t, got.Clarification.Message, "40%")

	// The stream closes with a single error frame carrying the details.
	records := streamRecords(t, h.bus, ticket.ID)
	last := records[len(records)-1]
	assert.Equal(t, models.StateError, last.State)
	payload, ok := last.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(models.ErrKindClarificationNeeded), payload["status"])
	details, ok := payload["clarification_details"].(*models.Clarification)
	require.True(t, ok)
	assert.Contains(t, details.Message, "40%")
}

func TestCancel_KillsBackendSession(t *testing.T) {
	driver := &stubDriver{session: "sid-0042", block: make(chan struct{})}
	h := newPipeline(t, config.Defaults(), llm.NewFakeProvider(groupBySQL), driver, nil)
	ticket := pipelineTicket(true)

	done := make(chan *models.QueryTicket, 1)
	go func() {
		got, err := h.orc.Submit(context.Background(), ticket)
		assert.NoError(t, err)
		done <- got
	}()

	// Wait for the query to be in flight, then cancel.
	deadline := time.Now().Add(2 * time.Second)
	for len(driver.executed()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("query never reached the driver")
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, h.orc.Cancel(ticket.ID))

	got := <-done
	require.NotNil(t, got.Error)
	assert.Equal(t, models.ErrKindCancelled, got.Error.Kind)
	assert.Equal(t, []string{"sid-0042"}, driver.killed())

	state, err := h.bus.GetState(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, state)
}

func TestSubmit_InvalidTicketID(t *testing.T) {
	h := newPipeline(t, config.Defaults(), llm.NewFakeProvider("unused"), &stubDriver{}, nil)
	ticket := pipelineTicket(true)
	ticket.ID = "x"

	_, err := h.orc.Submit(context.Background(), ticket)
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	h := newPipeline(t, config.Defaults(), llm.NewFakeProvider(groupBySQL), &stubDriver{}, nil)
	ticket := pipelineTicket(true)

	_, err := h.orc.Submit(context.Background(), ticket)
	require.NoError(t, err)

	got, err := h.orc.Lookup(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerUser)

	_, err = h.orc.Lookup(context.Background(), "missing-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
