package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/querygate/querygate/pkg/models"
	"github.com/querygate/querygate/pkg/trace"
)

// bannerLines is the fixed number of startup lines the Oracle worker prints
// before speaking JSON-RPC.
const bannerLines = 4

// rpcRequest is one line-delimited JSON-RPC call to the Oracle worker. The
// current trace context rides in params under _trace_context.
type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type oracleResult struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	TimeMs   int64    `json:"execution_time_ms"`
	Session  string   `json:"session_id,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// OracleDriver talks to a long-running SQLcl-style subprocess over
// line-delimited JSON-RPC. One driver owns one subprocess; the facade's
// pool holds several drivers.
type OracleDriver struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan rpcResponse
	session string
	closed  bool
	readErr error
}

// NewOracleDriver starts the worker subprocess, skips its startup banner,
// and begins the response reader.
func NewOracleDriver(command string, args ...string) (*OracleDriver, error) {
	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("oracle worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("oracle worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start oracle worker: %w", err)
	}

	d := &OracleDriver{
		cmd:     cmd,
		stdin:   stdin,
		pending: map[int64]chan rpcResponse{},
	}

	reader := bufio.NewReaderSize(stdout, 1<<20)
	for i := 0; i < bannerLines; i++ {
		if _, err := reader.ReadString('\n'); err != nil {
			_ = cmd.Process.Kill()
			return nil, fmt.Errorf("oracle worker banner: %w", err)
		}
	}
	go d.readLoop(reader)
	return d, nil
}

// readLoop delivers responses to the id-keyed waiters. A read failure fails
// every outstanding call and every future one.
func (d *OracleDriver) readLoop(reader *bufio.Reader) {
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			d.mu.Lock()
			d.readErr = err
			for id, ch := range d.pending {
				close(ch)
				delete(d.pending, id)
			}
			d.mu.Unlock()
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		d.mu.Lock()
		if ch, ok := d.pending[resp.ID]; ok {
			ch <- resp
			delete(d.pending, resp.ID)
		}
		d.mu.Unlock()
	}
}

// call sends one request and waits for its response or cancellation.
func (d *OracleDriver) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	id := d.nextID.Add(1)
	if params == nil {
		params = map[string]any{}
	}
	params["_trace_context"] = trace.Inject(ctx)

	ch := make(chan rpcResponse, 1)
	d.mu.Lock()
	if d.closed || d.readErr != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("oracle worker unavailable")
	}
	d.pending[id] = ch
	d.mu.Unlock()

	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if _, err := d.stdin.Write(append(payload, '\n')); err != nil {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		return nil, fmt.Errorf("oracle worker write: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("oracle worker closed mid-call")
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("oracle: %s", resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (d *OracleDriver) Query(ctx context.Context, sql string) (*models.ExecutionResult, error) {
	start := time.Now()
	d.ensureSession(ctx)
	raw, err := d.call(ctx, "execute", map[string]any{"sql": sql})
	if err != nil {
		return nil, err
	}
	var res oracleResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("oracle result decode: %w", err)
	}
	if res.Session != "" {
		d.setSession(res.Session)
	}
	elapsed := res.TimeMs
	if elapsed == 0 {
		elapsed = time.Since(start).Milliseconds()
	}
	if res.Rows == nil {
		res.Rows = [][]any{}
	}
	return &models.ExecutionResult{
		Columns:         res.Columns,
		Rows:            res.Rows,
		RowCount:        len(res.Rows),
		ExecutionTimeMs: elapsed,
		Status:          models.ExecSuccess,
	}, nil
}

// ensureSession asks the worker for its backend session handle once. The
// worker owns a single Oracle session for its lifetime.
func (d *OracleDriver) ensureSession(ctx context.Context) {
	if d.ActiveSession() != "" {
		return
	}
	raw, err := d.call(ctx, "session", nil)
	if err != nil {
		return
	}
	var s struct {
		Session string `json:"session_id"`
	}
	if json.Unmarshal(raw, &s) == nil && s.Session != "" {
		d.setSession(s.Session)
	}
}

func (d *OracleDriver) setSession(id string) {
	d.mu.Lock()
	d.session = id
	d.mu.Unlock()
}

func (d *OracleDriver) ActiveSession() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

func (d *OracleDriver) KillSession(ctx context.Context, sessionID string) error {
	_, err := d.call(ctx, "execute", map[string]any{
		"sql": fmt.Sprintf("ALTER SYSTEM KILL SESSION '%s' IMMEDIATE", sessionID),
	})
	return err
}

func (d *OracleDriver) Healthy(ctx context.Context) error {
	_, err := d.call(ctx, "ping", nil)
	return err
}

func (d *OracleDriver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	_ = d.stdin.Close()
	return d.cmd.Wait()
}

// dictionary runs one data-dictionary query through the worker and returns
// the decoded rows.
func (d *OracleDriver) dictionary(ctx context.Context, sql string) (*oracleResult, error) {
	raw, err := d.call(ctx, "execute", map[string]any{"sql": sql})
	if err != nil {
		return nil, err
	}
	var res oracleResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("oracle result decode: %w", err)
	}
	return &res, nil
}

// ListTables satisfies the schema fetcher contract over the same worker.
func (d *OracleDriver) ListTables(ctx context.Context) ([]string, error) {
	res, err := d.dictionary(ctx, "SELECT table_name FROM user_tables ORDER BY table_name")
	if err != nil {
		return nil, err
	}
	tables := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) > 0 {
			tables = append(tables, fmt.Sprint(row[0]))
		}
	}
	return tables, nil
}

// Describe returns the columns of one table in dictionary order.
func (d *OracleDriver) Describe(ctx context.Context, table string) ([]models.Column, error) {
	res, err := d.dictionary(ctx, fmt.Sprintf(
		"SELECT column_name, data_type, nullable FROM user_tab_columns WHERE table_name = '%s' ORDER BY column_id",
		strings.ReplaceAll(strings.ToUpper(table), "'", "''")))
	if err != nil {
		return nil, err
	}
	cols := make([]models.Column, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) < 3 {
			continue
		}
		cols = append(cols, models.Column{
			Name:     fmt.Sprint(row[0]),
			Type:     fmt.Sprint(row[1]),
			Nullable: fmt.Sprint(row[2]) == "Y",
		})
	}
	return cols, nil
}

// SampleRows returns up to n probe rows rendered as strings.
func (d *OracleDriver) SampleRows(ctx context.Context, table string, n int) ([][]string, error) {
	res, err := d.dictionary(ctx, fmt.Sprintf(
		"SELECT * FROM %s FETCH FIRST %d ROWS ONLY", quoteOracleIdent(table), n))
	if err != nil {
		return nil, err
	}
	out := make([][]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		rendered := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				rendered[i] = "NULL"
				continue
			}
			rendered[i] = fmt.Sprint(v)
		}
		out = append(out, rendered)
	}
	return out, nil
}

// Relationships returns the foreign-key edges from the constraint dictionary.
func (d *OracleDriver) Relationships(ctx context.Context) ([]models.Relationship, error) {
	res, err := d.dictionary(ctx,
		`SELECT a.table_name, a.column_name, c_pk.table_name, b.column_name
		 FROM user_cons_columns a
		 JOIN user_constraints c ON a.constraint_name = c.constraint_name
		 JOIN user_constraints c_pk ON c.r_constraint_name = c_pk.constraint_name
		 JOIN user_cons_columns b ON c_pk.constraint_name = b.constraint_name
		 WHERE c.constraint_type = 'R'`)
	if err != nil {
		return nil, err
	}
	rels := make([]models.Relationship, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) < 4 {
			continue
		}
		rels = append(rels, models.Relationship{
			FromTable:  fmt.Sprint(row[0]),
			FromColumn: fmt.Sprint(row[1]),
			ToTable:    fmt.Sprint(row[2]),
			ToColumn:   fmt.Sprint(row[3]),
		})
	}
	return rels, nil
}

func quoteOracleIdent(name string) string {
	return `"` + strings.ReplaceAll(strings.ToUpper(name), `"`, "") + `"`
}
