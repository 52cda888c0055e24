package models

import "fmt"

// ExecutionStatus is the outcome class of one execution attempt.
type ExecutionStatus string

const (
	ExecSuccess   ExecutionStatus = "success"
	ExecError     ExecutionStatus = "error"
	ExecTimeout   ExecutionStatus = "timeout"
	ExecCancelled ExecutionStatus = "cancelled"
	ExecBlocked   ExecutionStatus = "blocked"
)

// CacheStatus records how the result cache participated in an execution.
type CacheStatus string

const (
	CacheFresh  CacheStatus = "fresh"
	CacheHit    CacheStatus = "hit"
	CacheMiss   CacheStatus = "miss"
	CacheBypass CacheStatus = "bypass"
)

// DataQuality carries optional per-column nullability/duplicate statistics.
type DataQuality struct {
	NullCounts      map[string]int `json:"null_counts,omitempty"`
	DuplicateRows   int            `json:"duplicate_rows,omitempty"`
	TotalRowsProbed int            `json:"total_rows_probed,omitempty"`
}

// ExecutionResult is the canonical result shape returned by every backend.
// Invariant: len(Rows) == RowCount.
type ExecutionResult struct {
	Columns         []string        `json:"columns"`
	Rows            [][]any         `json:"rows"`
	RowCount        int             `json:"row_count"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	Status          ExecutionStatus `json:"status"`
	DataQuality     *DataQuality    `json:"data_quality,omitempty"`
	CacheStatus     CacheStatus     `json:"cache_status,omitempty"`
	Message         string          `json:"message,omitempty"`
}

// Validate checks the row-count invariant and row widths.
func (r *ExecutionResult) Validate() error {
	if len(r.Rows) != r.RowCount {
		return fmt.Errorf("row_count %d does not match len(rows) %d", r.RowCount, len(r.Rows))
	}
	for i, row := range r.Rows {
		if len(row) != len(r.Columns) {
			return fmt.Errorf("row %d has %d values for %d columns", i, len(row), len(r.Columns))
		}
	}
	return nil
}

// VisualizationHint suggests a client-side rendering for a result set.
type VisualizationHint string

const (
	VizTable VisualizationHint = "table"
	VizBar   VisualizationHint = "bar"
	VizLine  VisualizationHint = "line"
	VizPie   VisualizationHint = "pie"
)
