package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/pkg/models"
)

func TestComputeDataQuality(t *testing.T) {
	result := &models.ExecutionResult{
		Columns: []string{"region", "amount"},
		Rows: [][]any{
			{"EMEA", 100},
			{"APAC", nil},
			{"EMEA", 100},
			{nil, nil},
		},
	}

	dq := ComputeDataQuality(result)
	require.NotNil(t, dq)
	assert.Equal(t, 4, dq.TotalRowsProbed)
	assert.Equal(t, 1, dq.DuplicateRows)
	assert.Equal(t, 1, dq.NullCounts["region"])
	assert.Equal(t, 2, dq.NullCounts["amount"])
}

func TestComputeDataQuality_EmptyResult(t *testing.T) {
	assert.Nil(t, ComputeDataQuality(nil))
	assert.Nil(t, ComputeDataQuality(&models.ExecutionResult{Columns: []string{"n"}}))
}

func TestComputeDataQuality_CleanRowsOmitNullCounts(t *testing.T) {
	dq := ComputeDataQuality(&models.ExecutionResult{
		Columns: []string{"n"},
		Rows:    [][]any{{1}, {2}},
	})
	require.NotNil(t, dq)
	assert.Nil(t, dq.NullCounts)
	assert.Zero(t, dq.DuplicateRows)
}

func TestSuggestVisualization(t *testing.T) {
	twoCol := func(rows [][]any) *models.ExecutionResult {
		return &models.ExecutionResult{Columns: []string{"label", "value"}, Rows: rows}
	}

	// Temporal first column suggests a line chart.
	assert.Equal(t, models.VizLine, SuggestVisualization(twoCol([][]any{
		{"2024-01", 10}, {"2024-02", 12}, {"2024-03", 9},
	})))

	// Few categories suggest a pie.
	assert.Equal(t, models.VizPie, SuggestVisualization(twoCol([][]any{
		{"EMEA", 10}, {"APAC", 12},
	})))

	// Many categories suggest a bar.
	manyRows := make([][]any, 12)
	for i := range manyRows {
		manyRows[i] = []any{string(rune('a' + i)), i}
	}
	assert.Equal(t, models.VizBar, SuggestVisualization(twoCol(manyRows)))

	// Non-numeric second column falls back to a table.
	assert.Equal(t, models.VizTable, SuggestVisualization(twoCol([][]any{
		{"EMEA", "ten"},
	})))

	// Anything other than two columns falls back to a table.
	assert.Equal(t, models.VizTable, SuggestVisualization(&models.ExecutionResult{
		Columns: []string{"a", "b", "c"},
		Rows:    [][]any{{1, 2, 3}},
	}))
	assert.Equal(t, models.VizTable, SuggestVisualization(nil))
}
