package executor

import (
	"fmt"

	"github.com/querygate/querygate/pkg/models"
)

// qualityProbeLimit bounds how many rows the quality probe inspects.
const qualityProbeLimit = 500

// ComputeDataQuality derives per-column null counts and a duplicate-row
// count from the first rows of a result.
func ComputeDataQuality(result *models.ExecutionResult) *models.DataQuality {
	if result == nil || len(result.Rows) == 0 {
		return nil
	}
	probe := result.Rows
	if len(probe) > qualityProbeLimit {
		probe = probe[:qualityProbeLimit]
	}

	dq := &models.DataQuality{
		NullCounts:      map[string]int{},
		TotalRowsProbed: len(probe),
	}
	seen := map[string]bool{}
	for _, row := range probe {
		key := fmt.Sprint(row)
		if seen[key] {
			dq.DuplicateRows++
		}
		seen[key] = true
		for i, v := range row {
			if v == nil && i < len(result.Columns) {
				dq.NullCounts[result.Columns[i]]++
			}
		}
	}
	if len(dq.NullCounts) == 0 {
		dq.NullCounts = nil
	}
	return dq
}

// SuggestVisualization picks a client rendering hint from the result shape:
// two columns with one numeric suggest a bar or pie, a time-like first
// column suggests a line, everything else a table.
func SuggestVisualization(result *models.ExecutionResult) models.VisualizationHint {
	if result == nil || len(result.Columns) != 2 || len(result.Rows) == 0 {
		return models.VizTable
	}
	numericSecond := true
	for _, row := range result.Rows {
		switch row[1].(type) {
		case int, int32, int64, float32, float64:
		default:
			numericSecond = false
		}
		if !numericSecond {
			break
		}
	}
	if !numericSecond {
		return models.VizTable
	}
	if looksTemporal(result.Rows[0][0]) {
		return models.VizLine
	}
	if len(result.Rows) <= 8 {
		return models.VizPie
	}
	return models.VizBar
}

func looksTemporal(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	// Date-shaped strings: 2024-01-02, 2024/01, 2024Q1.
	if len(s) < 4 {
		return false
	}
	digits := 0
	for _, r := range s[:4] {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits == 4
}
