package skills

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/querygate/querygate/pkg/models"
)

var (
	groupCuePattern = regexp.MustCompile(`(?i)\b(?:by|per|for each)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	topNPattern     = regexp.MustCompile(`(?i)\btop\s+(\d+)`)
	limitPattern    = regexp.MustCompile(`(?i)\b(?:limit|first|last)\s+(\d+)\b`)
	highestPattern  = regexp.MustCompile(`(?i)\b(highest|largest|most|biggest)\b`)
	lowestPattern   = regexp.MustCompile(`(?i)\b(lowest|smallest|least|fewest)\b`)

	aggregationVerbs = map[string]string{
		"total":   "SUM",
		"sum":     "SUM",
		"average": "AVG",
		"avg":     "AVG",
		"mean":    "AVG",
		"count":   "COUNT",
		"max":     "MAX",
		"maximum": "MAX",
		"min":     "MIN",
		"minimum": "MIN",
	}
)

// inferImplicitOps scans the input for grouping, sorting, and limit cues.
// Runs independently of concept mapping.
func inferImplicitOps(text string) models.ImplicitOps {
	ops := models.ImplicitOps{}
	lower := strings.ToLower(text)

	for _, m := range groupCuePattern.FindAllStringSubmatch(text, -1) {
		candidate := strings.ToLower(m[1])
		// "by 2024" style time filters are not grouping columns.
		if _, err := strconv.Atoi(candidate); err == nil {
			continue
		}
		if !containsFold(ops.GroupByHints, candidate) {
			ops.GroupByHints = append(ops.GroupByHints, candidate)
		}
	}

	if m := topNPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			ops.LimitHint = n
			ops.OrderByHints = append(ops.OrderByHints, "DESC")
		}
	} else if m := limitPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			ops.LimitHint = n
		}
	}

	if highestPattern.MatchString(lower) && !containsFold(ops.OrderByHints, "DESC") {
		ops.OrderByHints = append(ops.OrderByHints, "DESC")
	}
	if lowestPattern.MatchString(lower) {
		ops.OrderByHints = append(ops.OrderByHints, "ASC")
	}

	for verb, fn := range aggregationVerbs {
		if regexp.MustCompile(`(?i)\b` + verb + `\b`).MatchString(lower) {
			if !containsFold(ops.AggregationHints, fn) {
				ops.AggregationHints = append(ops.AggregationHints, fn)
			}
		}
	}
	return ops
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
