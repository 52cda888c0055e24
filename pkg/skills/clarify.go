package skills

import (
	"regexp"
	"strings"

	"github.com/querygate/querygate/pkg/models"
)

// Explicit user directives override every other resolution step. Supported
// forms:
//
//	use SALES_AMT as revenue
//	revenue = gross_amt - discounts
//	calculate margin as (revenue - cost)
var (
	useAsPattern     = regexp.MustCompile(`(?i)\buse\s+([A-Za-z_][A-Za-z0-9_.]*)\s+as\s+([A-Za-z_][A-Za-z0-9_]*)`)
	equalsPattern    = regexp.MustCompile(`(?i)\b([A-Za-z_][A-Za-z0-9_]*)\s*=\s*([A-Za-z_][A-Za-z0-9_.]*(?:\s*[-+]\s*[A-Za-z_][A-Za-z0-9_.]*)+)`)
	calculatePattern = regexp.MustCompile(`(?i)\bcalculate\s+([A-Za-z_][A-Za-z0-9_]*)\s+as\s+\(([^)]+)\)`)
)

// parseClarifications extracts explicit mapping directives from the user
// text. Arithmetic expressions become derived mappings with confidence 100;
// simple column references become physical mappings.
func parseClarifications(text string) []models.ColumnMapping {
	var mappings []models.ColumnMapping
	seen := map[string]bool{}

	add := func(m models.ColumnMapping) {
		key := strings.ToLower(m.Concept)
		if !seen[key] {
			seen[key] = true
			mappings = append(mappings, m)
		}
	}

	for _, m := range calculatePattern.FindAllStringSubmatch(text, -1) {
		add(models.ColumnMapping{
			Concept:    strings.ToLower(m[1]),
			Kind:       models.MappingDerived,
			Expression: "(" + strings.TrimSpace(m[2]) + ")",
			Confidence: 100,
			Note:       "user clarification: calculated expression",
		})
	}
	for _, m := range equalsPattern.FindAllStringSubmatch(text, -1) {
		add(models.ColumnMapping{
			Concept:    strings.ToLower(m[1]),
			Kind:       models.MappingDerived,
			Expression: strings.Join(strings.Fields(m[2]), " "),
			Confidence: 100,
			Note:       "user clarification: arithmetic mapping",
		})
	}
	for _, m := range useAsPattern.FindAllStringSubmatch(text, -1) {
		add(models.ColumnMapping{
			Concept:    strings.ToLower(m[2]),
			Kind:       models.MappingPhysical,
			Expression: m[1],
			Confidence: 100,
			Note:       "user clarification: direct mapping",
		})
	}
	return mappings
}
