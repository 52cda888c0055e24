package sqlsafe

import (
	"regexp"
	"strings"

	"github.com/querygate/querygate/pkg/models"
)

// injectionRule is one pattern class of the multi-layer scanner.
type injectionRule struct {
	kind       string
	severity   models.FindingSeverity
	weight     int
	confidence int
	mitigation string
	pattern    *regexp.Regexp
}

var injectionRules = []injectionRule{
	{
		kind: "stacked_queries", severity: models.SeverityCritical, weight: 40, confidence: 95,
		mitigation: "submit a single statement",
		pattern:    regexp.MustCompile(`(?i);\s*(drop|delete|truncate|alter|insert|update|create|grant|revoke|exec)`),
	},
	{
		kind: "union_based", severity: models.SeverityHigh, weight: 30, confidence: 85,
		mitigation: "remove UNION SELECT probing",
		pattern:    regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b.*\b(null\s*,|from\s+(all_tables|information_schema|pg_catalog|mysql\.))`),
	},
	{
		kind: "error_based", severity: models.SeverityHigh, weight: 25, confidence: 80,
		mitigation: "remove error-probing expressions",
		pattern:    regexp.MustCompile(`(?i)\b(extractvalue|updatexml|exp\s*\(\s*~|floor\s*\(\s*rand)`),
	},
	{
		kind: "boolean_blind", severity: models.SeverityMedium, weight: 15, confidence: 60,
		mitigation: "remove tautological predicates",
		pattern:    regexp.MustCompile(`(?i)\b(or|and)\s+('?\d+'?\s*=\s*'?\d+'?|'[^']*'\s*=\s*'[^']*')\s*(--|#|$|\))`),
	},
	{
		kind: "time_blind", severity: models.SeverityHigh, weight: 30, confidence: 85,
		mitigation: "remove sleep/delay calls",
		pattern:    regexp.MustCompile(`(?i)\b(pg_sleep|sleep\s*\(|benchmark\s*\(|waitfor\s+delay|dbms_lock\.sleep|dbms_pipe\.receive_message)`),
	},
	{
		kind: "out_of_band", severity: models.SeverityCritical, weight: 40, confidence: 90,
		mitigation: "remove file/network access functions",
		pattern:    regexp.MustCompile(`(?i)\b(load_file|into\s+(out|dump)file|pg_read_file|pg_ls_dir|xp_cmdshell|utl_http|utl_file|utl_tcp|dbms_java)`),
	},
	{
		kind: "comment_injection", severity: models.SeverityMedium, weight: 10, confidence: 50,
		mitigation: "remove inline comment obfuscation",
		pattern:    regexp.MustCompile(`(?i)/\*![0-9]*|\bunion\s*/\*.*?\*/\s*select`),
	},
	{
		kind: "string_escape", severity: models.SeverityMedium, weight: 15, confidence: 55,
		mitigation: "remove escaped-quote probing",
		pattern:    regexp.MustCompile(`(?i)(\\'|''\s*or\s|char\s*\(\s*\d+\s*(,\s*\d+\s*)+\)|0x27|chr\s*\(\s*39\s*\))`),
	},
	{
		kind: "dangerous_function", severity: models.SeverityCritical, weight: 40, confidence: 90,
		mitigation: "remove administrative function calls",
		pattern:    regexp.MustCompile(`(?i)\b(pg_terminate_backend|pg_cancel_backend|dbms_scheduler|dbms_sql\.execute|sys\.dbms|exec\s+sp_|shutdown\b)`),
	},
	{
		kind: "hex_blob", severity: models.SeverityMedium, weight: 15, confidence: 60,
		mitigation: "remove large hexadecimal payloads",
		pattern:    regexp.MustCompile(`(?i)0x[0-9a-f]{32,}`),
	},
}

// Scanner risk thresholds.
const (
	// riskScoreEscalation is the weighted score at or above which the
	// verdict escalates to the approval gate.
	riskScoreEscalation = 30
	riskScoreCap        = 100

	maxORClauses = 5
	maxComments  = 2
	maxNesting   = 4
)

// ScanResult is the injection detector's output. The detector is a pure
// function of its input.
type ScanResult struct {
	Findings  []models.InjectionFinding
	RiskScore int
	Blocked   bool
}

// ScanInjection runs every pattern class over the SQL (or raw user text)
// and computes a weighted risk score capped at 100. Critical or high
// findings block outright.
func ScanInjection(sql string) ScanResult {
	res := ScanResult{}
	for _, rule := range injectionRules {
		if m := rule.pattern.FindString(sql); m != "" {
			res.Findings = append(res.Findings, models.InjectionFinding{
				Kind:       rule.kind,
				Severity:   rule.severity,
				Pattern:    truncatePattern(m),
				Confidence: rule.confidence,
				Mitigation: rule.mitigation,
			})
			res.RiskScore += rule.weight
			if rule.severity == models.SeverityCritical || rule.severity == models.SeverityHigh {
				res.Blocked = true
			}
		}
	}

	// Structural heuristics: excess OR clauses, comment density, nesting
	// depth, and high-entropy segments.
	stripped := StripLiteralsAndComments(sql)
	if n := len(regexp.MustCompile(`(?i)\bor\b`).FindAllString(stripped, -1)); n > maxORClauses {
		res.Findings = append(res.Findings, models.InjectionFinding{
			Kind: "excessive_or", Severity: models.SeverityMedium, Confidence: 60,
			Pattern:    "more than 5 OR clauses",
			Mitigation: "simplify the filter conditions",
		})
		res.RiskScore += 15
	}
	comments := len(lineComment.FindAllString(sql, -1)) + len(blockComment.FindAllString(sql, -1))
	if comments > maxComments {
		res.Findings = append(res.Findings, models.InjectionFinding{
			Kind: "excessive_comments", Severity: models.SeverityLow, Confidence: 50,
			Pattern:    "more than 2 comments",
			Mitigation: "remove comments from the statement",
		})
		res.RiskScore += 10
	}
	if depth := maxParenDepth(stripped); depth > maxNesting {
		res.Findings = append(res.Findings, models.InjectionFinding{
			Kind: "deep_nesting", Severity: models.SeverityMedium, Confidence: 55,
			Pattern:    "subquery nesting deeper than 4",
			Mitigation: "flatten nested subqueries",
		})
		res.RiskScore += 15
	}
	if seg := highEntropySegment(stripped); seg != "" {
		res.Findings = append(res.Findings, models.InjectionFinding{
			Kind: "obfuscated_segment", Severity: models.SeverityMedium, Confidence: 50,
			Pattern:    truncatePattern(seg),
			Mitigation: "remove encoded or obfuscated content",
		})
		res.RiskScore += 15
	}

	if res.RiskScore > riskScoreCap {
		res.RiskScore = riskScoreCap
	}
	return res
}

func truncatePattern(m string) string {
	m = strings.TrimSpace(m)
	if len(m) > 80 {
		return m[:80] + "..."
	}
	return m
}

func maxParenDepth(s string) int {
	depth, deepest := 0, 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
			if depth > deepest {
				deepest = depth
			}
		case ')':
			if depth > 0 {
				depth--
			}
		}
	}
	return deepest
}

// highEntropySegment flags long unbroken alphanumeric runs that look like
// encoded payloads rather than identifiers.
func highEntropySegment(s string) string {
	for _, tok := range regexp.MustCompile(`[A-Za-z0-9+/=]{48,}`).FindAllString(s, -1) {
		distinct := map[rune]bool{}
		digits := 0
		for _, r := range tok {
			distinct[r] = true
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		// Identifiers repeat characters and rarely mix heavy digit runs.
		if len(distinct) > 20 && digits > len(tok)/4 {
			return tok
		}
	}
	return ""
}
