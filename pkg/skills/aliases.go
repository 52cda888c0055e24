package skills

import "strings"

// semanticAliases maps business vocabulary onto common physical column
// spellings. Matching is case-insensitive and symmetric: a concept matches a
// column when either side aliases the other.
var semanticAliases = map[string][]string{
	"date":     {"DT", "TS", "TIMESTAMP", "DATETIME", "CREATED_AT", "ORDER_DATE", "TRANS_DATE"},
	"time":     {"TS", "TIMESTAMP", "TM", "DATETIME"},
	"day":      {"DD", "DAY_OF_MONTH", "DOM"},
	"month":    {"MON", "MM", "MTH", "MONTH_NO"},
	"quarter":  {"QTR", "Q", "QUARTER_NO"},
	"year":     {"YR", "YYYY", "YEAR_NO"},
	"amount":   {"AMT", "VALUE", "VAL", "TOTAL_AMT"},
	"revenue":  {"REV", "SALES", "SALES_AMOUNT", "TURNOVER", "INCOME"},
	"sales":    {"SALES_AMOUNT", "SALE_AMT", "REVENUE", "TURNOVER"},
	"quantity": {"QTY", "CNT", "NUM", "COUNT"},
	"price":    {"PRC", "UNIT_PRICE", "COST"},
	"customer": {"CUST", "CLIENT", "CUSTOMER_ID", "CUST_ID", "ACCOUNT"},
	"product":  {"PROD", "ITEM", "SKU", "PRODUCT_ID"},
	"region":   {"REG", "AREA", "TERRITORY", "ZONE", "PROVINCE"},
	"status":   {"STS", "STATE", "STAT"},
	"user":     {"USR", "ACCOUNT", "MEMBER", "USER_ID"},
	"order":    {"ORD", "ORDER_ID", "ORDER_NO", "PO"},
	"name":     {"NM", "TITLE", "LABEL", "DESC"},
	"id":       {"KEY", "CODE", "NO", "NUM"},
	"profit":   {"MARGIN", "NET_INCOME", "EARNINGS"},
	"discount": {"DISC", "REBATE", "MARKDOWN"},
}

// aliasMatch reports whether the concept and column relate through the alias
// table.
func aliasMatch(concept, column string) bool {
	lc := strings.ToLower(concept)
	uc := strings.ToUpper(column)
	for _, alias := range semanticAliases[lc] {
		if uc == alias || strings.Contains(uc, alias) {
			return true
		}
	}
	// Reverse direction: a column named like the concept's key.
	for key, aliases := range semanticAliases {
		if strings.Contains(uc, strings.ToUpper(key)) && lc == key {
			return true
		}
		for _, alias := range aliases {
			if uc == alias && strings.Contains(lc, key) {
				return true
			}
		}
	}
	return false
}

// similarityThreshold is the minimum character similarity ratio for a fuzzy
// match.
const similarityThreshold = 0.78

// similarityRatio computes 1 - levenshtein/maxlen over lower-cased inputs.
func similarityRatio(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1.0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}

// levenshtein computes edit distance with a two-row matrix.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
