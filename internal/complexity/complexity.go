// Package complexity estimates extra answer-generation latency from the SQL a
// bot produced. It is a heuristic, not a cost model.
package complexity

import (
	"regexp"
	"strings"
)

const (
	LabelNone        = "No SQL"
	LabelSimple      = "Simple SQL"
	LabelComplex     = "Complex SQL"
	LabelVeryComplex = "Very Complex SQL"
)

// Latency estimates in seconds per tier.
const (
	LatencyNone        = 0.5
	LatencySimple      = 3.0
	LatencyComplex     = 5.0
	LatencyVeryComplex = 8.0
)

// minSQLLength is the shortest string treated as SQL.
const minSQLLength = 10

var (
	cteRe      = regexp.MustCompile(`(?i)\bWITH\s+(RECURSIVE\s+)?\w+(\s*\([^)]*\))?\s+AS\s*\(`)
	windowRe   = regexp.MustCompile(`(?i)\bOVER\s*\(`)
	subqueryRe = regexp.MustCompile(`(?i)\(\s*SELECT\b`)
	joinRe     = regexp.MustCompile(`(?i)\bJOIN\b`)
	setOpRe    = regexp.MustCompile(`(?i)\b(UNION|INTERSECT|EXCEPT)\b`)
	caseEndRe  = regexp.MustCompile(`(?i)\b(CASE|END)\b`)

	groupByRe   = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
	havingRe    = regexp.MustCompile(`(?i)\bHAVING\b`)
	orderByRe   = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
	distinctRe  = regexp.MustCompile(`(?i)\bDISTINCT\b`)
	aggregateRe = regexp.MustCompile(`(?i)\b(COUNT|SUM|AVG|MIN|MAX)\s*\(`)

	whereRe      = regexp.MustCompile(`(?i)\bWHERE\b`)
	limitRe      = regexp.MustCompile(`(?i)\bLIMIT\b`)
	selectFromRe = regexp.MustCompile(`(?is)\bSELECT\b.*\bFROM\b`)
)

// Classify returns the latency estimate in seconds and the tier label for sql.
// Tiers are tested most complex first and the first match wins.
func Classify(sql string) (float64, string) {
	sql = strings.TrimSpace(sql)
	if len(sql) < minSQLLength {
		return LatencyNone, LabelNone
	}

	switch {
	case isVeryComplex(sql):
		return LatencyVeryComplex, LabelVeryComplex
	case isComplex(sql):
		return LatencyComplex, LabelComplex
	case isSimple(sql):
		return LatencySimple, LabelSimple
	default:
		// long enough to be SQL-like
		return LatencySimple, LabelSimple
	}
}

func isSimple(sql string) bool {
	return whereRe.MatchString(sql) || orderByRe.MatchString(sql) ||
		limitRe.MatchString(sql) || selectFromRe.MatchString(sql)
}

func isVeryComplex(sql string) bool {
	return cteRe.MatchString(sql) ||
		windowRe.MatchString(sql) ||
		subqueryRe.MatchString(sql) ||
		len(joinRe.FindAllStringIndex(sql, -1)) >= 3 ||
		hasNestedCase(sql) ||
		setOpRe.MatchString(sql)
}

func isComplex(sql string) bool {
	return joinRe.MatchString(sql) ||
		groupByRe.MatchString(sql) ||
		havingRe.MatchString(sql) ||
		len(orderByRe.FindAllStringIndex(sql, -1)) >= 2 ||
		distinctRe.MatchString(sql) ||
		aggregateRe.MatchString(sql)
}

// hasNestedCase reports a CASE opened before an enclosing CASE is closed.
func hasNestedCase(sql string) bool {
	depth := 0
	for _, kw := range caseEndRe.FindAllString(sql, -1) {
		if strings.EqualFold(kw, "CASE") {
			depth++
			if depth >= 2 {
				return true
			}
		} else if depth > 0 {
			depth--
		}
	}
	return false
}
