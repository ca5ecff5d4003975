package sqlstmt

import "strings"

// EscapeLiteral doubles single quotes so s can be spliced inside a quoted literal.
func EscapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// QuoteLiteral returns s as an escaped, single-quoted SQL literal.
func QuoteLiteral(s string) string {
	return "'" + EscapeLiteral(s) + "'"
}

// NormalizeAddress trims and lower-cases an address for case-insensitive matching.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// InClause renders "AND column IN ('a','b')" from values. Empty values (after
// trimming) are skipped; when nothing remains the clause is omitted entirely.
// normalize may be nil.
func InClause(column string, values []string, normalize func(string) string) string {
	literals := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if normalize != nil {
			value = normalize(value)
		}
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		literals = append(literals, QuoteLiteral(value))
	}
	if len(literals) == 0 {
		return ""
	}
	return "AND " + column + " IN (" + strings.Join(literals, ", ") + ")"
}
