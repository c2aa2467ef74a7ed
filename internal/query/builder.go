package query

import (
	"fmt"
	"strings"
)

// OrderClause represents a single column ordering directive.
type OrderClause struct {
	Column    string // Validated column name.
	Direction string // "ASC" or "DESC".
}

// String returns the SQL fragment for this order clause, e.g. "created_at DESC".
func (o OrderClause) String() string {
	return o.Column + " " + o.Direction
}

// ParseSort parses a sort specification into validated OrderClause slices.
// It accepts a document such as {"createdAt": -1, "name": "asc"}, or a
// string like "-createdAt name" where a leading '-' means descending. The
// string form also tolerates "created_at DESC, name ASC".
func ParseSort(sort any) ([]OrderClause, error) {
	switch s := sort.(type) {
	case nil:
		return nil, nil
	case string:
		return parseSortString(s)
	case map[string]any:
		return parseSortDocument(Document(s))
	case Document:
		return parseSortDocument(s)
	default:
		return nil, fmt.Errorf("unsupported sort specification of type %T", sort)
	}
}

func parseSortString(order string) ([]OrderClause, error) {
	order = strings.TrimSpace(order)
	if order == "" {
		return nil, nil
	}

	tokens := strings.FieldsFunc(order, func(r rune) bool { return r == ' ' || r == ',' })
	clauses := make([]OrderClause, 0, len(tokens))

	for _, tok := range tokens {
		switch d := strings.ToUpper(tok); d {
		case "ASC", "DESC":
			if len(clauses) == 0 {
				return nil, fmt.Errorf("invalid order clause %q: direction without column", order)
			}
			clauses[len(clauses)-1].Direction = d
			continue
		}

		col, dir := tok, "ASC"
		switch tok[0] {
		case '-':
			col, dir = tok[1:], "DESC"
		case '+':
			col = tok[1:]
		}
		if err := ValidateIdentifier(col); err != nil {
			return nil, fmt.Errorf("invalid order column: %w", err)
		}
		clauses = append(clauses, OrderClause{Column: col, Direction: dir})
	}

	if len(clauses) == 0 {
		return nil, nil
	}
	return clauses, nil
}

func parseSortDocument(doc Document) ([]OrderClause, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	clauses := make([]OrderClause, 0, len(doc))
	for _, col := range doc.Keys() {
		if err := ValidateIdentifier(col); err != nil {
			return nil, fmt.Errorf("invalid order column: %w", err)
		}
		dir, err := sortDirection(doc[col])
		if err != nil {
			return nil, fmt.Errorf("invalid order direction for %q: %w", col, err)
		}
		clauses = append(clauses, OrderClause{Column: col, Direction: dir})
	}
	return clauses, nil
}

func sortDirection(v any) (string, error) {
	if n, ok := toFloat(v); ok {
		if n < 0 {
			return "DESC", nil
		}
		return "ASC", nil
	}
	if s, ok := v.(string); ok {
		switch strings.ToUpper(s) {
		case "ASC", "ASCENDING", "1":
			return "ASC", nil
		case "DESC", "DESCENDING", "-1":
			return "DESC", nil
		}
	}
	return "", fmt.Errorf("must be 1, -1, asc or desc, got %v", v)
}

// BuildOrderSQL builds an ORDER BY SQL fragment from order clauses, applying
// the given quote function to column names.
func BuildOrderSQL(clauses []OrderClause, quoteFn func(string) string) string {
	if len(clauses) == 0 {
		return ""
	}
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = quoteFn(c.Column) + " " + c.Direction
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}

// QuoteIdentifiers validates, quotes, and joins column names into a
// comma-separated SQL fragment. For example, with PostgreSQL quoting:
// ["id", "name", "email"] -> `"id", "name", "email"`
func QuoteIdentifiers(names []string, quoteFn func(string) string) (string, error) {
	if len(names) == 0 {
		return "*", nil
	}

	quoted := make([]string, len(names))
	for i, name := range names {
		if err := ValidateIdentifier(name); err != nil {
			return "", err
		}
		quoted[i] = quoteFn(name)
	}
	return strings.Join(quoted, ", "), nil
}

// PostgresQuote returns a PostgreSQL-style double-quoted identifier.
func PostgresQuote(name string) string {
	// Escape any embedded double quotes by doubling them.
	escaped := strings.ReplaceAll(name, `"`, `""`)
	return `"` + escaped + `"`
}

// MySQLQuote returns a MySQL-style backtick-quoted identifier.
func MySQLQuote(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// SQLServerQuote returns a SQL Server-style bracket-quoted identifier.
func SQLServerQuote(name string) string {
	escaped := strings.ReplaceAll(name, "]", "]]")
	return "[" + escaped + "]"
}

// BuildLimitOffset returns a LIMIT/OFFSET SQL fragment suitable for
// PostgreSQL and MySQL. Returns empty string if limit is 0.
func BuildLimitOffset(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	s := fmt.Sprintf("LIMIT %d", limit)
	if offset > 0 {
		s += fmt.Sprintf(" OFFSET %d", offset)
	}
	return s
}
