package query

import "fmt"

// PlaceholderFunc returns the SQL placeholder for a given 1-based parameter index.
type PlaceholderFunc func(index int) string

// DollarPlaceholder returns $1, $2, etc. (PostgreSQL).
func DollarPlaceholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// QuestionPlaceholder returns ? for all params (MySQL, SQLite).
func QuestionPlaceholder(_ int) string {
	return "?"
}

// AtPPlaceholder returns @p1, @p2, etc. (SQL Server).
func AtPPlaceholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

// Dialect describes how a relational backend spells the pieces of a filter.
type Dialect struct {
	Name        string
	Quote       func(string) string
	Placeholder PlaceholderFunc

	// Regex renders a pattern match of col against the placeholder ph.
	Regex func(col, ph string, insensitive bool) string
	// InlineRegexFlags means case-insensitivity is expressed inside the
	// pattern itself as a (?i) prefix rather than by Regex.
	InlineRegexFlags bool
}

// Postgres is the PostgreSQL dialect.
var Postgres = Dialect{
	Name:        "postgres",
	Quote:       PostgresQuote,
	Placeholder: DollarPlaceholder,
	Regex: func(col, ph string, insensitive bool) string {
		if insensitive {
			return col + " ~* " + ph
		}
		return col + " ~ " + ph
	},
}

// MySQL is the MySQL dialect.
var MySQL = Dialect{
	Name:        "mysql",
	Quote:       MySQLQuote,
	Placeholder: QuestionPlaceholder,
	Regex: func(col, ph string, insensitive bool) string {
		flag := "'c'"
		if insensitive {
			flag = "'i'"
		}
		return "REGEXP_LIKE(" + col + ", " + ph + ", " + flag + ")"
	},
}

// SQLite is the SQLite dialect. REGEXP is backed by a Go function the
// sqlite connector registers, so flags travel inside the pattern.
var SQLite = Dialect{
	Name:        "sqlite",
	Quote:       PostgresQuote,
	Placeholder: QuestionPlaceholder,
	Regex: func(col, ph string, _ bool) string {
		return col + " REGEXP " + ph
	},
	InlineRegexFlags: true,
}

// SQLServer is the Microsoft SQL Server dialect.
var SQLServer = Dialect{
	Name:        "mssql",
	Quote:       SQLServerQuote,
	Placeholder: AtPPlaceholder,
	Regex: func(col, ph string, insensitive bool) string {
		flag := "'c'"
		if insensitive {
			flag = "'i'"
		}
		return "REGEXP_LIKE(" + col + ", " + ph + ", " + flag + ")"
	},
}
