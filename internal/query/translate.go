package query

import (
	"fmt"
	"strings"

	"github.com/faucetdb/schemad/internal/dberr"
)

// ParsedFilter holds a parameterized SQL WHERE fragment and its bind values.
type ParsedFilter struct {
	SQL    string // e.g. `("age" > $1) AND ("status" = $2)`
	Params []any
}

// ToSQL translates a query document into a parameterized WHERE fragment for
// the given dialect. startIndex is the 1-based index of the first
// placeholder, for appending to a statement that already binds values.
//
// Supported: implicit equality, $eq, $ne, $gt, $gte, $lt, $lte, $in, $nin,
// $exists, $regex (with $options "i"), $and and $or. Any other $-key is
// rejected with InvalidArgument, as are dotted field paths.
//
// Returns nil, nil for an empty document.
func ToSQL(doc Document, d Dialect, startIndex int) (*ParsedFilter, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	if d.Placeholder == nil {
		d.Placeholder = DollarPlaceholder
	}
	if d.Quote == nil {
		d.Quote = PostgresQuote
	}
	if startIndex < 1 {
		startIndex = 1
	}

	t := &translator{d: d, nextIndex: startIndex}
	sql, err := t.document(doc)
	if err != nil {
		return nil, err
	}
	return &ParsedFilter{SQL: sql, Params: t.params}, nil
}

type translator struct {
	d         Dialect
	nextIndex int
	params    []any
}

func (t *translator) addParam(val any) (string, error) {
	if s, ok := val.(string); ok {
		clean, err := SanitizeStringValue(s, 0)
		if err != nil {
			return "", dberr.InvalidArgument("%v", err)
		}
		val = clean
	}
	ph := t.d.Placeholder(t.nextIndex)
	t.params = append(t.params, val)
	t.nextIndex++
	return ph, nil
}

func (t *translator) document(doc Document) (string, error) {
	parts := make([]string, 0, len(doc))
	for _, key := range doc.Keys() {
		val := doc[key]
		var (
			sql string
			err error
		)
		switch {
		case key == "$and":
			sql, err = t.group(val, " AND ")
		case key == "$or":
			sql, err = t.group(val, " OR ")
		case IsOperator(key):
			err = dberr.InvalidArgument("unsupported query operator %q", key)
		default:
			sql, err = t.field(key, val)
		}
		if err != nil {
			return "", err
		}
		if sql != "" {
			parts = append(parts, sql)
		}
	}
	return join(parts, " AND "), nil
}

func (t *translator) group(val any, sep string) (string, error) {
	list, ok := asList(val)
	if !ok {
		if doc, isDoc := asDocument(val); isDoc {
			list = []any{doc}
		} else {
			return "", dberr.InvalidArgument("$and/$or expects an array of query objects")
		}
	}
	parts := make([]string, 0, len(list))
	for _, el := range list {
		doc, ok := asDocument(el)
		if !ok {
			return "", dberr.InvalidArgument("$and/$or elements must be query objects")
		}
		sql, err := t.document(doc)
		if err != nil {
			return "", err
		}
		if sql != "" {
			parts = append(parts, sql)
		}
	}
	return join(parts, sep), nil
}

func (t *translator) column(name string) (string, error) {
	if strings.Contains(name, ".") {
		return "", dberr.InvalidArgument("nested field path %q is not supported on the relational backend", name)
	}
	if err := ValidateIdentifier(name); err != nil {
		return "", dberr.InvalidArgument("%v", err)
	}
	return t.d.Quote(name), nil
}

func (t *translator) field(name string, val any) (string, error) {
	col, err := t.column(name)
	if err != nil {
		return "", err
	}
	if ops, ok := asDocument(val); ok && isOperatorDoc(ops) {
		return t.operators(col, ops)
	}
	return t.compare(col, "=", val)
}

func isOperatorDoc(doc Document) bool {
	if len(doc) == 0 {
		return false
	}
	for k := range doc {
		if !IsOperator(k) {
			return false
		}
	}
	return true
}

func (t *translator) compare(col, op string, val any) (string, error) {
	if !isScalar(val) {
		return "", dberr.InvalidArgument("cannot compare %s against a %T value", col, val)
	}
	if val == nil {
		switch op {
		case "=":
			return col + " IS NULL", nil
		case "<>":
			return col + " IS NOT NULL", nil
		default:
			return "", dberr.InvalidArgument("cannot order-compare %s against null", col)
		}
	}
	ph, err := t.addParam(val)
	if err != nil {
		return "", err
	}
	if op == "<>" {
		// Document semantics: a missing value is "not equal".
		return fmt.Sprintf("(%s <> %s OR %s IS NULL)", col, ph, col), nil
	}
	return col + " " + op + " " + ph, nil
}

var comparisonOps = map[string]string{
	"$eq":  "=",
	"$ne":  "<>",
	"$gt":  ">",
	"$gte": ">=",
	"$lt":  "<",
	"$lte": "<=",
}

func (t *translator) operators(col string, ops Document) (string, error) {
	parts := make([]string, 0, len(ops))
	for _, op := range ops.Keys() {
		val := ops[op]
		var (
			sql string
			err error
		)
		if sqlOp, ok := comparisonOps[op]; ok {
			sql, err = t.compare(col, sqlOp, val)
		} else {
			switch op {
			case "$in":
				sql, err = t.in(col, val, false)
			case "$nin":
				sql, err = t.in(col, val, true)
			case "$exists":
				sql, err = exists(col, val)
			case "$regex":
				sql, err = t.regex(col, val, ops["$options"])
			case "$options":
				if _, ok := ops["$regex"]; !ok {
					err = dberr.InvalidArgument("$options requires $regex")
				}
			default:
				err = dberr.InvalidArgument("unsupported query operator %q", op)
			}
		}
		if err != nil {
			return "", err
		}
		if sql != "" {
			parts = append(parts, sql)
		}
	}
	return join(parts, " AND "), nil
}

func (t *translator) in(col string, val any, negate bool) (string, error) {
	list, ok := asList(val)
	if !ok {
		return "", dberr.InvalidArgument("$in/$nin on %s expects an array", col)
	}
	if len(list) == 0 {
		if negate {
			return "1=1", nil
		}
		return "1=0", nil
	}
	var (
		phs     []string
		hasNull bool
	)
	for _, el := range list {
		if el == nil {
			hasNull = true
			continue
		}
		if !isScalar(el) {
			return "", dberr.InvalidArgument("$in/$nin on %s accepts only scalar values", col)
		}
		ph, err := t.addParam(el)
		if err != nil {
			return "", err
		}
		phs = append(phs, ph)
	}

	if negate {
		switch {
		case len(phs) == 0:
			return col + " IS NOT NULL", nil
		case hasNull:
			return fmt.Sprintf("%s NOT IN (%s)", col, strings.Join(phs, ", ")), nil
		default:
			return fmt.Sprintf("(%s NOT IN (%s) OR %s IS NULL)", col, strings.Join(phs, ", "), col), nil
		}
	}
	switch {
	case len(phs) == 0:
		return col + " IS NULL", nil
	case hasNull:
		return fmt.Sprintf("(%s IN (%s) OR %s IS NULL)", col, strings.Join(phs, ", "), col), nil
	default:
		return fmt.Sprintf("%s IN (%s)", col, strings.Join(phs, ", ")), nil
	}
}

func exists(col string, val any) (string, error) {
	want, ok := truthy(val)
	if !ok {
		return "", dberr.InvalidArgument("$exists on %s expects a boolean", col)
	}
	if want {
		return col + " IS NOT NULL", nil
	}
	return col + " IS NULL", nil
}

func (t *translator) regex(col string, val, options any) (string, error) {
	pattern, ok := val.(string)
	if !ok {
		return "", dberr.InvalidArgument("$regex on %s expects a string pattern", col)
	}
	insensitive := false
	if options != nil {
		opts, ok := options.(string)
		if !ok {
			return "", dberr.InvalidArgument("$options on %s expects a string", col)
		}
		for _, r := range opts {
			if r != 'i' {
				return "", dberr.InvalidArgument("unsupported $options flag %q", string(r))
			}
			insensitive = true
		}
	}
	if t.d.InlineRegexFlags && insensitive {
		pattern = "(?i)" + pattern
	}
	ph, err := t.addParam(pattern)
	if err != nil {
		return "", err
	}
	return t.d.Regex(col, ph, insensitive), nil
}

func truthy(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case int64:
		return b != 0, true
	case int:
		return b != 0, true
	case float64:
		return b != 0, true
	}
	return false, false
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, Document, []any:
		return false
	}
	return true
}

// join combines parts with sep, wrapping each in parentheses when there is
// more than one.
func join(parts []string, sep string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	wrapped := make([]string, len(parts))
	for i, p := range parts {
		wrapped[i] = "(" + p + ")"
	}
	return strings.Join(wrapped, sep)
}
