package query

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/faucetdb/schemad/internal/dberr"
)

// Document is a backend-neutral query or update tree.
type Document map[string]any

// Keys returns the document keys in sorted order.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of d.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// IsOperator reports whether key is a $-prefixed operator or directive.
func IsOperator(key string) bool {
	return strings.HasPrefix(key, "$")
}

// Normalize converts a caller-supplied query into a Document. Strings and
// byte slices are parsed as JSON first. A top-level array is read as a
// conjunction of its elements. nil and the empty string yield an empty
// Document.
func Normalize(v any) (Document, error) {
	switch q := v.(type) {
	case nil:
		return Document{}, nil
	case Document:
		return q, nil
	case map[string]any:
		return Document(q), nil
	case []any:
		return Document{"$and": q}, nil
	case string:
		return normalizeJSON([]byte(q))
	case []byte:
		return normalizeJSON(q)
	case json.RawMessage:
		return normalizeJSON(q)
	default:
		raw, err := json.Marshal(q)
		if err != nil {
			return nil, dberr.Wrap(dberr.KindInvalidArgument, err, "query is not serializable")
		}
		return normalizeJSON(raw)
	}
}

func normalizeJSON(raw []byte) (Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Document{}, nil
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, dberr.Wrap(dberr.KindInvalidArgument, err, "query is not valid JSON")
	}
	switch q := v.(type) {
	case map[string]any:
		return Document(normalizeNumbers(q).(map[string]any)), nil
	case []any:
		return Document{"$and": normalizeNumbers(q)}, nil
	default:
		return nil, dberr.InvalidArgument("query must be a JSON object")
	}
}

// normalizeNumbers turns json.Number leaves into int64 where exact and
// float64 otherwise, so integer ids and counters survive the round trip.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}

// asDocument accepts a nested query element.
func asDocument(v any) (Document, bool) {
	switch t := v.(type) {
	case Document:
		return t, true
	case map[string]any:
		return Document(t), true
	}
	return nil, false
}

// asList accepts a nested array element.
func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []Document:
		out := make([]any, len(t))
		for i, d := range t {
			out[i] = d
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(t))
		for i, d := range t {
			out[i] = d
		}
		return out, true
	}
	return nil, false
}
