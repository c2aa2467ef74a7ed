package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

// PrepareCreate turns a caller document into the record to insert: every
// declared field is type-checked and converted, defaults are filled in,
// required fields are enforced and timestamps are stamped. Undeclared
// fields are dropped. A caller-supplied _id is kept.
func PrepareCreate(schema model.Schema, doc query.Document, now time.Time) (query.Document, error) {
	out := query.Document{}
	for key := range doc {
		if query.IsOperator(key) {
			return nil, dberr.InvalidArgument("operator %s is not allowed in a create document", key)
		}
	}
	if id, ok := doc[model.IDField]; ok && id != nil {
		out[model.IDField] = idString(id)
	}

	for _, f := range schema.Fields {
		if f.Name == model.IDField {
			continue
		}
		v, ok := doc[f.Name]
		if !ok && f.Default != nil {
			v, ok = f.Default, true
		}
		if ok {
			c, err := Coerce(f, v)
			if err != nil {
				return nil, err
			}
			out[f.Name] = c
		}
		if f.Required && out[f.Name] == nil {
			return nil, dberr.InvalidArgument("%s is required", f.Name)
		}
	}

	if schema.Options.Timestamps {
		out[model.CreatedAtField] = now
		out[model.UpdatedAtField] = now
	}
	return out, nil
}

// PrepareUpdate converts the plain field assignments of an update. With
// replace set every declared field missing from fields is cleared, except
// those in keep. The record id and creation time are never rewritten.
func PrepareUpdate(schema model.Schema, fields query.Document, replace bool, keep map[string]bool, now time.Time) (query.Document, error) {
	out := query.Document{}
	for _, f := range schema.Fields {
		if f.Name == model.IDField || f.Name == model.CreatedAtField || keep[f.Name] {
			continue
		}
		v, ok := fields[f.Name]
		if !ok {
			if replace {
				if f.Required {
					return nil, dberr.InvalidArgument("%s is required", f.Name)
				}
				out[f.Name] = nil
			}
			continue
		}
		c, err := Coerce(f, v)
		if err != nil {
			return nil, err
		}
		if f.Required && c == nil {
			return nil, dberr.InvalidArgument("%s is required", f.Name)
		}
		out[f.Name] = c
	}

	if schema.Options.Timestamps {
		out[model.UpdatedAtField] = now
	}
	return out, nil
}

// Coerce checks v against the descriptor f and converts it to the
// canonical Go representation: string, int64 or float64, bool, time.Time,
// map[string]any for objects and []any for arrays. nil passes through.
func Coerce(f model.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Array {
		list, ok := v.([]any)
		if !ok {
			return nil, dberr.InvalidArgument("%s must be an array", f.Name)
		}
		elem := f
		elem.Array = false
		out := make([]any, len(list))
		for i, e := range list {
			c, err := Coerce(elem, e)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	}

	switch f.Kind {
	case model.KindString:
		switch t := v.(type) {
		case string:
			return t, nil
		case bool, int, int32, int64, float32, float64, json.Number:
			return fmt.Sprint(t), nil
		}
	case model.KindNumber:
		if n, ok := number(v); ok {
			return n, nil
		}
	case model.KindBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			if b, err := strconv.ParseBool(t); err == nil {
				return b, nil
			}
		case int64:
			return t != 0, nil
		}
	case model.KindDate:
		if t, ok := ParseDate(v); ok {
			return t, nil
		}
	case model.KindObjectID, model.KindRelation:
		if doc, ok := v.(map[string]any); ok && f.Kind == model.KindRelation {
			if id, ok := doc[model.IDField]; ok && id != nil {
				return idString(id), nil
			}
			return nil, dberr.InvalidArgument("%s must reference a record id", f.Name)
		}
		switch v.(type) {
		case string, int64, float64, fmt.Stringer:
			return idString(v), nil
		}
	case model.KindJSON:
		return v, nil
	case model.KindObject:
		doc, ok := v.(map[string]any)
		if !ok {
			if d, isDoc := v.(query.Document); isDoc {
				doc, ok = map[string]any(d), true
			}
		}
		if ok {
			out := make(map[string]any, len(doc))
			for k, e := range doc {
				out[k] = e
			}
			for _, child := range f.Fields {
				e, present := doc[child.Name]
				if !present {
					continue
				}
				c, err := Coerce(child, e)
				if err != nil {
					return nil, dberr.InvalidArgument("%s.%v", f.Name, err)
				}
				out[child.Name] = c
			}
			return out, nil
		}
	}
	return nil, dberr.InvalidArgument("%s expects a %s, got %T", f.Name, f.Kind, v)
}

func number(v any) (any, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		return f, err == nil
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f, true
		}
	}
	return nil, false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate accepts a time.Time, an ISO-8601 string or milliseconds since
// the epoch.
func ParseDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
	case int64:
		return time.UnixMilli(t).UTC(), true
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	}
	return time.Time{}, false
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case interface{ Hex() string }:
		return t.Hex()
	case fmt.Stringer:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// CreateWithPopulations walks the relation fields of doc. An embedded
// object without an _id is created in the target schema first and
// replaced by the new id; an embedded object with an _id is replaced by
// that id. Related inserts are not rolled back when a later one fails.
func CreateWithPopulations(ctx context.Context, schema model.Schema, doc query.Document, lookup Lookup) error {
	for _, f := range schema.Fields {
		if !f.IsRelation() {
			continue
		}
		v, ok := doc[f.Name]
		if !ok || v == nil {
			continue
		}

		if f.Array {
			list, ok := v.([]any)
			if !ok {
				continue
			}
			for i, e := range list {
				id, err := populateOne(ctx, f, e, lookup)
				if err != nil {
					return err
				}
				list[i] = id
			}
			continue
		}

		id, err := populateOne(ctx, f, v, lookup)
		if err != nil {
			return err
		}
		doc[f.Name] = id
	}
	return nil
}

func populateOne(ctx context.Context, f model.Field, v any, lookup Lookup) (any, error) {
	embedded, ok := v.(map[string]any)
	if !ok {
		if d, isDoc := v.(query.Document); isDoc {
			embedded, ok = map[string]any(d), true
		}
	}
	if !ok {
		return v, nil
	}
	if id, ok := embedded[model.IDField]; ok && id != nil {
		return idString(id), nil
	}

	target, ok := lookup(f.Model)
	if !ok {
		return nil, dberr.InvalidArgument("%s references unknown schema %s", f.Name, f.Model)
	}
	created, err := target.Create(ctx, query.Document(embedded))
	if err != nil {
		return nil, err
	}
	return created[model.IDField], nil
}
