package relational

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/faucetdb/schemad/internal/adapter"
	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
)

// encodeValue converts a prepared value into something every driver can
// bind. JSON columns are stored as JSON text.
func encodeValue(col model.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if col.IsJSON() {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, dberr.Wrap(dberr.KindInvalidArgument, err, fmt.Sprintf("%s is not serializable", col.Name))
		}
		return string(raw), nil
	}
	if t, ok := v.(time.Time); ok {
		return t.UTC(), nil
	}
	return v, nil
}

// encodeRecord encodes every value of rec whose column is known.
func (m *Model) encodeRecord(rec map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		col, ok := m.columns[k]
		if !ok {
			continue
		}
		enc, err := encodeValue(col, v)
		if err != nil {
			return nil, err
		}
		out[k] = enc
	}
	return out, nil
}

// decodeRow converts a scanned row into a record, mapping driver
// representations back to the canonical Go types of each column kind.
func (m *Model) decodeRow(row map[string]any) (adapter.Record, error) {
	out := make(adapter.Record, len(row))
	for name, v := range row {
		col, ok := m.columns[name]
		if !ok {
			out[name] = textOf(v)
			continue
		}
		dec, err := decodeValue(col, v)
		if err != nil {
			return nil, dberr.Wrap(dberr.KindInternal, err, fmt.Sprintf("decode %s.%s", m.table.Name, name))
		}
		out[name] = dec
	}
	return out, nil
}

func decodeValue(col model.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if col.IsJSON() {
		switch t := v.(type) {
		case string:
			return decodeJSON([]byte(t))
		case []byte:
			return decodeJSON(t)
		default:
			// Some drivers already decode json columns.
			return t, nil
		}
	}

	switch col.Kind {
	case model.KindNumber:
		switch t := v.(type) {
		case float64:
			return t, nil
		case float32:
			return float64(t), nil
		case int64:
			return float64(t), nil
		case int32:
			return float64(t), nil
		case []byte, string:
			return strconv.ParseFloat(textOf(t).(string), 64)
		}
	case model.KindBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		case []byte, string:
			s := textOf(t).(string)
			if b, err := strconv.ParseBool(s); err == nil {
				return b, nil
			}
		}
	case model.KindDate:
		if d, ok := adapter.ParseDate(textOf(v)); ok {
			return d, nil
		}
	default:
		return textOf(v), nil
	}
	return nil, fmt.Errorf("unexpected %T for %s column %s", v, col.Kind, col.Name)
}

// textOf turns driver byte slices into strings and leaves other values as
// they are.
func textOf(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return numbers(v), nil
}

// numbers replaces json.Number leaves with int64 or float64.
func numbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = numbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = numbers(e)
		}
		return t
	}
	return v
}
