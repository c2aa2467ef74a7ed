package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// descriptor is the explicit object form of a field descriptor.
type descriptor struct {
	Type        json.RawMessage `json:"type"`
	Required    bool            `json:"required,omitempty"`
	Unique      bool            `json:"unique,omitempty"`
	Default     any             `json:"default,omitempty"`
	Select      *bool           `json:"select,omitempty"`
	Model       string          `json:"model,omitempty"`
	Description string          `json:"description,omitempty"`
}

// MarshalJSON encodes the fields as a JSON object keyed by field name,
// preserving declaration order.
func (fs Fields) MarshalJSON() ([]byte, error) {
	om := orderedmap.New[string, json.RawMessage]()
	for _, f := range fs {
		raw, err := f.marshalDescriptor()
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		om.Set(f.Name, raw)
	}
	return json.Marshal(om)
}

func (f Field) marshalDescriptor() ([]byte, error) {
	if f.Kind == KindObject {
		children, err := json.Marshal(f.Fields)
		if err != nil {
			return nil, err
		}
		if f.Array {
			return []byte("[" + string(children) + "]"), nil
		}
		return children, nil
	}

	typeName, err := json.Marshal(f.Kind.String())
	if err != nil {
		return nil, err
	}
	if f.Array {
		typeName = []byte("[" + string(typeName) + "]")
	}
	return json.Marshal(descriptor{
		Type:        typeName,
		Required:    f.Required,
		Unique:      f.Unique,
		Default:     f.Default,
		Select:      f.Select,
		Model:       f.Model,
		Description: f.Description,
	})
}

// UnmarshalJSON decodes a field mapping. Each value may be a type name
// shorthand ("String"), a descriptor object ({"type": "String", ...}), an
// array-of form ({"type": ["String"]} or [descriptor]) or a nested object
// without a "type" key, which declares an embedded sub-document.
func (fs *Fields) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*fs = nil
		return nil
	}
	om := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, om); err != nil {
		return fmt.Errorf("fields must be a JSON object: %w", err)
	}
	out := make(Fields, 0, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		f, err := decodeField(pair.Key, pair.Value)
		if err != nil {
			return err
		}
		out = append(out, f)
	}
	*fs = out
	return nil
}

func decodeField(name string, raw json.RawMessage) (Field, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Field{}, fmt.Errorf("field %q: empty descriptor", name)
	}
	switch raw[0] {
	case '"':
		var typeName string
		if err := json.Unmarshal(raw, &typeName); err != nil {
			return Field{}, fmt.Errorf("field %q: %w", name, err)
		}
		kind, err := ParseFieldKind(typeName)
		if err != nil {
			return Field{}, err
		}
		return Field{Name: name, Kind: kind}, nil

	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return Field{}, fmt.Errorf("field %q: %w", name, err)
		}
		if len(elems) != 1 {
			return Field{}, fmt.Errorf("field %q: array-of must wrap exactly one descriptor", name)
		}
		f, err := decodeField(name, elems[0])
		if err != nil {
			return Field{}, err
		}
		f.Array = true
		return f, nil

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return Field{}, fmt.Errorf("field %q: %w", name, err)
		}
		typeRaw, hasType := obj["type"]
		if !hasType || !isTypeValue(typeRaw) {
			var children Fields
			if err := json.Unmarshal(raw, &children); err != nil {
				return Field{}, fmt.Errorf("field %q: %w", name, err)
			}
			return Field{Name: name, Kind: KindObject, Fields: children}, nil
		}

		var d descriptor
		if err := json.Unmarshal(raw, &d); err != nil {
			return Field{}, fmt.Errorf("field %q: %w", name, err)
		}
		inner, err := decodeField(name, d.Type)
		if err != nil {
			return Field{}, err
		}
		inner.Required = d.Required
		inner.Unique = d.Unique
		inner.Default = d.Default
		inner.Select = d.Select
		inner.Model = d.Model
		inner.Description = d.Description
		return inner, nil
	}
	return Field{}, fmt.Errorf("field %q: unsupported descriptor %s", name, string(raw))
}

// isTypeValue reports whether the value of a "type" key is a descriptor
// type rather than a nested field that happens to be called "type".
func isTypeValue(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return false
		}
		_, err := ParseFieldKind(s)
		return err == nil
	}
	return raw[0] == '['
}
