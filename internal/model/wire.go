package model

import (
	"bytes"
	"encoding/json"

	"github.com/faucetdb/schemad/internal/dberr"
)

// UnmarshalJSON decodes options, filling absent keys with the defaults.
// Permissions nested under "conduit" are accepted as well.
func (o *Options) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timestamps  *bool           `json:"timestamps"`
		Permissions json.RawMessage `json:"permissions"`
		Conduit     *struct {
			Permissions json.RawMessage `json:"permissions"`
		} `json:"conduit"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := DefaultOptions()
	if raw.Timestamps != nil {
		out.Timestamps = *raw.Timestamps
	}
	perms := raw.Permissions
	if len(perms) == 0 && raw.Conduit != nil {
		perms = raw.Conduit.Permissions
	}
	if len(perms) > 0 && !bytes.Equal(perms, []byte("null")) {
		if err := json.Unmarshal(perms, &out.Permissions); err != nil {
			return err
		}
	}
	*o = out
	return nil
}

// UnmarshalJSON decodes permissions over the defaults so a partial object
// only overrides what it names.
func (p *Permissions) UnmarshalJSON(data []byte) error {
	type plain Permissions
	out := plain(DefaultPermissions())
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*p = Permissions(out)
	return nil
}

// WireSchema is the bus and API representation of a schema. ModelSchema
// and ModelOptions carry JSON-encoded text.
type WireSchema struct {
	Name           string `json:"name"`
	ModelSchema    string `json:"modelSchema"`
	ModelOptions   string `json:"modelOptions"`
	CollectionName string `json:"collectionName,omitempty"`
	OwnerModule    string `json:"ownerModule"`
}

// UnmarshalJSON accepts modelSchema and modelOptions either as encoded
// strings or as raw JSON objects, and "owner" as an alias of ownerModule.
func (w *WireSchema) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name           string          `json:"name"`
		ModelSchema    json.RawMessage `json:"modelSchema"`
		ModelOptions   json.RawMessage `json:"modelOptions"`
		CollectionName string          `json:"collectionName"`
		OwnerModule    string          `json:"ownerModule"`
		Owner          string          `json:"owner"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ms, err := embeddedJSON(raw.ModelSchema)
	if err != nil {
		return err
	}
	mo, err := embeddedJSON(raw.ModelOptions)
	if err != nil {
		return err
	}
	owner := raw.OwnerModule
	if owner == "" {
		owner = raw.Owner
	}
	*w = WireSchema{
		Name:           raw.Name,
		ModelSchema:    ms,
		ModelOptions:   mo,
		CollectionName: raw.CollectionName,
		OwnerModule:    owner,
	}
	return nil
}

func embeddedJSON(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	return string(raw), nil
}

// ToWire encodes s for the bus or an API response.
func ToWire(s Schema) (WireSchema, error) {
	fields, err := json.Marshal(s.Fields)
	if err != nil {
		return WireSchema{}, dberr.Wrap(dberr.KindInternal, err, "encode schema fields")
	}
	opts, err := json.Marshal(s.Options)
	if err != nil {
		return WireSchema{}, dberr.Wrap(dberr.KindInternal, err, "encode schema options")
	}
	return WireSchema{
		Name:           s.Name,
		ModelSchema:    string(fields),
		ModelOptions:   string(opts),
		CollectionName: s.CollectionName,
		OwnerModule:    s.OwnerModule,
	}, nil
}

// Schema decodes the wire form. Decoding failures are InvalidArgument.
func (w WireSchema) Schema() (Schema, error) {
	s := Schema{
		Name:           w.Name,
		Options:        DefaultOptions(),
		CollectionName: w.CollectionName,
		OwnerModule:    w.OwnerModule,
	}
	if w.ModelSchema != "" {
		if err := json.Unmarshal([]byte(w.ModelSchema), &s.Fields); err != nil {
			return Schema{}, dberr.Wrap(dberr.KindInvalidArgument, err, "invalid modelSchema")
		}
	}
	if w.ModelOptions != "" {
		if err := json.Unmarshal([]byte(w.ModelOptions), &s.Options); err != nil {
			return Schema{}, dberr.Wrap(dberr.KindInvalidArgument, err, "invalid modelOptions")
		}
	}
	return s, nil
}

// DecodeSchema parses a wire payload into a Schema.
func DecodeSchema(data []byte) (Schema, error) {
	var w WireSchema
	if err := json.Unmarshal(data, &w); err != nil {
		return Schema{}, dberr.Wrap(dberr.KindInvalidArgument, err, "invalid schema payload")
	}
	if w.Name == "" {
		return Schema{}, dberr.InvalidArgument("schema payload is missing a name")
	}
	return w.Schema()
}

// UnmarshalJSON decodes a Schema document, applying option defaults when
// the options key is absent.
func (s *Schema) UnmarshalJSON(data []byte) error {
	type plain Schema
	out := plain{Options: DefaultOptions()}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*s = Schema(out)
	return nil
}
