package schemasync

import (
	"bytes"
	"encoding/json"

	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
)

// RequestMessage asks every instance to publish the schemas it holds.
const RequestMessage = "request"

// Message is one schema declaration on the bus. The first five fields are
// the schema wire format understood by every peer. Extensions, UpdatedAt,
// Origin and Deleted are only set by schemad instances.
type Message struct {
	Name           string            `json:"name"`
	ModelSchema    string            `json:"modelSchema"`
	ModelOptions   string            `json:"modelOptions"`
	CollectionName string            `json:"collectionName,omitempty"`
	OwnerModule    string            `json:"ownerModule"`
	Extensions     []model.Extension `json:"extensions,omitempty"`
	UpdatedAt      int64             `json:"updatedAt,omitempty"`
	Origin         string            `json:"origin,omitempty"`
	Deleted        bool              `json:"deleted,omitempty"`
}

// declarationMessage encodes d as published by instance origin.
func declarationMessage(d model.Declaration, origin string) (Message, error) {
	w, err := model.ToWire(d.Schema)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Name:           w.Name,
		ModelSchema:    w.ModelSchema,
		ModelOptions:   w.ModelOptions,
		CollectionName: w.CollectionName,
		OwnerModule:    w.OwnerModule,
		Extensions:     d.Extensions,
		UpdatedAt:      d.UpdatedAt,
		Origin:         origin,
	}, nil
}

// isRequest reports whether data is the request sentinel, bare or as a
// JSON string.
func isRequest(data []byte) bool {
	data = bytes.TrimSpace(data)
	return string(data) == RequestMessage || string(data) == `"`+RequestMessage+`"`
}

// decodeMessage parses a schema message. The wire part goes through
// model.WireSchema so object-valued modelSchema and the "owner" alias of
// older peers are accepted.
func decodeMessage(data []byte) (Message, error) {
	var w model.WireSchema
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, dberr.Wrap(dberr.KindInvalidArgument, err, "malformed schema message")
	}
	if w.Name == "" {
		return Message{}, dberr.InvalidArgument("schema message is missing a name")
	}

	var extra struct {
		Extensions []model.Extension `json:"extensions"`
		UpdatedAt  int64             `json:"updatedAt"`
		Origin     string            `json:"origin"`
		Deleted    bool              `json:"deleted"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return Message{}, dberr.Wrap(dberr.KindInvalidArgument, err, "malformed schema message")
	}
	return Message{
		Name:           w.Name,
		ModelSchema:    w.ModelSchema,
		ModelOptions:   w.ModelOptions,
		CollectionName: w.CollectionName,
		OwnerModule:    w.OwnerModule,
		Extensions:     extra.Extensions,
		UpdatedAt:      extra.UpdatedAt,
		Origin:         extra.Origin,
		Deleted:        extra.Deleted,
	}, nil
}

// Declaration rebuilds the declaration carried by m.
func (m Message) Declaration() (model.Declaration, error) {
	s, err := model.WireSchema{
		Name:           m.Name,
		ModelSchema:    m.ModelSchema,
		ModelOptions:   m.ModelOptions,
		CollectionName: m.CollectionName,
		OwnerModule:    m.OwnerModule,
	}.Schema()
	if err != nil {
		return model.Declaration{}, err
	}
	return model.Declaration{Schema: s, Extensions: m.Extensions, UpdatedAt: m.UpdatedAt}, nil
}
