package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/service"
)

// DatabaseHandler exposes the database operations over HTTP, one POST
// endpoint per operation.
type DatabaseHandler struct {
	svc *service.DatabaseService
	ops map[string]operation
}

type operation func(ctx context.Context, req *operationRequest, body []byte) (string, error)

// operationRequest is the union of every operation's arguments. Query,
// FilterQuery and Sort may be given as JSON values or as JSON-encoded
// strings.
type operationRequest struct {
	SchemaName         string          `json:"schemaName"`
	ID                 string          `json:"id"`
	Query              json.RawMessage `json:"query"`
	FilterQuery        json.RawMessage `json:"filterQuery"`
	Skip               int             `json:"skip"`
	Limit              int             `json:"limit"`
	Select             string          `json:"select"`
	Sort               json.RawMessage `json:"sort"`
	Populate           populateList    `json:"populate"`
	UpdateProvidedOnly bool            `json:"updateProvidedOnly"`
	DeleteData         bool            `json:"deleteData"`
}

// populateList accepts ["a","b"] or "a b" / "a,b".
type populateList []string

func (p *populateList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*p = list
	return nil
}

// NewDatabaseHandler creates a new DatabaseHandler.
func NewDatabaseHandler(svc *service.DatabaseService) *DatabaseHandler {
	h := &DatabaseHandler{svc: svc}
	h.ops = map[string]operation{
		"createSchemaFromAdapter": h.createSchema,
		"getSchema": func(ctx context.Context, req *operationRequest, _ []byte) (string, error) {
			return svc.GetSchema(ctx, req.SchemaName)
		},
		"getSchemas": func(ctx context.Context, _ *operationRequest, _ []byte) (string, error) {
			return svc.GetSchemas(ctx)
		},
		"deleteSchema":       h.deleteSchema,
		"setSchemaExtension": h.setExtension,
		"findOne": func(ctx context.Context, req *operationRequest, _ []byte) (string, error) {
			return svc.FindOne(ctx, service.FindOneRequest{
				Schema:   req.SchemaName,
				Query:    payload(req.Query),
				Select:   req.Select,
				Populate: req.Populate,
			})
		},
		"findMany": h.findMany,
		"create": func(ctx context.Context, req *operationRequest, _ []byte) (string, error) {
			return svc.Create(ctx, req.SchemaName, payload(req.Query))
		},
		"createMany": func(ctx context.Context, req *operationRequest, _ []byte) (string, error) {
			return svc.CreateMany(ctx, req.SchemaName, payload(req.Query))
		},
		"findByIdAndUpdate": func(ctx context.Context, req *operationRequest, _ []byte) (string, error) {
			return svc.FindByIDAndUpdate(ctx, service.UpdateRequest{
				Schema:             req.SchemaName,
				ID:                 req.ID,
				Query:              payload(req.Query),
				UpdateProvidedOnly: req.UpdateProvidedOnly,
				Populate:           req.Populate,
			})
		},
		"updateMany": func(ctx context.Context, req *operationRequest, _ []byte) (string, error) {
			return svc.UpdateMany(ctx, service.UpdateManyRequest{
				Schema:             req.SchemaName,
				Filter:             payload(req.FilterQuery),
				Query:              payload(req.Query),
				UpdateProvidedOnly: req.UpdateProvidedOnly,
			})
		},
		"deleteOne": func(ctx context.Context, req *operationRequest, _ []byte) (string, error) {
			return svc.DeleteOne(ctx, req.SchemaName, payload(req.Query))
		},
		"deleteMany": func(ctx context.Context, req *operationRequest, _ []byte) (string, error) {
			return svc.DeleteMany(ctx, req.SchemaName, payload(req.Query))
		},
		"countDocuments": func(ctx context.Context, req *operationRequest, _ []byte) (string, error) {
			return svc.CountDocuments(ctx, req.SchemaName, payload(req.Query))
		},
	}
	return h
}

// Operations lists the operation names the handler serves.
func (h *DatabaseHandler) Operations() []string {
	out := make([]string, 0, len(h.ops))
	for name := range h.ops {
		out = append(out, name)
	}
	return out
}

// Invoke handles POST /api/v1/database/{operation}.
func (h *DatabaseHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "operation")
	op, ok := h.ops[name]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown operation: "+name)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large or unreadable: "+err.Error())
		return
	}

	var req operationRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
			return
		}
	}

	result, err := op(r.Context(), &req, body)
	if err != nil {
		writeDBError(w, err)
		return
	}
	writeResult(w, result)
}

func (h *DatabaseHandler) createSchema(ctx context.Context, _ *operationRequest, body []byte) (string, error) {
	w, err := wireSchema(body)
	if err != nil {
		return "", err
	}
	return h.svc.CreateSchemaFromAdapter(ctx, w)
}

func (h *DatabaseHandler) setExtension(ctx context.Context, _ *operationRequest, body []byte) (string, error) {
	w, err := wireSchema(body)
	if err != nil {
		return "", err
	}
	return h.svc.SetSchemaExtension(ctx, w)
}

func (h *DatabaseHandler) deleteSchema(ctx context.Context, req *operationRequest, _ []byte) (string, error) {
	msg, err := h.svc.DeleteSchema(ctx, req.SchemaName, req.DeleteData)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (h *DatabaseHandler) findMany(ctx context.Context, req *operationRequest, _ []byte) (string, error) {
	var sort any
	if len(req.Sort) > 0 {
		if err := json.Unmarshal(req.Sort, &sort); err != nil {
			return "", dberr.InvalidArgument("invalid sort: %v", err)
		}
	}
	return h.svc.FindMany(ctx, service.FindManyRequest{
		Schema:   req.SchemaName,
		Query:    payload(req.Query),
		Skip:     req.Skip,
		Limit:    req.Limit,
		Select:   req.Select,
		Sort:     sort,
		Populate: req.Populate,
	})
}

// wireSchema reads a schema body. A body of the form {"schema": {...}}
// is unwrapped.
func wireSchema(body []byte) (model.WireSchema, error) {
	var envelope struct {
		Schema json.RawMessage `json:"schema"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Schema) > 0 {
		body = envelope.Schema
	}
	var w model.WireSchema
	if err := json.Unmarshal(body, &w); err != nil {
		return model.WireSchema{}, dberr.Wrap(dberr.KindInvalidArgument, err, "invalid schema body")
	}
	return w, nil
}

// payload unwraps a query given as a JSON-encoded string.
func payload(raw json.RawMessage) any {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return raw
}
