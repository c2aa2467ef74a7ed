package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/faucetdb/schemad/internal/adapter"
	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/metric"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/permission"
	"github.com/faucetdb/schemad/internal/query"
)

// EventPrefix starts the topic of every CRUD event:
// database:<operation>:<schema>.
const EventPrefix = "database"

// Publisher sends CRUD events. A bus.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// Broadcaster announces local schema changes to peer instances. A
// schemasync.Synchronizer satisfies it.
type Broadcaster interface {
	Broadcast(ctx context.Context, name string) error
	BroadcastDeleted(ctx context.Context, name string) error
}

// DatabaseOptions wires the optional collaborators of a DatabaseService.
type DatabaseOptions struct {
	Sync    Broadcaster
	Events  Publisher
	Logger  *slog.Logger
	Metrics *metric.Metrics
}

// DatabaseService is the operation set other modules call. Every result
// is a JSON document; every error is a dberr.Error. The calling module is
// read from the context (see WithModule).
type DatabaseService struct {
	adapter *adapter.Adapter
	sync    Broadcaster
	events  Publisher
	logger  *slog.Logger
	metrics *metric.Metrics
}

func NewDatabaseService(a *adapter.Adapter, opts DatabaseOptions) *DatabaseService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DatabaseService{
		adapter: a,
		sync:    opts.Sync,
		events:  opts.Events,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Adapter returns the underlying adapter.
func (s *DatabaseService) Adapter() *adapter.Adapter { return s.adapter }

// FindOneRequest are the arguments of FindOne. Query may be a map or a
// JSON string.
type FindOneRequest struct {
	Schema   string   `json:"schemaName"`
	Query    any      `json:"query"`
	Select   string   `json:"select,omitempty"`
	Populate []string `json:"populate,omitempty"`
}

// FindManyRequest are the arguments of FindMany. Sort accepts
// {"field": 1|-1} or "field -other".
type FindManyRequest struct {
	Schema   string   `json:"schemaName"`
	Query    any      `json:"query"`
	Skip     int      `json:"skip,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Select   string   `json:"select,omitempty"`
	Sort     any      `json:"sort,omitempty"`
	Populate []string `json:"populate,omitempty"`
}

// UpdateRequest are the arguments of FindByIDAndUpdate.
type UpdateRequest struct {
	Schema             string   `json:"schemaName"`
	ID                 string   `json:"id"`
	Query              any      `json:"query"`
	UpdateProvidedOnly bool     `json:"updateProvidedOnly,omitempty"`
	Populate           []string `json:"populate,omitempty"`
}

// UpdateManyRequest are the arguments of UpdateMany.
type UpdateManyRequest struct {
	Schema             string `json:"schemaName"`
	Filter             any    `json:"filterQuery"`
	Query              any    `json:"query"`
	UpdateProvidedOnly bool   `json:"updateProvidedOnly,omitempty"`
}

// CreateSchemaFromAdapter declares w on behalf of the calling module and
// returns the base schema as declared.
func (s *DatabaseService) CreateSchemaFromAdapter(ctx context.Context, w model.WireSchema) (result string, err error) {
	defer s.observe("createSchemaFromAdapter", time.Now(), &err)

	if err := model.ValidateSchemaName(w.Name); err != nil {
		return "", err
	}
	module, err := requireModule(ctx)
	if err != nil {
		return "", err
	}
	schema, err := w.Schema()
	if err != nil {
		return "", err
	}
	schema.OwnerModule = module

	sa, err := s.adapter.CreateSchemaFromAdapter(ctx, schema)
	if err != nil {
		return "", err
	}
	s.broadcast(ctx, sa.Name())
	return wireJSON(sa.Original())
}

// GetSchema returns the merged definition of name.
func (s *DatabaseService) GetSchema(ctx context.Context, name string) (result string, err error) {
	defer s.observe("getSchema", time.Now(), &err)

	sa, err := s.adapter.GetSchema(name)
	if err != nil {
		return "", err
	}
	return wireJSON(sa.Schema)
}

// GetSchemas returns the merged definitions of every schema, by name.
func (s *DatabaseService) GetSchemas(ctx context.Context) (result string, err error) {
	defer s.observe("getSchemas", time.Now(), &err)

	all := s.adapter.GetSchemas()
	out := make([]model.WireSchema, 0, len(all))
	for _, sa := range all {
		w, err := model.ToWire(sa.Schema)
		if err != nil {
			return "", err
		}
		out = append(out, w)
	}
	return encode(out)
}

// DeleteSchema removes name on behalf of the calling module, dropping its
// data when deleteData is set.
func (s *DatabaseService) DeleteSchema(ctx context.Context, name string, deleteData bool) (result string, err error) {
	defer s.observe("deleteSchema", time.Now(), &err)

	summary, err := s.adapter.DeleteSchema(ctx, name, deleteData, ModuleFrom(ctx))
	if err != nil {
		return "", err
	}
	if s.sync != nil {
		if err := s.sync.BroadcastDeleted(ctx, name); err != nil {
			s.logger.Warn("failed to broadcast schema deletion", "schema", name, "error", err)
		}
	}
	return summary, nil
}

// SetSchemaExtension replaces the calling module's extension of ext.Name
// with the fields in ext.ModelSchema and returns the base schema.
func (s *DatabaseService) SetSchemaExtension(ctx context.Context, ext model.WireSchema) (result string, err error) {
	defer s.observe("setSchemaExtension", time.Now(), &err)

	module, err := requireModule(ctx)
	if err != nil {
		return "", err
	}
	if _, err := s.adapter.GetSchema(ext.Name); err != nil {
		return "", dberr.NotFound("Schema does not exist")
	}
	var fields model.Fields
	if ext.ModelSchema != "" {
		if err := json.Unmarshal([]byte(ext.ModelSchema), &fields); err != nil {
			return "", dberr.Wrap(dberr.KindInvalidArgument, err, "invalid extension modelSchema")
		}
	}

	sa, err := s.adapter.SetSchemaExtension(ctx, ext.Name, module, fields)
	if err != nil {
		return "", err
	}
	s.broadcast(ctx, sa.Name())
	return wireJSON(sa.Original())
}

// FindOne returns the first matching record, or null.
func (s *DatabaseService) FindOne(ctx context.Context, req FindOneRequest) (result string, err error) {
	defer s.observe("findOne", time.Now(), &err)

	sa, filter, err := s.resolve(req.Schema, req.Query)
	if err != nil {
		return "", err
	}
	rec, err := sa.Model.FindOne(ctx, filter, adapter.FindOptions{Select: req.Select})
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "null", nil
	}
	if err := s.adapter.Populate(ctx, sa, []adapter.Record{rec}, req.Populate); err != nil {
		return "", err
	}
	return encode(rec)
}

// FindMany returns every matching record.
func (s *DatabaseService) FindMany(ctx context.Context, req FindManyRequest) (result string, err error) {
	defer s.observe("findMany", time.Now(), &err)

	sa, filter, err := s.resolve(req.Schema, req.Query)
	if err != nil {
		return "", err
	}
	order, err := parseSort(req.Sort)
	if err != nil {
		return "", err
	}
	recs, err := sa.Model.FindMany(ctx, filter, adapter.FindOptions{
		Skip:   req.Skip,
		Limit:  req.Limit,
		Select: req.Select,
		Sort:   order,
	})
	if err != nil {
		return "", err
	}
	if err := s.adapter.Populate(ctx, sa, recs, req.Populate); err != nil {
		return "", err
	}
	if recs == nil {
		recs = []adapter.Record{}
	}
	return encode(recs)
}

// Create inserts doc into schema.
func (s *DatabaseService) Create(ctx context.Context, schema string, doc any) (result string, err error) {
	defer s.observe("create", time.Now(), &err)

	sa, d, err := s.resolve(schema, doc)
	if err != nil {
		return "", err
	}
	if err := permission.CanCreate(ModuleFrom(ctx), sa.Declaration.Schema); err != nil {
		return "", err
	}
	rec, err := sa.Model.Create(ctx, d)
	if err != nil {
		return "", err
	}
	return s.emit(ctx, "create", schema, rec)
}

// CreateMany inserts every document of docs, a list or a JSON array.
func (s *DatabaseService) CreateMany(ctx context.Context, schema string, docs any) (result string, err error) {
	defer s.observe("createMany", time.Now(), &err)

	sa, err := s.adapter.GetSchemaModel(schema)
	if err != nil {
		return "", err
	}
	list, err := documents(docs)
	if err != nil {
		return "", err
	}
	if err := permission.CanCreate(ModuleFrom(ctx), sa.Declaration.Schema); err != nil {
		return "", err
	}
	recs, err := sa.Model.CreateMany(ctx, list)
	if err != nil {
		return "", err
	}
	return s.emit(ctx, "createMany", schema, recs)
}

// FindByIDAndUpdate updates the record with req.ID and returns it.
func (s *DatabaseService) FindByIDAndUpdate(ctx context.Context, req UpdateRequest) (result string, err error) {
	defer s.observe("findByIdAndUpdate", time.Now(), &err)

	sa, update, err := s.resolve(req.Schema, req.Query)
	if err != nil {
		return "", err
	}
	if err := s.canModify(ctx, sa, update); err != nil {
		return "", err
	}
	rec, err := sa.Model.FindByIDAndUpdate(ctx, req.ID, update, adapter.UpdateOptions{ProvidedOnly: req.UpdateProvidedOnly})
	if err != nil {
		return "", err
	}
	if err := s.adapter.Populate(ctx, sa, []adapter.Record{rec}, req.Populate); err != nil {
		return "", err
	}
	return s.emit(ctx, "update", req.Schema, rec)
}

// UpdateMany applies req.Query to every record matching req.Filter.
func (s *DatabaseService) UpdateMany(ctx context.Context, req UpdateManyRequest) (result string, err error) {
	defer s.observe("updateMany", time.Now(), &err)

	sa, filter, err := s.resolve(req.Schema, req.Filter)
	if err != nil {
		return "", err
	}
	update, err := query.Normalize(req.Query)
	if err != nil {
		return "", err
	}
	if err := s.canModify(ctx, sa, update); err != nil {
		return "", err
	}
	res, err := sa.Model.UpdateMany(ctx, filter, update, adapter.UpdateOptions{ProvidedOnly: req.UpdateProvidedOnly})
	if err != nil {
		return "", err
	}
	return s.emit(ctx, "updateMany", req.Schema, res)
}

// DeleteOne removes the first record matching q.
func (s *DatabaseService) DeleteOne(ctx context.Context, schema string, q any) (result string, err error) {
	defer s.observe("deleteOne", time.Now(), &err)
	return s.delete(ctx, schema, q, false)
}

// DeleteMany removes every record matching q.
func (s *DatabaseService) DeleteMany(ctx context.Context, schema string, q any) (result string, err error) {
	defer s.observe("deleteMany", time.Now(), &err)
	return s.delete(ctx, schema, q, true)
}

func (s *DatabaseService) delete(ctx context.Context, schema string, q any, many bool) (string, error) {
	sa, filter, err := s.resolve(schema, q)
	if err != nil {
		return "", err
	}
	if err := permission.CanDelete(ModuleFrom(ctx), sa.Declaration.Schema); err != nil {
		return "", err
	}
	var res adapter.DeleteResult
	if many {
		res, err = sa.Model.DeleteMany(ctx, filter)
	} else {
		res, err = sa.Model.DeleteOne(ctx, filter)
	}
	if err != nil {
		return "", err
	}
	return s.emit(ctx, "delete", schema, res)
}

// CountDocuments counts the records matching q.
func (s *DatabaseService) CountDocuments(ctx context.Context, schema string, q any) (result string, err error) {
	defer s.observe("countDocuments", time.Now(), &err)

	sa, filter, err := s.resolve(schema, q)
	if err != nil {
		return "", err
	}
	n, err := sa.Model.CountDocuments(ctx, filter)
	if err != nil {
		return "", err
	}
	return encode(n)
}

func (s *DatabaseService) resolve(schema string, q any) (*adapter.SchemaAdapter, query.Document, error) {
	sa, err := s.adapter.GetSchemaModel(schema)
	if err != nil {
		return nil, nil, err
	}
	doc, err := query.Normalize(q)
	if err != nil {
		return nil, nil, err
	}
	return sa, doc, nil
}

// canModify checks the permission gate with the fields update touches as
// attribution.
func (s *DatabaseService) canModify(ctx context.Context, sa *adapter.SchemaAdapter, update query.Document) error {
	u, err := query.SplitUpdate(update)
	if err != nil {
		return err
	}
	return permission.CanModify(ModuleFrom(ctx), sa.Declaration, u.Fields())
}

// emit serializes result and publishes it as the event
// database:<op>:<schema>. Publication failures are only logged.
func (s *DatabaseService) emit(ctx context.Context, op, schema string, result any) (string, error) {
	out, err := encode(result)
	if err != nil {
		return "", err
	}
	if s.events != nil {
		topic := fmt.Sprintf("%s:%s:%s", EventPrefix, op, schema)
		err := s.events.Publish(ctx, topic, []byte(out))
		s.metrics.EventPublished(err)
		if err != nil {
			s.logger.Warn("failed to publish event", "topic", topic, "error", err)
		}
	}
	return out, nil
}

func (s *DatabaseService) broadcast(ctx context.Context, name string) {
	if s.sync == nil {
		return
	}
	if err := s.sync.Broadcast(ctx, name); err != nil {
		s.logger.Warn("failed to broadcast schema", "schema", name, "error", err)
	}
}

func (s *DatabaseService) observe(op string, start time.Time, errp *error) {
	outcome := "ok"
	if *errp != nil {
		outcome = dberr.KindOf(*errp).String()
	}
	s.metrics.ObserveOperation(op, outcome, time.Since(start))
}

func requireModule(ctx context.Context) (string, error) {
	module := ModuleFrom(ctx)
	if module == "" {
		return "", dberr.PermissionDenied("an identified calling module is required")
	}
	return module, nil
}

func parseSort(v any) ([]query.OrderClause, error) {
	if str, ok := v.(string); ok && len(str) > 0 && str[0] == '{' {
		doc, err := query.Normalize(str)
		if err != nil {
			return nil, err
		}
		v = doc
	}
	order, err := query.ParseSort(v)
	if err != nil {
		return nil, dberr.InvalidArgument("invalid sort: %v", err)
	}
	return order, nil
}

// documents turns a createMany payload into a list of documents.
func documents(v any) ([]query.Document, error) {
	var list []any
	switch t := v.(type) {
	case []query.Document:
		return t, nil
	case []map[string]any:
		out := make([]query.Document, len(t))
		for i, m := range t {
			out[i] = query.Document(m)
		}
		return out, nil
	case []any:
		list = t
	default:
		doc, err := query.Normalize(v)
		if err != nil {
			return nil, err
		}
		and, ok := doc["$and"].([]any)
		if len(doc) != 1 || !ok {
			return nil, dberr.InvalidArgument("createMany expects an array of documents")
		}
		list = and
	}

	out := make([]query.Document, len(list))
	for i, e := range list {
		switch d := e.(type) {
		case map[string]any:
			out[i] = query.Document(d)
		case query.Document:
			out[i] = d
		default:
			return nil, dberr.InvalidArgument("createMany element %d is not an object", i)
		}
	}
	return out, nil
}

func wireJSON(s model.Schema) (string, error) {
	w, err := model.ToWire(s)
	if err != nil {
		return "", err
	}
	return encode(w)
}

func encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", dberr.Wrap(dberr.KindInternal, err, "encode result")
	}
	return string(raw), nil
}
