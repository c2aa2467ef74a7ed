package document

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/faucetdb/schemad/internal/adapter"
	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

// Model runs CRUD against the collection of one schema.
type Model struct {
	coll   *mongo.Collection
	schema model.Schema
	ids    map[string]bool
	names  []string
	lookup adapter.Lookup
	now    func() time.Time
}

func newModel(coll *mongo.Collection, schema model.Schema, lookup adapter.Lookup, now func() time.Time) *Model {
	names := []string{model.IDField}
	for _, f := range schema.Fields {
		if f.Name != model.IDField {
			names = append(names, f.Name)
		}
	}
	if schema.Options.Timestamps {
		names = append(names, model.CreatedAtField, model.UpdatedAtField)
	}
	return &Model{
		coll:   coll,
		schema: schema,
		ids:    idFields(schema),
		names:  names,
		lookup: lookup,
		now:    now,
	}
}

// Create inserts one record, creating embedded related records first.
func (m *Model) Create(ctx context.Context, doc query.Document) (adapter.Record, error) {
	recs, err := m.CreateMany(ctx, []query.Document{doc})
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// CreateMany inserts every document in one ordered batch. Records created
// for embedded relations are not removed when the batch fails.
func (m *Model) CreateMany(ctx context.Context, docs []query.Document) ([]adapter.Record, error) {
	if len(docs) == 0 {
		return []adapter.Record{}, nil
	}

	now := m.now()
	stored := make([]bson.M, 0, len(docs))
	batch := make([]any, 0, len(docs))
	for _, doc := range docs {
		doc = doc.Clone()
		if err := adapter.CreateWithPopulations(ctx, m.schema, doc, m.lookup); err != nil {
			return nil, err
		}
		prepared, err := adapter.PrepareCreate(m.schema, doc, now)
		if err != nil {
			return nil, err
		}
		s := toStored(prepared, m.ids)
		if _, ok := s[model.IDField]; !ok {
			s[model.IDField] = bson.NewObjectID()
		}
		stored = append(stored, s)
		batch = append(batch, s)
	}

	if _, err := m.coll.InsertMany(ctx, batch); err != nil {
		return nil, writeError(err, "insert into "+m.coll.Name())
	}

	out := make([]adapter.Record, len(stored))
	for i, s := range stored {
		out[i] = toRecord(s)
	}
	return out, nil
}

// FindOne returns the first matching record or nil.
func (m *Model) FindOne(ctx context.Context, filter query.Document, opts adapter.FindOptions) (adapter.Record, error) {
	opts.Limit = 1
	recs, err := m.FindMany(ctx, filter, opts)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// FindMany returns the matching records projected by opts.Select.
func (m *Model) FindMany(ctx context.Context, filter query.Document, opts adapter.FindOptions) ([]adapter.Record, error) {
	f, err := m.filter(filter)
	if err != nil {
		return nil, err
	}

	proj, err := query.ParseSelect(opts.Select)
	if err != nil {
		return nil, dberr.InvalidArgument("%v", err)
	}
	fields := proj.Columns(m.names, m.schema.Fields.Excluded(), model.IDField)
	if len(fields) == 0 {
		fields = []string{model.IDField}
	}

	find := options.Find().SetProjection(projection(fields))
	if len(opts.Sort) > 0 {
		order := bson.D{}
		for _, o := range opts.Sort {
			if !m.known(o.Column) {
				return nil, dberr.InvalidArgument("cannot sort by unknown field %s", o.Column)
			}
			dir := 1
			if o.Direction == "DESC" {
				dir = -1
			}
			order = append(order, bson.E{Key: o.Column, Value: dir})
		}
		find.SetSort(order)
	}
	if opts.Skip > 0 {
		find.SetSkip(int64(opts.Skip))
	}
	if opts.Limit > 0 {
		find.SetLimit(int64(opts.Limit))
	}

	cursor, err := m.coll.Find(ctx, f, find)
	if err != nil {
		return nil, queryError(err, "find in "+m.coll.Name())
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, dberr.Backend(err, "decode "+m.coll.Name())
	}

	out := make([]adapter.Record, len(docs))
	for i, d := range docs {
		out[i] = toRecord(d)
	}
	return out, nil
}

// FindByIDAndUpdate applies update to the record with the given id as one
// server-side update. A $pull on a field that is also pushed runs as a
// second update, after the push.
func (m *Model) FindByIDAndUpdate(ctx context.Context, id string, update query.Document, opts adapter.UpdateOptions) (adapter.Record, error) {
	u, err := m.splitUpdate(update)
	if err != nil {
		return nil, err
	}
	replace := !opts.ProvidedOnly && !u.HasSet && len(u.Base) > 0
	first, second, err := m.updateDocs(u, replace)
	if err != nil {
		return nil, err
	}
	byID := bson.M{model.IDField: toObjectID(id)}

	if len(first) == 0 {
		var doc bson.M
		err := m.coll.FindOne(ctx, byID).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, dberr.NotFound("%s %s not found", m.schema.Name, id)
		}
		if err != nil {
			return nil, dberr.Backend(err, "find in "+m.coll.Name())
		}
		return toRecord(doc), nil
	}

	after := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc bson.M
	err = m.coll.FindOneAndUpdate(ctx, byID, first, after).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, dberr.NotFound("%s %s not found", m.schema.Name, id)
	}
	if err != nil {
		return nil, writeError(err, "update "+m.coll.Name())
	}

	if len(second) > 0 {
		doc = nil
		err = m.coll.FindOneAndUpdate(ctx, byID, second, after).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, dberr.NotFound("%s %s not found", m.schema.Name, id)
		}
		if err != nil {
			return nil, writeError(err, "update "+m.coll.Name())
		}
	}
	return toRecord(doc), nil
}

// UpdateMany merges the provided fields into every matching record and
// applies the directives alongside. ProvidedOnly is implied; records are
// never replaced wholesale.
func (m *Model) UpdateMany(ctx context.Context, filter, update query.Document, _ adapter.UpdateOptions) (adapter.UpdateResult, error) {
	f, err := m.filter(filter)
	if err != nil {
		return adapter.UpdateResult{}, err
	}
	u, err := m.splitUpdate(update)
	if err != nil {
		return adapter.UpdateResult{}, err
	}
	first, second, err := m.updateDocs(u, false)
	if err != nil {
		return adapter.UpdateResult{}, err
	}
	if len(first) == 0 {
		n, err := m.coll.CountDocuments(ctx, f)
		if err != nil {
			return adapter.UpdateResult{}, queryError(err, "count "+m.coll.Name())
		}
		return adapter.UpdateResult{Matched: n}, nil
	}

	res, err := m.coll.UpdateMany(ctx, f, first)
	if err != nil {
		return adapter.UpdateResult{}, writeError(err, "update "+m.coll.Name())
	}
	out := adapter.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}
	if len(second) > 0 {
		if _, err := m.coll.UpdateMany(ctx, f, second); err != nil {
			return out, writeError(err, "update "+m.coll.Name())
		}
	}
	return out, nil
}

// DeleteOne removes the first matching record.
func (m *Model) DeleteOne(ctx context.Context, filter query.Document) (adapter.DeleteResult, error) {
	f, err := m.filter(filter)
	if err != nil {
		return adapter.DeleteResult{}, err
	}
	res, err := m.coll.DeleteOne(ctx, f)
	if err != nil {
		return adapter.DeleteResult{}, queryError(err, "delete from "+m.coll.Name())
	}
	return adapter.DeleteResult{DeletedCount: res.DeletedCount}, nil
}

// DeleteMany removes every matching record.
func (m *Model) DeleteMany(ctx context.Context, filter query.Document) (adapter.DeleteResult, error) {
	f, err := m.filter(filter)
	if err != nil {
		return adapter.DeleteResult{}, err
	}
	res, err := m.coll.DeleteMany(ctx, f)
	if err != nil {
		return adapter.DeleteResult{}, queryError(err, "delete from "+m.coll.Name())
	}
	return adapter.DeleteResult{DeletedCount: res.DeletedCount}, nil
}

// CountDocuments counts the matching records.
func (m *Model) CountDocuments(ctx context.Context, filter query.Document) (int64, error) {
	f, err := m.filter(filter)
	if err != nil {
		return 0, err
	}
	n, err := m.coll.CountDocuments(ctx, f)
	if err != nil {
		return 0, queryError(err, "count "+m.coll.Name())
	}
	return n, nil
}

func (m *Model) filter(filter query.Document) (bson.M, error) {
	if err := checkOperators(filter); err != nil {
		return nil, err
	}
	return normalizeFilter(filter, m.ids), nil
}

func (m *Model) known(name string) bool {
	for _, n := range m.names {
		if n == name {
			return true
		}
	}
	return false
}

func (m *Model) splitUpdate(update query.Document) (query.Update, error) {
	u, err := query.SplitUpdate(update)
	if err != nil {
		return query.Update{}, err
	}
	if err := u.Validate(); err != nil {
		return query.Update{}, err
	}
	for f := range u.Inc {
		field, ok := m.schema.Fields.Get(f)
		if !ok || field.Kind != model.KindNumber || field.Array {
			return query.Update{}, dberr.InvalidArgument("$inc target %s is not a number field", f)
		}
	}
	for _, directive := range []map[string][]any{u.Push, u.Pull} {
		for f := range directive {
			field, ok := m.schema.Fields.Get(f)
			if !ok || (!field.Array && field.Kind != model.KindJSON) {
				return query.Update{}, dberr.InvalidArgument("%s is not an array field", f)
			}
		}
	}
	return u, nil
}

// updateDocs renders u as MongoDB update documents. second carries the
// $pull of fields that are pushed in the same update, since the server
// rejects two operators on one path.
func (m *Model) updateDocs(u query.Update, replace bool) (first, second bson.D, err error) {
	fields := u.Base.Clone()
	for k, v := range u.Set {
		fields[k] = v
	}
	rec, err := adapter.PrepareUpdate(m.schema, fields, replace, u.Directed(), m.now())
	if err != nil {
		return nil, nil, err
	}

	set := bson.D{}
	for _, k := range sortedKeys(rec) {
		v := rec[k]
		if m.ids[k] {
			v = normalizeIDValue(v)
		}
		set = append(set, bson.E{Key: k, Value: v})
	}
	if len(set) > 0 {
		first = append(first, bson.E{Key: "$set", Value: set})
	}

	if len(u.Inc) > 0 {
		inc := bson.D{}
		for _, k := range sortedKeys(u.Inc) {
			inc = append(inc, bson.E{Key: k, Value: u.Inc[k]})
		}
		first = append(first, bson.E{Key: "$inc", Value: inc})
	}

	if len(u.Push) > 0 {
		push := bson.D{}
		for _, k := range sortedKeys(u.Push) {
			values, err := m.elements(k, u.Push[k])
			if err != nil {
				return nil, nil, err
			}
			push = append(push, bson.E{Key: k, Value: bson.D{{Key: "$each", Value: values}}})
		}
		first = append(first, bson.E{Key: "$push", Value: push})
	}

	if len(u.Pull) > 0 {
		pull, later := bson.D{}, bson.D{}
		for _, k := range sortedKeys(u.Pull) {
			values, err := m.elements(k, u.Pull[k])
			if err != nil {
				return nil, nil, err
			}
			e := bson.E{Key: k, Value: bson.D{{Key: "$in", Value: values}}}
			if _, pushed := u.Push[k]; pushed {
				later = append(later, e)
			} else {
				pull = append(pull, e)
			}
		}
		if len(pull) > 0 {
			first = append(first, bson.E{Key: "$pull", Value: pull})
		}
		if len(later) > 0 {
			second = bson.D{{Key: "$pull", Value: later}}
		}
	}
	return first, second, nil
}

// elements coerces directive values to the element type of field f.
func (m *Model) elements(f string, values []any) (bson.A, error) {
	field, _ := m.schema.Fields.Get(f)
	out := make(bson.A, len(values))
	elem := field
	elem.Array = false
	for i, v := range values {
		if field.Array {
			c, err := adapter.Coerce(elem, v)
			if err != nil {
				return nil, err
			}
			v = c
		}
		if m.ids[f] {
			v = toObjectID(v)
		}
		out[i] = v
	}
	return out, nil
}

var filterOperators = map[string]bool{
	"$and": true, "$or": true, "$nor": true, "$not": true,
	"$eq": true, "$ne": true, "$gt": true, "$gte": true, "$lt": true, "$lte": true,
	"$in": true, "$nin": true, "$exists": true, "$regex": true, "$options": true,
}

// checkOperators rejects operators the relational translator does not
// understand either, so both backends accept the same filters.
func checkOperators(v any) error {
	switch t := v.(type) {
	case query.Document:
		return checkOperators(map[string]any(t))
	case map[string]any:
		for k, e := range t {
			if query.IsOperator(k) && !filterOperators[k] {
				return dberr.InvalidArgument("unsupported query operator %q", k)
			}
			if err := checkOperators(e); err != nil {
				return err
			}
		}
	case []any:
		for _, e := range t {
			if err := checkOperators(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// projection includes fields and suppresses _id when it is not among them.
func projection(fields []string) bson.D {
	out := bson.D{}
	hasID := false
	for _, f := range fields {
		if f == model.IDField {
			hasID = true
		}
		out = append(out, bson.E{Key: f, Value: 1})
	}
	if !hasID {
		out = append(out, bson.E{Key: model.IDField, Value: 0})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// writeError classifies a write failure: duplicate keys are AlreadyExists
// and everything else is Internal.
func writeError(err error, op string) error {
	if mongo.IsDuplicateKeyError(err) {
		return dberr.Wrap(dberr.KindAlreadyExists, err, "duplicate key on "+op)
	}
	return queryError(err, op)
}

// queryError maps server-side rejections of a malformed query, such as an
// invalid $regex, to InvalidArgument.
func queryError(err error, op string) error {
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorCode(2) || se.HasErrorCode(51091)) {
		return dberr.Wrap(dberr.KindInvalidArgument, err, op)
	}
	return dberr.Backend(err, op)
}
