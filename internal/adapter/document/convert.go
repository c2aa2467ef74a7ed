package document

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/faucetdb/schemad/internal/adapter"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

// idFields returns the top-level fields whose values are stored as
// ObjectIDs: _id plus every ObjectId and Relation field.
func idFields(s model.Schema) map[string]bool {
	out := map[string]bool{model.IDField: true}
	for _, f := range s.Fields {
		if f.Kind == model.KindObjectID || f.Kind == model.KindRelation {
			out[f.Name] = true
		}
	}
	return out
}

// toObjectID converts a 24-character hex string to an ObjectID. Anything
// else is returned unchanged, so caller-chosen string ids keep working.
func toObjectID(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	oid, err := bson.ObjectIDFromHex(s)
	if err != nil {
		return v
	}
	return oid
}

// normalizeFilter rewrites identifier values of filter to ObjectIDs. It
// descends into $and/$or and into operator documents such as $in and $ne.
func normalizeFilter(filter query.Document, ids map[string]bool) bson.M {
	out := make(bson.M, len(filter))
	for k, v := range filter {
		switch {
		case k == "$and" || k == "$or" || k == "$nor":
			list, ok := v.([]any)
			if !ok {
				out[k] = v
				continue
			}
			parts := make(bson.A, len(list))
			for i, e := range list {
				if doc, ok := asDoc(e); ok {
					parts[i] = normalizeFilter(doc, ids)
				} else {
					parts[i] = e
				}
			}
			out[k] = parts
		case ids[k]:
			out[k] = normalizeIDValue(v)
		default:
			out[k] = v
		}
	}
	return out
}

func normalizeIDValue(v any) any {
	if doc, ok := asDoc(v); ok {
		ops := make(bson.M, len(doc))
		for op, arg := range doc {
			switch list := arg.(type) {
			case []any:
				conv := make(bson.A, len(list))
				for i, e := range list {
					conv[i] = toObjectID(e)
				}
				ops[op] = conv
			default:
				ops[op] = toObjectID(arg)
			}
		}
		return ops
	}
	if list, ok := v.([]any); ok {
		conv := make(bson.A, len(list))
		for i, e := range list {
			conv[i] = toObjectID(e)
		}
		return conv
	}
	return toObjectID(v)
}

// toStored converts a prepared record for insertion: identifier fields
// become ObjectIDs where possible.
func toStored(rec query.Document, ids map[string]bool) bson.M {
	out := make(bson.M, len(rec))
	for k, v := range rec {
		if ids[k] {
			out[k] = normalizeIDValue(v)
			continue
		}
		out[k] = v
	}
	return out
}

// toRecord converts a decoded BSON document into the canonical record
// shape: ObjectIDs become hex strings, dates become time.Time and nested
// documents become maps.
func toRecord(doc bson.M) adapter.Record {
	out := make(adapter.Record, len(doc))
	for k, v := range doc {
		out[k] = fromBSON(v)
	}
	return out
}

func fromBSON(v any) any {
	switch t := v.(type) {
	case bson.ObjectID:
		return t.Hex()
	case bson.DateTime:
		return t.Time().UTC()
	case time.Time:
		return t.UTC()
	case int32:
		return int64(t)
	case bson.M:
		return map[string]any(toRecord(t))
	case map[string]any:
		return map[string]any(toRecord(bson.M(t)))
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = fromBSON(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromBSON(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromBSON(e)
		}
		return out
	}
	return v
}

func asDoc(v any) (query.Document, bool) {
	switch t := v.(type) {
	case query.Document:
		return t, true
	case map[string]any:
		return query.Document(t), true
	case bson.M:
		return query.Document(t), true
	}
	return nil, false
}
