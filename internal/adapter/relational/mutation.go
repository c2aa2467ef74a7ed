package relational

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/faucetdb/schemad/internal/adapter"
	"github.com/faucetdb/schemad/internal/connector"
	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

// FindByIDAndUpdate applies update to the record with the given id in a
// fixed order: $inc on the server, then the plain field merge, then $push
// on the server, then $pull spliced client-side, and finally one upsert by
// id. Columns touched by $inc or $push are left out of the final write so
// the server-side results survive. Nothing is rolled back when a later
// step fails.
//
// Plain fields replace the whole record unless opts.ProvidedOnly is set or
// they arrive inside $set; an update made only of directives leaves the
// other fields alone.
func (m *Model) FindByIDAndUpdate(ctx context.Context, id string, update query.Document, opts adapter.UpdateOptions) (adapter.Record, error) {
	u, err := m.splitUpdate(update)
	if err != nil {
		return nil, err
	}
	byID := query.Document{model.IDField: id}

	n, err := m.CountDocuments(ctx, byID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, dberr.NotFound("%s %s not found", m.schema.Name, id)
	}

	if err := m.increment(ctx, byID, u.Inc); err != nil {
		return nil, err
	}

	fields := u.Base.Clone()
	for k, v := range u.Set {
		fields[k] = v
	}
	replace := !opts.ProvidedOnly && !u.HasSet && len(u.Base) > 0
	directed := u.Directed()
	rec, err := adapter.PrepareUpdate(m.schema, fields, replace, directed, m.now())
	if err != nil {
		return nil, err
	}

	if err := m.push(ctx, byID, u.Push); err != nil {
		return nil, err
	}

	if len(u.Pull) > 0 {
		current, err := m.selectRecords(ctx, byID, m.names, nil, 1, 0)
		if err != nil {
			return nil, err
		}
		if len(current) == 0 {
			return nil, dberr.NotFound("%s %s not found", m.schema.Name, id)
		}
		pulled, err := m.pull(current[0], u.Pull)
		if err != nil {
			return nil, err
		}
		for k, v := range pulled {
			rec[k] = v
		}
	}

	if len(rec) > 0 {
		rec[model.IDField] = id
		row, err := m.encodeRecord(rec)
		if err != nil {
			return nil, err
		}
		stmt, args, err := m.conn.BuildUpsert(ctx, connector.UpsertRequest{
			Table:  m.table.Name,
			Key:    model.IDField,
			Record: row,
		})
		if err != nil {
			return nil, dberr.Backend(err, "build upsert")
		}
		if _, err := m.exec(ctx, "update "+m.table.Name, stmt, args); err != nil {
			return nil, err
		}
	}

	out, err := m.selectRecords(ctx, byID, m.names, nil, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, dberr.NotFound("%s %s not found", m.schema.Name, id)
	}
	return out[0], nil
}

// UpdateMany runs the same pipeline across every matching record. Plain
// fields are always merged, with or without ProvidedOnly; no matched row
// is ever replaced. $inc and $push run as single statements while $pull
// rewrites the matched records one by one. Modified reports the matched
// count since the drivers do not tell unchanged rows apart.
func (m *Model) UpdateMany(ctx context.Context, filter, update query.Document, _ adapter.UpdateOptions) (adapter.UpdateResult, error) {
	u, err := m.splitUpdate(update)
	if err != nil {
		return adapter.UpdateResult{}, err
	}

	// Fix the matched set first so a plain update of a filtered column does
	// not change what the later steps see.
	ids, err := m.matchingIDs(ctx, filter, 0)
	if err != nil {
		return adapter.UpdateResult{}, err
	}
	if len(ids) == 0 {
		return adapter.UpdateResult{}, nil
	}
	matched := query.Document{model.IDField: query.Document{"$in": ids}}

	if err := m.increment(ctx, matched, u.Inc); err != nil {
		return adapter.UpdateResult{}, err
	}

	fields := u.Base.Clone()
	for k, v := range u.Set {
		fields[k] = v
	}
	rec, err := adapter.PrepareUpdate(m.schema, fields, false, u.Directed(), m.now())
	if err != nil {
		return adapter.UpdateResult{}, err
	}
	if len(rec) > 0 {
		if err := m.assign(ctx, matched, rec); err != nil {
			return adapter.UpdateResult{}, err
		}
	}

	if err := m.push(ctx, matched, u.Push); err != nil {
		return adapter.UpdateResult{}, err
	}

	if len(u.Pull) > 0 {
		current, err := m.selectRecords(ctx, matched, m.names, nil, 0, 0)
		if err != nil {
			return adapter.UpdateResult{}, err
		}
		for _, r := range current {
			pulled, err := m.pull(r, u.Pull)
			if err != nil {
				return adapter.UpdateResult{}, err
			}
			if err := m.assign(ctx, query.Document{model.IDField: r[model.IDField]}, pulled); err != nil {
				return adapter.UpdateResult{}, err
			}
		}
	}

	n := int64(len(ids))
	return adapter.UpdateResult{Matched: n, Modified: n}, nil
}

// splitUpdate separates the directives of update and checks every field
// they target is declared, and that $push and $pull target arrays.
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

func (m *Model) increment(ctx context.Context, filter query.Document, deltas map[string]float64) error {
	if len(deltas) == 0 {
		return nil
	}
	stmt, args, err := m.conn.BuildIncrement(ctx, connector.IncrementRequest{
		Table:  m.table.Name,
		Filter: filter,
		Deltas: deltas,
	})
	if err != nil {
		return dberr.Backend(err, "build increment")
	}
	_, err = m.exec(ctx, "increment "+m.table.Name, stmt, args)
	return err
}

func (m *Model) push(ctx context.Context, filter query.Document, push map[string][]any) error {
	fields := make([]string, 0, len(push))
	for f := range push {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		values, err := m.elements(f, push[f])
		if err != nil {
			return err
		}
		stmt, args, err := m.conn.BuildArrayAppend(ctx, connector.ArrayAppendRequest{
			Table:  m.table.Name,
			Filter: filter,
			Column: f,
			Values: values,
		})
		if err != nil {
			return dberr.Backend(err, "build array append")
		}
		if _, err := m.exec(ctx, "push to "+m.table.Name+"."+f, stmt, args); err != nil {
			return err
		}
	}
	return nil
}

// pull returns, for every field in pull, the stored array of rec without
// the elements equal to one of the given values.
func (m *Model) pull(rec adapter.Record, pull map[string][]any) (map[string]any, error) {
	out := make(map[string]any, len(pull))
	for f, values := range pull {
		remove := make(map[string]bool, len(values))
		elems, err := m.elements(f, values)
		if err != nil {
			return nil, err
		}
		for _, v := range elems {
			key, err := elementKey(v)
			if err != nil {
				return nil, err
			}
			remove[key] = true
		}

		list, _ := rec[f].([]any)
		kept := make([]any, 0, len(list))
		for _, e := range list {
			key, err := elementKey(e)
			if err != nil {
				return nil, err
			}
			if !remove[key] {
				kept = append(kept, e)
			}
		}
		out[f] = kept
	}
	return out, nil
}

func (m *Model) assign(ctx context.Context, filter query.Document, rec map[string]any) error {
	row, err := m.encodeRecord(rec)
	if err != nil {
		return err
	}
	if len(row) == 0 {
		return nil
	}
	stmt, args, err := m.conn.BuildUpdate(ctx, connector.UpdateRequest{
		Table:  m.table.Name,
		Filter: filter,
		Record: row,
	})
	if err != nil {
		return dberr.Backend(err, "build update")
	}
	_, err = m.exec(ctx, "update "+m.table.Name, stmt, args)
	return err
}

// elements coerces directive values to the element type of field f.
func (m *Model) elements(f string, values []any) ([]any, error) {
	field, _ := m.schema.Fields.Get(f)
	if !field.Array {
		return values, nil
	}
	elem := field
	elem.Array = false
	out := make([]any, len(values))
	for i, v := range values {
		c, err := adapter.Coerce(elem, v)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

// elementKey is the comparison key of an array element: its JSON text.
// Numbers decode as int64 or float64 depending on their text, so both are
// folded to float64 first.
func elementKey(v any) (string, error) {
	switch n := v.(type) {
	case int64:
		v = float64(n)
	case int:
		v = float64(n)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", dberr.Wrap(dberr.KindInvalidArgument, err, "array element is not serializable")
	}
	return string(raw), nil
}
