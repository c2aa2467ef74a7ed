package adapter

import (
	"context"
	"fmt"

	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

// Fetcher loads the record of schema whose id is id. It returns nil, nil
// when no such record exists and found=false when the schema itself is
// not registered.
type Fetcher func(ctx context.Context, schema string, id any) (rec Record, found bool, err error)

// Resolver populates relation fields of a result set. A Resolver carries
// the cache of one call: every distinct (schema, id) pair is fetched at
// most once during its lifetime.
type Resolver struct {
	fetch Fetcher
	cache map[string]cached
}

type cached struct {
	rec   Record
	found bool
}

// NewResolver returns a Resolver with an empty cache.
func NewResolver(fetch Fetcher) *Resolver {
	return &Resolver{fetch: fetch, cache: make(map[string]cached)}
}

// Populate replaces, in every record, each requested field declared as a
// relation with the referenced record. References into an unregistered
// schema are left as they are; references to a missing record become null.
// Requested fields that are not relations are ignored.
func (r *Resolver) Populate(ctx context.Context, relations map[string]string, records []Record, fields []string) error {
	for _, field := range fields {
		target, ok := relations[field]
		if !ok {
			continue
		}
		for _, rec := range records {
			if rec == nil {
				continue
			}
			val, ok := rec[field]
			if !ok || val == nil {
				continue
			}

			if list, isList := val.([]any); isList {
				out := make([]any, len(list))
				for i, id := range list {
					resolved, err := r.resolve(ctx, target, id)
					if err != nil {
						return err
					}
					out[i] = resolved
				}
				rec[field] = out
				continue
			}

			resolved, err := r.resolve(ctx, target, val)
			if err != nil {
				return err
			}
			rec[field] = resolved
		}
	}
	return nil
}

func (r *Resolver) resolve(ctx context.Context, target string, id any) (any, error) {
	if id == nil {
		return nil, nil
	}
	// An embedded object is already populated.
	if _, ok := id.(map[string]any); ok {
		return id, nil
	}

	key := target + "\x00" + fmt.Sprint(id)
	c, ok := r.cache[key]
	if !ok {
		rec, found, err := r.fetch(ctx, target, id)
		if err != nil {
			return nil, err
		}
		c = cached{rec: rec, found: found}
		r.cache[key] = c
	}
	if !c.found {
		return id, nil
	}
	if c.rec == nil {
		return nil, nil
	}
	return copyRecord(c.rec), nil
}

// copyRecord returns a shallow copy so populated records sharing a cached
// entry can be mutated independently.
func copyRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

// Populate expands fields of records using the schemas currently
// registered. Each call starts with an empty cache.
func (a *Adapter) Populate(ctx context.Context, sa *SchemaAdapter, records []Record, fields []string) error {
	if len(fields) == 0 || len(records) == 0 {
		return nil
	}
	return NewResolver(a.fetchByID).Populate(ctx, sa.Relations, records, fields)
}

func (a *Adapter) fetchByID(ctx context.Context, schema string, id any) (Record, bool, error) {
	m, ok := a.lookupModel(schema)
	if !ok {
		return nil, false, nil
	}
	rec, err := m.FindOne(ctx, query.Document{model.IDField: id}, FindOptions{})
	if err != nil {
		return nil, true, err
	}
	return rec, true, nil
}
