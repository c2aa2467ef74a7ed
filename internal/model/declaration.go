package model

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/faucetdb/schemad/internal/dberr"
)

// Declaration is the durable record of a schema: the definition as its
// owner declared it plus every extension keyed by owning module.
//
// UpdatedAt stamps the base section and each Extension carries its own
// stamp, so two declarations of the same schema can be merged section by
// section (see Reconcile). A removed extension stays behind as a
// tombstone so the removal wins over older copies still held by peers.
type Declaration struct {
	Schema     Schema      `json:"schema"`
	Extensions []Extension `json:"extensions,omitempty"`
	UpdatedAt  int64       `json:"updatedAt,omitempty"`
}

// clock returns the current stamp in Unix nanoseconds.
var clock = func() int64 { return time.Now().UnixNano() }

// nextStamp returns a stamp later than both prev and the current time.
func nextStamp(prev int64) int64 {
	now := clock()
	if now <= prev {
		return prev + 1
	}
	return now
}

// Merged returns the schema with every live extension applied in owner
// order.
func (d Declaration) Merged() Schema {
	out := d.Schema.Clone()
	for _, ext := range d.sortedExtensions() {
		if ext.Removed {
			continue
		}
		out.Fields = out.Fields.Merge(ext.Fields)
	}
	return out
}

// Normalized returns a copy of d with extensions in owner order, the form
// WithExtension produces.
func (d Declaration) Normalized() Declaration {
	return Declaration{Schema: d.Schema.Clone(), Extensions: d.sortedExtensions(), UpdatedAt: d.UpdatedAt}
}

// Live returns the extensions that are not tombstones, in owner order.
func (d Declaration) Live() []Extension {
	var out []Extension
	for _, ext := range d.sortedExtensions() {
		if !ext.Removed {
			out = append(out, ext)
		}
	}
	return out
}

// Extension returns the live extension owned by module.
func (d Declaration) Extension(module string) (Extension, bool) {
	for _, ext := range d.Extensions {
		if ext.OwnerModule == module && !ext.Removed {
			return ext, true
		}
	}
	return Extension{}, false
}

// WithBase returns a copy of d whose base section is s, stamped later
// than the one it replaces.
func (d Declaration) WithBase(s Schema) Declaration {
	out := d.Normalized()
	out.Schema = s.Clone()
	out.UpdatedAt = nextStamp(d.UpdatedAt)
	return out
}

// WithExtension returns a copy of d where module's extension is replaced
// by fields. Empty fields remove the extension, leaving a tombstone when
// module had one. Setting the fields module already has changes nothing.
func (d Declaration) WithExtension(module string, fields Fields) Declaration {
	var prev *Extension
	out := Declaration{Schema: d.Schema.Clone(), UpdatedAt: d.UpdatedAt}
	for _, ext := range d.Extensions {
		if ext.OwnerModule == module {
			e := ext
			prev = &e
			continue
		}
		out.Extensions = append(out.Extensions, ext.clone())
	}

	switch {
	case prev != nil && !prev.Removed && len(fields) > 0 && sameJSON(prev.Fields, fields):
		out.Extensions = append(out.Extensions, prev.clone())
	case len(fields) > 0:
		var stamp int64
		if prev != nil {
			stamp = prev.UpdatedAt
		}
		out.Extensions = append(out.Extensions, Extension{
			OwnerModule: module,
			Name:        d.Schema.Name,
			Fields:      fields.Clone(),
			UpdatedAt:   nextStamp(stamp),
		})
	case prev != nil && !prev.Removed:
		out.Extensions = append(out.Extensions, Extension{
			OwnerModule: module,
			Name:        d.Schema.Name,
			UpdatedAt:   nextStamp(prev.UpdatedAt),
			Removed:     true,
		})
	case prev != nil:
		out.Extensions = append(out.Extensions, prev.clone())
	}
	out.Extensions = out.sortedExtensions()
	return out
}

// Reconcile merges a peer's copy of the same schema into d. The base
// section and each owner's extension are taken from whichever side
// stamped them last; equal stamps are settled by comparing the encoded
// sections, so every instance picks the same winner whatever the order
// the copies arrive in.
func (d Declaration) Reconcile(peer Declaration) Declaration {
	out := Declaration{Schema: d.Schema.Clone(), UpdatedAt: d.UpdatedAt}
	if newer(peer.UpdatedAt, d.UpdatedAt, peer.Schema, d.Schema) {
		out.Schema = peer.Schema.Clone()
		out.UpdatedAt = peer.UpdatedAt
	}

	byOwner := make(map[string]Extension, len(d.Extensions)+len(peer.Extensions))
	for _, ext := range d.Extensions {
		byOwner[ext.OwnerModule] = ext
	}
	for _, ext := range peer.Extensions {
		cur, ok := byOwner[ext.OwnerModule]
		if !ok || newer(ext.UpdatedAt, cur.UpdatedAt, ext, cur) {
			byOwner[ext.OwnerModule] = ext
		}
	}
	for _, ext := range byOwner {
		out.Extensions = append(out.Extensions, ext.clone())
	}
	out.Extensions = out.sortedExtensions()
	return out
}

// Equal reports whether d and other encode identically.
func (d Declaration) Equal(other Declaration) bool {
	return sameJSON(d.Normalized(), other.Normalized())
}

// Validate checks the base schema, every live extension and the merged
// result.
func (d *Declaration) Validate() error {
	if err := d.Schema.Validate(); err != nil {
		return err
	}
	for _, ext := range d.Extensions {
		if ext.OwnerModule == "" {
			return dberr.InvalidArgument("extension of %q has no owner", d.Schema.Name)
		}
		if ext.Removed {
			continue
		}
		if err := ext.Fields.validate(""); err != nil {
			return err
		}
	}
	merged := d.Merged()
	return merged.Fields.validate("")
}

func (d Declaration) sortedExtensions() []Extension {
	exts := make([]Extension, len(d.Extensions))
	copy(exts, d.Extensions)
	sort.SliceStable(exts, func(i, j int) bool {
		return exts[i].OwnerModule < exts[j].OwnerModule
	})
	return exts
}

func (e Extension) clone() Extension {
	e.Fields = e.Fields.Clone()
	return e
}

// newer reports whether the section stamped a beats the one stamped b.
func newer(a, b int64, x, y any) bool {
	if a != b {
		return a > b
	}
	xs, err := json.Marshal(x)
	if err != nil {
		return false
	}
	ys, err := json.Marshal(y)
	if err != nil {
		return false
	}
	return bytes.Compare(xs, ys) > 0
}

func sameJSON(x, y any) bool {
	xs, err := json.Marshal(x)
	if err != nil {
		return false
	}
	ys, err := json.Marshal(y)
	if err != nil {
		return false
	}
	return bytes.Equal(xs, ys)
}
