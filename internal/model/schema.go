package model

import (
	"fmt"
	"strings"

	"github.com/faucetdb/schemad/internal/dberr"
)

// System fields present on every stored record.
const (
	IDField        = "_id"
	CreatedAtField = "createdAt"
	UpdatedAtField = "updatedAt"
)

// FieldKind is the closed set of types a field descriptor can carry.
type FieldKind int

const (
	KindString FieldKind = iota + 1
	KindNumber
	KindBoolean
	KindDate
	KindObjectID
	KindJSON
	KindRelation
	// KindObject is a nested descriptor tree (an embedded sub-document).
	KindObject
)

var kindNames = map[FieldKind]string{
	KindString:   "String",
	KindNumber:   "Number",
	KindBoolean:  "Boolean",
	KindDate:     "Date",
	KindObjectID: "ObjectId",
	KindJSON:     "JSON",
	KindRelation: "Relation",
	KindObject:   "Object",
}

// String returns the wire name of the kind.
func (k FieldKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("FieldKind(%d)", int(k))
}

// ParseFieldKind maps a wire type name to a FieldKind. Matching is
// case-insensitive so "string" and "String" are equivalent.
func ParseFieldKind(s string) (FieldKind, error) {
	for k, n := range kindNames {
		if k == KindObject {
			continue
		}
		if strings.EqualFold(n, s) {
			return k, nil
		}
	}
	return 0, dberr.InvalidArgument("unknown field type %q", s)
}

// Field is a single field descriptor. Array marks an "array-of" wrapper
// around the descriptor.
type Field struct {
	Name        string
	Kind        FieldKind
	Array       bool
	Required    bool
	Unique      bool
	Default     any
	Select      *bool
	Model       string // target schema, Relation only
	Description string
	Fields      Fields // children, Object only
}

// Selected reports whether the field is returned by default projections.
func (f Field) Selected() bool {
	return f.Select == nil || *f.Select
}

// IsRelation reports whether the field references another schema.
func (f Field) IsRelation() bool {
	return f.Kind == KindRelation
}

// Fields is an ordered field set.
type Fields []Field

// Get returns the field with the given name.
func (fs Fields) Get(name string) (Field, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Has reports whether a field with the given name exists.
func (fs Fields) Has(name string) bool {
	_, ok := fs.Get(name)
	return ok
}

// Names returns field names in declaration order.
func (fs Fields) Names() []string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.Name
	}
	return names
}

// Clone returns a deep copy of the field set.
func (fs Fields) Clone() Fields {
	if fs == nil {
		return nil
	}
	out := make(Fields, len(fs))
	for i, f := range fs {
		if f.Select != nil {
			v := *f.Select
			f.Select = &v
		}
		f.Fields = f.Fields.Clone()
		out[i] = f
	}
	return out
}

// Merge returns a new field set where fields from other replace same-named
// fields in fs (keeping their position) and unknown fields are appended.
func (fs Fields) Merge(other Fields) Fields {
	out := fs.Clone()
	for _, f := range other.Clone() {
		replaced := false
		for i := range out {
			if out[i].Name == f.Name {
				out[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, f)
		}
	}
	return out
}

// Relations returns field name -> target schema for every Relation field.
func (fs Fields) Relations() map[string]string {
	rel := make(map[string]string)
	for _, f := range fs {
		if f.IsRelation() {
			rel[f.Name] = f.Model
		}
	}
	return rel
}

// Excluded returns the names of fields declared with select:false.
func (fs Fields) Excluded() []string {
	var out []string
	for _, f := range fs {
		if !f.Selected() {
			out = append(out, f.Name)
		}
	}
	return out
}

func (fs Fields) validate(path string) error {
	seen := make(map[string]bool, len(fs))
	for _, f := range fs {
		name := path + f.Name
		if f.Name == "" {
			return dberr.InvalidArgument("empty field name in %q", path)
		}
		if seen[f.Name] {
			return dberr.InvalidArgument("duplicate field %q", name)
		}
		seen[f.Name] = true
		switch f.Kind {
		case KindRelation:
			if f.Model == "" {
				return dberr.InvalidArgument("relation field %q must declare a model", name)
			}
		case KindObject:
			if err := f.Fields.validate(name + "."); err != nil {
				return err
			}
		case KindString, KindNumber, KindBoolean, KindDate, KindObjectID, KindJSON:
		default:
			return dberr.InvalidArgument("field %q has no valid type", name)
		}
	}
	return nil
}

// ModifyPermission controls who may modify records of a schema.
type ModifyPermission string

const (
	ModifyEveryone      ModifyPermission = "Everyone"
	ModifyExtensionOnly ModifyPermission = "ExtensionOnly"
	ModifyNobody        ModifyPermission = "Nobody"
)

// Permissions are the per-schema rules consulted by the permission gate.
type Permissions struct {
	Extendable bool             `json:"extendable"`
	CanCreate  bool             `json:"canCreate"`
	CanModify  ModifyPermission `json:"canModify"`
	CanDelete  bool             `json:"canDelete"`
}

// DefaultPermissions returns the permissive defaults applied when a schema
// does not declare permissions.
func DefaultPermissions() Permissions {
	return Permissions{
		Extendable: true,
		CanCreate:  true,
		CanModify:  ModifyEveryone,
		CanDelete:  true,
	}
}

// Options are the schema-level model options.
type Options struct {
	Timestamps  bool        `json:"timestamps"`
	Permissions Permissions `json:"permissions"`
}

// DefaultOptions returns timestamps on and default permissions.
func DefaultOptions() Options {
	return Options{Timestamps: true, Permissions: DefaultPermissions()}
}

// Schema is a named field structure declared at runtime by some module.
type Schema struct {
	Name           string  `json:"name"`
	Fields         Fields  `json:"fields"`
	Options        Options `json:"options"`
	CollectionName string  `json:"collectionName,omitempty"`
	OwnerModule    string  `json:"ownerModule"`
}

// ValidateSchemaName rejects empty names and names containing spaces or
// hyphens.
func ValidateSchemaName(name string) error {
	if name == "" {
		return dberr.InvalidArgument("schema name is required")
	}
	if strings.ContainsAny(name, " -") {
		return dberr.InvalidArgument("Names cannot include spaces and - characters")
	}
	return nil
}

// Validate checks the schema name and every field descriptor.
func (s *Schema) Validate() error {
	if err := ValidateSchemaName(s.Name); err != nil {
		return err
	}
	if err := s.Fields.validate(""); err != nil {
		return err
	}
	switch s.Options.Permissions.CanModify {
	case ModifyEveryone, ModifyExtensionOnly, ModifyNobody:
	case "":
		s.Options.Permissions.CanModify = ModifyEveryone
	default:
		return dberr.InvalidArgument("invalid canModify value %q", s.Options.Permissions.CanModify)
	}
	return nil
}

// Collection returns the backing table/collection name.
func (s Schema) Collection() string {
	if s.CollectionName != "" {
		return s.CollectionName
	}
	return s.Name
}

// Clone returns a deep copy.
func (s Schema) Clone() Schema {
	s.Fields = s.Fields.Clone()
	return s
}

// Extension is a set of fields a module contributes to another module's
// schema.
//
// UpdatedAt stamps the last change; Removed marks a tombstone left when
// the owner withdrew its fields.
type Extension struct {
	OwnerModule string `json:"ownerModule"`
	Name        string `json:"name"`
	Fields      Fields `json:"fields"`
	UpdatedAt   int64  `json:"updatedAt,omitempty"`
	Removed     bool   `json:"removed,omitempty"`
}
