package model

// TableSchema describes the relational table compiled from a Schema.
type TableSchema struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	PrimaryKey []string `json:"primary_key"`
	Indexes    []Index  `json:"indexes"`
}

// Column describes a single column within a table.
type Column struct {
	Name     string    `json:"name"`
	Kind     FieldKind `json:"-"`
	Array    bool      `json:"array"`
	Nullable bool      `json:"nullable"`
	IsUnique bool      `json:"is_unique"`
	// Type overrides the dialect's mapping of Kind when set.
	Type string `json:"db_type,omitempty"`
}

// IsJSON reports whether the column stores JSON text: arrays, embedded
// objects and JSON fields.
func (c Column) IsJSON() bool {
	return c.Array || c.Kind == KindJSON || c.Kind == KindObject
}

// Index describes a database index on one or more columns.
type Index struct {
	Name     string   `json:"name"`
	Columns  []string `json:"columns"`
	IsUnique bool     `json:"is_unique"`
}

// TableFor compiles the relational table definition of s. The _id column
// is the primary key; createdAt and updatedAt are added when timestamps
// are enabled.
func TableFor(s Schema) TableSchema {
	t := TableSchema{
		Name:       s.Collection(),
		PrimaryKey: []string{IDField},
	}
	t.Columns = append(t.Columns, Column{Name: IDField, Kind: KindString})
	for _, f := range s.Fields {
		if f.Name == IDField {
			continue
		}
		t.Columns = append(t.Columns, ColumnFor(f))
	}
	if s.Options.Timestamps {
		for _, name := range []string{CreatedAtField, UpdatedAtField} {
			if !s.Fields.Has(name) {
				t.Columns = append(t.Columns, Column{Name: name, Kind: KindDate, Nullable: true})
			}
		}
	}
	return t
}

// ColumnFor maps a field descriptor to a column. Required fields are still
// nullable at the database level so extension columns can be added to
// populated tables; presence is enforced on write instead.
func ColumnFor(f Field) Column {
	return Column{
		Name:     f.Name,
		Kind:     f.Kind,
		Array:    f.Array,
		Nullable: true,
		IsUnique: f.Unique && !f.Array,
	}
}
