package adapter

import "github.com/faucetdb/schemad/internal/model"

// SchemaAdapter is an immutable registry entry: one compiled schema and
// the metadata derived from it. Any change to the schema or one of its
// extensions produces a new SchemaAdapter with a higher Version.
type SchemaAdapter struct {
	Declaration model.Declaration
	// Schema is the base schema merged with every extension.
	Schema    model.Schema
	Relations map[string]string
	Excluded  []string
	Version   uint64
	Model     Model
}

func newSchemaAdapter(d model.Declaration, m Model, version uint64) *SchemaAdapter {
	merged := d.Merged()
	return &SchemaAdapter{
		Declaration: d,
		Schema:      merged,
		Relations:   merged.Fields.Relations(),
		Excluded:    merged.Fields.Excluded(),
		Version:     version,
		Model:       m,
	}
}

// Name returns the schema name.
func (s *SchemaAdapter) Name() string { return s.Schema.Name }

// Original returns the schema as its owner declared it, without extensions.
func (s *SchemaAdapter) Original() model.Schema { return s.Declaration.Schema.Clone() }

// Extensions returns the extensions applied on top of the base schema.
// Tombstones of withdrawn extensions are left out.
func (s *SchemaAdapter) Extensions() []model.Extension { return s.Declaration.Live() }

// Owner returns the module that declared the base schema.
func (s *SchemaAdapter) Owner() string { return s.Declaration.Schema.OwnerModule }
