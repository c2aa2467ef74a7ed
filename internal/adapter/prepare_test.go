package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

func articleSchema() model.Schema {
	return model.Schema{
		Name: "Article",
		Fields: model.Fields{
			{Name: "title", Kind: model.KindString, Required: true},
			{Name: "views", Kind: model.KindNumber, Default: int64(0)},
			{Name: "published", Kind: model.KindBoolean},
			{Name: "tags", Kind: model.KindString, Array: true},
			{Name: "author", Kind: model.KindRelation, Model: "Author"},
			{Name: "meta", Kind: model.KindObject, Fields: model.Fields{
				{Name: "words", Kind: model.KindNumber},
			}},
		},
		Options: model.DefaultOptions(),
	}
}

func TestPrepareCreate(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := query.Document{
		"_id":       "fixed",
		"title":     "Hello",
		"published": "true",
		"tags":      []any{"a", "b"},
		"author":    map[string]any{"_id": "a1", "name": "ignored"},
		"meta":      map[string]any{"words": "120", "extra": true},
		"unknown":   1,
	}

	out, err := PrepareCreate(articleSchema(), doc, now)
	require.NoError(t, err)

	assert.Equal(t, "fixed", out["_id"])
	assert.Equal(t, "Hello", out["title"])
	assert.Equal(t, int64(0), out["views"])
	assert.Equal(t, true, out["published"])
	assert.Equal(t, []any{"a", "b"}, out["tags"])
	assert.Equal(t, "a1", out["author"])
	assert.Equal(t, map[string]any{"words": int64(120), "extra": true}, out["meta"])
	assert.Equal(t, now, out["createdAt"])
	assert.Equal(t, now, out["updatedAt"])
	assert.NotContains(t, out, "unknown")
}

func TestPrepareCreateErrors(t *testing.T) {
	now := time.Now()

	_, err := PrepareCreate(articleSchema(), query.Document{"views": 3}, now)
	require.Error(t, err)
	assert.Equal(t, dberr.KindInvalidArgument, dberr.KindOf(err))
	assert.Contains(t, err.Error(), "title is required")

	_, err = PrepareCreate(articleSchema(), query.Document{"title": "x", "$set": query.Document{}}, now)
	assert.Equal(t, dberr.KindInvalidArgument, dberr.KindOf(err))

	_, err = PrepareCreate(articleSchema(), query.Document{"title": "x", "views": "many"}, now)
	assert.Equal(t, dberr.KindInvalidArgument, dberr.KindOf(err))

	_, err = PrepareCreate(articleSchema(), query.Document{"title": "x", "tags": "solo"}, now)
	assert.Equal(t, dberr.KindInvalidArgument, dberr.KindOf(err))
}

func TestPrepareUpdate(t *testing.T) {
	now := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	s := articleSchema()

	merged, err := PrepareUpdate(s, query.Document{"views": 5.0}, false, nil, now)
	require.NoError(t, err)
	assert.Equal(t, query.Document{"views": 5.0, "updatedAt": now}, merged)

	replaced, err := PrepareUpdate(s, query.Document{"title": "New"}, true, map[string]bool{"tags": true}, now)
	require.NoError(t, err)
	assert.Equal(t, "New", replaced["title"])
	assert.Contains(t, replaced, "views")
	assert.Nil(t, replaced["views"])
	assert.NotContains(t, replaced, "tags")
	assert.NotContains(t, replaced, "createdAt")

	_, err = PrepareUpdate(s, query.Document{"views": 1}, true, nil, now)
	assert.Equal(t, dberr.KindInvalidArgument, dberr.KindOf(err))

	_, err = PrepareUpdate(s, query.Document{"title": nil}, false, nil, now)
	assert.Equal(t, dberr.KindInvalidArgument, dberr.KindOf(err))
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name  string
		field model.Field
		in    any
		want  any
	}{
		{"string from number", model.Field{Name: "f", Kind: model.KindString}, int64(7), "7"},
		{"number from string", model.Field{Name: "f", Kind: model.KindNumber}, "2.5", 2.5},
		{"integer stays integer", model.Field{Name: "f", Kind: model.KindNumber}, 3, int64(3)},
		{"boolean from integer", model.Field{Name: "f", Kind: model.KindBoolean}, int64(0), false},
		{"date from millis", model.Field{Name: "f", Kind: model.KindDate}, int64(0), time.Unix(0, 0).UTC()},
		{"date from day", model.Field{Name: "f", Kind: model.KindDate}, "2024-01-31", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)},
		{"json passthrough", model.Field{Name: "f", Kind: model.KindJSON}, []any{1.0, "x"}, []any{1.0, "x"}},
		{"null", model.Field{Name: "f", Kind: model.KindNumber}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.field, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Coerce(model.Field{Name: "when", Kind: model.KindDate}, "yesterday")
	assert.Error(t, err)
	_, err = Coerce(model.Field{Name: "ok", Kind: model.KindBoolean}, "maybe")
	assert.Error(t, err)
}

func TestCreateWithPopulations(t *testing.T) {
	authors := &fakeModel{}
	lookup := func(name string) (Model, bool) {
		if name == "Author" {
			return authors, true
		}
		return nil, false
	}

	doc := query.Document{
		"title":  "Hello",
		"author": map[string]any{"name": "Ada"},
	}
	require.NoError(t, CreateWithPopulations(context.Background(), articleSchema(), doc, lookup))
	assert.Equal(t, "id-1", doc["author"])
	require.Len(t, authors.records, 1)
	assert.Equal(t, "Ada", authors.records[0]["name"])

	doc = query.Document{"author": map[string]any{"_id": "existing"}}
	require.NoError(t, CreateWithPopulations(context.Background(), articleSchema(), doc, lookup))
	assert.Equal(t, "existing", doc["author"])
	assert.Len(t, authors.records, 1)

	broken := articleSchema()
	broken.Fields[4].Model = "Nobody"
	doc = query.Document{"author": map[string]any{"name": "Bob"}}
	err := CreateWithPopulations(context.Background(), broken, doc, lookup)
	assert.Equal(t, dberr.KindInvalidArgument, dberr.KindOf(err))
}
