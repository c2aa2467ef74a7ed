package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

func newTestAdapter(t *testing.T) (*Adapter, *fakeBackend) {
	t.Helper()
	b := newFakeBackend()
	a := New(b, Options{Retry: RetryConfig{Attempts: 3, Delay: time.Millisecond}})
	require.NoError(t, a.Start(context.Background()))
	return a, b
}

func widget() model.Schema {
	return model.Schema{
		Name:        "Widget",
		OwnerModule: "inventory",
		Fields: model.Fields{
			{Name: "title", Kind: model.KindString, Required: true},
			{Name: "qty", Kind: model.KindNumber},
		},
		Options: model.DefaultOptions(),
	}
}

func TestCreateSchemaRejectsInvalidNames(t *testing.T) {
	a, b := newTestAdapter(t)
	ctx := context.Background()

	for _, name := range []string{"My Widget", "my-widget", " ", "a-b c"} {
		s := widget()
		s.Name = name
		_, err := a.CreateSchemaFromAdapter(ctx, s)
		require.Error(t, err, name)
		assert.Equal(t, dberr.KindInvalidArgument, dberr.KindOf(err), name)
	}

	assert.Empty(t, a.GetSchemas())
	stored, err := b.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestCreateSchemaRegistersAndPersists(t *testing.T) {
	a, b := newTestAdapter(t)
	ctx := context.Background()

	sa, err := a.CreateSchemaFromAdapter(ctx, widget())
	require.NoError(t, err)
	assert.Equal(t, "Widget", sa.Name())
	assert.Equal(t, []string{"title", "qty"}, sa.Schema.Fields.Names())
	assert.NotNil(t, sa.Model)

	got, err := a.GetSchemaModel("Widget")
	require.NoError(t, err)
	assert.Same(t, sa, got)

	stored, err := b.store.Load(ctx, "Widget")
	require.NoError(t, err)
	assert.Equal(t, "inventory", stored.Schema.OwnerModule)
}

func TestCreateSchemaFromOtherModuleBecomesExtension(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	first, err := a.CreateSchemaFromAdapter(ctx, widget())
	require.NoError(t, err)

	ext := model.Schema{
		Name:        "Widget",
		OwnerModule: "billing",
		Fields:      model.Fields{{Name: "price", Kind: model.KindNumber}},
		Options:     model.DefaultOptions(),
	}
	second, err := a.CreateSchemaFromAdapter(ctx, ext)
	require.NoError(t, err)

	assert.Greater(t, second.Version, first.Version)
	assert.Equal(t, "inventory", second.Owner())
	assert.Equal(t, []string{"title", "qty", "price"}, second.Schema.Fields.Names())
	assert.Equal(t, []string{"title", "qty"}, second.Original().Fields.Names())
	require.Len(t, second.Extensions(), 1)
	assert.Equal(t, "billing", second.Extensions()[0].OwnerModule)

	// The entry handed out earlier is never mutated.
	assert.Equal(t, []string{"title", "qty"}, first.Schema.Fields.Names())
}

func TestOwnerRedeclarationReplacesBase(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.CreateSchemaFromAdapter(ctx, widget())
	require.NoError(t, err)
	_, err = a.SetSchemaExtension(ctx, "Widget", "billing", model.Fields{{Name: "price", Kind: model.KindNumber}})
	require.NoError(t, err)

	s := widget()
	s.Fields = append(s.Fields, model.Field{Name: "color", Kind: model.KindString})
	sa, err := a.CreateSchemaFromAdapter(ctx, s)
	require.NoError(t, err)

	assert.Equal(t, []string{"title", "qty", "color"}, sa.Original().Fields.Names())
	assert.True(t, sa.Schema.Fields.Has("price"), "extensions survive a base redeclaration")
}

func TestSetSchemaExtension(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.SetSchemaExtension(ctx, "Missing", "billing", model.Fields{{Name: "x", Kind: model.KindString}})
	assert.True(t, errors.Is(err, dberr.ErrNotFound))

	closed := widget()
	closed.Options.Permissions.Extendable = false
	_, err = a.CreateSchemaFromAdapter(ctx, closed)
	require.NoError(t, err)

	_, err = a.SetSchemaExtension(ctx, "Widget", "billing", model.Fields{{Name: "price", Kind: model.KindNumber}})
	assert.Equal(t, dberr.KindPermissionDenied, dberr.KindOf(err))

	_, err = a.CreateSchemaFromAdapter(ctx, model.Schema{Name: "Widget", OwnerModule: "billing", Options: model.DefaultOptions()})
	assert.Equal(t, dberr.KindPermissionDenied, dberr.KindOf(err))
}

func TestSetSchemaExtensionIsIdempotent(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.CreateSchemaFromAdapter(ctx, widget())
	require.NoError(t, err)

	fields := model.Fields{
		{Name: "price", Kind: model.KindNumber},
		{Name: "currency", Kind: model.KindString},
	}
	once, err := a.SetSchemaExtension(ctx, "Widget", "billing", fields)
	require.NoError(t, err)
	twice, err := a.SetSchemaExtension(ctx, "Widget", "billing", fields)
	require.NoError(t, err)

	assert.Equal(t, once.Schema.Fields.Names(), twice.Schema.Fields.Names())
	assert.Len(t, twice.Extensions(), 1)

	removed, err := a.SetSchemaExtension(ctx, "Widget", "billing", nil)
	require.NoError(t, err)
	assert.Empty(t, removed.Extensions())
	assert.False(t, removed.Schema.Fields.Has("price"))
}

func TestApplyDeclarationSkipsIdenticalState(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	d := model.Declaration{Schema: widget()}.
		WithExtension("billing", model.Fields{{Name: "price", Kind: model.KindNumber}})

	sa, changed, err := a.ApplyDeclaration(ctx, d)
	require.NoError(t, err)
	assert.True(t, changed)

	again, changed, err := a.ApplyDeclaration(ctx, d)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, sa.Version, again.Version)
}

func TestDeleteSchema(t *testing.T) {
	a, b := newTestAdapter(t)
	ctx := context.Background()

	locked := widget()
	locked.Options.Permissions.CanDelete = false
	_, err := a.CreateSchemaFromAdapter(ctx, locked)
	require.NoError(t, err)

	_, err = a.DeleteSchema(ctx, "Widget", true, "billing")
	assert.Equal(t, dberr.KindPermissionDenied, dberr.KindOf(err))
	_, err = a.GetSchemaModel("Widget")
	require.NoError(t, err, "schema stays queryable after a denied delete")
	assert.Empty(t, b.dropped)

	msg, err := a.DeleteSchema(ctx, "Widget", true, "inventory")
	require.NoError(t, err)
	assert.Equal(t, DeletedMessage, msg)
	assert.Equal(t, []string{"Widget"}, b.dropped)

	_, err = a.GetSchema("Widget")
	assert.True(t, errors.Is(err, dberr.ErrNotFound))
	_, err = b.store.Load(ctx, "Widget")
	assert.Error(t, err)

	_, err = a.DeleteSchema(ctx, "Widget", false, "inventory")
	assert.True(t, errors.Is(err, dberr.ErrNotFound))
}

func TestUnregisterKeepsData(t *testing.T) {
	a, b := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.CreateSchemaFromAdapter(ctx, widget())
	require.NoError(t, err)

	assert.True(t, a.Unregister(ctx, "Widget"))
	assert.False(t, a.Unregister(ctx, "Widget"))
	assert.Empty(t, b.dropped)
	_, err = a.GetSchema("Widget")
	assert.Error(t, err)
}

func TestRecoverSchemasSkipsFailures(t *testing.T) {
	b := newFakeBackend()
	ctx := context.Background()

	for _, name := range []string{"Broken", "Widget", "Gadget"} {
		s := widget()
		s.Name = name
		require.NoError(t, b.store.Save(ctx, model.Declaration{Schema: s}))
	}
	b.failCompile["Broken"] = true

	a := New(b, Options{Retry: RetryConfig{Attempts: 1, Delay: time.Millisecond}})
	require.NoError(t, a.Start(ctx))

	var names []string
	for _, sa := range a.GetSchemas() {
		names = append(names, sa.Name())
	}
	assert.Equal(t, []string{"Gadget", "Widget"}, names)
}

func TestEnsureConnectedRetries(t *testing.T) {
	b := newFakeBackend()
	b.failConnects = 2
	a := New(b, Options{Retry: RetryConfig{Attempts: 5, Delay: time.Millisecond}})

	require.NoError(t, a.EnsureConnected(context.Background()))
	assert.Equal(t, 3, b.connects)
	require.NoError(t, a.Ping(context.Background()))

	// Already connected: no further attempts.
	require.NoError(t, a.EnsureConnected(context.Background()))
	assert.Equal(t, 3, b.connects)
}

func TestEnsureConnectedGivesUp(t *testing.T) {
	b := newFakeBackend()
	b.failConnects = 100
	a := New(b, Options{Retry: RetryConfig{Attempts: 3, Delay: time.Millisecond}})

	err := a.EnsureConnected(context.Background())
	require.Error(t, err)
	assert.Equal(t, dberr.KindFailedPrecondition, dberr.KindOf(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 3, b.connects)

	assert.Equal(t, dberr.KindFailedPrecondition, dberr.KindOf(a.Ping(context.Background())))
}

func TestPopulateFetchesEachKeyOnce(t *testing.T) {
	a, b := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.CreateSchemaFromAdapter(ctx, model.Schema{
		Name:    "Category",
		Fields:  model.Fields{{Name: "label", Kind: model.KindString}},
		Options: model.DefaultOptions(),
	})
	require.NoError(t, err)
	items, err := a.CreateSchemaFromAdapter(ctx, model.Schema{
		Name: "Item",
		Fields: model.Fields{
			{Name: "name", Kind: model.KindString},
			{Name: "category", Kind: model.KindRelation, Model: "Category"},
		},
		Options: model.DefaultOptions(),
	})
	require.NoError(t, err)

	categories := b.models["Category"]
	var ids []any
	for i := 0; i < 3; i++ {
		rec, err := categories.Create(ctx, query.Document{"label": fmt.Sprintf("c%d", i)})
		require.NoError(t, err)
		ids = append(ids, rec[model.IDField])
	}

	records := make([]Record, 100)
	for i := range records {
		records[i] = Record{"name": fmt.Sprintf("item%d", i), "category": ids[i%3]}
	}

	require.NoError(t, a.Populate(ctx, items, records, []string{"category", "name"}))

	assert.Equal(t, 3, categories.findOnes)
	for i, rec := range records {
		populated, ok := rec["category"].(Record)
		require.True(t, ok, "record %d not populated", i)
		assert.Equal(t, fmt.Sprintf("c%d", i%3), populated["label"])
	}
}

func TestPopulateMissingTargets(t *testing.T) {
	fetches := 0
	r := NewResolver(func(_ context.Context, schema string, id any) (Record, bool, error) {
		fetches++
		if schema == "Gone" {
			return nil, false, nil
		}
		return nil, true, nil
	})

	records := []Record{
		{"a": "x1", "b": "y1", "c": []any{"x1", "x2"}},
		{"a": "x1", "b": nil},
	}
	relations := map[string]string{"a": "Present", "b": "Gone", "c": "Present"}
	require.NoError(t, r.Populate(context.Background(), relations, records, []string{"a", "b", "c"}))

	assert.Nil(t, records[0]["a"], "missing record resolves to null")
	assert.Equal(t, "y1", records[0]["b"], "unregistered schema keeps the raw reference")
	assert.Equal(t, []any{nil, nil}, records[0]["c"])
	assert.Equal(t, 3, fetches, "x1 is fetched once across fields and records")
}
