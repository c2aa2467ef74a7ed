package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

// fakeStore is an in-memory SchemaStore.
type fakeStore struct {
	mu    sync.Mutex
	order []string
	decls map[string]model.Declaration
}

func newFakeStore() *fakeStore {
	return &fakeStore{decls: make(map[string]model.Declaration)}
}

func (s *fakeStore) Save(_ context.Context, d model.Declaration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decls[d.Schema.Name]; !ok {
		s.order = append(s.order, d.Schema.Name)
	}
	s.decls[d.Schema.Name] = d
	return nil
}

func (s *fakeStore) Load(_ context.Context, name string) (model.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decls[name]
	if !ok {
		return model.Declaration{}, dberr.NotFound("no declaration %s", name)
	}
	return d, nil
}

func (s *fakeStore) List(_ context.Context) ([]model.Declaration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Declaration
	for _, name := range s.order {
		if d, ok := s.decls[name]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decls[name]; !ok {
		return dberr.NotFound("no declaration %s", name)
	}
	delete(s.decls, name)
	return nil
}

// fakeBackend compiles schemas into fakeModels. Connect fails until
// failConnects reaches zero, and schemas named in failCompile never compile.
type fakeBackend struct {
	mu           sync.Mutex
	store        *fakeStore
	models       map[string]*fakeModel
	failConnects int
	connects     int
	failCompile  map[string]bool
	dropped      []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		store:       newFakeStore(),
		models:      make(map[string]*fakeModel),
		failCompile: make(map[string]bool),
	}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	if b.failConnects > 0 {
		b.failConnects--
		return errors.New("connection refused")
	}
	return nil
}

func (b *fakeBackend) Ping(context.Context) error  { return nil }
func (b *fakeBackend) Close(context.Context) error { return nil }
func (b *fakeBackend) Store() SchemaStore          { return b.store }

func (b *fakeBackend) Compile(_ context.Context, schema model.Schema, _ Lookup) (Model, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failCompile[schema.Name] {
		return nil, fmt.Errorf("cannot compile %s", schema.Name)
	}
	m, ok := b.models[schema.Collection()]
	if !ok {
		m = &fakeModel{}
		b.models[schema.Collection()] = m
	}
	m.schema = schema
	return m, nil
}

func (b *fakeBackend) Drop(_ context.Context, schema model.Schema) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.models, schema.Collection())
	b.dropped = append(b.dropped, schema.Collection())
	return nil
}

// fakeModel stores records in memory and supports equality filters on a
// single field, which is all the resolver needs.
type fakeModel struct {
	mu       sync.Mutex
	schema   model.Schema
	records  []Record
	nextID   int
	findOnes int
}

func (m *fakeModel) Create(_ context.Context, doc query.Document) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := Record{}
	for k, v := range doc {
		rec[k] = v
	}
	if _, ok := rec[model.IDField]; !ok {
		m.nextID++
		rec[model.IDField] = fmt.Sprintf("id-%d", m.nextID)
	}
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *fakeModel) CreateMany(ctx context.Context, docs []query.Document) ([]Record, error) {
	out := make([]Record, 0, len(docs))
	for _, d := range docs {
		rec, err := m.Create(ctx, d)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *fakeModel) matches(rec Record, filter query.Document) bool {
	for k, v := range filter {
		if fmt.Sprint(rec[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func (m *fakeModel) FindOne(_ context.Context, filter query.Document, _ FindOptions) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findOnes++
	for _, rec := range m.records {
		if m.matches(rec, filter) {
			return copyRecord(rec), nil
		}
	}
	return nil, nil
}

func (m *fakeModel) FindMany(_ context.Context, filter query.Document, _ FindOptions) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.records {
		if m.matches(rec, filter) {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

func (m *fakeModel) FindByIDAndUpdate(context.Context, string, query.Document, UpdateOptions) (Record, error) {
	return nil, dberr.Internal("not supported")
}

func (m *fakeModel) UpdateMany(context.Context, query.Document, query.Document, UpdateOptions) (UpdateResult, error) {
	return UpdateResult{}, dberr.Internal("not supported")
}

func (m *fakeModel) DeleteOne(context.Context, query.Document) (DeleteResult, error) {
	return DeleteResult{}, dberr.Internal("not supported")
}

func (m *fakeModel) DeleteMany(context.Context, query.Document) (DeleteResult, error) {
	return DeleteResult{}, dberr.Internal("not supported")
}

func (m *fakeModel) CountDocuments(context.Context, query.Document) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records)), nil
}
