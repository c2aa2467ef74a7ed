package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func widgetDeclaration() model.Declaration {
	return model.Declaration{
		Schema: model.Schema{
			Name:        "Widget",
			OwnerModule: "inventory",
			Fields: model.Fields{
				{Name: "title", Kind: model.KindString, Required: true},
				{Name: "qty", Kind: model.KindNumber},
			},
			Options: model.DefaultOptions(),
		},
	}
}

func TestDeclarationCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := widgetDeclaration()
	if err := s.Save(ctx, d); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, "Widget")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Schema.OwnerModule != "inventory" {
		t.Errorf("got owner %q, want %q", got.Schema.OwnerModule, "inventory")
	}
	if len(got.Schema.Fields) != 2 || !got.Schema.Fields.Has("qty") {
		t.Errorf("unexpected fields: %v", got.Schema.Fields.Names())
	}
	if f, _ := got.Schema.Fields.Get("title"); !f.Required {
		t.Error("expected title to stay required")
	}

	// Save again with an extension replaces the stored row.
	d = d.WithExtension("billing", model.Fields{{Name: "price", Kind: model.KindNumber}})
	if err := s.Save(ctx, d); err != nil {
		t.Fatalf("Save (update): %v", err)
	}
	got, err = s.Load(ctx, "Widget")
	if err != nil {
		t.Fatalf("Load after update: %v", err)
	}
	ext, ok := got.Extension("billing")
	if !ok || !ext.Fields.Has("price") {
		t.Fatalf("expected billing extension, got %+v", got.Extensions)
	}
	if !got.Merged().Fields.Has("price") {
		t.Error("merged schema should include the extension field")
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d declarations, want 1", len(list))
	}

	if err := s.Delete(ctx, "Widget"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, "Widget"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteMissingDeclaration(t *testing.T) {
	s := newTestStore(t)

	err := s.Delete(context.Background(), "Nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if dberr.KindOf(err) != dberr.KindNotFound {
		t.Errorf("expected NotFound kind, got %v", dberr.KindOf(err))
	}
}

func TestListOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"Zeta", "Alpha", "Mid"} {
		d := widgetDeclaration()
		d.Schema.Name = name
		if err := s.Save(ctx, d); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, d := range list {
		names = append(names, d.Schema.Name)
	}
	want := []string{"Zeta", "Alpha", "Mid"}
	for i := range want {
		if i >= len(names) || names[i] != want[i] {
			t.Fatalf("got order %v, want %v", names, want)
		}
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetSetting(ctx, "k", "v1"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting(ctx, "k", "v2"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	got, err := s.GetSetting(ctx, "k")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if got != "v2" {
		t.Errorf("got %q, want v2", got)
	}
}

func TestInstanceIDIsStable(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	first, err := s.InstanceID(ctx)
	if err != nil {
		t.Fatalf("InstanceID: %v", err)
	}
	if first == "" {
		t.Fatal("expected a non-empty instance ID")
	}
	s.Close()

	s, err = NewStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	second, err := s.InstanceID(ctx)
	if err != nil {
		t.Fatalf("InstanceID after reopen: %v", err)
	}
	if first != second {
		t.Errorf("instance ID changed across restarts: %q -> %q", first, second)
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	t.Setenv("SCHEMAD_TEST_DSN", "postgres://db/schemad")

	path := filepath.Join(t.TempDir(), "schemad.yaml")
	content := `
database:
  type: sql
  driver: postgres
  dsn: ${SCHEMAD_TEST_DSN}
  pool:
    max_open_conns: 7
bus:
  type: nats
  url: nats://localhost:4222
server:
  max_body_size: 2MiB
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Database.DSN != "postgres://db/schemad" {
		t.Errorf("env var not expanded: %q", cfg.Database.DSN)
	}
	if cfg.Database.ConnectAttempts != 10 {
		t.Errorf("expected default connect_attempts 10, got %d", cfg.Database.ConnectAttempts)
	}
	if cfg.Sync.Window != "3s" {
		t.Errorf("expected default sync window, got %q", cfg.Sync.Window)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	limit, err := cfg.Server.BodyLimit()
	if err != nil {
		t.Fatalf("BodyLimit: %v", err)
	}
	if limit != 2*1024*1024 {
		t.Errorf("got body limit %d, want %d", limit, 2*1024*1024)
	}

	pool := cfg.Database.PoolConfig()
	if pool.MaxOpenConns != 7 {
		t.Errorf("got MaxOpenConns %d, want 7", pool.MaxOpenConns)
	}
	if pool.MaxIdleConns != model.DefaultPoolConfig().MaxIdleConns {
		t.Errorf("unset pool values should fall back to defaults, got %d", pool.MaxIdleConns)
	}
}

func TestValidateRejectsUnknownTypesByName(t *testing.T) {
	cases := map[string]func(*YAMLConfig){
		"database": func(c *YAMLConfig) { c.Database.Type = "cassandra" },
		"bus":      func(c *YAMLConfig) { c.Bus.Type = "kafka" },
		"store":    func(c *YAMLConfig) { c.SchemaStore.Type = "s3" },
		"window":   func(c *YAMLConfig) { c.Sync.Window = "soon" },
		"body":     func(c *YAMLConfig) { c.Server.MaxBodySize = "lots" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultYAMLConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}
