package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/faucetdb/schemad/internal/adapter"
	"github.com/faucetdb/schemad/internal/config"
	"github.com/faucetdb/schemad/internal/model"
)

func TestVersionString(t *testing.T) {
	defer func(v string) { appVersion = v }(appVersion)

	tests := []struct {
		in, want string
	}{
		{"", "dev"},
		{"dev", "dev"},
		{"1.2.3", "v1.2.3"},
		{"v1.2.3", "v1.2.3"},
	}
	for _, tt := range tests {
		appVersion = tt.in
		if got := versionString(); got != tt.want {
			t.Errorf("versionString() with %q = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf, false)

	logger.Info("hidden")
	logger.Warn("shown", "schema", "Users")

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record written at warn level: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("log output is not JSON: %v (%s)", err, out)
	}
	if rec["schema"] != "Users" {
		t.Errorf("schema attr = %v, want Users", rec["schema"])
	}
}

func TestNewLoggerDevEnablesDebug(t *testing.T) {
	logger := newLogger(config.LoggingConfig{Level: "error"}, &bytes.Buffer{}, true)
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("dev logger should enable debug")
	}
}

func TestNewBackendRejectsUnknownDriver(t *testing.T) {
	_, err := newBackend(config.DatabaseConfig{Type: "sql", Driver: "oracle"}, slog.Default())
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if !strings.Contains(err.Error(), "sqlite") {
		t.Errorf("error should list supported drivers: %v", err)
	}
}

func TestNewRegistryDrivers(t *testing.T) {
	got := strings.Join(newRegistry().Drivers(), ",")
	if got != "mssql,mysql,postgres,sqlite" {
		t.Errorf("Drivers() = %s", got)
	}
}

func TestPrintSchemaList(t *testing.T) {
	users := model.Schema{
		Name:        "Users",
		OwnerModule: "authentication",
		Fields:      model.Fields{{Name: "email", Kind: model.KindString}},
	}
	schemas := []*adapter.SchemaAdapter{{
		Declaration: model.Declaration{
			Schema: users,
			Extensions: []model.Extension{{
				OwnerModule: "billing",
				Name:        "Users",
				Fields:      model.Fields{{Name: "plan", Kind: model.KindString}},
			}},
		},
		Schema:  users,
		Version: 3,
	}}

	var table bytes.Buffer
	if err := printSchemaList(&table, schemas, false); err != nil {
		t.Fatalf("printSchemaList: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(table.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header, rule and one row, got %d lines:\n%s", len(lines), table.String())
	}
	row := strings.Fields(lines[2])
	want := []string{"Users", "authentication", "Users", "1", "1", "3"}
	if strings.Join(row, " ") != strings.Join(want, " ") {
		t.Errorf("row = %v, want %v", row, want)
	}

	var js bytes.Buffer
	if err := printSchemaList(&js, schemas, true); err != nil {
		t.Fatalf("printSchemaList json: %v", err)
	}
	var wires []model.WireSchema
	if err := json.Unmarshal(js.Bytes(), &wires); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(wires) != 1 || wires[0].Name != "Users" || wires[0].OwnerModule != "authentication" {
		t.Errorf("wires = %+v", wires)
	}
}

func TestPrintSchemaListEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := printSchemaList(&buf, nil, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No schemas declared") {
		t.Errorf("output = %q", buf.String())
	}
}
