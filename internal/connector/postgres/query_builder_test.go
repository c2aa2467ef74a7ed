package postgres

import (
	"context"
	"reflect"
	"testing"

	"github.com/faucetdb/schemad/internal/connector"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

// newTestConnector creates a PostgresConnector with a known schema name
// and no database connection, suitable for testing query building methods.
func newTestConnector() *PostgresConnector {
	return New().(*PostgresConnector)
}

// ---------------------------------------------------------------------------
// BuildSelect tests
// ---------------------------------------------------------------------------

func TestBuildSelect(t *testing.T) {
	tests := []struct {
		name     string
		req      connector.SelectRequest
		wantSQL  string
		wantArgs []any
		wantErr  bool
	}{
		{
			name:    "empty table returns error",
			req:     connector.SelectRequest{},
			wantErr: true,
		},
		{
			name:     "simple select all",
			req:      connector.SelectRequest{Table: "users"},
			wantSQL:  `SELECT * FROM "public"."users"`,
			wantArgs: nil,
		},
		{
			name: "select with fields and filter",
			req: connector.SelectRequest{
				Table:  "users",
				Fields: []string{"_id", "name"},
				Filter: query.Document{"age": map[string]any{"$gte": 18}, "name": "bob"},
			},
			wantSQL:  `SELECT "_id", "name" FROM "public"."users" WHERE ("age" >= $1) AND ("name" = $2)`,
			wantArgs: []any{18, "bob"},
		},
		{
			name: "regex uses the tilde operators",
			req: connector.SelectRequest{
				Table:  "users",
				Filter: query.Document{"name": map[string]any{"$regex": "^b", "$options": "i"}},
			},
			wantSQL:  `SELECT * FROM "public"."users" WHERE "name" ~* $1`,
			wantArgs: []any{"^b"},
		},
		{
			name: "order limit and offset",
			req: connector.SelectRequest{
				Table:  "users",
				Order:  []query.OrderClause{{Column: "created", Direction: "DESC"}},
				Limit:  10,
				Offset: 5,
			},
			wantSQL:  `SELECT * FROM "public"."users" ORDER BY "created" DESC LIMIT 10 OFFSET 5`,
			wantArgs: nil,
		},
		{
			name:     "offset without limit",
			req:      connector.SelectRequest{Table: "users", Offset: 5},
			wantSQL:  `SELECT * FROM "public"."users" OFFSET 5`,
			wantArgs: nil,
		},
	}

	c := newTestConnector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSQL, gotArgs, err := c.BuildSelect(context.Background(), tt.req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if gotSQL != tt.wantSQL {
				t.Errorf("SQL mismatch\n got: %s\nwant: %s", gotSQL, tt.wantSQL)
			}
			if !reflect.DeepEqual(gotArgs, tt.wantArgs) {
				t.Errorf("args mismatch\n got: %v\nwant: %v", gotArgs, tt.wantArgs)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Mutation builders
// ---------------------------------------------------------------------------

func TestBuildInsert(t *testing.T) {
	c := newTestConnector()
	sql, args, err := c.BuildInsert(context.Background(), connector.InsertRequest{
		Table:   "users",
		Records: []map[string]any{{"name": "a", "age": 1}, {"name": "b", "age": 2}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `INSERT INTO "public"."users" ("age", "name") VALUES ($1, $2), ($3, $4)`
	if sql != want {
		t.Errorf("SQL mismatch\n got: %s\nwant: %s", sql, want)
	}
	if !reflect.DeepEqual(args, []any{1, "a", 2, "b"}) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildUpdateNumbersFilterAfterSet(t *testing.T) {
	c := newTestConnector()
	sql, args, err := c.BuildUpdate(context.Background(), connector.UpdateRequest{
		Table:  "users",
		Filter: query.Document{"_id": "x"},
		Record: map[string]any{"name": "n", "age": 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `UPDATE "public"."users" SET "age" = $1, "name" = $2 WHERE "_id" = $3`
	if sql != want {
		t.Errorf("SQL mismatch\n got: %s\nwant: %s", sql, want)
	}
	if !reflect.DeepEqual(args, []any{3, "n", "x"}) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildUpsert(t *testing.T) {
	c := newTestConnector()
	sql, args, err := c.BuildUpsert(context.Background(), connector.UpsertRequest{
		Table:  "users",
		Key:    "_id",
		Record: map[string]any{"_id": "x", "name": "n"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `INSERT INTO "public"."users" ("_id", "name") VALUES ($1, $2) ON CONFLICT ("_id") DO UPDATE SET "name" = EXCLUDED."name"`
	if sql != want {
		t.Errorf("SQL mismatch\n got: %s\nwant: %s", sql, want)
	}
	if !reflect.DeepEqual(args, []any{"x", "n"}) {
		t.Errorf("args = %v", args)
	}

	sql, _, err = c.BuildUpsert(context.Background(), connector.UpsertRequest{
		Table: "users", Key: "_id", Record: map[string]any{"_id": "x"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := `INSERT INTO "public"."users" ("_id") VALUES ($1) ON CONFLICT ("_id") DO NOTHING`; sql != want {
		t.Errorf("key-only upsert\n got: %s\nwant: %s", sql, want)
	}
}

func TestBuildIncrementAndAppend(t *testing.T) {
	c := newTestConnector()
	ctx := context.Background()

	sql, args, err := c.BuildIncrement(ctx, connector.IncrementRequest{
		Table:  "items",
		Filter: query.Document{"_id": "x"},
		Deltas: map[string]float64{"qty": -1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `UPDATE "public"."items" SET "qty" = COALESCE("qty", 0) + $1 WHERE "_id" = $2`
	if sql != want {
		t.Errorf("SQL mismatch\n got: %s\nwant: %s", sql, want)
	}
	if !reflect.DeepEqual(args, []any{float64(-1), "x"}) {
		t.Errorf("args = %v", args)
	}

	sql, args, err = c.BuildArrayAppend(ctx, connector.ArrayAppendRequest{
		Table:  "items",
		Filter: query.Document{"_id": "x"},
		Column: "tags",
		Values: []any{"a", 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want = `UPDATE "public"."items" SET "tags" = COALESCE(COALESCE("tags", '[]'::jsonb) || jsonb_build_array($1::jsonb), '[]'::jsonb) || jsonb_build_array($2::jsonb) WHERE "_id" = $3`
	if sql != want {
		t.Errorf("SQL mismatch\n got: %s\nwant: %s", sql, want)
	}
	if !reflect.DeepEqual(args, []any{`"a"`, `2`, "x"}) {
		t.Errorf("args = %v", args)
	}
}

func TestCustomSchemaQualifiesTables(t *testing.T) {
	c := newTestConnector()
	c.schemaName = "app"
	sql, _, err := c.BuildDelete(context.Background(), connector.DeleteRequest{Table: "users"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := `DELETE FROM "app"."users"`; sql != want {
		t.Errorf("got %s, want %s", sql, want)
	}
}

func TestColumnType(t *testing.T) {
	tests := []struct {
		col  model.Column
		want string
	}{
		{model.Column{Kind: model.KindString}, "TEXT"},
		{model.Column{Kind: model.KindObjectID}, "TEXT"},
		{model.Column{Kind: model.KindNumber}, "DOUBLE PRECISION"},
		{model.Column{Kind: model.KindBoolean}, "BOOLEAN"},
		{model.Column{Kind: model.KindDate}, "TIMESTAMPTZ"},
		{model.Column{Kind: model.KindString, Array: true}, "JSONB"},
		{model.Column{Kind: model.KindObject}, "JSONB"},
	}
	for _, tt := range tests {
		if got := columnType(tt.col); got != tt.want {
			t.Errorf("columnType(%+v) = %q, want %q", tt.col, got, tt.want)
		}
	}
}
