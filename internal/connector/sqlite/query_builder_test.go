package sqlite

import (
	"context"
	"reflect"
	"testing"

	"github.com/faucetdb/schemad/internal/connector"
	"github.com/faucetdb/schemad/internal/model"
	"github.com/faucetdb/schemad/internal/query"
)

// newTestConnector creates a SQLiteConnector with no database connection,
// suitable for testing query building methods.
func newTestConnector() *SQLiteConnector {
	return New().(*SQLiteConnector)
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
			wantSQL:  `SELECT * FROM "users"`,
			wantArgs: nil,
		},
		{
			name: "select with field selection",
			req: connector.SelectRequest{
				Table:  "users",
				Fields: []string{"_id", "name", "email"},
			},
			wantSQL:  `SELECT "_id", "name", "email" FROM "users"`,
			wantArgs: nil,
		},
		{
			name: "select with filter",
			req: connector.SelectRequest{
				Table:  "users",
				Filter: query.Document{"age": map[string]any{"$gt": 21}},
			},
			wantSQL:  `SELECT * FROM "users" WHERE "age" > ?`,
			wantArgs: []any{21},
		},
		{
			name: "select with ordering",
			req: connector.SelectRequest{
				Table: "users",
				Order: []query.OrderClause{{Column: "name", Direction: "DESC"}},
			},
			wantSQL:  `SELECT * FROM "users" ORDER BY "name" DESC`,
			wantArgs: nil,
		},
		{
			name: "select with limit and offset",
			req: connector.SelectRequest{
				Table:  "users",
				Filter: query.Document{"status": "active"},
				Limit:  10,
				Offset: 20,
			},
			wantSQL:  `SELECT * FROM "users" WHERE "status" = ? LIMIT ? OFFSET ?`,
			wantArgs: []any{"active", 10, 20},
		},
		{
			name:     "offset without limit",
			req:      connector.SelectRequest{Table: "users", Offset: 5},
			wantSQL:  `SELECT * FROM "users" LIMIT ? OFFSET ?`,
			wantArgs: []any{-1, 5},
		},
		{
			name:    "invalid field name",
			req:     connector.SelectRequest{Table: "users", Fields: []string{"1bad"}},
			wantErr: true,
		},
		{
			name:    "unknown operator",
			req:     connector.SelectRequest{Table: "users", Filter: query.Document{"$where": "1"}},
			wantErr: true,
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
		Table: "users",
		Records: []map[string]any{
			{"name": "a", "age": 1},
			{"name": "b"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `INSERT INTO "users" ("age", "name") VALUES (?, ?), (?, ?)`
	if sql != want {
		t.Errorf("SQL mismatch\n got: %s\nwant: %s", sql, want)
	}
	wantArgs := []any{1, "a", nil, "b"}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Errorf("args = %v, want %v", args, wantArgs)
	}

	if _, _, err := c.BuildInsert(context.Background(), connector.InsertRequest{Table: "users"}); err == nil {
		t.Error("expected error for empty records")
	}
}

func TestBuildUpdate(t *testing.T) {
	c := newTestConnector()
	sql, args, err := c.BuildUpdate(context.Background(), connector.UpdateRequest{
		Table:  "users",
		Filter: query.Document{"_id": "x"},
		Record: map[string]any{"name": "n", "age": 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `UPDATE "users" SET "age" = ?, "name" = ? WHERE "_id" = ?`
	if sql != want {
		t.Errorf("SQL mismatch\n got: %s\nwant: %s", sql, want)
	}
	if !reflect.DeepEqual(args, []any{3, "n", "x"}) {
		t.Errorf("args = %v", args)
	}
}

func TestBuildDeleteAndCount(t *testing.T) {
	c := newTestConnector()
	ctx := context.Background()

	sql, args, err := c.BuildDelete(ctx, connector.DeleteRequest{Table: "users", Filter: query.Document{"age": 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sql != `DELETE FROM "users" WHERE "age" = ?` || !reflect.DeepEqual(args, []any{3}) {
		t.Errorf("got %s %v", sql, args)
	}

	sql, args, err = c.BuildCount(ctx, connector.CountRequest{Table: "users"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sql != `SELECT COUNT(*) FROM "users"` || args != nil {
		t.Errorf("got %s %v", sql, args)
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
	want := `INSERT INTO "users" ("_id", "name") VALUES (?, ?) ON CONFLICT ("_id") DO UPDATE SET "name" = excluded."name"`
	if sql != want {
		t.Errorf("SQL mismatch\n got: %s\nwant: %s", sql, want)
	}
	if !reflect.DeepEqual(args, []any{"x", "n"}) {
		t.Errorf("args = %v", args)
	}

	if _, _, err := c.BuildUpsert(context.Background(), connector.UpsertRequest{
		Table: "users", Key: "_id", Record: map[string]any{"name": "n"},
	}); err == nil {
		t.Error("expected error when the key is missing")
	}
}

func TestBuildIncrementAndAppend(t *testing.T) {
	c := newTestConnector()
	ctx := context.Background()

	sql, args, err := c.BuildIncrement(ctx, connector.IncrementRequest{
		Table:  "items",
		Filter: query.Document{"_id": "x"},
		Deltas: map[string]float64{"qty": 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `UPDATE "items" SET "qty" = COALESCE("qty", 0) + ? WHERE "_id" = ?`
	if sql != want {
		t.Errorf("SQL mismatch\n got: %s\nwant: %s", sql, want)
	}
	if !reflect.DeepEqual(args, []any{float64(2), "x"}) {
		t.Errorf("args = %v", args)
	}

	sql, args, err = c.BuildArrayAppend(ctx, connector.ArrayAppendRequest{
		Table:  "items",
		Column: "tags",
		Values: []any{"a"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want = `UPDATE "items" SET "tags" = json_insert(COALESCE("tags", '[]'), '$[#]', json(?))`
	if sql != want {
		t.Errorf("SQL mismatch\n got: %s\nwant: %s", sql, want)
	}
	if !reflect.DeepEqual(args, []any{`"a"`}) {
		t.Errorf("args = %v", args)
	}
}

func TestColumnType(t *testing.T) {
	tests := []struct {
		col  model.Column
		want string
	}{
		{model.Column{Kind: model.KindString}, "TEXT"},
		{model.Column{Kind: model.KindNumber}, "REAL"},
		{model.Column{Kind: model.KindBoolean}, "INTEGER"},
		{model.Column{Kind: model.KindDate}, "DATETIME"},
		{model.Column{Kind: model.KindNumber, Array: true}, "TEXT"},
		{model.Column{Kind: model.KindJSON}, "TEXT"},
		{model.Column{Kind: model.KindString, Type: "BLOB"}, "BLOB"},
	}
	for _, tt := range tests {
		if got := columnType(tt.col); got != tt.want {
			t.Errorf("columnType(%+v) = %q, want %q", tt.col, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Execution against an in-memory database
// ---------------------------------------------------------------------------

func TestInMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestConnector()
	if err := c.Connect(ctx, connector.ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	def := model.TableSchema{
		Name:       "items",
		PrimaryKey: []string{"_id"},
		Columns: []model.Column{
			{Name: "_id", Kind: model.KindString},
			{Name: "name", Kind: model.KindString, Nullable: true},
			{Name: "qty", Kind: model.KindNumber, Nullable: true},
		},
	}
	if err := c.CreateTable(ctx, def); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	// Creating twice is a no-op.
	if err := c.CreateTable(ctx, def); err != nil {
		t.Fatalf("CreateTable again: %v", err)
	}
	if err := c.AlterTable(ctx, "items", []connector.SchemaChange{{
		Type:       "add_column",
		Column:     "tags",
		Definition: &model.Column{Name: "tags", Kind: model.KindString, Array: true, Nullable: true},
	}}); err != nil {
		t.Fatalf("AlterTable: %v", err)
	}

	cols, err := c.TableColumns(ctx, "items")
	if err != nil {
		t.Fatalf("TableColumns: %v", err)
	}
	if !reflect.DeepEqual(cols, []string{"_id", "name", "qty", "tags"}) {
		t.Errorf("columns = %v", cols)
	}

	exec := func(sql string, args []any, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if _, err := c.DB().ExecContext(ctx, sql, args...); err != nil {
			t.Fatalf("exec %s: %v", sql, err)
		}
	}

	exec(c.BuildInsert(ctx, connector.InsertRequest{Table: "items", Records: []map[string]any{
		{"_id": "1", "name": "Alpha", "qty": 1},
		{"_id": "2", "name": "beta", "qty": nil},
	}}))
	exec(c.BuildIncrement(ctx, connector.IncrementRequest{Table: "items", Deltas: map[string]float64{"qty": 2}}))
	exec(c.BuildArrayAppend(ctx, connector.ArrayAppendRequest{
		Table: "items", Filter: query.Document{"_id": "1"}, Column: "tags", Values: []any{"x", map[string]any{"k": 1}},
	}))

	var qty float64
	if err := c.DB().GetContext(ctx, &qty, `SELECT "qty" FROM "items" WHERE "_id" = '2'`); err != nil {
		t.Fatalf("select qty: %v", err)
	}
	if qty != 2 {
		t.Errorf("NULL qty incremented to %v, want 2", qty)
	}

	var tags string
	if err := c.DB().GetContext(ctx, &tags, `SELECT "tags" FROM "items" WHERE "_id" = '1'`); err != nil {
		t.Fatalf("select tags: %v", err)
	}
	if tags != `["x",{"k":1}]` {
		t.Errorf("tags = %s", tags)
	}

	sql, args, err := c.BuildCount(ctx, connector.CountRequest{
		Table:  "items",
		Filter: query.Document{"name": map[string]any{"$regex": "^a", "$options": "i"}},
	})
	if err != nil {
		t.Fatalf("BuildCount: %v", err)
	}
	var n int
	if err := c.DB().GetContext(ctx, &n, sql, args...); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("case-insensitive regex matched %d rows, want 1", n)
	}

	if err := c.DropTable(ctx, "items"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	cols, err = c.TableColumns(ctx, "items")
	if err != nil || len(cols) != 0 {
		t.Errorf("columns after drop = %v, %v", cols, err)
	}
}
