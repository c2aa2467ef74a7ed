package query

import (
	"errors"
	"reflect"
	"testing"

	"github.com/faucetdb/schemad/internal/dberr"
)

func TestToSQL(t *testing.T) {
	tests := []struct {
		name       string
		doc        Document
		wantSQL    string
		wantParams []any
	}{
		{
			"implicit equality",
			Document{"title": "a"},
			`"title" = $1`,
			[]any{"a"},
		},
		{
			"multiple fields sorted",
			Document{"title": "a", "qty": 1},
			`("qty" = $1) AND ("title" = $2)`,
			[]any{1, "a"},
		},
		{
			"null equality",
			Document{"deletedAt": nil},
			`"deletedAt" IS NULL`,
			nil,
		},
		{
			"range",
			Document{"qty": map[string]any{"$gte": 2, "$lt": 10}},
			`("qty" >= $1) AND ("qty" < $2)`,
			[]any{2, 10},
		},
		{
			"not equal includes missing",
			Document{"status": map[string]any{"$ne": "x"}},
			`("status" <> $1 OR "status" IS NULL)`,
			[]any{"x"},
		},
		{
			"not equal null",
			Document{"status": map[string]any{"$ne": nil}},
			`"status" IS NOT NULL`,
			nil,
		},
		{
			"in",
			Document{"tag": map[string]any{"$in": []any{"a", "b"}}},
			`"tag" IN ($1, $2)`,
			[]any{"a", "b"},
		},
		{
			"in with null",
			Document{"tag": map[string]any{"$in": []any{"a", nil}}},
			`("tag" IN ($1) OR "tag" IS NULL)`,
			[]any{"a"},
		},
		{
			"empty in matches nothing",
			Document{"tag": map[string]any{"$in": []any{}}},
			`1=0`,
			nil,
		},
		{
			"nin",
			Document{"tag": map[string]any{"$nin": []any{"a"}}},
			`("tag" NOT IN ($1) OR "tag" IS NULL)`,
			[]any{"a"},
		},
		{
			"exists",
			Document{"email": map[string]any{"$exists": true}},
			`"email" IS NOT NULL`,
			nil,
		},
		{
			"not exists",
			Document{"email": map[string]any{"$exists": false}},
			`"email" IS NULL`,
			nil,
		},
		{
			"or",
			Document{"$or": []any{map[string]any{"a": 1}, map[string]any{"b": 2}}},
			`("a" = $1) OR ("b" = $2)`,
			[]any{1, 2},
		},
		{
			"or combined with field",
			Document{"$or": []any{map[string]any{"a": 1}, map[string]any{"b": 2}}, "c": 3},
			`(("a" = $1) OR ("b" = $2)) AND ("c" = $3)`,
			[]any{1, 2, 3},
		},
		{
			"and",
			Document{"$and": []any{map[string]any{"a": 1}, map[string]any{"a": map[string]any{"$ne": 5}}}},
			`("a" = $1) AND (("a" <> $2 OR "a" IS NULL))`,
			[]any{1, 5},
		},
		{
			"regex case insensitive",
			Document{"name": map[string]any{"$regex": "^jo", "$options": "i"}},
			`"name" ~* $1`,
			[]any{"^jo"},
		},
		{
			"regex case sensitive",
			Document{"name": map[string]any{"$regex": "^jo"}},
			`"name" ~ $1`,
			[]any{"^jo"},
		},
		{
			"null bytes stripped from values",
			Document{"name": "a\x00b"},
			`"name" = $1`,
			[]any{"ab"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToSQL(tt.doc, Postgres, 1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.SQL != tt.wantSQL {
				t.Errorf("SQL = %q, want %q", got.SQL, tt.wantSQL)
			}
			if len(got.Params) != len(tt.wantParams) {
				t.Fatalf("params = %v, want %v", got.Params, tt.wantParams)
			}
			for i := range got.Params {
				if !reflect.DeepEqual(got.Params[i], tt.wantParams[i]) {
					t.Errorf("param[%d] = %#v, want %#v", i, got.Params[i], tt.wantParams[i])
				}
			}
		})
	}
}

func TestToSQLEmpty(t *testing.T) {
	got, err := ToSQL(Document{}, Postgres, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil filter for empty document, got %+v", got)
	}
}

func TestToSQLRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
	}{
		{"unknown top-level operator", Document{"$where": "1 = 1"}},
		{"unknown field operator", Document{"a": map[string]any{"$foo": 1}}},
		{"dotted path", Document{"a.b": 1}},
		{"options without regex", Document{"a": map[string]any{"$options": "i"}}},
		{"unsupported regex flag", Document{"a": map[string]any{"$regex": "x", "$options": "g"}}},
		{"nested object value", Document{"a": map[string]any{"b": 1}}},
		{"array value", Document{"a": []any{1, 2}}},
		{"in without array", Document{"a": map[string]any{"$in": "x"}}},
		{"exists not boolean", Document{"a": map[string]any{"$exists": "yes"}}},
		{"or not array", Document{"$or": "x"}},
		{"injection in column", Document{"name; DROP TABLE users--": 1}},
		{"reserved word column", Document{"select": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToSQL(tt.doc, Postgres, 1)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, dberr.ErrInvalidArgument) {
				t.Errorf("expected InvalidArgument, got %v", err)
			}
		})
	}
}

func TestToSQLDialects(t *testing.T) {
	regex := Document{"name": map[string]any{"$regex": "^jo", "$options": "i"}}

	t.Run("mysql", func(t *testing.T) {
		got, err := ToSQL(regex, MySQL, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.SQL != "REGEXP_LIKE(`name`, ?, 'i')" {
			t.Errorf("got %q", got.SQL)
		}
	})

	t.Run("sqlite inlines flags", func(t *testing.T) {
		got, err := ToSQL(regex, SQLite, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.SQL != `"name" REGEXP ?` {
			t.Errorf("got %q", got.SQL)
		}
		if got.Params[0] != "(?i)^jo" {
			t.Errorf("pattern = %v, want (?i)^jo", got.Params[0])
		}
	})

	t.Run("sqlserver start index", func(t *testing.T) {
		got, err := ToSQL(Document{"a": 1, "b": 2}, SQLServer, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.SQL != "([a] = @p3) AND ([b] = @p4)" {
			t.Errorf("got %q", got.SQL)
		}
	})
}

func TestNormalize(t *testing.T) {
	t.Run("json string", func(t *testing.T) {
		doc, err := Normalize(`{"title":"a","qty":2,"price":1.5}`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if doc["title"] != "a" {
			t.Errorf("title = %v", doc["title"])
		}
		if doc["qty"] != int64(2) {
			t.Errorf("qty = %#v, want int64(2)", doc["qty"])
		}
		if doc["price"] != 1.5 {
			t.Errorf("price = %#v, want 1.5", doc["price"])
		}
	})

	t.Run("top-level array is a conjunction", func(t *testing.T) {
		doc, err := Normalize(`[{"a":1},{"b":2}]`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		list, ok := doc["$and"].([]any)
		if !ok || len(list) != 2 {
			t.Fatalf("expected $and with two elements, got %#v", doc)
		}
	})

	t.Run("empty inputs", func(t *testing.T) {
		for _, in := range []any{nil, "", "  ", []byte("null")} {
			doc, err := Normalize(in)
			if err != nil {
				t.Fatalf("Normalize(%#v): %v", in, err)
			}
			if len(doc) != 0 {
				t.Errorf("Normalize(%#v) = %v, want empty", in, doc)
			}
		}
	})

	t.Run("map passes through", func(t *testing.T) {
		in := map[string]any{"a": 1}
		doc, err := Normalize(in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if doc["a"] != 1 {
			t.Errorf("a = %v", doc["a"])
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := Normalize(`{"a":`)
		if !errors.Is(err, dberr.ErrInvalidArgument) {
			t.Errorf("expected InvalidArgument, got %v", err)
		}
	})

	t.Run("scalar json", func(t *testing.T) {
		_, err := Normalize(`42`)
		if !errors.Is(err, dberr.ErrInvalidArgument) {
			t.Errorf("expected InvalidArgument, got %v", err)
		}
	})
}
