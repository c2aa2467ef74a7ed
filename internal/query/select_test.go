package query

import (
	"reflect"
	"testing"
)

func TestParseSelect(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Projection
		wantErr bool
	}{
		{"empty", "", Projection{}, false},
		{"plain names", "title qty", Projection{Include: []string{"title", "qty"}}, false},
		{"comma separated", "title,qty", Projection{Include: []string{"title", "qty"}}, false},
		{
			"mixed prefixes",
			"title +secret -notes",
			Projection{Include: []string{"title"}, ForceInclude: []string{"secret"}, Exclude: []string{"notes"}},
			false,
		},
		{"invalid name", "title 1bad", Projection{}, true},
		{"bare prefix", "+", Projection{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSelect(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestProjectionColumns(t *testing.T) {
	all := []string{"_id", "title", "secret", "notes", "qty"}
	hidden := []string{"secret"}

	tests := []struct {
		name string
		sel  string
		want []string
	}{
		{"default hides select:false", "", []string{"_id", "title", "notes", "qty"}},
		{"force include", "+secret", []string{"_id", "title", "secret", "notes", "qty"}},
		{"exclude", "-notes", []string{"_id", "title", "qty"}},
		{"include mode keeps id", "title", []string{"_id", "title"}},
		{"include mode without id", "title -_id", []string{"title"}},
		{"include with force", "title +secret", []string{"_id", "title", "secret"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseSelect(tt.sel)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := p.Columns(all, hidden, "_id")
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
