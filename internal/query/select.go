package query

import (
	"fmt"
	"strings"
)

// Projection is a parsed select string. Include lists plain names,
// ForceInclude the "+name" entries that override a select:false
// declaration, and Exclude the "-name" entries.
type Projection struct {
	Include      []string
	ForceInclude []string
	Exclude      []string
}

// ParseSelect parses a space- or comma-separated select string such as
// "title +secret -notes". Returns a zero Projection for an empty input.
func ParseSelect(sel string) (Projection, error) {
	var p Projection
	sel = strings.TrimSpace(sel)
	if sel == "" {
		return p, nil
	}

	parts := strings.FieldsFunc(sel, func(r rune) bool { return r == ' ' || r == ',' })
	for _, part := range parts {
		name := part
		prefix := byte(0)
		if part[0] == '+' || part[0] == '-' {
			prefix = part[0]
			name = part[1:]
		}
		if err := ValidateIdentifier(name); err != nil {
			return Projection{}, fmt.Errorf("invalid field name: %w", err)
		}
		switch prefix {
		case '+':
			p.ForceInclude = append(p.ForceInclude, name)
		case '-':
			p.Exclude = append(p.Exclude, name)
		default:
			p.Include = append(p.Include, name)
		}
	}
	return p, nil
}

// IsZero reports whether the projection selects nothing explicitly.
func (p Projection) IsZero() bool {
	return len(p.Include) == 0 && len(p.ForceInclude) == 0 && len(p.Exclude) == 0
}

// Columns resolves the projection against the available columns. hidden
// lists fields excluded from default projections. When any plain name is
// present only the named fields (plus idField unless it is excluded) are
// returned; otherwise every column minus hidden and excluded fields.
func (p Projection) Columns(all, hidden []string, idField string) []string {
	exclude := make(map[string]bool)
	for _, h := range hidden {
		exclude[h] = true
	}
	for _, f := range p.ForceInclude {
		delete(exclude, f)
	}
	for _, f := range p.Exclude {
		exclude[f] = true
	}

	if len(p.Include) > 0 {
		want := make(map[string]bool)
		for _, f := range p.Include {
			want[f] = true
		}
		for _, f := range p.ForceInclude {
			want[f] = true
		}
		if idField != "" && !exclude[idField] {
			want[idField] = true
		}
		out := make([]string, 0, len(want))
		for _, c := range all {
			if want[c] {
				out = append(out, c)
			}
		}
		return out
	}

	out := make([]string, 0, len(all))
	for _, c := range all {
		if !exclude[c] {
			out = append(out, c)
		}
	}
	return out
}
