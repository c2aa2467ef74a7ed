package query

import (
	"sort"

	"github.com/faucetdb/schemad/internal/dberr"
)

// Update is an update document split into its parts. Base holds the plain
// field assignments, Set the unwrapped $set payload. Push and Pull map a
// field to the values appended to or removed from its array.
type Update struct {
	Base   Document
	Set    Document
	Inc    map[string]float64
	Push   map[string][]any
	Pull   map[string][]any
	HasSet bool
}

// SplitUpdate separates the $inc, $set, $push and $pull directives from the
// plain fields of an update document. Any other $-key is InvalidArgument.
func SplitUpdate(doc Document) (Update, error) {
	u := Update{
		Base: Document{},
		Set:  Document{},
		Inc:  map[string]float64{},
		Push: map[string][]any{},
		Pull: map[string][]any{},
	}
	for key, val := range doc {
		if !IsOperator(key) {
			u.Base[key] = val
			continue
		}
		body, ok := asDocument(val)
		if !ok {
			return Update{}, dberr.InvalidArgument("%s expects an object", key)
		}
		switch key {
		case "$set":
			u.HasSet = true
			for f, v := range body {
				u.Set[f] = v
			}
		case "$inc":
			for f, v := range body {
				n, ok := toFloat(v)
				if !ok {
					return Update{}, dberr.InvalidArgument("$inc.%s must be a number", f)
				}
				u.Inc[f] += n
			}
		case "$push":
			for f, v := range body {
				u.Push[f] = append(u.Push[f], expandEach(v, "$each")...)
			}
		case "$pull":
			for f, v := range body {
				u.Pull[f] = append(u.Pull[f], expandEach(v, "$in")...)
			}
		default:
			return Update{}, dberr.InvalidArgument("unsupported update directive %q", key)
		}
	}
	return u, nil
}

// expandEach unwraps {"$each": [...]} for $push and {"$in": [...]} for
// $pull into the list of values; anything else is a single value.
func expandEach(v any, wrapper string) []any {
	if doc, ok := asDocument(v); ok && len(doc) == 1 {
		if list, ok := asList(doc[wrapper]); ok {
			return list
		}
	}
	return []any{v}
}

// HasDirectives reports whether any of $inc, $push or $pull is present.
func (u Update) HasDirectives() bool {
	return len(u.Inc) > 0 || len(u.Push) > 0 || len(u.Pull) > 0
}

// Directed returns the set of fields targeted by $inc, $push or $pull.
func (u Update) Directed() map[string]bool {
	out := make(map[string]bool, len(u.Inc)+len(u.Push)+len(u.Pull))
	for f := range u.Inc {
		out[f] = true
	}
	for f := range u.Push {
		out[f] = true
	}
	for f := range u.Pull {
		out[f] = true
	}
	return out
}

// Fields returns every field name the update touches, sorted.
func (u Update) Fields() []string {
	seen := u.Directed()
	for f := range u.Base {
		seen[f] = true
	}
	for f := range u.Set {
		seen[f] = true
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Validate checks every touched field name is a safe identifier.
func (u Update) Validate() error {
	for _, f := range u.Fields() {
		if err := ValidateIdentifier(f); err != nil {
			return dberr.InvalidArgument("%v", err)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
