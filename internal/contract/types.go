// Package contract compares what a compiled schema promises against what
// the backend actually holds. Storage only ever grows: additive drift is
// applied, breaking drift is reported and left in place.
package contract

// DriftType classifies the severity of a schema change.
type DriftType string

const (
	// DriftAdditive means a new column appeared. Safe to apply in place.
	DriftAdditive DriftType = "additive"
	// DriftBreaking means a field was removed or changed shape. Existing
	// data is kept as-is.
	DriftBreaking DriftType = "breaking"
)

// DriftItem describes a single difference between two shapes of a table.
type DriftItem struct {
	Type        DriftType `json:"type"`
	Category    string    `json:"category"` // "column_added", "column_orphaned", "type_changed", "array_changed", "field_removed"
	TableName   string    `json:"table_name"`
	ColumnName  string    `json:"column_name,omitempty"`
	OldValue    string    `json:"old_value,omitempty"`
	NewValue    string    `json:"new_value,omitempty"`
	Description string    `json:"description"`
}

// DriftReport summarizes all differences found for one table.
type DriftReport struct {
	TableName     string      `json:"table_name"`
	HasDrift      bool        `json:"has_drift"`
	HasBreaking   bool        `json:"has_breaking"`
	AdditiveCount int         `json:"additive_count"`
	BreakingCount int         `json:"breaking_count"`
	Items         []DriftItem `json:"items"`
}

// Added returns the names of columns reported as column_added, in order.
func (r DriftReport) Added() []string {
	var out []string
	for _, item := range r.Items {
		if item.Category == "column_added" {
			out = append(out, item.ColumnName)
		}
	}
	return out
}

// Breaking returns only the breaking items.
func (r DriftReport) Breaking() []DriftItem {
	var out []DriftItem
	for _, item := range r.Items {
		if item.Type == DriftBreaking {
			out = append(out, item)
		}
	}
	return out
}

func (r *DriftReport) summarize() {
	r.AdditiveCount, r.BreakingCount = 0, 0
	for _, item := range r.Items {
		switch item.Type {
		case DriftAdditive:
			r.AdditiveCount++
		case DriftBreaking:
			r.BreakingCount++
		}
	}
	r.HasDrift = len(r.Items) > 0
	r.HasBreaking = r.BreakingCount > 0
}
