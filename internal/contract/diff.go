package contract

import (
	"fmt"

	"github.com/faucetdb/schemad/internal/model"
)

// DiffTable compares the live column names of a table against the table a
// schema compiles to. Desired columns missing from the live table are
// additive; live columns the schema no longer declares are breaking.
func DiffTable(live []string, desired model.TableSchema) DriftReport {
	report := DriftReport{TableName: desired.Name}

	liveByName := make(map[string]bool, len(live))
	for _, name := range live {
		liveByName[name] = true
	}
	desiredByName := make(map[string]bool, len(desired.Columns))
	for _, col := range desired.Columns {
		desiredByName[col.Name] = true
	}

	for _, col := range desired.Columns {
		if !liveByName[col.Name] {
			report.Items = append(report.Items, DriftItem{
				Type:        DriftAdditive,
				Category:    "column_added",
				TableName:   desired.Name,
				ColumnName:  col.Name,
				NewValue:    col.Kind.String(),
				Description: fmt.Sprintf("Column %q is missing from table %q", col.Name, desired.Name),
			})
		}
	}
	for _, name := range live {
		if !desiredByName[name] {
			report.Items = append(report.Items, DriftItem{
				Type:        DriftBreaking,
				Category:    "column_orphaned",
				TableName:   desired.Name,
				ColumnName:  name,
				Description: fmt.Sprintf("Column %q of table %q is no longer declared", name, desired.Name),
			})
		}
	}

	report.summarize()
	return report
}

// DiffFields compares two versions of a schema's fields. New fields are
// additive; removed fields and kind or array changes are breaking.
func DiffFields(table string, prev, next model.Fields) DriftReport {
	report := DriftReport{TableName: table}

	for _, old := range prev {
		cur, ok := next.Get(old.Name)
		if !ok {
			report.Items = append(report.Items, DriftItem{
				Type:        DriftBreaking,
				Category:    "field_removed",
				TableName:   table,
				ColumnName:  old.Name,
				OldValue:    old.Kind.String(),
				Description: fmt.Sprintf("Field %q was removed from %q", old.Name, table),
			})
			continue
		}
		if old.Kind != cur.Kind {
			report.Items = append(report.Items, DriftItem{
				Type:        DriftBreaking,
				Category:    "type_changed",
				TableName:   table,
				ColumnName:  old.Name,
				OldValue:    old.Kind.String(),
				NewValue:    cur.Kind.String(),
				Description: fmt.Sprintf("Field %q type changed from %s to %s", old.Name, old.Kind, cur.Kind),
			})
		}
		if old.Array != cur.Array {
			report.Items = append(report.Items, DriftItem{
				Type:        DriftBreaking,
				Category:    "array_changed",
				TableName:   table,
				ColumnName:  old.Name,
				OldValue:    fmt.Sprint(old.Array),
				NewValue:    fmt.Sprint(cur.Array),
				Description: fmt.Sprintf("Field %q changed between scalar and array", old.Name),
			})
		}
	}

	for _, f := range next {
		if !prev.Has(f.Name) {
			report.Items = append(report.Items, DriftItem{
				Type:        DriftAdditive,
				Category:    "column_added",
				TableName:   table,
				ColumnName:  f.Name,
				NewValue:    f.Kind.String(),
				Description: fmt.Sprintf("Field %q was added to %q", f.Name, table),
			})
		}
	}

	report.summarize()
	return report
}
