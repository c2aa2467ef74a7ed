// Package permission decides whether a calling module may create, modify
// or delete records of a schema. Every check is local and synchronous:
// it only looks at the schema's declared permissions and ownership.
package permission

import (
	"github.com/faucetdb/schemad/internal/dberr"
	"github.com/faucetdb/schemad/internal/model"
)

// CanCreate allows module to create records of schema when the schema
// permits creation or module owns it.
func CanCreate(module string, schema model.Schema) error {
	if schema.Options.Permissions.CanCreate || isOwner(module, schema) {
		return nil
	}
	return dberr.PermissionDenied("Module %s is not authorized to create %s entries!", module, schema.Name)
}

// CanModify allows module to modify records of the declared schema d.
// touched lists the fields the update assigns; nil means the fields are
// unknown, which under ExtensionOnly leaves only the base owner allowed.
//
// Under ExtensionOnly a non-owner passes only if its own extension
// declares every touched field.
func CanModify(module string, d model.Declaration, touched []string) error {
	schema := d.Schema
	if isOwner(module, schema) {
		return nil
	}

	switch schema.Options.Permissions.CanModify {
	case model.ModifyEveryone, "":
		return nil
	case model.ModifyExtensionOnly:
		ext, ok := d.Extension(module)
		if ok && len(touched) > 0 && covers(ext.Fields, touched) {
			return nil
		}
	}
	return dberr.PermissionDenied("Module %s is not authorized to modify %s entries!", module, schema.Name)
}

// CanDelete allows module to delete records of schema, or the schema
// itself, when the schema permits deletion or module owns it.
func CanDelete(module string, schema model.Schema) error {
	if schema.Options.Permissions.CanDelete || isOwner(module, schema) {
		return nil
	}
	return dberr.PermissionDenied("Module %s is not authorized to delete %s entries!", module, schema.Name)
}

func isOwner(module string, schema model.Schema) bool {
	return module != "" && module == schema.OwnerModule
}

// covers reports whether every touched field is declared in fields.
// Timestamp fields are maintained by the adapter and always allowed.
func covers(fields model.Fields, touched []string) bool {
	for _, name := range touched {
		if name == model.UpdatedAtField {
			continue
		}
		if !fields.Has(name) {
			return false
		}
	}
	return true
}
