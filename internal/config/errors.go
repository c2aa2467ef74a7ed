package config

import "github.com/faucetdb/schemad/internal/dberr"

// ErrNotFound is returned when a requested resource does not exist in the
// store. It is classified as dberr.KindNotFound.
var ErrNotFound = dberr.NotFound("not found")
