// Package ids generates entity identifiers. Server-issued ids are
// authoritative; ids minted here are either client ids for new entities the
// server will re-key, or temporary ids for optimistic records.
package ids

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// tempPrefix marks client-side speculative ids. A temp id never survives a
// successful mutation; reconciliation swaps it for the server id.
const tempPrefix = "tmp-"

// New returns a fresh ULID string (sortable by creation time).
func New() string {
	return ulid.Make().String()
}

// NewTemp returns a temporary id for an optimistic entity.
func NewTemp() string {
	return tempPrefix + New()
}

// IsTemp reports whether id was minted by NewTemp.
func IsTemp(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}
