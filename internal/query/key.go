// Package query turns local cache contents into live, continuously updated results.
package query

import (
	"fmt"
	"strings"

	"github.com/good-yellow-bee/teamsync/internal/models"
)

// Key identifies the rows a live query reads: one scope of one collection.
type Key struct {
	Collection models.Collection
	Scope      string
}

// String formats the key as "collection:scope".
func (k Key) String() string {
	return string(k.Collection) + ":" + k.Scope
}

// ParseKey parses "collection:scope", e.g. "messages:room1".
func ParseKey(s string) (Key, error) {
	name, scope, _ := strings.Cut(s, ":")
	coll, ok := models.ParseCollection(name)
	if !ok {
		return Key{}, fmt.Errorf("unknown collection %q", name)
	}
	return Key{Collection: coll, Scope: scope}, nil
}

// Spec describes a live query.
type Spec struct {
	Key Key
	// Limit keeps the newest Limit items. Zero means no limit.
	Limit int
	// Ascending orders the result oldest first. The default is newest first.
	Ascending bool
	// Filter is an optional boolean expression over the entity's JSON fields,
	// e.g. `status != "DONE" && priority in ["HIGH", "URGENT"]`.
	Filter string
}

// Snapshot is one emission of a live query.
type Snapshot[T any] struct {
	Items []T
	// Version is the cache version the snapshot was read at.
	Version uint64
}
