// Package models contains the core data structures for teamsync.
package models

import (
	"sort"
	"time"
)

// Collection names an entity collection in the local cache and on the remote.
type Collection string

const (
	CollectionProjects       Collection = "projects"
	CollectionChatRooms      Collection = "chat_rooms"
	CollectionMessages       Collection = "messages"
	CollectionTasks          Collection = "tasks"
	CollectionProjectMembers Collection = "project_members"
	CollectionUsers          Collection = "users"
)

// Collections lists every known collection.
var Collections = []Collection{
	CollectionProjects,
	CollectionChatRooms,
	CollectionMessages,
	CollectionTasks,
	CollectionProjectMembers,
	CollectionUsers,
}

// ParseCollection converts a string to a Collection.
func ParseCollection(s string) (Collection, bool) {
	for _, c := range Collections {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Entity is implemented by every cached entity.
type Entity interface {
	// EntityID returns the primary id.
	EntityID() string
	// ScopeKey returns the key that partitions the entity's collection.
	ScopeKey() string
	// SortTime returns the ordering timestamp within a scope.
	SortTime() time.Time
	// IsPending reports whether a local write has not been confirmed by the remote.
	IsPending() bool
	// SetPending marks the entity as locally written but unconfirmed.
	SetPending(pending bool)
}

// NaturalKeyer is implemented by entities that must be unique on a key other than their id.
type NaturalKeyer interface {
	NaturalKey() string
}

// Local carries device-only state. It is never sent to the remote.
type Local struct {
	Pending bool `json:"-"`
}

// IsPending reports whether the entity has an unconfirmed local write.
func (l *Local) IsPending() bool {
	return l.Pending
}

// SetPending sets the pending flag.
func (l *Local) SetPending(pending bool) {
	l.Pending = pending
}

// NormalizeSet sorts ids and removes duplicates and empty values.
func NormalizeSet(ids []string) []string {
	if len(ids) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetContains reports whether ids contains id.
func SetContains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Normalizer is implemented by entities that restore set semantics before every write.
type Normalizer interface {
	Normalize()
}
