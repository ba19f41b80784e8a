package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor is a position in a scope's ordering: a timestamp with the id as tie breaker.
type Cursor struct {
	Time time.Time `json:"time"`
	ID   string    `json:"id,omitempty"`
}

// CursorOf returns the cursor positioned at e.
func CursorOf(e Entity) Cursor {
	return Cursor{Time: e.SortTime(), ID: e.EntityID()}
}

// IsZero reports whether the cursor is unset.
func (c Cursor) IsZero() bool {
	return c.Time.IsZero() && c.ID == ""
}

// Equal reports whether c and other mark the same position.
func (c Cursor) Equal(other Cursor) bool {
	return c.Time.Equal(other.Time) && c.ID == other.ID
}

// Before reports whether c sorts strictly before other.
func (c Cursor) Before(other Cursor) bool {
	if !c.Time.Equal(other.Time) {
		return c.Time.Before(other.Time)
	}
	return c.ID < other.ID
}

// String encodes the cursor as "<unix nanos>/<id>".
func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	return strconv.FormatInt(c.Time.UnixNano(), 10) + "/" + c.ID
}

// ParseCursor decodes a cursor produced by String.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	ts, id, _ := strings.Cut(s, "/")
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("parse cursor %q: %w", s, err)
	}
	return Cursor{Time: time.Unix(0, nanos).UTC(), ID: id}, nil
}
