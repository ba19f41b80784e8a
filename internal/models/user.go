package models

import (
	"time"
)

// User is referenced by id from messages, tasks and memberships, never embedded.
type User struct {
	Local
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	IsOnline    bool      `json:"is_online"`
	LastSeen    time.Time `json:"last_seen"`
	CreatedAt   time.Time `json:"created_at"`
}

func (u *User) EntityID() string    { return u.ID }
func (u *User) ScopeKey() string    { return "" }
func (u *User) SortTime() time.Time { return u.CreatedAt }

// Label returns the best human-readable name for the user.
func (u *User) Label() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}
