package models

import (
	"time"
)

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "ACTIVE"
	ProjectArchived ProjectStatus = "ARCHIVED"
)

// Valid reports whether s is a known status.
func (s ProjectStatus) Valid() bool {
	return s == ProjectActive || s == ProjectArchived
}

// Project groups chat rooms, tasks and members.
type Project struct {
	Local
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	OwnerID     string        `json:"owner_id"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NewProject creates a new active Project with initialized timestamps.
func NewProject(name, description, ownerID string) *Project {
	now := time.Now().UTC()
	return &Project{
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		Status:      ProjectActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (p *Project) EntityID() string    { return p.ID }
func (p *Project) ScopeKey() string    { return "" }
func (p *Project) SortTime() time.Time { return p.CreatedAt }

// IsArchived returns true if the project is archived.
func (p *Project) IsArchived() bool {
	return p.Status == ProjectArchived
}
