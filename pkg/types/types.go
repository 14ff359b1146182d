package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPool is returned when a pool definition fails validation
var ErrInvalidPool = errors.New("invalid pool")

// Location is a datacenter region projects can be placed in
type Location struct {
	ID        string
	Name      string
	Region    string
	CreatedAt time.Time
}

// Server is a host inside a location
type Server struct {
	ID         string
	Name       string
	LocationID string
	CreatedAt  time.Time
}

// ServerTier describes the size of instance a project runs on
type ServerTier struct {
	ID          string
	Name        string
	CPUCores    int
	MemoryBytes int64
	CreatedAt   time.Time
}

// ProjectType selects the provisioner variant and template used for a project
type ProjectType string

const (
	ProjectTypeStatic    ProjectType = "static"
	ProjectTypeContainer ProjectType = "container"
)

// ProjectTypes lists every known project type
var ProjectTypes = []ProjectType{ProjectTypeStatic, ProjectTypeContainer}

// Valid reports whether t is a known project type
func (t ProjectType) Valid() bool {
	for _, known := range ProjectTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ProjectState represents the lifecycle state of a project
type ProjectState string

const (
	ProjectStateStopped  ProjectState = "stopped"
	ProjectStateStarting ProjectState = "starting"
	ProjectStateRunning  ProjectState = "running"
	ProjectStateFailed   ProjectState = "failed"
)

// Pool is a target of warm, unowned projects for one
// (server tier, location, project type) bucket
type Pool struct {
	ID           string
	Name         string
	TargetCount  int
	ServerTierID string
	LocationID   string
	ServerID     string
	ProjectType  ProjectType
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Resolved references, filled in by list operations
	Server     *Server     `json:"-"`
	Location   *Location   `json:"-"`
	ServerTier *ServerTier `json:"-"`
}

// Validate checks the pool definition
func (p *Pool) Validate() error {
	if p.TargetCount < 0 {
		return fmt.Errorf("%w: target count must be >= 0, got %d", ErrInvalidPool, p.TargetCount)
	}
	if p.ServerTierID == "" {
		return fmt.Errorf("%w: server tier is required", ErrInvalidPool)
	}
	if p.LocationID == "" && p.ServerID == "" {
		return fmt.Errorf("%w: location or server is required", ErrInvalidPool)
	}
	if !p.ProjectType.Valid() {
		return fmt.Errorf("%w: unknown project type %q", ErrInvalidPool, p.ProjectType)
	}
	return nil
}

// EffectiveLocationID returns the pool's location, falling back to the
// location of its associated server
func (p *Pool) EffectiveLocationID() string {
	if p.LocationID != "" {
		return p.LocationID
	}
	if p.Server != nil {
		return p.Server.LocationID
	}
	return ""
}

// PoolItem marks one warm project as available in a pool
type PoolItem struct {
	ID        string
	PoolID    string
	ProjectID string
	CreatedAt time.Time
}

// Project is the part of a user project the pool manages
type Project struct {
	ID            string
	Name          string
	RepositoryURL string
	OwnerID       string // Empty until the project is delegated to a user
	LocationID    string
	ServerTierID  string
	State         ProjectState
	Type          ProjectType
	CreatedAt     time.Time
}

// Unowned reports whether the project has not been delegated yet
func (p *Project) Unowned() bool {
	return p.OwnerID == ""
}

// EventType identifies a domain signal
type EventType string

const (
	EventProjectCreated          EventType = "project.created"
	EventContainerProjectCreated EventType = "project.created.container"
	EventPoolReconciled          EventType = "pool.reconciled"
	EventPoolItemConsumed        EventType = "pool.item.consumed"
)

// OutboxEntry is a domain signal committed alongside the rows it describes
// and published after the write succeeds
type OutboxEntry struct {
	ID          string
	Type        EventType
	PoolID      string
	ProjectID   string
	ProjectType ProjectType
	Timestamp   time.Time
	Metadata    map[string]string
}

// Lease grants exclusive ownership of a key until ExpiresAt
type Lease struct {
	Key       string
	Holder    string
	ExpiresAt time.Time
}

// Expired reports whether the lease is no longer held at now
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
