package store

import (
	"context"
	"time"
)

// Skill is a named prompt fragment injected into the system prompt on
// demand. The name is the public handle; it is not unique across owners.
type Skill struct {
	ID          string
	OwnerID     string // empty for global filesystem skills surfaced via the resolver
	Name        string
	Description string
	Content     string
	IsShared    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SkillStore persists stored skills. Filesystem skills are handled by the
// resolver, not here.
type SkillStore interface {
	Create(ctx context.Context, s *Skill) error
	Update(ctx context.Context, s *Skill) error
	Get(ctx context.Context, id string) (*Skill, error)
	ListForUser(ctx context.Context, ownerID string) ([]*Skill, error)
	ListShared(ctx context.Context) ([]*Skill, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// Script is a user-supplied program executed by the script runner, either
// as a workflow step or through the run_script tool. IsApproved gates use
// by callers other than the owner.
type Script struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	Source      string
	IsApproved  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ScriptStore persists scripts.
type ScriptStore interface {
	Create(ctx context.Context, s *Script) error
	Get(ctx context.Context, id string) (*Script, error)
	// GetByName returns the named script owned by ownerID.
	GetByName(ctx context.Context, ownerID, name string) (*Script, error)
	// GetApprovedByName returns the named script from any owner, approved
	// for shared use. Used as the fallback tier of run_script resolution.
	GetApprovedByName(ctx context.Context, name string) (*Script, error)
	ListForUser(ctx context.Context, ownerID string) ([]*Script, error)
	Delete(ctx context.Context, ownerID, id string) error
}
