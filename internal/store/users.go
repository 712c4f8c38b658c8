package store

import (
	"context"
	"time"
)

// User is the ownership root for every other entity. Config is a small bag
// of per-user settings (display name, timezone, soul/profile text) kept
// schemaless on purpose.
type User struct {
	ID        string
	Email     string
	Config    map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserStore persists users.
type UserStore interface {
	// Ensure returns the user with the given id, creating it when missing.
	Ensure(ctx context.Context, id string) (*User, error)
	Get(ctx context.Context, id string) (*User, error)
	// UpdateConfig replaces the user's config bag.
	UpdateConfig(ctx context.Context, id string, config map[string]string) error
}

// ChannelIdentity maps an external handle (for example a Telegram chat id)
// to its owning user. Inbound ids carry a channel prefix such as "tg:";
// resolution strips the prefix and looks the remainder up here.
type ChannelIdentity struct {
	ID            string
	OwnerID       string
	Channel       string
	ChannelUserID string
	CreatedAt     time.Time
}

// IdentityStore persists channel identities.
type IdentityStore interface {
	// Resolve returns the identity for (channel, channelUserID), or
	// ErrNotFound when the external handle is unlinked.
	Resolve(ctx context.Context, channel, channelUserID string) (*ChannelIdentity, error)
	Get(ctx context.Context, id string) (*ChannelIdentity, error)
	ListForUser(ctx context.Context, ownerID string) ([]*ChannelIdentity, error)
	Link(ctx context.Context, identity *ChannelIdentity) error
	Unlink(ctx context.Context, ownerID, id string) error
}
