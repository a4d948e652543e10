// ABOUTME: Store interface and record types for durable write-behind persistence
// ABOUTME: In-memory component state is the source of truth; the store trails it

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// IdentityRecord is the durable form of a registered identity. The
// capability set is stored as a JSON blob.
type IdentityRecord struct {
	ID                string
	DisplayName       string
	Capabilities      string
	CredentialVersion int64
	CreatedAt         time.Time
}

// ChannelRecord is the durable form of a channel definition. Rules and
// metadata are JSON blobs.
type ChannelRecord struct {
	ID            string
	Name          string
	Kind          string
	Topic         string
	Metadata      string
	Rules         string
	DefaultAccess string
	CreatedBy     string
	CreatedAt     time.Time
}

// MembershipRecord links an identity to a channel.
type MembershipRecord struct {
	ChannelID  string
	IdentityID string
	JoinedAt   time.Time
}

// MessageRecord is the durable form of a ledger message. Mentions are a
// JSON blob; SentAt keeps sub-second precision so ordering round-trips.
type MessageRecord struct {
	ID         string
	TargetID   string
	TargetKind string
	SenderID   string
	Text       string
	Data       string
	Mentions   string
	ThreadID   string
	Signature  string
	Delivery   string
	SentAt     time.Time
	EditedAt   *time.Time
	DeletedAt  *time.Time
}

// PresenceRecord is a snapshot of an identity's connection state. Presence
// is removed, not soft-deleted, when the identity disconnects.
type PresenceRecord struct {
	IdentityID      string
	State           string
	StatusMessage   string
	Activity        string
	ActiveChannels  string
	LastHeartbeatAt time.Time
}

// Store is the durable persistence interface consumed by the core
// components. All writes are upserts; all operations may fail, and callers
// log failures without rolling back in-memory state.
type Store interface {
	// Identities
	SaveIdentity(ctx context.Context, rec *IdentityRecord) error
	ListIdentities(ctx context.Context) ([]*IdentityRecord, error)

	// Channels
	SaveChannel(ctx context.Context, rec *ChannelRecord) error
	DeleteChannel(ctx context.Context, id string) error
	ListChannels(ctx context.Context) ([]*ChannelRecord, error)

	// Memberships
	SaveMembership(ctx context.Context, rec *MembershipRecord) error
	DeleteMembership(ctx context.Context, channelID, identityID string) error
	DeleteChannelMemberships(ctx context.Context, channelID string) error
	ListMemberships(ctx context.Context) ([]*MembershipRecord, error)

	// Messages
	SaveMessage(ctx context.Context, rec *MessageRecord) error
	GetMessage(ctx context.Context, id string) (*MessageRecord, error)
	ListChannelMessages(ctx context.Context, channelID string, limit int) ([]*MessageRecord, error)

	// Presence snapshots
	SavePresence(ctx context.Context, rec *PresenceRecord) error
	DeletePresence(ctx context.Context, identityID string) error

	// Close releases any resources held by the store.
	Close() error
}
