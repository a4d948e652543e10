// ABOUTME: Channel registry owning definitions, membership sets, and access rules
// ABOUTME: Access combines ordered channel rules with the identity's capability set

package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ibxdevgh/moltslack/internal/capability"
	"github.com/Ibxdevgh/moltslack/internal/clock"
	"github.com/Ibxdevgh/moltslack/internal/store"
)

// persistTimeout bounds detached store writes.
const persistTimeout = 5 * time.Second

// ErrNameTaken indicates a create collided with a live channel name.
var ErrNameTaken = errors.New("channel name already exists")

// ErrPermissionDenied indicates the identity's access level is insufficient.
var ErrPermissionDenied = errors.New("permission denied")

// Kind determines a channel's default access rules.
type Kind string

const (
	KindOpen       Kind = "open"
	KindRestricted Kind = "restricted"
	KindBroadcast  Kind = "broadcast"
	KindDirect     Kind = "direct"
)

// Level orders access: none < read < write < admin. A required level is
// satisfied by any actual level at or above it.
type Level int

const (
	LevelNone Level = iota
	LevelRead
	LevelWrite
	LevelAdmin
)

var levelNames = map[Level]string{
	LevelNone:  "none",
	LevelRead:  "read",
	LevelWrite: "write",
	LevelAdmin: "admin",
}

var levelValues = map[string]Level{
	"none":  LevelNone,
	"read":  LevelRead,
	"write": LevelWrite,
	"admin": LevelAdmin,
}

func (l Level) String() string { return levelNames[l] }

// ParseLevel maps a stored level name back to a Level. Unknown names are none.
func ParseLevel(s string) Level { return levelValues[s] }

// PrincipalKind says who an access rule applies to.
type PrincipalKind string

const (
	PrincipalIdentity PrincipalKind = "identity"
	PrincipalEveryone PrincipalKind = "everyone"
)

// AccessRule grants a level to a principal. Rules are evaluated in order;
// the first matching rule wins.
type AccessRule struct {
	Principal     string        `json:"principal,omitempty"`
	PrincipalKind PrincipalKind `json:"principal_kind"`
	Level         Level         `json:"level"`
}

// Channel is a named, access-controlled message destination. Snapshots
// returned by the registry carry a nil member set; MemberCount is the cached
// derived size kept consistent on every join and leave.
type Channel struct {
	ID            string
	Name          string
	Kind          Kind
	Topic         string
	Metadata      map[string]string
	Rules         []AccessRule
	DefaultAccess Level
	CreatedBy     string
	CreatedAt     time.Time
	MemberCount   int

	members map[string]struct{}
}

// resolve walks the rule list in order and returns the first match, falling
// back to the channel's default access.
func (c *Channel) resolve(identityID string) Level {
	for _, rule := range c.Rules {
		switch rule.PrincipalKind {
		case PrincipalEveryone:
			return rule.Level
		case PrincipalIdentity:
			if rule.Principal == identityID {
				return rule.Level
			}
		}
	}
	return c.DefaultAccess
}

// CapabilityResolver supplies an identity's current capability set.
// Implemented by the capability registry.
type CapabilityResolver interface {
	Capabilities(identityID string) ([]capability.Capability, bool)
}

// ChannelStore is what the registry needs from durable storage.
type ChannelStore interface {
	SaveChannel(ctx context.Context, rec *store.ChannelRecord) error
	DeleteChannel(ctx context.Context, id string) error
	ListChannels(ctx context.Context) ([]*store.ChannelRecord, error)
	SaveMembership(ctx context.Context, rec *store.MembershipRecord) error
	DeleteMembership(ctx context.Context, channelID, identityID string) error
	DeleteChannelMemberships(ctx context.Context, channelID string) error
	ListMemberships(ctx context.Context) ([]*store.MembershipRecord, error)
}

// PresenceReader exposes live connection state, consulted read-only when
// listing members. Implemented by the presence tracker.
type PresenceReader interface {
	State(identityID string) (string, bool)
}

// Member pairs a channel member with its current liveness.
type Member struct {
	IdentityID string
	State      string
}

// Registry owns all channel definitions and membership sets. The in-memory
// maps are the source of truth; the store is written behind each committing
// operation and its failures are logged, never propagated.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	byName   map[string]string // name -> id, live channels only
	caps     CapabilityResolver
	store    ChannelStore
	logger   *slog.Logger
	clock    clock.Clock
}

// NewRegistry creates a channel registry. Store may be nil for ephemeral use.
func NewRegistry(caps CapabilityResolver, st ChannelStore, logger *slog.Logger, clk clock.Clock) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		channels: make(map[string]*Channel),
		byName:   make(map[string]string),
		caps:     caps,
		store:    st,
		logger:   logger.With("component", "channel"),
		clock:    clk,
	}
}

// Load restores channels and memberships from the store. Called once at
// startup, before Bootstrap.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	chans, err := r.store.ListChannels(ctx)
	if err != nil {
		return err
	}
	members, err := r.store.ListMemberships(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range chans {
		ch := &Channel{
			ID:            rec.ID,
			Name:          rec.Name,
			Kind:          Kind(rec.Kind),
			Topic:         rec.Topic,
			DefaultAccess: ParseLevel(rec.DefaultAccess),
			CreatedBy:     rec.CreatedBy,
			CreatedAt:     rec.CreatedAt,
			Metadata:      map[string]string{},
			members:       make(map[string]struct{}),
		}
		if rec.Metadata != "" {
			if err := json.Unmarshal([]byte(rec.Metadata), &ch.Metadata); err != nil {
				r.logger.Error("bad channel metadata blob", "channel_id", rec.ID, "error", err)
			}
		}
		if rec.Rules != "" {
			if err := json.Unmarshal([]byte(rec.Rules), &ch.Rules); err != nil {
				r.logger.Error("bad channel rules blob", "channel_id", rec.ID, "error", err)
			}
		}
		r.channels[ch.ID] = ch
		r.byName[ch.Name] = ch.ID
	}
	for _, m := range members {
		if ch, ok := r.channels[m.ChannelID]; ok {
			ch.members[m.IdentityID] = struct{}{}
			ch.MemberCount = len(ch.members)
		}
	}
	r.logger.Info("channels loaded", "count", len(r.channels))
	return nil
}

// Create makes a new channel with access rules derived from its kind.
// Returns ErrNameTaken if the name collides with a live channel.
func (r *Registry) Create(name string, kind Kind, topic string, metadata map[string]string, creatorID string) (*Channel, error) {
	r.mu.Lock()
	if _, taken := r.byName[name]; taken {
		r.mu.Unlock()
		return nil, ErrNameTaken
	}

	ch := &Channel{
		ID:        uuid.New().String(),
		Name:      name,
		Kind:      kind,
		Topic:     topic,
		Metadata:  metadata,
		CreatedBy: creatorID,
		CreatedAt: r.clock.Now().UTC(),
		members:   make(map[string]struct{}),
	}
	if ch.Metadata == nil {
		ch.Metadata = map[string]string{}
	}
	switch kind {
	case KindOpen:
		ch.Rules = []AccessRule{{PrincipalKind: PrincipalEveryone, Level: LevelWrite}}
		ch.DefaultAccess = LevelRead
	case KindBroadcast:
		ch.Rules = []AccessRule{{PrincipalKind: PrincipalEveryone, Level: LevelRead}}
		ch.DefaultAccess = LevelNone
	default: // restricted, direct
		ch.DefaultAccess = LevelNone
	}

	r.channels[ch.ID] = ch
	r.byName[name] = ch.ID
	snap := snapshot(ch)
	r.mu.Unlock()

	r.logger.Info("channel created", "channel_id", ch.ID, "name", name, "kind", kind, "created_by", creatorID)
	r.persistChannel(snap)
	return snap, nil
}

// Get returns a snapshot of the channel.
func (r *Registry) Get(channelID string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[channelID]
	if !ok {
		return nil, false
	}
	return snapshot(ch), true
}

// GetByName returns a snapshot of the live channel with the given name.
func (r *Registry) GetByName(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return snapshot(r.channels[id]), true
}

// List returns snapshots of every live channel.
func (r *Registry) List() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, snapshot(ch))
	}
	return out
}

// Join adds the identity to the channel's member set. Requires at least
// read access. Idempotent: joining twice reports success without change.
// Returns false only when the channel does not exist.
func (r *Registry) Join(channelID, identityID string) (bool, error) {
	if !r.CheckAccess(channelID, identityID, LevelRead) {
		r.mu.RLock()
		_, exists := r.channels[channelID]
		r.mu.RUnlock()
		if !exists {
			return false, nil
		}
		return false, ErrPermissionDenied
	}

	r.mu.Lock()
	ch, ok := r.channels[channelID]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	_, already := ch.members[identityID]
	if !already {
		ch.members[identityID] = struct{}{}
		ch.MemberCount = len(ch.members)
	}
	joinedAt := r.clock.Now().UTC()
	r.mu.Unlock()

	if !already {
		r.logger.Debug("identity joined channel", "channel_id", channelID, "identity_id", identityID)
		r.persistMembership(&store.MembershipRecord{
			ChannelID:  channelID,
			IdentityID: identityID,
			JoinedAt:   joinedAt,
		})
	}
	return true, nil
}

// Leave removes the identity from the channel's member set. No access check;
// idempotent for non-members. Returns false only when the channel is missing.
func (r *Registry) Leave(channelID, identityID string) bool {
	r.mu.Lock()
	ch, ok := r.channels[channelID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	_, wasMember := ch.members[identityID]
	if wasMember {
		delete(ch.members, identityID)
		ch.MemberCount = len(ch.members)
	}
	r.mu.Unlock()

	if wasMember {
		r.logger.Debug("identity left channel", "channel_id", channelID, "identity_id", identityID)
		r.deleteMembership(channelID, identityID)
	}
	return true
}

// CheckAccess decides whether the identity may act on the channel at the
// required level. Read can be granted by the channel's rule resolution
// alone, so open and broadcast channels are readable without explicit
// capabilities. Write and admin additionally require a capability granting
// that action on the channel resource. An admin capability on the resource
// grants every level outright.
func (r *Registry) CheckAccess(channelID, identityID string, required Level) bool {
	r.mu.RLock()
	ch, ok := r.channels[channelID]
	if !ok {
		r.mu.RUnlock()
		return false
	}
	resolved := ch.resolve(identityID)
	r.mu.RUnlock()

	capLevel := r.capabilityLevel(identityID, channelID)
	if capLevel == LevelAdmin {
		return true
	}
	if required <= LevelRead {
		return resolved >= required || capLevel >= required
	}
	return resolved >= required && capLevel >= required
}

// CanWrite reports write access; the ledger's gate for channel sends.
func (r *Registry) CanWrite(channelID, identityID string) bool {
	return r.CheckAccess(channelID, identityID, LevelWrite)
}

// capabilityLevel maps the identity's capability set to the highest action
// it grants on the channel resource.
func (r *Registry) capabilityLevel(identityID, channelID string) Level {
	if r.caps == nil {
		return LevelNone
	}
	caps, ok := r.caps.Capabilities(identityID)
	if !ok {
		return LevelNone
	}
	resource := Resource(channelID)
	switch {
	case capability.Authorize(caps, resource, capability.ActionAdmin):
		return LevelAdmin
	case capability.Authorize(caps, resource, capability.ActionWrite):
		return LevelWrite
	case capability.Authorize(caps, resource, capability.ActionRead):
		return LevelRead
	default:
		return LevelNone
	}
}

// Resource is the capability resource id for a channel.
func Resource(channelID string) string {
	return "channel:" + channelID
}

// AddAccessRule appends a rule to a live channel. Returns false for an
// unknown channel, never errors.
func (r *Registry) AddAccessRule(channelID string, rule AccessRule) bool {
	r.mu.Lock()
	ch, ok := r.channels[channelID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	ch.Rules = append(ch.Rules, rule)
	snap := snapshot(ch)
	r.mu.Unlock()

	r.persistChannel(snap)
	return true
}

// UpdateMetadata sets the topic (when non-nil) and merges metadata keys on a
// live channel. Returns false for an unknown channel, never errors.
func (r *Registry) UpdateMetadata(channelID string, topic *string, metadata map[string]string) bool {
	r.mu.Lock()
	ch, ok := r.channels[channelID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if topic != nil {
		ch.Topic = *topic
	}
	for k, v := range metadata {
		ch.Metadata[k] = v
	}
	snap := snapshot(ch)
	r.mu.Unlock()

	r.persistChannel(snap)
	return true
}

// Delete removes a channel and its membership set and frees the name for
// reuse. Message history is not cascaded; it stays addressable by the
// orphaned channel id.
func (r *Registry) Delete(channelID string) bool {
	r.mu.Lock()
	ch, ok := r.channels[channelID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.channels, channelID)
	if r.byName[ch.Name] == channelID {
		delete(r.byName, ch.Name)
	}
	r.mu.Unlock()

	r.logger.Info("channel deleted", "channel_id", channelID, "name", ch.Name)
	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := r.store.DeleteChannelMemberships(ctx, channelID); err != nil {
			r.logger.Error("failed to delete memberships", "channel_id", channelID, "error", err)
		}
		if err := r.store.DeleteChannel(ctx, channelID); err != nil {
			r.logger.Error("failed to delete channel", "channel_id", channelID, "error", err)
		}
	}
	return true
}

// MemberIDs returns the channel's member identities. Implements the hub's
// MemberSource.
func (r *Registry) MemberIDs(channelID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[channelID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(ch.members))
	for id := range ch.members {
		ids = append(ids, id)
	}
	return ids
}

// IsMember reports whether the identity belongs to the channel.
func (r *Registry) IsMember(channelID, identityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[channelID]
	if !ok {
		return false
	}
	_, member := ch.members[identityID]
	return member
}

// Members lists the channel's members with their live presence state.
// Identities without a presence record report "offline".
func (r *Registry) Members(channelID string, presence PresenceReader) []Member {
	ids := r.MemberIDs(channelID)
	if ids == nil {
		return nil
	}
	out := make([]Member, 0, len(ids))
	for _, id := range ids {
		state := "offline"
		if presence != nil {
			if s, ok := presence.State(id); ok {
				state = s
			}
		}
		out = append(out, Member{IdentityID: id, State: state})
	}
	return out
}

// snapshot copies a channel for callers. Must be called with mu held.
func snapshot(ch *Channel) *Channel {
	rules := make([]AccessRule, len(ch.Rules))
	copy(rules, ch.Rules)
	meta := make(map[string]string, len(ch.Metadata))
	for k, v := range ch.Metadata {
		meta[k] = v
	}
	return &Channel{
		ID:            ch.ID,
		Name:          ch.Name,
		Kind:          ch.Kind,
		Topic:         ch.Topic,
		Metadata:      meta,
		Rules:         rules,
		DefaultAccess: ch.DefaultAccess,
		CreatedBy:     ch.CreatedBy,
		CreatedAt:     ch.CreatedAt,
		MemberCount:   len(ch.members),
	}
}

// persistChannel writes a channel to the store with a detached context.
func (r *Registry) persistChannel(ch *Channel) {
	if r.store == nil {
		return
	}
	rules, err := json.Marshal(ch.Rules)
	if err != nil {
		r.logger.Error("failed to encode rules", "channel_id", ch.ID, "error", err)
		return
	}
	meta, err := json.Marshal(ch.Metadata)
	if err != nil {
		r.logger.Error("failed to encode metadata", "channel_id", ch.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	rec := &store.ChannelRecord{
		ID:            ch.ID,
		Name:          ch.Name,
		Kind:          string(ch.Kind),
		Topic:         ch.Topic,
		Metadata:      string(meta),
		Rules:         string(rules),
		DefaultAccess: ch.DefaultAccess.String(),
		CreatedBy:     ch.CreatedBy,
		CreatedAt:     ch.CreatedAt,
	}
	if err := r.store.SaveChannel(ctx, rec); err != nil {
		r.logger.Error("failed to persist channel", "channel_id", ch.ID, "error", err)
	}
}

func (r *Registry) persistMembership(rec *store.MembershipRecord) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.SaveMembership(ctx, rec); err != nil {
		r.logger.Error("failed to persist membership",
			"channel_id", rec.ChannelID, "identity_id", rec.IdentityID, "error", err)
	}
}

func (r *Registry) deleteMembership(channelID, identityID string) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.DeleteMembership(ctx, channelID, identityID); err != nil {
		r.logger.Error("failed to delete membership",
			"channel_id", channelID, "identity_id", identityID, "error", err)
	}
}
