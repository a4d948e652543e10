// ABOUTME: Tracks each identity's connection lifecycle and liveness state
// ABOUTME: Heartbeats keep records fresh; explicit busy status is never auto-overridden

package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Ibxdevgh/moltslack/internal/clock"
	"github.com/Ibxdevgh/moltslack/internal/event"
	"github.com/Ibxdevgh/moltslack/internal/obs"
	"github.com/Ibxdevgh/moltslack/internal/store"
)

// persistTimeout bounds detached store writes.
const persistTimeout = 5 * time.Second

// State is an identity's visible liveness. Offline is the absence of a
// record, not a state value.
type State string

const (
	StateOnline State = "online"
	StateIdle   State = "idle"
	StateBusy   State = "busy"
)

// Default timing thresholds.
const (
	DefaultIdleTimeout    = 60 * time.Second
	DefaultOfflineTimeout = 180 * time.Second
	DefaultTypingTimeout  = 10 * time.Second
	DefaultSweepInterval  = 15 * time.Second
)

// Typing marks an identity as typing in a channel until the deadline.
type Typing struct {
	ChannelID string
	ExpiresAt time.Time
}

// Presence is a snapshot of one identity's connection state.
type Presence struct {
	IdentityID      string
	State           State
	StatusMessage   string
	Activity        string
	Metadata        map[string]string
	ActiveChannels  []string
	Typing          *Typing
	LastHeartbeatAt time.Time
	ConnectedAt     time.Time
}

type record struct {
	identityID      string
	state           State
	statusMessage   string
	activity        string
	metadata        map[string]string
	activeChannels  map[string]struct{}
	typing          *Typing
	lastHeartbeatAt time.Time
	connectedAt     time.Time
}

// Config holds the tracker's timing thresholds. Zero fields select defaults.
type Config struct {
	IdleTimeout    time.Duration
	OfflineTimeout time.Duration
	TypingTimeout  time.Duration
	SweepInterval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.OfflineTimeout == 0 {
		c.OfflineTimeout = DefaultOfflineTimeout
	}
	if c.TypingTimeout == 0 {
		c.TypingTimeout = DefaultTypingTimeout
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// PresenceStore is what the tracker needs from durable storage.
type PresenceStore interface {
	SavePresence(ctx context.Context, rec *store.PresenceRecord) error
	DeletePresence(ctx context.Context, identityID string) error
}

// Tracker owns every identity's presence record. Records exist only while
// connected and are removed entirely on disconnect or timeout.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*record

	cfg    Config
	bcast  event.Broadcaster
	store  PresenceStore
	logger *slog.Logger
	clock  clock.Clock

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewTracker creates a presence tracker. Store and broadcaster may be nil.
func NewTracker(cfg Config, bcast event.Broadcaster, st PresenceStore, logger *slog.Logger, clk clock.Clock) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		records: make(map[string]*record),
		cfg:     cfg.withDefaults(),
		bcast:   bcast,
		store:   st,
		logger:  logger.With("component", "presence"),
		clock:   clk,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Connect creates or replaces the identity's presence record. Reconnecting
// never leaves a second record behind.
func (t *Tracker) Connect(identityID string, metadata map[string]string) *Presence {
	now := t.clock.Now()

	t.mu.Lock()
	rec := &record{
		identityID:      identityID,
		state:           StateOnline,
		metadata:        metadata,
		activeChannels:  make(map[string]struct{}),
		lastHeartbeatAt: now,
		connectedAt:     now,
	}
	t.records[identityID] = rec
	snap := snapshot(rec)
	t.mu.Unlock()

	t.logger.Info("identity connected", "identity_id", identityID)
	obs.PresenceTransition(string(StateOnline))
	t.broadcastState(identityID, StateOnline, "")
	t.persist(snap)
	return snap
}

// Disconnect removes the record entirely and broadcasts offline with the
// given reason. Unknown identities are a no-op.
func (t *Tracker) Disconnect(identityID, reason string) {
	t.mu.Lock()
	_, ok := t.records[identityID]
	if ok {
		delete(t.records, identityID)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	t.logger.Info("identity disconnected", "identity_id", identityID, "reason", reason)
	obs.PresenceTransition("offline")
	t.broadcastOffline(identityID, reason)
	t.unpersist(identityID)
}

// Heartbeat refreshes the identity's liveness. A nil activeChannelIDs leaves
// the active set alone; non-nil replaces it. An idle identity returns to
// online; an explicit busy status is not overridden. Returns false when the
// identity has no presence record.
func (t *Tracker) Heartbeat(identityID string, activeChannelIDs []string) bool {
	t.mu.Lock()
	rec, ok := t.records[identityID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	rec.lastHeartbeatAt = t.clock.Now()
	if activeChannelIDs != nil {
		rec.activeChannels = make(map[string]struct{}, len(activeChannelIDs))
		for _, id := range activeChannelIDs {
			rec.activeChannels[id] = struct{}{}
		}
	}
	restored := rec.state == StateIdle
	if restored {
		rec.state = StateOnline
	}
	snap := snapshot(rec)
	t.mu.Unlock()

	if restored {
		obs.PresenceTransition(string(StateOnline))
		t.broadcastState(identityID, StateOnline, "")
	}
	t.persist(snap)
	return true
}

// SetStatus sets an explicit status. The stored message is always updated,
// but a broadcast happens only when the status value actually changes.
func (t *Tracker) SetStatus(identityID string, state State, statusMessage string) bool {
	t.mu.Lock()
	rec, ok := t.records[identityID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	rec.statusMessage = statusMessage
	changed := rec.state != state
	rec.state = state
	snap := snapshot(rec)
	t.mu.Unlock()

	if changed {
		obs.PresenceTransition(string(state))
		t.broadcastState(identityID, state, statusMessage)
	}
	t.persist(snap)
	return true
}

// StartActivity records a current-activity descriptor and forces busy.
func (t *Tracker) StartActivity(identityID, activity string) bool {
	return t.setActivity(identityID, activity, StateBusy)
}

// EndActivity clears the activity descriptor and restores online.
func (t *Tracker) EndActivity(identityID string) bool {
	return t.setActivity(identityID, "", StateOnline)
}

func (t *Tracker) setActivity(identityID, activity string, state State) bool {
	t.mu.Lock()
	rec, ok := t.records[identityID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	rec.activity = activity
	changed := rec.state != state
	rec.state = state
	snap := snapshot(rec)
	t.mu.Unlock()

	if changed {
		obs.PresenceTransition(string(state))
		t.broadcastState(identityID, state, "")
	}
	t.persist(snap)
	return true
}

// SetTyping marks or clears a typing indicator and broadcasts to the
// channel's members on every explicit call. Unrefreshed indicators are
// auto-cleared (with a stop broadcast) by the sweep.
func (t *Tracker) SetTyping(identityID, channelID string, isTyping bool) bool {
	t.mu.Lock()
	rec, ok := t.records[identityID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	if isTyping {
		rec.typing = &Typing{
			ChannelID: channelID,
			ExpiresAt: t.clock.Now().Add(t.cfg.TypingTimeout),
		}
	} else {
		rec.typing = nil
	}
	t.mu.Unlock()

	t.broadcastTyping(identityID, channelID, isTyping)
	return true
}

// JoinChannel adds a channel to the identity's active set, broadcasting only
// when the set actually changes.
func (t *Tracker) JoinChannel(identityID, channelID string) bool {
	return t.setChannelMembership(identityID, channelID, true)
}

// LeaveChannel removes a channel from the identity's active set, broadcasting
// only when the set actually changes.
func (t *Tracker) LeaveChannel(identityID, channelID string) bool {
	return t.setChannelMembership(identityID, channelID, false)
}

func (t *Tracker) setChannelMembership(identityID, channelID string, join bool) bool {
	t.mu.Lock()
	rec, ok := t.records[identityID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	_, present := rec.activeChannels[channelID]
	changed := present != join
	if join {
		rec.activeChannels[channelID] = struct{}{}
	} else {
		delete(rec.activeChannels, channelID)
	}
	snap := snapshot(rec)
	t.mu.Unlock()

	if changed {
		if t.bcast != nil {
			t.bcast.SendToChannel(channelID, event.Event{
				Type:       event.TypePresence,
				ChannelID:  channelID,
				IdentityID: identityID,
				At:         t.clock.Now(),
				Payload: map[string]any{
					"state":  string(snap.State),
					"active": join,
				},
			})
		}
		t.persist(snap)
	}
	return true
}

// Get returns a snapshot of the identity's presence.
func (t *Tracker) Get(identityID string) (*Presence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[identityID]
	if !ok {
		return nil, false
	}
	return snapshot(rec), true
}

// State returns the identity's current state name. Implements the channel
// registry's PresenceReader.
func (t *Tracker) State(identityID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[identityID]
	if !ok {
		return "", false
	}
	return string(rec.state), true
}

// IsOnline reports whether the identity has a live presence record.
func (t *Tracker) IsOnline(identityID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[identityID]
	return ok
}

// List returns snapshots of every connected identity.
func (t *Tracker) List() []*Presence {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Presence, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, snapshot(rec))
	}
	return out
}

func (t *Tracker) broadcastState(identityID string, state State, statusMessage string) {
	if t.bcast == nil {
		return
	}
	payload := map[string]any{"state": string(state)}
	if statusMessage != "" {
		payload["status_message"] = statusMessage
	}
	t.bcast.BroadcastAll(event.Event{
		Type:       event.TypePresence,
		IdentityID: identityID,
		At:         t.clock.Now(),
		Payload:    payload,
	})
}

func (t *Tracker) broadcastOffline(identityID, reason string) {
	if t.bcast == nil {
		return
	}
	t.bcast.BroadcastAll(event.Event{
		Type:       event.TypePresence,
		IdentityID: identityID,
		At:         t.clock.Now(),
		Payload: map[string]any{
			"state":  "offline",
			"reason": reason,
		},
	})
}

func (t *Tracker) broadcastTyping(identityID, channelID string, isTyping bool) {
	if t.bcast == nil {
		return
	}
	t.bcast.SendToChannel(channelID, event.Event{
		Type:       event.TypeTyping,
		ChannelID:  channelID,
		IdentityID: identityID,
		At:         t.clock.Now(),
		Payload:    map[string]any{"typing": isTyping},
	})
}

func snapshot(rec *record) *Presence {
	channels := make([]string, 0, len(rec.activeChannels))
	for id := range rec.activeChannels {
		channels = append(channels, id)
	}
	sort.Strings(channels)

	var meta map[string]string
	if rec.metadata != nil {
		meta = make(map[string]string, len(rec.metadata))
		for k, v := range rec.metadata {
			meta[k] = v
		}
	}
	var typing *Typing
	if rec.typing != nil {
		cp := *rec.typing
		typing = &cp
	}
	return &Presence{
		IdentityID:      rec.identityID,
		State:           rec.state,
		StatusMessage:   rec.statusMessage,
		Activity:        rec.activity,
		Metadata:        meta,
		ActiveChannels:  channels,
		Typing:          typing,
		LastHeartbeatAt: rec.lastHeartbeatAt,
		ConnectedAt:     rec.connectedAt,
	}
}

// persist writes a presence snapshot with a detached timeout context.
func (t *Tracker) persist(snap *Presence) {
	if t.store == nil {
		return
	}
	channels, err := json.Marshal(snap.ActiveChannels)
	if err != nil {
		t.logger.Error("failed to encode active channels", "identity_id", snap.IdentityID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	rec := &store.PresenceRecord{
		IdentityID:      snap.IdentityID,
		State:           string(snap.State),
		StatusMessage:   snap.StatusMessage,
		Activity:        snap.Activity,
		ActiveChannels:  string(channels),
		LastHeartbeatAt: snap.LastHeartbeatAt,
	}
	if err := t.store.SavePresence(ctx, rec); err != nil {
		t.logger.Error("failed to persist presence", "identity_id", snap.IdentityID, "error", err)
	}
}

func (t *Tracker) unpersist(identityID string) {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := t.store.DeletePresence(ctx, identityID); err != nil {
		t.logger.Error("failed to delete presence", "identity_id", identityID, "error", err)
	}
}
