// ABOUTME: In-memory fan-out Broadcaster implementation
// ABOUTME: Per-identity subscriber channels with non-blocking, drop-on-full publish

package event

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Ibxdevgh/moltslack/internal/obs"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// MemberSource resolves a channel id to its current member identities.
// Implemented by the channel registry.
type MemberSource interface {
	MemberIDs(channelID string) []string
}

// Hub is an in-memory Broadcaster. Subscribers register per identity and
// receive every event addressed to that identity, its channels, or everyone.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // identityID -> subID -> ch
	members     MemberSource
	logger      *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(members MemberSource, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan Event),
		members:     members,
		logger:      logger.With("component", "hub"),
	}
}

// Subscribe registers a subscriber for an identity's events. Returns the
// event channel and a subscription id. The subscription is cleaned up when
// ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, identityID string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	h.mu.Lock()
	if _, ok := h.subscribers[identityID]; !ok {
		h.subscribers[identityID] = make(map[string]chan Event)
	}
	h.subscribers[identityID][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "identity_id", identityID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(identityID, subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(identityID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[identityID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(h.subscribers, identityID)
	}

	h.logger.Debug("subscriber removed", "identity_id", identityID, "sub_id", subID)
}

// SendToIdentity delivers an event to all subscribers of one identity.
func (h *Hub) SendToIdentity(identityID string, ev Event) {
	obs.EventDispatched("identity")
	h.deliver([]string{identityID}, ev)
}

// SendToChannel fans an event out to every member of the channel.
func (h *Hub) SendToChannel(channelID string, ev Event) {
	obs.EventDispatched("channel")
	if h.members == nil {
		return
	}
	h.deliver(h.members.MemberIDs(channelID), ev)
}

// BroadcastAll delivers an event to every subscribed identity.
func (h *Hub) BroadcastAll(ev Event) {
	obs.EventDispatched("broadcast")

	h.mu.RLock()
	ids := make([]string, 0, len(h.subscribers))
	for id := range h.subscribers {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	h.deliver(ids, ev)
}

// deliver sends an event to the subscribers of each identity, non-blocking.
// Events are dropped for subscribers whose channels are full.
func (h *Hub) deliver(identityIDs []string, ev Event) {
	h.mu.RLock()
	var targets []chan Event
	for _, id := range identityIDs {
		for _, ch := range h.subscribers[id] {
			targets = append(targets, ch)
		}
	}
	h.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("dropped event for slow subscriber", "type", ev.Type)
		}
	}
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, id)
	}

	h.logger.Debug("hub closed")
}
