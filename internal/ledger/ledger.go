// ABOUTME: Message ledger - accepts, signs, indexes, and serves messages
// ABOUTME: In-memory indices are the source of truth; store and broadcast trail behind

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Ibxdevgh/moltslack/internal/clock"
	"github.com/Ibxdevgh/moltslack/internal/event"
	"github.com/Ibxdevgh/moltslack/internal/obs"
	"github.com/Ibxdevgh/moltslack/internal/store"
)

// persistTimeout bounds detached store writes.
const persistTimeout = 5 * time.Second

// Default page sizes.
const (
	DefaultListLimit   = 50
	DefaultSearchLimit = 20
)

// ErrPermissionDenied indicates the sender lacks write access or does not
// own the message it tried to mutate.
var ErrPermissionDenied = errors.New("permission denied")

// ErrInvalidTarget indicates a malformed send input.
var ErrInvalidTarget = errors.New("invalid message target")

// TargetKind says where a message is addressed.
type TargetKind string

const (
	TargetChannel   TargetKind = "channel"
	TargetIdentity  TargetKind = "identity"
	TargetBroadcast TargetKind = "broadcast"
)

// DeliveryState tracks a message's delivery progress. It advances
// monotonically except that read may be set from any state.
type DeliveryState string

const (
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
)

// Message is one ledger entry. Soft-deleted messages keep their record but
// are excluded from listings and search.
type Message struct {
	ID        string
	TargetID  string
	Target    TargetKind
	SenderID  string
	Text      string
	Data      string
	Mentions  []Mention
	ThreadID  string
	Signature string
	Delivery  DeliveryState
	SentAt    time.Time
	EditedAt  *time.Time
	DeletedAt *time.Time
}

// SendInput is what a caller provides to send a message.
type SendInput struct {
	TargetID string
	Target   TargetKind
	Text     string
	Data     string
	ThreadID string
}

// AccessChecker gates channel sends. Implemented by the channel registry.
type AccessChecker interface {
	CanWrite(channelID, identityID string) bool
}

// PresenceReader exposes liveness, consulted read-only when routing direct
// messages. Implemented by the presence tracker.
type PresenceReader interface {
	IsOnline(identityID string) bool
}

// MessageStore is what the ledger needs from durable storage.
type MessageStore interface {
	SaveMessage(ctx context.Context, rec *store.MessageRecord) error
}

// Ledger owns all message records and their channel/thread indices.
type Ledger struct {
	mu        sync.RWMutex
	messages  map[string]*Message
	order     []string            // global insertion order
	byChannel map[string][]string // channelID -> message ids, insertion order
	byThread  map[string][]string // threadID -> message ids, insertion order

	access   AccessChecker
	presence PresenceReader
	bcast    event.Broadcaster
	store    MessageStore
	signer   *Signer
	logger   *slog.Logger
	clock    clock.Clock

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// New creates a message ledger. Store, broadcaster, and presence may be nil
// for ephemeral or test use.
func New(access AccessChecker, presence PresenceReader, bcast event.Broadcaster, st MessageStore, signer *Signer, logger *slog.Logger, clk clock.Clock) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Ledger{
		messages:  make(map[string]*Message),
		byChannel: make(map[string][]string),
		byThread:  make(map[string][]string),
		access:    access,
		presence:  presence,
		bcast:     bcast,
		store:     st,
		signer:    signer,
		logger:    logger.With("component", "ledger"),
		clock:     clk,
		entropy:   ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
	}
}

// newID returns a lexicographically sortable message id. The monotonic
// entropy source gives messages minted in the same tick a total order.
func (l *Ledger) newID(now time.Time) string {
	l.entropyMu.Lock()
	defer l.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), l.entropy).String()
}

// Send accepts a message from senderID. Channel targets are gated by the
// channel registry's write decision; a denied send stores nothing. The
// message is recorded and indexed first, then persisted and broadcast
// fire-and-forget.
func (l *Ledger) Send(input SendInput, senderID string) (*Message, error) {
	switch input.Target {
	case TargetChannel, TargetIdentity:
		if input.TargetID == "" {
			return nil, ErrInvalidTarget
		}
	case TargetBroadcast:
	default:
		return nil, ErrInvalidTarget
	}

	if input.Target == TargetChannel {
		if l.access == nil || !l.access.CanWrite(input.TargetID, senderID) {
			return nil, ErrPermissionDenied
		}
	}

	now := l.clock.Now().UTC()
	msg := &Message{
		ID:       l.newID(now),
		TargetID: input.TargetID,
		Target:   input.Target,
		SenderID: senderID,
		Text:     input.Text,
		Data:     input.Data,
		Mentions: extractMentions(input.Text),
		ThreadID: input.ThreadID,
		Delivery: DeliverySent,
		SentAt:   now,
	}
	msg.Signature = l.signer.Sign(msg.ID, msg.SenderID, msg.Text, msg.Data, msg.SentAt)

	l.mu.Lock()
	l.messages[msg.ID] = msg
	l.order = append(l.order, msg.ID)
	if msg.Target == TargetChannel {
		l.byChannel[msg.TargetID] = append(l.byChannel[msg.TargetID], msg.ID)
	}
	if msg.ThreadID != "" {
		l.byThread[msg.ThreadID] = append(l.byThread[msg.ThreadID], msg.ID)
	}
	snap := copyMessage(msg)
	l.mu.Unlock()

	l.logger.Debug("message accepted",
		"message_id", msg.ID,
		"target_kind", msg.Target,
		"target_id", msg.TargetID,
		"sender_id", senderID)
	obs.MessageSent()

	l.persist(snap)
	l.dispatch(snap, event.TypeMessage)
	return snap, nil
}

// GetByID returns the message, including soft-deleted ones (audit access).
func (l *Ledger) GetByID(id string) (*Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	msg, ok := l.messages[id]
	if !ok {
		return nil, false
	}
	return copyMessage(msg), true
}

// ChannelMessages lists a channel's messages newest first, excluding
// soft-deleted ones. A beforeID that resolves to a known message restricts
// results to strictly older messages; an unresolvable cursor is ignored.
// A non-positive limit selects the default page size.
func (l *Ledger) ChannelMessages(channelID string, limit int, beforeID string) []*Message {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	idx := l.byChannel[channelID]
	end := len(idx)
	if beforeID != "" {
		if _, known := l.messages[beforeID]; known {
			for i, id := range idx {
				if id == beforeID {
					end = i
					break
				}
			}
		}
	}

	out := make([]*Message, 0, limit)
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		msg := l.messages[idx[i]]
		if msg.DeletedAt != nil {
			continue
		}
		out = append(out, copyMessage(msg))
	}
	return out
}

// ThreadMessages lists a thread's messages oldest first, excluding
// soft-deleted ones.
func (l *Ledger) ThreadMessages(threadID string) []*Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx := l.byThread[threadID]
	out := make([]*Message, 0, len(idx))
	for _, id := range idx {
		msg := l.messages[id]
		if msg.DeletedAt != nil {
			continue
		}
		out = append(out, copyMessage(msg))
	}
	return out
}

// Edit replaces a message's text, recomputes its signature, and stamps
// editedAt. Returns false for an unknown message; a non-owner editor gets
// ErrPermissionDenied.
func (l *Ledger) Edit(id, newText, editorID string) (bool, error) {
	l.mu.Lock()
	msg, ok := l.messages[id]
	if !ok {
		l.mu.Unlock()
		return false, nil
	}
	if msg.SenderID != editorID {
		l.mu.Unlock()
		return false, ErrPermissionDenied
	}
	now := l.clock.Now().UTC()
	msg.Text = newText
	msg.Mentions = extractMentions(newText)
	msg.Signature = l.signer.Sign(msg.ID, msg.SenderID, msg.Text, msg.Data, msg.SentAt)
	msg.EditedAt = &now
	snap := copyMessage(msg)
	l.mu.Unlock()

	l.logger.Debug("message edited", "message_id", id, "editor_id", editorID)
	l.persist(snap)
	l.dispatch(snap, event.TypeMessageEdited)
	return true, nil
}

// Delete soft-deletes a message: the record stays retrievable by id but is
// excluded from listings and search. Same ownership rule as Edit.
func (l *Ledger) Delete(id, deleterID string) (bool, error) {
	l.mu.Lock()
	msg, ok := l.messages[id]
	if !ok {
		l.mu.Unlock()
		return false, nil
	}
	if msg.SenderID != deleterID {
		l.mu.Unlock()
		return false, ErrPermissionDenied
	}
	now := l.clock.Now().UTC()
	msg.DeletedAt = &now
	snap := copyMessage(msg)
	l.mu.Unlock()

	l.logger.Debug("message deleted", "message_id", id, "deleter_id", deleterID)
	l.persist(snap)
	l.dispatch(snap, event.TypeMessageDeleted)
	return true, nil
}

// MarkDelivered advances sent to delivered. Redundant calls and unknown ids
// are no-ops; a message already read stays read.
func (l *Ledger) MarkDelivered(id, recipientID string) {
	l.mu.Lock()
	msg, ok := l.messages[id]
	if !ok || msg.Delivery != DeliverySent {
		l.mu.Unlock()
		return
	}
	msg.Delivery = DeliveryDelivered
	snap := copyMessage(msg)
	l.mu.Unlock()

	l.logger.Debug("message delivered", "message_id", id, "recipient_id", recipientID)
	l.persist(snap)
}

// MarkRead sets the read state regardless of the current one. Unknown ids
// are no-ops.
func (l *Ledger) MarkRead(id, readerID string) {
	l.mu.Lock()
	msg, ok := l.messages[id]
	if !ok || msg.Delivery == DeliveryRead {
		l.mu.Unlock()
		return
	}
	msg.Delivery = DeliveryRead
	snap := copyMessage(msg)
	l.mu.Unlock()

	l.logger.Debug("message read", "message_id", id, "reader_id", readerID)
	l.persist(snap)
}

// VerifySignature recomputes the signature over the message's current fields
// and compares. Tampered records verify false; enforcement is the caller's
// policy.
func (l *Ledger) VerifySignature(msg *Message) bool {
	if msg == nil {
		return false
	}
	return l.signer.Verify(msg.Signature, msg.ID, msg.SenderID, msg.Text, msg.Data, msg.SentAt)
}

// SearchOptions filter a search. A non-positive limit selects the default.
type SearchOptions struct {
	ChannelID string
	SenderID  string
	Limit     int
}

// Search finds messages whose text contains the query, case-insensitive,
// excluding soft-deleted ones. Results come back in ledger insertion order;
// no further ranking is applied.
func (l *Ledger) Search(query string, opts SearchOptions) []*Message {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	needle := strings.ToLower(query)

	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Message
	for _, id := range l.order {
		if len(out) >= limit {
			break
		}
		msg := l.messages[id]
		if msg.DeletedAt != nil {
			continue
		}
		if opts.ChannelID != "" && (msg.Target != TargetChannel || msg.TargetID != opts.ChannelID) {
			continue
		}
		if opts.SenderID != "" && msg.SenderID != opts.SenderID {
			continue
		}
		if !strings.Contains(strings.ToLower(msg.Text), needle) {
			continue
		}
		out = append(out, copyMessage(msg))
	}
	return out
}

// dispatch hands a message to the broadcaster, routed by target kind.
// Fire-and-forget: the sender already has its result.
func (l *Ledger) dispatch(msg *Message, typ event.Type) {
	if l.bcast == nil {
		return
	}
	ev := event.Event{
		Type:       typ,
		IdentityID: msg.SenderID,
		At:         msg.SentAt,
		Payload: map[string]any{
			"message_id": msg.ID,
			"sender_id":  msg.SenderID,
			"text":       msg.Text,
		},
	}
	if msg.ThreadID != "" {
		ev.Payload["thread_id"] = msg.ThreadID
	}

	switch msg.Target {
	case TargetChannel:
		ev.ChannelID = msg.TargetID
		l.bcast.SendToChannel(msg.TargetID, ev)
	case TargetIdentity:
		if l.presence != nil && !l.presence.IsOnline(msg.TargetID) {
			l.logger.Debug("direct message recipient offline", "message_id", msg.ID, "recipient_id", msg.TargetID)
		}
		l.bcast.SendToIdentity(msg.TargetID, ev)
	case TargetBroadcast:
		l.bcast.BroadcastAll(ev)
	}
}

// persist writes a message record with a detached timeout context. Failures
// are logged and never reach the request that triggered them.
func (l *Ledger) persist(msg *Message) {
	if l.store == nil {
		return
	}
	mentions, err := json.Marshal(msg.Mentions)
	if err != nil {
		l.logger.Error("failed to encode mentions", "message_id", msg.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	rec := &store.MessageRecord{
		ID:         msg.ID,
		TargetID:   msg.TargetID,
		TargetKind: string(msg.Target),
		SenderID:   msg.SenderID,
		Text:       msg.Text,
		Data:       msg.Data,
		Mentions:   string(mentions),
		ThreadID:   msg.ThreadID,
		Signature:  msg.Signature,
		Delivery:   string(msg.Delivery),
		SentAt:     msg.SentAt,
		EditedAt:   msg.EditedAt,
		DeletedAt:  msg.DeletedAt,
	}
	if err := l.store.SaveMessage(ctx, rec); err != nil {
		l.logger.Error("failed to persist message", "message_id", msg.ID, "error", err)
	}
}

func copyMessage(msg *Message) *Message {
	out := *msg
	out.Mentions = make([]Mention, len(msg.Mentions))
	copy(out.Mentions, msg.Mentions)
	if msg.EditedAt != nil {
		t := *msg.EditedAt
		out.EditedAt = &t
	}
	if msg.DeletedAt != nil {
		t := *msg.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}
