// ABOUTME: Tests for the in-memory event hub
// ABOUTME: Covers per-identity fan-out, channel routing, and drop-on-full delivery

package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memberStub maps channel ids to fixed member lists.
type memberStub struct {
	members map[string][]string
}

func (m *memberStub) MemberIDs(channelID string) []string { return m.members[channelID] }

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	default:
	}
}

func TestSendToIdentity(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()
	ctx := context.Background()

	alice1, _ := hub.Subscribe(ctx, "alice")
	alice2, _ := hub.Subscribe(ctx, "alice")
	bob, _ := hub.Subscribe(ctx, "bob")

	hub.SendToIdentity("alice", Event{Type: TypeMessage, Payload: map[string]any{"n": 1}})

	// Every subscription of the identity gets its own copy.
	assert.Equal(t, TypeMessage, recvEvent(t, alice1).Type)
	assert.Equal(t, TypeMessage, recvEvent(t, alice2).Type)
	assertNoEvent(t, bob)
}

func TestSendToChannel_FansOutToMembers(t *testing.T) {
	members := &memberStub{members: map[string][]string{
		"ch1": {"alice", "bob"},
	}}
	hub := NewHub(members, nil)
	defer hub.Close()
	ctx := context.Background()

	alice, _ := hub.Subscribe(ctx, "alice")
	bob, _ := hub.Subscribe(ctx, "bob")
	carol, _ := hub.Subscribe(ctx, "carol")

	hub.SendToChannel("ch1", Event{Type: TypeMessage, ChannelID: "ch1"})

	assert.Equal(t, "ch1", recvEvent(t, alice).ChannelID)
	assert.Equal(t, "ch1", recvEvent(t, bob).ChannelID)
	assertNoEvent(t, carol)

	// Unknown channels resolve to no members.
	hub.SendToChannel("ch404", Event{Type: TypeMessage})
	assertNoEvent(t, alice)
}

func TestBroadcastAll(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()
	ctx := context.Background()

	alice, _ := hub.Subscribe(ctx, "alice")
	bob, _ := hub.Subscribe(ctx, "bob")

	hub.BroadcastAll(Event{Type: TypePresence})

	assert.Equal(t, TypePresence, recvEvent(t, alice).Type)
	assert.Equal(t, TypePresence, recvEvent(t, bob).Type)
}

func TestUnsubscribe(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	ch, subID := hub.Subscribe(context.Background(), "alice")
	hub.Unsubscribe("alice", subID)

	_, open := <-ch
	assert.False(t, open, "unsubscribe must close the channel")

	// Repeat unsubscribes and sends to the removed identity are no-ops.
	hub.Unsubscribe("alice", subID)
	hub.SendToIdentity("alice", Event{Type: TypeMessage})
}

func TestSubscribe_ContextCancelCleansUp(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := hub.Subscribe(ctx, "alice")
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestDeliver_DropsWhenFull(t *testing.T) {
	hub := NewHub(nil, nil)
	defer hub.Close()

	ch, _ := hub.Subscribe(context.Background(), "alice")

	for i := 0; i < subscriberBufferSize+10; i++ {
		hub.SendToIdentity("alice", Event{Type: TypeMessage, Payload: map[string]any{"n": i}})
	}

	// The buffer holds the first events; the overflow was dropped, and the
	// publisher never blocked to get here.
	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			assert.Equal(t, subscriberBufferSize, received)
			return
		}
	}
}
