// ABOUTME: Tests for the SQLite store
// ABOUTME: Covers upsert round-trips, timestamp precision, and listing filters

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIdentityRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := &IdentityRecord{
		ID:                "id-1",
		DisplayName:       "agent-a",
		Capabilities:      `[{"resource":"channel:*","actions":["write"]}]`,
		CredentialVersion: 3,
		CreatedAt:         testStart,
	}
	require.NoError(t, s.SaveIdentity(ctx, rec))

	// Saving again with updated fields upserts.
	rec.CredentialVersion = 4
	require.NoError(t, s.SaveIdentity(ctx, rec))

	got, err := s.ListIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "agent-a", got[0].DisplayName)
	assert.Equal(t, int64(4), got[0].CredentialVersion)
	assert.True(t, got[0].CreatedAt.Equal(testStart))
}

func TestChannelRoundTripAndDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := &ChannelRecord{
		ID:            "ch-1",
		Name:          "general",
		Kind:          "open",
		Topic:         "chatter",
		Metadata:      `{"team":"core"}`,
		Rules:         `[{"principal_kind":"everyone","level":"write"}]`,
		DefaultAccess: "read",
		CreatedBy:     "system",
		CreatedAt:     testStart,
	}
	require.NoError(t, s.SaveChannel(ctx, rec))

	got, err := s.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.Rules, got[0].Rules)
	assert.Equal(t, "read", got[0].DefaultAccess)

	require.NoError(t, s.DeleteChannel(ctx, "ch-1"))
	got, err = s.ListChannels(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMembershipIdempotence(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := &MembershipRecord{ChannelID: "ch-1", IdentityID: "alice", JoinedAt: testStart}
	require.NoError(t, s.SaveMembership(ctx, rec))
	require.NoError(t, s.SaveMembership(ctx, rec))

	got, err := s.ListMemberships(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, s.SaveMembership(ctx, &MembershipRecord{ChannelID: "ch-1", IdentityID: "bob", JoinedAt: testStart}))
	require.NoError(t, s.SaveMembership(ctx, &MembershipRecord{ChannelID: "ch-2", IdentityID: "alice", JoinedAt: testStart}))

	require.NoError(t, s.DeleteMembership(ctx, "ch-1", "alice"))
	got, err = s.ListMemberships(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, s.DeleteChannelMemberships(ctx, "ch-1"))
	got, err = s.ListMemberships(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ch-2", got[0].ChannelID)
}

func TestMessageRoundTrip_SubSecondPrecision(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sentAt := testStart.Add(123456789 * time.Nanosecond)
	editedAt := sentAt.Add(time.Minute)
	rec := &MessageRecord{
		ID:         "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		TargetID:   "ch-1",
		TargetKind: "channel",
		SenderID:   "alice",
		Text:       "hello @all",
		Data:       `{"k":"v"}`,
		Mentions:   `[{"kind":"everyone","start":6,"length":4}]`,
		ThreadID:   "thread-1",
		Signature:  "deadbeef",
		Delivery:   "sent",
		SentAt:     sentAt,
		EditedAt:   &editedAt,
	}
	require.NoError(t, s.SaveMessage(ctx, rec))

	got, err := s.GetMessage(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.SentAt.Equal(sentAt), "sub-second precision must survive the round trip")
	require.NotNil(t, got.EditedAt)
	assert.True(t, got.EditedAt.Equal(editedAt))
	assert.Nil(t, got.DeletedAt)
	assert.Equal(t, rec.Mentions, got.Mentions)
	assert.Equal(t, rec.Signature, got.Signature)

	_, err = s.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListChannelMessages(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	save := func(id string, sentAt time.Time, deleted bool) {
		rec := &MessageRecord{
			ID:         id,
			TargetID:   "ch-1",
			TargetKind: "channel",
			SenderID:   "alice",
			Text:       "msg " + id,
			Delivery:   "sent",
			SentAt:     sentAt,
		}
		if deleted {
			at := sentAt.Add(time.Second)
			rec.DeletedAt = &at
		}
		require.NoError(t, s.SaveMessage(ctx, rec))
	}

	save("m1", testStart, false)
	save("m2", testStart.Add(time.Second), false)
	save("m3", testStart.Add(2*time.Second), true)
	save("m4", testStart.Add(3*time.Second), false)

	// A direct message to the same id never shows up in channel listings.
	require.NoError(t, s.SaveMessage(ctx, &MessageRecord{
		ID: "dm1", TargetID: "ch-1", TargetKind: "identity",
		SenderID: "alice", Text: "dm", Delivery: "sent", SentAt: testStart,
	}))

	got, err := s.ListChannelMessages(ctx, "ch-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 3, "soft-deleted messages are filtered out")
	assert.Equal(t, "m4", got[0].ID)
	assert.Equal(t, "m2", got[1].ID)
	assert.Equal(t, "m1", got[2].ID)

	got, err = s.ListChannelMessages(ctx, "ch-1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m4", got[0].ID)
}

func TestPresenceRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := &PresenceRecord{
		IdentityID:      "alice",
		State:           "busy",
		StatusMessage:   "migrating",
		Activity:        "schema rework",
		ActiveChannels:  `["ch-1","ch-2"]`,
		LastHeartbeatAt: testStart,
	}
	require.NoError(t, s.SavePresence(ctx, rec))

	rec.State = "online"
	require.NoError(t, s.SavePresence(ctx, rec))

	require.NoError(t, s.DeletePresence(ctx, "alice"))
	// Deleting an absent record is a no-op.
	require.NoError(t, s.DeletePresence(ctx, "alice"))
}
