// ABOUTME: Tests for the channel registry
// ABOUTME: Covers kind-derived rules, access resolution, and idempotent membership

package channel

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ibxdevgh/moltslack/internal/capability"
	"github.com/Ibxdevgh/moltslack/internal/clock"
	"github.com/Ibxdevgh/moltslack/internal/store"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// capsStub resolves capability sets from a fixed map.
type capsStub struct {
	caps map[string][]capability.Capability
}

func (c *capsStub) Capabilities(identityID string) ([]capability.Capability, bool) {
	got, ok := c.caps[identityID]
	return got, ok
}

// presenceStub reports fixed states.
type presenceStub struct {
	states map[string]string
}

func (p *presenceStub) State(identityID string) (string, bool) {
	s, ok := p.states[identityID]
	return s, ok
}

func writerCaps(resource string) []capability.Capability {
	return []capability.Capability{{Resource: resource, Actions: []capability.Action{capability.ActionWrite}}}
}

func newTestRegistry(caps *capsStub) *Registry {
	if caps == nil {
		caps = &capsStub{caps: map[string][]capability.Capability{}}
	}
	return NewRegistry(caps, nil, nil, clock.NewFake(testStart))
}

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreate_KindDerivedRules(t *testing.T) {
	reg := newTestRegistry(nil)

	open, err := reg.Create("open-ch", KindOpen, "", nil, "creator")
	require.NoError(t, err)
	require.Len(t, open.Rules, 1)
	assert.Equal(t, PrincipalEveryone, open.Rules[0].PrincipalKind)
	assert.Equal(t, LevelWrite, open.Rules[0].Level)
	assert.Equal(t, LevelRead, open.DefaultAccess)

	bcast, err := reg.Create("bcast-ch", KindBroadcast, "", nil, "creator")
	require.NoError(t, err)
	require.Len(t, bcast.Rules, 1)
	assert.Equal(t, LevelRead, bcast.Rules[0].Level)
	assert.Equal(t, LevelNone, bcast.DefaultAccess)

	restricted, err := reg.Create("restricted-ch", KindRestricted, "", nil, "creator")
	require.NoError(t, err)
	assert.Empty(t, restricted.Rules)
	assert.Equal(t, LevelNone, restricted.DefaultAccess)
}

func TestCreate_NameConflict(t *testing.T) {
	reg := newTestRegistry(nil)

	_, err := reg.Create("general", KindOpen, "", nil, "creator")
	require.NoError(t, err)

	_, err = reg.Create("general", KindRestricted, "", nil, "creator")
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestDelete_FreesName(t *testing.T) {
	reg := newTestRegistry(nil)

	first, err := reg.Create("general", KindOpen, "", nil, "creator")
	require.NoError(t, err)
	require.True(t, reg.Delete(first.ID))

	second, err := reg.Create("general", KindOpen, "", nil, "creator")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, ok := reg.Get(first.ID)
	assert.False(t, ok)
}

func TestJoin_Idempotent(t *testing.T) {
	reg := newTestRegistry(nil)
	ch, err := reg.Create("general", KindOpen, "", nil, "creator")
	require.NoError(t, err)

	ok, err := reg.Join(ch.ID, "bob")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = reg.Join(ch.ID, "bob")
	require.NoError(t, err)
	require.True(t, ok, "rejoining must still report success")

	got, _ := reg.Get(ch.ID)
	assert.Equal(t, 1, got.MemberCount)
}

func TestJoin_MissingChannel(t *testing.T) {
	reg := newTestRegistry(nil)
	ok, err := reg.Join("missing", "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJoin_PermissionDenied(t *testing.T) {
	reg := newTestRegistry(nil)
	ch, err := reg.Create("private", KindRestricted, "", nil, "creator")
	require.NoError(t, err)

	_, err = reg.Join(ch.ID, "bob")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestLeave_NonMemberIsNoOp(t *testing.T) {
	reg := newTestRegistry(nil)
	ch, err := reg.Create("general", KindOpen, "", nil, "creator")
	require.NoError(t, err)

	_, err = reg.Join(ch.ID, "alice")
	require.NoError(t, err)

	assert.True(t, reg.Leave(ch.ID, "bob"), "leaving as a non-member still succeeds")
	got, _ := reg.Get(ch.ID)
	assert.Equal(t, 1, got.MemberCount)

	assert.True(t, reg.Leave(ch.ID, "alice"))
	got, _ = reg.Get(ch.ID)
	assert.Equal(t, 0, got.MemberCount)

	assert.False(t, reg.Leave("missing", "alice"))
}

func TestCheckAccess(t *testing.T) {
	caps := &capsStub{caps: map[string][]capability.Capability{
		"writer": writerCaps("channel:*"),
		"admin": {{
			Resource: "channel:*",
			Actions:  []capability.Action{capability.ActionAdmin},
		}},
	}}
	reg := NewRegistry(caps, nil, nil, clock.NewFake(testStart))

	open, err := reg.Create("general", KindOpen, "", nil, "creator")
	require.NoError(t, err)
	restricted, err := reg.Create("private", KindRestricted, "", nil, "creator")
	require.NoError(t, err)

	// Rules alone grant read on open channels, no capability needed.
	assert.True(t, reg.CheckAccess(open.ID, "nobody", LevelRead))
	// Write needs a capability even when the everyone rule allows it.
	assert.False(t, reg.CheckAccess(open.ID, "nobody", LevelWrite))
	assert.True(t, reg.CheckAccess(open.ID, "writer", LevelWrite))
	// Admin requires a capability beyond the everyone-write rule.
	assert.False(t, reg.CheckAccess(open.ID, "writer", LevelAdmin))
	assert.True(t, reg.CheckAccess(open.ID, "admin", LevelAdmin))

	// Restricted: default none denies rule-resolved access entirely.
	assert.False(t, reg.CheckAccess(restricted.ID, "nobody", LevelRead))
	// A write capability is not enough without a granting rule.
	assert.False(t, reg.CheckAccess(restricted.ID, "writer", LevelWrite))
	// Admin capability bypasses rule resolution.
	assert.True(t, reg.CheckAccess(restricted.ID, "admin", LevelRead))
	assert.True(t, reg.CheckAccess(restricted.ID, "admin", LevelWrite))

	// Unknown channel denies everything.
	assert.False(t, reg.CheckAccess("missing", "admin", LevelRead))
}

func TestCheckAccess_IdentityRuleOrdering(t *testing.T) {
	caps := &capsStub{caps: map[string][]capability.Capability{
		"bob": writerCaps("channel:*"),
	}}
	reg := NewRegistry(caps, nil, nil, clock.NewFake(testStart))

	ch, err := reg.Create("private", KindRestricted, "", nil, "creator")
	require.NoError(t, err)

	// First matching rule wins: bob's explicit none precedes everyone-write.
	require.True(t, reg.AddAccessRule(ch.ID, AccessRule{
		Principal: "bob", PrincipalKind: PrincipalIdentity, Level: LevelNone,
	}))
	require.True(t, reg.AddAccessRule(ch.ID, AccessRule{
		PrincipalKind: PrincipalEveryone, Level: LevelWrite,
	}))

	assert.False(t, reg.CheckAccess(ch.ID, "bob", LevelWrite))
	assert.True(t, reg.CheckAccess(ch.ID, "alice", LevelRead))
}

func TestAddAccessRuleAndUpdateMetadata_UnknownChannel(t *testing.T) {
	reg := newTestRegistry(nil)
	assert.False(t, reg.AddAccessRule("missing", AccessRule{PrincipalKind: PrincipalEveryone, Level: LevelRead}))
	assert.False(t, reg.UpdateMetadata("missing", nil, map[string]string{"k": "v"}))
}

func TestUpdateMetadata(t *testing.T) {
	reg := newTestRegistry(nil)
	ch, err := reg.Create("general", KindOpen, "", map[string]string{"team": "core"}, "creator")
	require.NoError(t, err)

	topic := "all hands"
	require.True(t, reg.UpdateMetadata(ch.ID, &topic, map[string]string{"region": "eu"}))

	got, _ := reg.Get(ch.ID)
	assert.Equal(t, "all hands", got.Topic)
	assert.Equal(t, "core", got.Metadata["team"])
	assert.Equal(t, "eu", got.Metadata["region"])
}

func TestMembers_WithPresence(t *testing.T) {
	reg := newTestRegistry(nil)
	ch, err := reg.Create("general", KindOpen, "", nil, "creator")
	require.NoError(t, err)

	_, err = reg.Join(ch.ID, "alice")
	require.NoError(t, err)
	_, err = reg.Join(ch.ID, "bob")
	require.NoError(t, err)

	presence := &presenceStub{states: map[string]string{"alice": "online"}}
	members := reg.Members(ch.ID, presence)
	require.Len(t, members, 2)

	states := map[string]string{}
	for _, m := range members {
		states[m.IdentityID] = m.State
	}
	assert.Equal(t, "online", states["alice"])
	assert.Equal(t, "offline", states["bob"], "identities without a record report offline")
}

func TestBootstrap_Idempotent(t *testing.T) {
	reg := newTestRegistry(nil)

	require.NoError(t, reg.Bootstrap())
	general, ok := reg.GetByName(DefaultOpenChannel)
	require.True(t, ok)
	assert.Equal(t, KindOpen, general.Kind)
	assert.Equal(t, SystemIdentityID, general.CreatedBy)

	announcements, ok := reg.GetByName(DefaultBroadcastChannel)
	require.True(t, ok)
	assert.Equal(t, KindBroadcast, announcements.Kind)

	require.NoError(t, reg.Bootstrap())
	again, _ := reg.GetByName(DefaultOpenChannel)
	assert.Equal(t, general.ID, again.ID, "second bootstrap must not recreate")
	assert.Len(t, reg.List(), 2)
}

func TestLoad_RestoresChannelsAndMemberships(t *testing.T) {
	st := createTestStore(t)
	clk := clock.NewFake(testStart)
	caps := &capsStub{caps: map[string][]capability.Capability{}}

	reg := NewRegistry(caps, st, nil, clk)
	ch, err := reg.Create("general", KindOpen, "topic", map[string]string{"k": "v"}, "creator")
	require.NoError(t, err)
	_, err = reg.Join(ch.ID, "alice")
	require.NoError(t, err)

	reloaded := NewRegistry(caps, st, nil, clk)
	require.NoError(t, reloaded.Load(context.Background()))
	require.NoError(t, reloaded.Bootstrap())

	got, ok := reloaded.GetByName("general")
	require.True(t, ok)
	assert.Equal(t, ch.ID, got.ID, "bootstrap must keep the reloaded channel")
	assert.Equal(t, 1, got.MemberCount)
	assert.Equal(t, LevelRead, got.DefaultAccess)
	require.Len(t, got.Rules, 1)
	assert.Equal(t, LevelWrite, got.Rules[0].Level)
	assert.True(t, reloaded.IsMember(ch.ID, "alice"))
}
