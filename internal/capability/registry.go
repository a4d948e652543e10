// ABOUTME: In-memory identity registry with write-behind persistence
// ABOUTME: Grants mutate the capability set and bump the credential version

package capability

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ibxdevgh/moltslack/internal/clock"
	"github.com/Ibxdevgh/moltslack/internal/store"
)

// persistTimeout bounds detached store writes so a stalled database cannot
// leak goroutines.
const persistTimeout = 5 * time.Second

// Identity is a registered principal with its capability set.
type Identity struct {
	ID                string
	DisplayName       string
	Capabilities      []Capability
	CredentialVersion int64
	CreatedAt         time.Time
}

// IdentityStore is what the registry needs from durable storage.
type IdentityStore interface {
	SaveIdentity(ctx context.Context, rec *store.IdentityRecord) error
	ListIdentities(ctx context.Context) ([]*store.IdentityRecord, error)
}

// Registry owns all registered identities. The in-memory map is the source
// of truth; the store is written behind each committing operation and its
// failures are logged, never surfaced to callers.
type Registry struct {
	mu         sync.RWMutex
	identities map[string]*Identity
	store      IdentityStore
	logger     *slog.Logger
	clock      clock.Clock
}

// NewRegistry creates an identity registry. Store may be nil for ephemeral use.
func NewRegistry(st IdentityStore, logger *slog.Logger, clk clock.Clock) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		identities: make(map[string]*Identity),
		store:      st,
		logger:     logger.With("component", "capability"),
		clock:      clk,
	}
}

// Load restores identities from the store. Called once at startup, before
// the registry serves requests.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	recs, err := r.store.ListIdentities(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		var caps []Capability
		if rec.Capabilities != "" {
			if err := json.Unmarshal([]byte(rec.Capabilities), &caps); err != nil {
				r.logger.Error("skipping identity with bad capability blob",
					"identity_id", rec.ID, "error", err)
				continue
			}
		}
		r.identities[rec.ID] = &Identity{
			ID:                rec.ID,
			DisplayName:       rec.DisplayName,
			Capabilities:      caps,
			CredentialVersion: rec.CredentialVersion,
			CreatedAt:         rec.CreatedAt,
		}
	}
	r.logger.Info("identities loaded", "count", len(r.identities))
	return nil
}

// Register creates a new identity with the given capability set.
func (r *Registry) Register(displayName string, caps []Capability) *Identity {
	ident := &Identity{
		ID:           uuid.New().String(),
		DisplayName:  displayName,
		Capabilities: caps,
		CreatedAt:    r.clock.Now().UTC(),
	}

	r.mu.Lock()
	r.identities[ident.ID] = ident
	r.mu.Unlock()

	r.logger.Info("identity registered", "identity_id", ident.ID, "name", displayName)
	r.persist(ident)
	return r.snapshot(ident)
}

// RegisterWithID creates an identity under a caller-chosen id (reserved
// system identities). Returns the existing identity if the id is taken.
func (r *Registry) RegisterWithID(id, displayName string, caps []Capability) *Identity {
	r.mu.Lock()
	if existing, ok := r.identities[id]; ok {
		r.mu.Unlock()
		return r.snapshot(existing)
	}
	ident := &Identity{
		ID:           id,
		DisplayName:  displayName,
		Capabilities: caps,
		CreatedAt:    r.clock.Now().UTC(),
	}
	r.identities[id] = ident
	r.mu.Unlock()

	r.logger.Info("identity registered", "identity_id", id, "name", displayName)
	r.persist(ident)
	return r.snapshot(ident)
}

// Get returns a copy of the identity, or false if unknown.
func (r *Registry) Get(id string) (*Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ident, ok := r.identities[id]
	if !ok {
		return nil, false
	}
	return r.snapshot(ident), true
}

// Capabilities returns the identity's current capability set.
func (r *Registry) Capabilities(id string) ([]Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ident, ok := r.identities[id]
	if !ok {
		return nil, false
	}
	caps := make([]Capability, len(ident.Capabilities))
	copy(caps, ident.Capabilities)
	return caps, true
}

// Grant appends capabilities to an identity and bumps its credential
// version, invalidating all previously issued tokens. Returns false for an
// unknown identity.
func (r *Registry) Grant(id string, caps ...Capability) bool {
	r.mu.Lock()
	ident, ok := r.identities[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	ident.Capabilities = append(ident.Capabilities, caps...)
	ident.CredentialVersion++
	snap := r.snapshot(ident)
	r.mu.Unlock()

	r.logger.Info("capabilities granted",
		"identity_id", id,
		"granted", len(caps),
		"credential_version", snap.CredentialVersion)
	r.persist(snap)
	return true
}

// snapshot copies an identity so callers never share the registry's slices.
func (r *Registry) snapshot(ident *Identity) *Identity {
	caps := make([]Capability, len(ident.Capabilities))
	copy(caps, ident.Capabilities)
	return &Identity{
		ID:                ident.ID,
		DisplayName:       ident.DisplayName,
		Capabilities:      caps,
		CredentialVersion: ident.CredentialVersion,
		CreatedAt:         ident.CreatedAt,
	}
}

// persist writes an identity to the store with a detached timeout context so
// a cancelled request cannot abort the write.
func (r *Registry) persist(ident *Identity) {
	if r.store == nil {
		return
	}
	blob, err := json.Marshal(ident.Capabilities)
	if err != nil {
		r.logger.Error("failed to encode capabilities", "identity_id", ident.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	rec := &store.IdentityRecord{
		ID:                ident.ID,
		DisplayName:       ident.DisplayName,
		Capabilities:      string(blob),
		CredentialVersion: ident.CredentialVersion,
		CreatedAt:         ident.CreatedAt,
	}
	if err := r.store.SaveIdentity(ctx, rec); err != nil {
		r.logger.Error("failed to persist identity", "identity_id", ident.ID, "error", err)
	}
}
