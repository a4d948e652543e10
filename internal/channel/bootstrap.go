// ABOUTME: Bootstraps the default open and broadcast channels at startup
// ABOUTME: Idempotent across restarts - names already live (or reloaded) are skipped

package channel

// SystemIdentityID is the reserved identity that owns bootstrapped channels.
const SystemIdentityID = "system"

// Default channel names created at startup.
const (
	DefaultOpenChannel      = "general"
	DefaultBroadcastChannel = "announcements"
)

// Bootstrap ensures the default channels exist. Channels reloaded from the
// store under the same names are left alone, so this is safe to run on every
// start.
func (r *Registry) Bootstrap() error {
	defaults := []struct {
		name string
		kind Kind
	}{
		{DefaultOpenChannel, KindOpen},
		{DefaultBroadcastChannel, KindBroadcast},
	}
	for _, d := range defaults {
		if _, exists := r.GetByName(d.name); exists {
			continue
		}
		if _, err := r.Create(d.name, d.kind, "", nil, SystemIdentityID); err != nil {
			return err
		}
	}
	return nil
}
