// ABOUTME: Capability grants and the authorize decision over resource patterns
// ABOUTME: Matching is existential - any one granting capability is sufficient

package capability

// Action is an operation a capability can grant on a resource.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionAdmin Action = "admin"
)

// Capability grants a set of actions on resources matching a pattern.
type Capability struct {
	Resource string   `json:"resource"`
	Actions  []Action `json:"actions"`
}

// grants reports whether the capability's action set covers the action.
// Admin subsumes read and write on the matched resource.
func (c Capability) grants(action Action) bool {
	for _, a := range c.Actions {
		if a == action || a == ActionAdmin {
			return true
		}
	}
	return false
}

// Authorize reports whether any capability in the set grants the action on
// the resource. An empty set grants nothing. No priority ordering: a single
// matching, granting capability decides, regardless of more specific ones.
func Authorize(caps []Capability, resource string, action Action) bool {
	for _, c := range caps {
		if ParsePattern(c.Resource).Matches(resource) && c.grants(action) {
			return true
		}
	}
	return false
}
