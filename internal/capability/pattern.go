// ABOUTME: ResourcePattern sum type for matching capability grants to resources
// ABOUTME: Patterns are exact ids, prefix wildcards (kind:*), or the global wildcard (*)

package capability

import "strings"

// PatternKind classifies how a resource pattern matches.
type PatternKind int

const (
	// PatternExact matches a single resource id verbatim.
	PatternExact PatternKind = iota
	// PatternPrefix matches any resource starting with the pattern's prefix.
	PatternPrefix
	// PatternGlobal matches every resource.
	PatternGlobal
)

// ResourcePattern is the parsed form of a capability's resource string.
type ResourcePattern struct {
	Kind   PatternKind
	Prefix string // exact id for PatternExact, prefix for PatternPrefix, empty for PatternGlobal
}

// ParsePattern classifies a raw pattern string. A lone "*" is global, a
// trailing "*" is a prefix wildcard, anything else is exact.
func ParsePattern(raw string) ResourcePattern {
	if raw == "*" {
		return ResourcePattern{Kind: PatternGlobal}
	}
	if strings.HasSuffix(raw, "*") {
		return ResourcePattern{Kind: PatternPrefix, Prefix: strings.TrimSuffix(raw, "*")}
	}
	return ResourcePattern{Kind: PatternExact, Prefix: raw}
}

// Matches reports whether the pattern covers the given resource id.
func (p ResourcePattern) Matches(resource string) bool {
	switch p.Kind {
	case PatternGlobal:
		return true
	case PatternPrefix:
		return strings.HasPrefix(resource, p.Prefix)
	default:
		return resource == p.Prefix
	}
}
