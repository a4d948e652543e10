// ABOUTME: Package documentation for the capability authority
// ABOUTME: Token issuance, verification, and capability-set authorization

// Package capability turns bearer credentials into verified identities and
// decides whether a capability set grants an action on a resource.
//
// # Tokens
//
// Tokens are HS256-signed JWTs embedding the identity id, display name,
// capability set, and credential version. Verification is stateless: only
// the signature and expiry are checked. Authenticate additionally compares
// the token's credential version against the registry so that Grant
// invalidates outstanding tokens.
//
// # Authorization
//
// A capability grants a set of actions (read, write, admin) on resources
// matched by a pattern: an exact id, a prefix wildcard ("channel:*"), or the
// global wildcard ("*"). Admin subsumes read and write on the matched
// resource. Matching is existential - any one granting capability suffices.
//
// All verification failures are silent. Callers distinguish "no credential"
// from "bad credential" from "insufficient capability" through their own
// control flow, not through an error taxonomy here.
package capability
