// ABOUTME: Package documentation for the channel registry
// ABOUTME: Channel definitions, memberships, and the access decision

// Package channel owns channel definitions, membership sets, and per-channel
// access rules.
//
// # Access resolution
//
// A channel carries an ordered rule list and a default access level. Rule
// resolution takes the first rule matching the identity (or "everyone");
// with no match the default applies, and a default of none denies.
//
// Rule resolution alone can grant read: open channels are joinable by
// anyone and broadcast channels readable by anyone, with no capability
// required. Write and admin also require a capability granting that action
// on the channel's resource id ("channel:<id>"), so holding membership in an
// open channel is not enough to post to it. An admin capability on the
// resource grants every level.
//
// # Membership
//
// Join and leave are idempotent; redundant calls report success without
// changing the member set. MemberCount is a cached derived value updated on
// every join and leave. Deleting a channel drops its members and frees its
// name, but never cascades into message history.
package channel
