// ABOUTME: Package documentation for durable persistence
// ABOUTME: Write-behind storage consumed through the Store interface

// Package store defines the durable persistence interface and its SQLite
// implementation.
//
// The in-memory components (capability registry, channel registry, message
// ledger, presence tracker) are the source of truth for live reads. They
// write records here behind each committing operation; a store failure is
// logged by the caller and never rolls back in-memory state.
package store
