// ABOUTME: Package documentation for the message ledger
// ABOUTME: Signed, indexed, soft-deletable message storage with paginated reads

// Package ledger accepts outbound messages, assigns sender identity, signs
// content, indexes by channel and thread, and serves paginated and filtered
// reads.
//
// Channel sends are gated by the channel registry's write decision; a denied
// send stores nothing. Accepted messages are recorded in memory first, then
// persisted and handed to the broadcaster fire-and-forget - the caller has
// its result before either completes, and failures of either are logged,
// never propagated.
//
// Message ids are ULIDs minted from a monotonic entropy source, so two
// messages accepted in the same tick still order totally. Listing order is
// send time with insertion order breaking ties.
//
// Signatures are HMAC-SHA256 over (id, sender, text, data, sentAt). Edit is
// the only mutation that re-signs; any other change to signed fields is
// detectable through VerifySignature. The ledger never rejects tampered
// records on read - enforcement is caller policy.
package ledger
