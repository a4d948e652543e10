// ABOUTME: Package documentation for the presence tracker
// ABOUTME: Connection lifecycle state machine driven by heartbeats and a sweep

// Package presence tracks each identity's connection lifecycle:
// disconnected -> online -> idle -> disconnected(timeout), with a manual
// busy state reachable through SetStatus or StartActivity and never
// auto-overridden by heartbeats.
//
// A record exists only while the identity is connected; disconnecting or
// timing out removes it entirely. The periodic sweep runs on its own
// goroutine against an injected clock, so tests advance virtual time and
// call Sweep directly instead of sleeping.
package presence
