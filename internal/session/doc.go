// Package session provides the in-memory registry of active conversation
// sessions and the lifecycle event broadcaster.
//
// The registry is the ground truth for "is this conversation alive". It is
// safe for concurrent use from arbitrarily many conversations: session
// storage is guarded by a read/write mutex and the lifetime counters are
// atomic. Sessions are created by Register, touched by UpdateActivity, and
// destroyed exactly once, either by an explicit Remove or by the memory
// optimizer's expiry sweep.
package session
