// Package memory provides the optimizer that keeps session and conversation
// memory within configured bounds without caller-path involvement.
//
// The optimizer owns two periodic schedules. The expiry sweep removes
// sessions that exceed the absolute age limit or the inactivity limit and
// trims oversized conversations down to the retained-message cap. The
// pressure check recomputes usage statistics and, when utilization crosses
// the configured threshold, escalates to an immediate out-of-schedule
// optimization pass — the sole feedback loop in the system.
//
// Sweeps operate on registry snapshots, so they never block the serving
// path; sessions registered mid-sweep are picked up on the next cycle.
package memory
