// Package events provides the lifecycle event types and the multi-scope
// broadcaster of the task orchestration engine.
//
// Every registry mutation and batch milestone produces a TaskEvent that is
// published to up to four overlapping scopes: the global feed, the
// submitting user's feed, the task's own feed, and the owning module's feed.
// Delivery is best-effort and fire-and-forget; the engine's correctness
// never depends on a subscriber being present. Ordering is only guaranteed
// within a single scope, not across scopes.
package events
