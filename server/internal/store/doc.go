// Package store keeps recognition history. Store is a thread-safe in-memory
// view of recent predictions with TTL eviction; an optional Archive (SQLite)
// receives every prediction as it is stored and seeds the view at startup.
package store
