// Package store is the durable-store adapter for session records.
//
// Sessions are persisted in SQLite: one row per session plus an append-only
// log_entries table. All writes are transactional and idempotent where
// replays are possible (log inserts use ON CONFLICT DO NOTHING). Session
// row updates carry a version guard so a commit can never move a session's
// version backwards, even across process restarts.
package store
