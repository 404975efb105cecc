// Package cache is the in-memory authority for active sessions.
//
// Each session held by the cache has exactly one owner for its mutable
// fields: all state, log, and version changes flow through CommitTurn or
// RecordAction, which persist to the durable store first and mutate memory
// only after the write succeeds. A failed persist therefore leaves the
// cached session untouched.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/taleweave/taleweave/internal/game"
)

var (
	// ErrUnknownSession indicates the session is neither cached nor in the
	// durable store.
	ErrUnknownSession = errors.New("unknown session")
	// ErrNotActive indicates the session exists durably but is not loaded.
	ErrNotActive = errors.New("session not active")
	// ErrUnknownVersion indicates a diff request against a version the
	// session has never reached.
	ErrUnknownVersion = errors.New("unknown session version")
)

// SessionStore is the durable backing the cache writes through to.
type SessionStore interface {
	CreateSession(ctx context.Context, sess *game.Session) error
	LoadSession(ctx context.Context, id string) (*game.Session, error)
	SaveSession(ctx context.Context, sess *game.Session, newEntries []game.LogEntry) error
	AppendAction(ctx context.Context, sessionID string, entry game.LogEntry, turnsSinceProgress int) error
	MarkStarted(ctx context.Context, sessionID string) error
	MarkConcluded(ctx context.Context, sessionID string, version int64) error
}

// DefaultRetention is how many committed state snapshots a session keeps
// for diff computation when no retention is configured.
const DefaultRetention = 8

// CommitInput carries everything a turn commit changes, applied atomically.
type CommitInput struct {
	// Delta is merged into the current state. A nil value removes the key.
	Delta map[string]any
	// Entries are the turn's new log entries (narrative, conclusion).
	Entries []game.LogEntry
	// Actions replaces the session's available actions.
	Actions []string
	// CompletedPlotPoints replaces the completed set.
	CompletedPlotPoints []string
	// TurnsSinceProgress replaces the stuck counter.
	TurnsSinceProgress int
}

// Cache holds the active session set. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	sessions map[string]*entry
	store    SessionStore
	retain   int
	logger   *slog.Logger
}

// entry is one cached session plus its recent committed states.
type entry struct {
	mu      sync.RWMutex
	sess    *game.Session
	members map[string]struct{}

	// history maps committed versions to the state at that version,
	// oldest-first in order, bounded by the cache's retention.
	history map[int64]map[string]any
	order   []int64
}

// New builds a cache over the given store. retain bounds per-session state
// history; values below 1 fall back to DefaultRetention.
func New(store SessionStore, retain int, logger *slog.Logger) *Cache {
	if retain < 1 {
		retain = DefaultRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		sessions: make(map[string]*entry),
		store:    store,
		retain:   retain,
		logger:   logger,
	}
}

// Create persists a new session and activates it. The session must arrive
// fully formed: version 1, opening scene logged, initial state set.
func (c *Cache) Create(ctx context.Context, sess *game.Session) error {
	if err := c.store.CreateSession(ctx, sess); err != nil {
		return err
	}

	e := newEntry(sess, c.retain)

	c.mu.Lock()
	c.sessions[sess.ID] = e
	c.mu.Unlock()

	c.logger.Debug("session activated", "session_id", sess.ID, "version", sess.Version)
	return nil
}

// Join registers a member with a session, hydrating it from the durable
// store on first touch. Joining twice is a no-op. Returns a snapshot of the
// session as the member sees it.
func (c *Cache) Join(ctx context.Context, sessionID, memberID string) (game.Snapshot, error) {
	e, err := c.activate(ctx, sessionID)
	if err != nil {
		return game.Snapshot{}, err
	}

	e.mu.Lock()
	e.members[memberID] = struct{}{}
	snap := snapshotLocked(e.sess)
	e.mu.Unlock()

	return snap, nil
}

// Leave removes a member from a session. When the last member leaves, the
// session is evicted from memory; its durable record is untouched.
func (c *Cache) Leave(sessionID, memberID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.sessions[sessionID]
	if !ok {
		return
	}

	e.mu.Lock()
	delete(e.members, memberID)
	empty := len(e.members) == 0
	e.mu.Unlock()

	if empty {
		delete(c.sessions, sessionID)
		c.logger.Debug("session evicted", "session_id", sessionID)
	}
}

// IsMember reports whether the member has joined the session.
func (c *Cache) IsMember(sessionID, memberID string) bool {
	e, ok := c.lookup(sessionID)
	if !ok {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, member := e.members[memberID]
	return member
}

// Snapshot returns a deep-copied view of an active session.
func (c *Cache) Snapshot(sessionID string) (game.Snapshot, error) {
	e, ok := c.lookup(sessionID)
	if !ok {
		return game.Snapshot{}, ErrNotActive
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return snapshotLocked(e.sess), nil
}

// Session returns a deep copy of the full session record, campaign
// included. The turn pipeline reads the campaign through this.
func (c *Cache) Session(sessionID string) (*game.Session, error) {
	e, ok := c.lookup(sessionID)
	if !ok {
		return nil, ErrNotActive
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneSession(e.sess), nil
}

// RecordAction durably appends a player action to the session log together
// with the new turns-since-progress counter, then mirrors both in memory.
// The action entry survives regardless of how the rest of the turn ends.
func (c *Cache) RecordAction(ctx context.Context, sessionID string, action game.LogEntry, turnsSinceProgress int) error {
	e, ok := c.lookup(sessionID)
	if !ok {
		return ErrNotActive
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := c.store.AppendAction(ctx, sessionID, action, turnsSinceProgress); err != nil {
		return fmt.Errorf("record action: %w", err)
	}

	e.sess.Log = append(e.sess.Log, action)
	e.sess.TurnsSinceProgress = turnsSinceProgress
	return nil
}

// CommitTurn applies one resolved turn: merge the delta, append the new log
// entries, replace actions and plot points, and advance the version by one.
// The durable write happens first; if it fails, memory is unchanged and the
// session stays at its previous version. Returns the new version.
func (c *Cache) CommitTurn(ctx context.Context, sessionID string, input CommitInput) (int64, error) {
	e, ok := c.lookup(sessionID)
	if !ok {
		return 0, ErrNotActive
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := cloneSession(e.sess)
	next.Version = e.sess.Version + 1
	next.State = mergeDelta(next.State, input.Delta)
	next.Log = append(next.Log, input.Entries...)
	next.AvailableActions = append([]string(nil), input.Actions...)
	next.CompletedPlotPoints = append([]string(nil), input.CompletedPlotPoints...)
	next.TurnsSinceProgress = input.TurnsSinceProgress

	if err := c.store.SaveSession(ctx, next, input.Entries); err != nil {
		return 0, fmt.Errorf("commit turn: %w", err)
	}

	e.sess = next
	e.recordVersion(next.Version, next.State, c.retain)

	c.logger.Debug("turn committed",
		"session_id", sessionID,
		"version", next.Version,
		"log_entries", len(input.Entries),
	)
	return next.Version, nil
}

// MarkStarted flips the session's started flag, durably then in memory.
func (c *Cache) MarkStarted(ctx context.Context, sessionID string) error {
	e, ok := c.lookup(sessionID)
	if !ok {
		return ErrNotActive
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess.Started {
		return nil
	}
	if err := c.store.MarkStarted(ctx, sessionID); err != nil {
		return fmt.Errorf("mark started: %w", err)
	}
	e.sess.Started = true
	return nil
}

// MarkConcluded flips the session's terminal flag, durably then in memory.
func (c *Cache) MarkConcluded(ctx context.Context, sessionID string) error {
	e, ok := c.lookup(sessionID)
	if !ok {
		return ErrNotActive
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := c.store.MarkConcluded(ctx, sessionID, e.sess.Version); err != nil {
		return fmt.Errorf("mark concluded: %w", err)
	}
	e.sess.Concluded = true
	return nil
}

// Diff returns the state delta from a version the caller last saw to the
// session's current version. When the base version has fallen out of
// retention, the diff degrades to a full state replacement. Requesting the
// current version yields an empty diff; a version beyond the current one is
// an error.
func (c *Cache) Diff(sessionID string, fromVersion int64) (game.StateDiff, error) {
	e, ok := c.lookup(sessionID)
	if !ok {
		return game.StateDiff{}, ErrNotActive
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	current := e.sess.Version
	if fromVersion > current || fromVersion < 0 {
		return game.StateDiff{}, fmt.Errorf("%w: %d (current %d)", ErrUnknownVersion, fromVersion, current)
	}
	if fromVersion == current {
		return game.StateDiff{FromVersion: fromVersion, ToVersion: current}, nil
	}

	base, retained := e.history[fromVersion]
	if !retained {
		return game.StateDiff{
			FromVersion: fromVersion,
			ToVersion:   current,
			Full:        true,
			Changed:     game.CloneState(e.sess.State),
		}, nil
	}

	changed, removed := game.DiffStates(base, e.sess.State)
	return game.StateDiff{
		FromVersion: fromVersion,
		ToVersion:   current,
		Changed:     changed,
		Removed:     removed,
	}, nil
}

// Active reports whether the session is currently loaded in memory.
func (c *Cache) Active(sessionID string) bool {
	_, ok := c.lookup(sessionID)
	return ok
}

// ActiveSessions returns the IDs of all loaded sessions, sorted.
func (c *Cache) ActiveSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Cache) lookup(sessionID string) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[sessionID]
	return e, ok
}

// activate returns the cached entry for a session, loading it from the
// durable store if needed.
func (c *Cache) activate(ctx context.Context, sessionID string) (*entry, error) {
	c.mu.Lock()
	if e, ok := c.sessions[sessionID]; ok {
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	// Load outside the cache lock; concurrent hydrations of the same
	// session are reconciled below.
	sess, err := c.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.sessions[sessionID]; ok {
		return e, nil
	}
	e := newEntry(sess, c.retain)
	c.sessions[sessionID] = e
	c.logger.Debug("session hydrated", "session_id", sessionID, "version", sess.Version)
	return e, nil
}

func newEntry(sess *game.Session, retain int) *entry {
	e := &entry{
		sess:    cloneSession(sess),
		members: make(map[string]struct{}),
		history: make(map[int64]map[string]any),
	}
	e.recordVersion(sess.Version, sess.State, retain)
	return e
}

// recordVersion stores the state at a committed version, evicting the
// oldest retained snapshot once the bound is exceeded. Caller holds e.mu.
func (e *entry) recordVersion(version int64, state map[string]any, retain int) {
	e.history[version] = game.CloneState(state)
	e.order = append(e.order, version)
	for len(e.order) > retain {
		oldest := e.order[0]
		e.order = e.order[1:]
		delete(e.history, oldest)
	}
}

// snapshotLocked builds a caller-owned snapshot. Caller holds e.mu.
func snapshotLocked(sess *game.Session) game.Snapshot {
	return game.Snapshot{
		SessionID:          sess.ID,
		Version:            sess.Version,
		State:              game.CloneState(sess.State),
		Log:                append([]game.LogEntry(nil), sess.Log...),
		AvailableActions:   append([]string(nil), sess.AvailableActions...),
		TurnsSinceProgress: sess.TurnsSinceProgress,
		Started:            sess.Started,
		Concluded:          sess.Concluded,
	}
}

func cloneSession(sess *game.Session) *game.Session {
	clone := *sess
	clone.State = game.CloneState(sess.State)
	clone.Log = append([]game.LogEntry(nil), sess.Log...)
	clone.AvailableActions = append([]string(nil), sess.AvailableActions...)
	clone.CompletedPlotPoints = append([]string(nil), sess.CompletedPlotPoints...)
	return &clone
}

// mergeDelta applies a generator delta to a state copy. Nil values remove
// keys; everything else replaces.
func mergeDelta(state, delta map[string]any) map[string]any {
	for key, value := range delta {
		if value == nil {
			delete(state, key)
			continue
		}
		state[key] = value
	}
	return state
}
