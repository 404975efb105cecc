package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taleweave/taleweave/internal/cache"
	"github.com/taleweave/taleweave/internal/game"
	"github.com/taleweave/taleweave/internal/generate"
)

// Defaults for unset Options fields.
const (
	DefaultGeneratorTimeout = 30 * time.Second
	DefaultStuckThreshold   = 3
	DefaultQueueCapacity    = 16
)

// Options tune the pipeline. Zero values fall back to defaults.
type Options struct {
	// GeneratorTimeout bounds each narrative generation call.
	GeneratorTimeout time.Duration
	// StuckThreshold is how many turns without plot progress set the
	// generator's stuck hint.
	StuckThreshold int
	// QueueCapacity bounds each session's pending turn queue.
	QueueCapacity int
	// IDs overrides the ID generator. Defaults to UUIDv7.
	IDs IDGenerator
	// Clock overrides the wall clock for timestamps.
	Clock func() time.Time
	// Logger overrides slog.Default.
	Logger *slog.Logger
}

// Engine exposes the session API: lifecycle, membership, snapshots, diffs,
// and turn submission. Safe for concurrent use.
type Engine struct {
	cache          *cache.Cache
	gen            generate.Generator
	ids            IDGenerator
	clock          func() time.Time
	logger         *slog.Logger
	genTimeout     time.Duration
	stuckThreshold int
	queueCap       int

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
}

// New builds an engine over a session cache and a narrative generator.
func New(c *cache.Cache, gen generate.Generator, opts Options) *Engine {
	if opts.GeneratorTimeout <= 0 {
		opts.GeneratorTimeout = DefaultGeneratorTimeout
	}
	if opts.StuckThreshold <= 0 {
		opts.StuckThreshold = DefaultStuckThreshold
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	if opts.IDs == nil {
		opts.IDs = UUIDGenerator{}
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		cache:          c,
		gen:            gen,
		ids:            opts.IDs,
		clock:          opts.Clock,
		logger:         opts.Logger,
		genTimeout:     opts.GeneratorTimeout,
		stuckThreshold: opts.StuckThreshold,
		queueCap:       opts.QueueCapacity,
		workers:        make(map[string]*worker),
	}
}

// CreateSession creates a session from a campaign at version 1, with the
// opening scene as the first log entry and the owner already joined.
// The session starts in the lobby: members can join but turns are refused
// until the owner calls StartSession.
func (e *Engine) CreateSession(ctx context.Context, ownerID string, campaign game.CampaignDefinition) (game.Snapshot, error) {
	ownerID, ok := game.NormalizeID(ownerID)
	if !ok {
		return game.Snapshot{}, newError(ErrCodeInvalidInput, "owner id is required", "", "")
	}
	if campaign.OpeningScene == "" {
		return game.Snapshot{}, newError(ErrCodeInvalidInput, "campaign has no opening scene", "", ownerID)
	}

	now := e.clock()
	actions := append([]string(nil), campaign.OpeningActions...)
	if len(actions) == 0 {
		actions = []string{"look around"}
	}
	sess := &game.Session{
		ID:                  e.ids.NewID(),
		OwnerID:             ownerID,
		Campaign:            campaign,
		State:               game.CloneState(campaign.InitialState),
		Version:             1,
		AvailableActions:    actions,
		CompletedPlotPoints: []string{},
		Log: []game.LogEntry{{
			ID:        e.ids.NewID(),
			Seq:       1,
			Kind:      game.LogKindSystem,
			Body:      campaign.OpeningScene,
			CreatedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.cache.Create(ctx, sess); err != nil {
		return game.Snapshot{}, err
	}
	snap, err := e.cache.Join(ctx, sess.ID, ownerID)
	if err != nil {
		return game.Snapshot{}, err
	}

	e.logger.Info("session created",
		"session_id", sess.ID,
		"owner_id", ownerID,
		"campaign", campaign.Name,
	)
	return snap, nil
}

// StartSession begins play. Owner-only; idempotent once started.
func (e *Engine) StartSession(ctx context.Context, sessionID, memberID string) error {
	sess, err := e.member(sessionID, memberID)
	if err != nil {
		return err
	}
	if sess.OwnerID != memberID {
		return newError(ErrCodeNotOwner, "only the owner can start the session", sessionID, memberID)
	}
	if sess.Concluded {
		return newError(ErrCodeConcluded, "session has concluded", sessionID, memberID)
	}
	if err := e.cache.MarkStarted(ctx, sessionID); err != nil {
		return err
	}
	e.logger.Info("session started", "session_id", sessionID)
	return nil
}

// Join adds a member to a session, loading it from the durable store if it
// is not active. Idempotent.
func (e *Engine) Join(ctx context.Context, sessionID, memberID string) (game.Snapshot, error) {
	memberID, ok := game.NormalizeID(memberID)
	if !ok {
		return game.Snapshot{}, newError(ErrCodeInvalidInput, "member id is required", sessionID, "")
	}
	snap, err := e.cache.Join(ctx, sessionID, memberID)
	if err != nil {
		return game.Snapshot{}, newError(ErrCodeUnknownSession, "session not found", sessionID, memberID)
	}
	return snap, nil
}

// Leave removes a member. Any in-flight turn for the session completes
// before the session can be evicted from memory; queued but unstarted
// turns from the leaving member still resolve.
func (e *Engine) Leave(sessionID, memberID string) {
	e.mu.Lock()
	w := e.workers[sessionID]
	e.mu.Unlock()

	if w != nil {
		// Wait out the turn currently resolving, if any.
		w.turnMu.Lock()
		defer w.turnMu.Unlock()
	}

	e.cache.Leave(sessionID, memberID)

	if !e.cache.Active(sessionID) {
		e.mu.Lock()
		if w := e.workers[sessionID]; w != nil {
			w.stop()
			delete(e.workers, sessionID)
		}
		e.mu.Unlock()
		e.logger.Debug("session worker stopped", "session_id", sessionID)
	}
}

// GetSnapshot returns the member's view of the session.
func (e *Engine) GetSnapshot(sessionID, memberID string) (game.Snapshot, error) {
	if _, err := e.member(sessionID, memberID); err != nil {
		return game.Snapshot{}, err
	}
	return e.cache.Snapshot(sessionID)
}

// RequestDiff returns the state changes since a version the member last
// observed.
func (e *Engine) RequestDiff(sessionID, memberID string, fromVersion int64) (game.StateDiff, error) {
	if _, err := e.member(sessionID, memberID); err != nil {
		return game.StateDiff{}, err
	}
	return e.cache.Diff(sessionID, fromVersion)
}

// SubmitAction queues one turn for the session and waits for its result.
// Turns resolve strictly in submission order per session. The returned
// error covers refused submissions only; a turn that ran reports its
// outcome in the TurnResult, whatever it was.
func (e *Engine) SubmitAction(ctx context.Context, sessionID, memberID, action string) (game.TurnResult, error) {
	sess, err := e.member(sessionID, memberID)
	if err != nil {
		return game.TurnResult{}, err
	}
	if !sess.Started {
		return game.TurnResult{}, newError(ErrCodeNotStarted, "session has not started", sessionID, memberID)
	}
	if sess.Concluded {
		return game.TurnResult{}, newError(ErrCodeConcluded, "session has concluded", sessionID, memberID)
	}

	w, err := e.workerFor(sessionID)
	if err != nil {
		return game.TurnResult{}, err
	}

	req := turnRequest{
		ctx:      ctx,
		memberID: memberID,
		action:   action,
		reply:    make(chan turnReply, 1),
	}
	switch w.submit(req) {
	case submitOK:
	case submitFull:
		return game.TurnResult{}, newError(ErrCodeQueueFull, "turn queue is full", sessionID, memberID)
	case submitClosed:
		return game.TurnResult{}, newError(ErrCodeUnknownSession, "session is no longer active", sessionID, memberID)
	}

	select {
	case reply := <-req.reply:
		return reply.result, reply.err
	case <-ctx.Done():
		// The turn still resolves; only this caller stops waiting.
		return game.TurnResult{}, ctx.Err()
	}
}

// Close stops all session workers. Queued turns drain first.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, w := range e.workers {
		w.stop()
		delete(e.workers, id)
	}
}

// member returns the full session after verifying membership.
func (e *Engine) member(sessionID, memberID string) (*game.Session, error) {
	sess, err := e.cache.Session(sessionID)
	if err != nil {
		return nil, newError(ErrCodeUnknownSession, "session is not active", sessionID, memberID)
	}
	if !e.cache.IsMember(sessionID, memberID) {
		return nil, newError(ErrCodeNotMember, "member has not joined", sessionID, memberID)
	}
	return sess, nil
}

// workerFor returns the session's worker, starting one if needed.
func (e *Engine) workerFor(sessionID string) (*worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, newError(ErrCodeClosed, "engine is closed", sessionID, "")
	}
	if w, ok := e.workers[sessionID]; ok {
		return w, nil
	}
	w := newWorker(e, sessionID, e.queueCap)
	e.workers[sessionID] = w
	return w, nil
}
