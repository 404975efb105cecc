package engine

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleweave/taleweave/internal/cache"
	"github.com/taleweave/taleweave/internal/game"
	"github.com/taleweave/taleweave/internal/generate"
	"github.com/taleweave/taleweave/internal/store"
)

func testCampaign() game.CampaignDefinition {
	return game.CampaignDefinition{
		Name:           "The Hidden Cellar",
		OpeningScene:   "You stand in a dusty hall before a locked door.",
		OpeningActions: []string{"look around", "open door"},
		InitialState: map[string]any{
			"location":  "hall",
			"inventory": []any{"a rusty torch", "map"},
			"key_found": false,
		},
		PlotPoints: []game.PlotPoint{
			{ID: "pp1", Description: "find the hidden key", Required: true},
		},
		ConclusionConditions: []game.Condition{
			{Kind: game.CondStateKeyEquals, Key: "key_found", Value: true},
		},
	}
}

// newTestEngine builds an engine over a temp SQLite store with fixed IDs
// and a frozen clock.
func newTestEngine(t *testing.T, gen generate.Generator, opts Options) *Engine {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "taleweave.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	if opts.IDs == nil {
		opts.IDs = NewFixedGenerator("id")
	}
	if opts.Clock == nil {
		frozen := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		opts.Clock = func() time.Time { return frozen }
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	e := New(cache.New(s, 0, opts.Logger), gen, opts)
	t.Cleanup(e.Close)
	return e
}

// startedSession creates and starts a session owned by "owner".
func startedSession(t *testing.T, e *Engine) string {
	t.Helper()
	ctx := context.Background()
	snap, err := e.CreateSession(ctx, "owner", testCampaign())
	require.NoError(t, err)
	require.NoError(t, e.StartSession(ctx, snap.SessionID, "owner"))
	return snap.SessionID
}

func TestCreateSession(t *testing.T) {
	e := newTestEngine(t, generate.NewScripted(nil), Options{})

	snap, err := e.CreateSession(context.Background(), "owner", testCampaign())
	require.NoError(t, err)

	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, []string{"look around", "open door"}, snap.AvailableActions)
	assert.False(t, snap.Started)
	require.Len(t, snap.Log, 1)
	assert.Equal(t, game.LogKindSystem, snap.Log[0].Kind)
	assert.Equal(t, "You stand in a dusty hall before a locked door.", snap.Log[0].Body)
}

func TestStartSession_OwnerOnly(t *testing.T) {
	e := newTestEngine(t, generate.NewScripted(nil), Options{})
	ctx := context.Background()

	snap, err := e.CreateSession(ctx, "owner", testCampaign())
	require.NoError(t, err)
	id := snap.SessionID

	_, err = e.Join(ctx, id, "guest")
	require.NoError(t, err)

	err = e.StartSession(ctx, id, "guest")
	assert.True(t, HasCode(err, ErrCodeNotOwner))

	// Turns are refused until the owner starts play.
	_, err = e.SubmitAction(ctx, id, "guest", "look around")
	assert.True(t, HasCode(err, ErrCodeNotStarted))

	require.NoError(t, e.StartSession(ctx, id, "owner"))
	require.NoError(t, e.StartSession(ctx, id, "owner"), "starting twice is a no-op")
}

func TestSubmitAction_CommitsTurn(t *testing.T) {
	gen := generate.NewScripted([]generate.Step{{
		Narrative:        "The door creaks open onto a dark stair.",
		StateDelta:       map[string]any{"location": "stairs"},
		AvailableActions: []string{"descend", "go back"},
	}})
	e := newTestEngine(t, gen, Options{})
	id := startedSession(t, e)
	ctx := context.Background()

	result, err := e.SubmitAction(ctx, id, "owner", "open door")
	require.NoError(t, err)

	assert.Equal(t, game.TurnUpdated, result.Status)
	assert.True(t, result.Committed())
	assert.Equal(t, int64(2), result.Version)
	assert.Equal(t, "stairs", result.State["location"])
	assert.Equal(t, []string{"descend", "go back"}, result.AvailableActions)
	require.Len(t, result.Log, 2, "committed turn adds action and narrative")
	assert.Equal(t, game.LogKindPlayer, result.Log[0].Kind)
	assert.Equal(t, "open door", result.Log[0].Body)
	assert.Equal(t, game.LogKindNarrative, result.Log[1].Kind)

	snap, err := e.GetSnapshot(id, "owner")
	require.NoError(t, err)
	assert.Len(t, snap.Log, 3)
	assert.Equal(t, 1, snap.TurnsSinceProgress)
}

func TestSubmitAction_InventoryPrefixMatch(t *testing.T) {
	// "use torch" must match the inventory entry "a rusty torch".
	gen := generate.NewScripted([]generate.Step{{
		Narrative:        "Torchlight pushes back the dark.",
		AvailableActions: []string{"continue"},
	}})
	e := newTestEngine(t, gen, Options{})
	id := startedSession(t, e)

	result, err := e.SubmitAction(context.Background(), id, "owner", "use torch")
	require.NoError(t, err)
	assert.Equal(t, game.TurnUpdated, result.Status)
	assert.Equal(t, 0, gen.Remaining(), "validation passed and the generator ran")
}

func TestSubmitAction_ValidationRejected(t *testing.T) {
	gen := generate.NewScripted([]generate.Step{{Narrative: "never reached", AvailableActions: []string{"x"}}})
	e := newTestEngine(t, gen, Options{})
	id := startedSession(t, e)
	ctx := context.Background()

	result, err := e.SubmitAction(ctx, id, "owner", "use sword")
	require.NoError(t, err)

	assert.Equal(t, game.TurnValidationRejected, result.Status)
	assert.Contains(t, result.Message, "sword")
	assert.Equal(t, int64(1), result.Version, "version does not advance")
	assert.Equal(t, 1, gen.Remaining(), "generator is never called")

	// The rejected action is still on the record, exactly one entry.
	snap, err := e.GetSnapshot(id, "owner")
	require.NoError(t, err)
	require.Len(t, snap.Log, 2)
	assert.Equal(t, game.LogKindPlayer, snap.Log[1].Kind)
	assert.Equal(t, "use sword", snap.Log[1].Body)
	assert.Equal(t, 0, snap.TurnsSinceProgress, "a rejected turn is not a turn")
}

func TestSubmitAction_EmptyAction(t *testing.T) {
	e := newTestEngine(t, generate.NewScripted(nil), Options{})
	id := startedSession(t, e)

	result, err := e.SubmitAction(context.Background(), id, "owner", "   ")
	require.NoError(t, err)
	assert.Equal(t, game.TurnValidationRejected, result.Status)
}

func TestSubmitAction_GenerationFailed(t *testing.T) {
	gen := generate.NewScripted([]generate.Step{{Err: "model unavailable"}})
	e := newTestEngine(t, gen, Options{})
	id := startedSession(t, e)
	ctx := context.Background()

	result, err := e.SubmitAction(ctx, id, "owner", "open door")
	require.NoError(t, err)

	assert.Equal(t, game.TurnGenerationFailed, result.Status)
	assert.Equal(t, int64(1), result.Version)

	// Action logged once; the failed turn still counts toward stuck
	// detection.
	snap, err := e.GetSnapshot(id, "owner")
	require.NoError(t, err)
	assert.Len(t, snap.Log, 2)
	assert.Equal(t, 1, snap.TurnsSinceProgress)
}

// blockingGenerator waits for its context to expire.
type blockingGenerator struct{}

func (blockingGenerator) Generate(ctx context.Context, _ generate.Request) (generate.Response, error) {
	<-ctx.Done()
	return generate.Response{}, ctx.Err()
}

func TestSubmitAction_GeneratorTimeout(t *testing.T) {
	e := newTestEngine(t, blockingGenerator{}, Options{GeneratorTimeout: 20 * time.Millisecond})
	id := startedSession(t, e)

	result, err := e.SubmitAction(context.Background(), id, "owner", "open door")
	require.NoError(t, err)

	assert.Equal(t, game.TurnGenerationFailed, result.Status)
	assert.Equal(t, int64(1), result.Version)

	snap, err := e.GetSnapshot(id, "owner")
	require.NoError(t, err)
	assert.Len(t, snap.Log, 2, "the action entry survives the timeout")
}

func TestSubmitAction_SchemaViolationDropped(t *testing.T) {
	gen := generate.NewScripted([]generate.Step{{
		Narrative: "Strange forces stir.",
		StateDelta: map[string]any{
			"location":     "cellar",
			"new_power":    "levitation",
			"secret_level": 9,
		},
		AvailableActions: []string{"continue"},
	}})
	e := newTestEngine(t, gen, Options{})
	id := startedSession(t, e)

	result, err := e.SubmitAction(context.Background(), id, "owner", "open door")
	require.NoError(t, err)

	assert.Equal(t, game.TurnUpdated, result.Status)
	assert.Equal(t, "cellar", result.State["location"])
	assert.NotContains(t, result.State, "new_power")
	assert.NotContains(t, result.State, "secret_level")
}

func TestSubmitAction_PlotPointAndConclusion(t *testing.T) {
	gen := generate.NewScripted([]generate.Step{{
		Narrative: "Beneath a loose stone you find a small iron key.",
		StateDelta: map[string]any{
			generate.AchievedPlotPointKey: "find the hidden key",
			"key_found":                   true,
		},
		AvailableActions: []string{"leave"},
	}})
	e := newTestEngine(t, gen, Options{})
	id := startedSession(t, e)
	ctx := context.Background()

	result, err := e.SubmitAction(ctx, id, "owner", "search the floor")
	require.NoError(t, err)

	assert.Equal(t, game.TurnConcluded, result.Status)
	assert.Equal(t, int64(2), result.Version)
	assert.Equal(t, "Beneath a loose stone you find a small iron key.", result.Summary)
	assert.NotContains(t, result.State, generate.AchievedPlotPointKey, "marker never reaches state")
	assert.Equal(t, true, result.State["key_found"])

	snap, err := e.GetSnapshot(id, "owner")
	require.NoError(t, err)
	assert.True(t, snap.Concluded)
	assert.Equal(t, 0, snap.TurnsSinceProgress, "plot progress resets the stuck counter")

	// A concluded session refuses further turns.
	_, err = e.SubmitAction(ctx, id, "owner", "leave")
	assert.True(t, HasCode(err, ErrCodeConcluded))
}

func TestSubmitAction_ConditionsUnmetWithoutPlotPoint(t *testing.T) {
	// key_found becomes true but the required plot point is not achieved:
	// the session must not conclude.
	gen := generate.NewScripted([]generate.Step{{
		Narrative:        "You feel close to something.",
		StateDelta:       map[string]any{"key_found": true},
		AvailableActions: []string{"keep looking"},
	}})
	e := newTestEngine(t, gen, Options{})
	id := startedSession(t, e)

	result, err := e.SubmitAction(context.Background(), id, "owner", "search the floor")
	require.NoError(t, err)
	assert.Equal(t, game.TurnUpdated, result.Status)

	snap, err := e.GetSnapshot(id, "owner")
	require.NoError(t, err)
	assert.False(t, snap.Concluded)
}

func TestSubmitAction_NonMember(t *testing.T) {
	e := newTestEngine(t, generate.NewScripted(nil), Options{})
	id := startedSession(t, e)

	_, err := e.SubmitAction(context.Background(), id, "stranger", "look around")
	assert.True(t, HasCode(err, ErrCodeNotMember))
}

func TestSubmitAction_VersionsStrictlyOrdered(t *testing.T) {
	steps := make([]generate.Step, 5)
	for i := range steps {
		steps[i] = generate.Step{Narrative: "Something happens.", AvailableActions: []string{"continue"}}
	}
	e := newTestEngine(t, generate.NewScripted(steps), Options{})
	id := startedSession(t, e)
	ctx := context.Background()

	for want := int64(2); want <= 6; want++ {
		result, err := e.SubmitAction(ctx, id, "owner", "continue")
		require.NoError(t, err)
		assert.Equal(t, want, result.Version, "each committed turn advances the version by exactly one")
	}
}

// captureGenerator records the requests it receives.
type captureGenerator struct {
	mu       sync.Mutex
	requests []generate.Request
	resp     generate.Response
}

func (g *captureGenerator) Generate(_ context.Context, req generate.Request) (generate.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return g.resp, nil
}

func TestSubmitAction_StuckHint(t *testing.T) {
	gen := &captureGenerator{resp: generate.Response{
		Narrative:        "Nothing happens.",
		AvailableActions: []string{"try again"},
	}}
	e := newTestEngine(t, gen, Options{StuckThreshold: 3})
	id := startedSession(t, e)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := e.SubmitAction(ctx, id, "owner", "wait")
		require.NoError(t, err)
	}

	require.Len(t, gen.requests, 4)
	assert.False(t, gen.requests[0].Stuck)
	assert.False(t, gen.requests[1].Stuck)
	assert.True(t, gen.requests[2].Stuck, "third fruitless turn crosses the threshold")
	assert.True(t, gen.requests[3].Stuck)
	assert.Equal(t, "find the hidden key", gen.requests[0].NextPlotPoint)
}

func TestRequestDiff(t *testing.T) {
	gen := generate.NewScripted([]generate.Step{{
		Narrative:        "You descend.",
		StateDelta:       map[string]any{"location": "cellar"},
		AvailableActions: []string{"look around"},
	}})
	e := newTestEngine(t, gen, Options{})
	id := startedSession(t, e)
	ctx := context.Background()

	_, err := e.SubmitAction(ctx, id, "owner", "open door")
	require.NoError(t, err)

	diff, err := e.RequestDiff(id, "owner", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), diff.FromVersion)
	assert.Equal(t, int64(2), diff.ToVersion)
	assert.Equal(t, "cellar", diff.Changed["location"])

	_, err = e.RequestDiff(id, "stranger", 1)
	assert.True(t, HasCode(err, ErrCodeNotMember))
}

func TestLeave_LastMemberEvictsButPersists(t *testing.T) {
	gen := generate.NewScripted([]generate.Step{{
		Narrative:        "You descend.",
		StateDelta:       map[string]any{"location": "cellar"},
		AvailableActions: []string{"look around"},
	}})
	e := newTestEngine(t, gen, Options{})
	id := startedSession(t, e)
	ctx := context.Background()

	_, err := e.SubmitAction(ctx, id, "owner", "open door")
	require.NoError(t, err)

	e.Leave(id, "owner")
	_, err = e.GetSnapshot(id, "owner")
	assert.True(t, HasCode(err, ErrCodeUnknownSession))

	// Rejoining rehydrates the committed state from the store.
	snap, err := e.Join(ctx, id, "owner")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
	assert.Equal(t, "cellar", snap.State["location"])
	assert.True(t, snap.Started)
	assert.Len(t, snap.Log, 3)
}

func TestJoin_UnknownSession(t *testing.T) {
	e := newTestEngine(t, generate.NewScripted(nil), Options{})

	_, err := e.Join(context.Background(), "missing", "owner")
	assert.True(t, HasCode(err, ErrCodeUnknownSession))
	var te *TurnError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "missing", te.SessionID)
}
