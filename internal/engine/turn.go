package engine

import (
	"context"
	"strings"

	"github.com/taleweave/taleweave/internal/cache"
	"github.com/taleweave/taleweave/internal/conclude"
	"github.com/taleweave/taleweave/internal/game"
	"github.com/taleweave/taleweave/internal/generate"
)

// logTailLength is how many recent log entries the generator sees.
const logTailLength = 10

// resolveTurn runs one action through the pipeline. Runs on the session
// worker goroutine, never concurrently for the same session.
//
// The raw action is durably logged exactly once, on every path that gets
// past the membership and lifecycle guards: a rejected or failed turn
// grows the log by one entry, a committed turn by two.
func (e *Engine) resolveTurn(ctx context.Context, sessionID, memberID, action string) (game.TurnResult, error) {
	sess, err := e.cache.Session(sessionID)
	if err != nil {
		return game.TurnResult{}, newError(ErrCodeUnknownSession, "session is not active", sessionID, memberID)
	}
	if sess.Concluded {
		// Concluded while this turn sat in the queue.
		return game.TurnResult{}, newError(ErrCodeConcluded, "session has concluded", sessionID, memberID)
	}

	// Validating.
	action = strings.TrimSpace(action)
	reason, valid := validateAction(sess, action)

	actionEntry := game.LogEntry{
		ID:        e.ids.NewID(),
		Seq:       sess.LastSeq() + 1,
		Kind:      game.LogKindPlayer,
		MemberID:  memberID,
		Body:      action,
		CreatedAt: e.clock(),
	}

	if !valid {
		// The rejected action is still part of the record.
		if err := e.cache.RecordAction(ctx, sessionID, actionEntry, sess.TurnsSinceProgress); err != nil {
			e.logger.Error("record action failed", "session_id", sessionID, "error", err)
			return game.TurnResult{}, err
		}
		e.logger.Debug("action rejected", "session_id", sessionID, "member_id", memberID, "reason", reason)
		return game.TurnResult{
			Status:  game.TurnValidationRejected,
			Message: reason,
			Version: sess.Version,
			Log:     []game.LogEntry{actionEntry},
		}, nil
	}

	turnsSinceProgress := sess.TurnsSinceProgress + 1
	if err := e.cache.RecordAction(ctx, sessionID, actionEntry, turnsSinceProgress); err != nil {
		e.logger.Error("record action failed", "session_id", sessionID, "error", err)
		return game.TurnResult{}, err
	}

	// Generating.
	resp, genErr := e.generateTurn(ctx, sess, action, memberID, turnsSinceProgress)
	if genErr != nil {
		e.logger.Warn("narrative generation failed",
			"session_id", sessionID,
			"member_id", memberID,
			"error", genErr,
		)
		return game.TurnResult{
			Status:  game.TurnGenerationFailed,
			Message: "narrative generation failed",
			Version: sess.Version,
			Log:     []game.LogEntry{actionEntry},
		}, nil
	}

	// Applying.
	completed := append([]string(nil), sess.CompletedPlotPoints...)
	if achieved, ok := resp.AchievedPlotPoint(); ok && !sess.HasCompleted(achieved) {
		completed = append(completed, achieved)
		turnsSinceProgress = 0
		e.logger.Info("plot point achieved", "session_id", sessionID, "plot_point", achieved)
	}
	delta := e.filterDelta(sessionID, sess.Campaign, resp.StateDelta)

	narrativeEntry := game.LogEntry{
		ID:        e.ids.NewID(),
		Seq:       actionEntry.Seq + 1,
		Kind:      game.LogKindNarrative,
		Body:      resp.Narrative,
		CreatedAt: e.clock(),
	}

	version, err := e.cache.CommitTurn(ctx, sessionID, cache.CommitInput{
		Delta:               delta,
		Entries:             []game.LogEntry{narrativeEntry},
		Actions:             resp.AvailableActions,
		CompletedPlotPoints: completed,
		TurnsSinceProgress:  turnsSinceProgress,
	})
	if err != nil {
		e.logger.Error("turn commit failed", "session_id", sessionID, "error", err)
		return game.TurnResult{
			Status:  game.TurnCommitFailed,
			Message: "turn could not be committed",
			Version: sess.Version,
			Log:     []game.LogEntry{actionEntry},
		}, nil
	}

	snap, err := e.cache.Snapshot(sessionID)
	if err != nil {
		return game.TurnResult{}, err
	}
	result := game.TurnResult{
		Status:           game.TurnUpdated,
		Version:          version,
		State:            snap.State,
		Log:              []game.LogEntry{actionEntry, narrativeEntry},
		AvailableActions: snap.AvailableActions,
		Usage:            resp.Usage,
	}

	// Concluding.
	done, evalErr := conclude.Evaluate(
		sess.Campaign.ConclusionConditions,
		sess.Campaign.PlotPoints,
		snap.State,
		completed,
	)
	if evalErr != nil {
		e.logger.Error("conclusion evaluation failed", "session_id", sessionID, "error", evalErr)
		return result, nil
	}
	if !done {
		return result, nil
	}

	if err := e.cache.MarkConcluded(ctx, sessionID); err != nil {
		e.logger.Error("mark concluded failed", "session_id", sessionID, "error", err)
		return result, nil
	}
	e.logger.Info("session concluded", "session_id", sessionID, "version", version)
	result.Status = game.TurnConcluded
	result.Summary = resp.Narrative
	return result, nil
}

// generateTurn calls the narrative generator under the configured timeout
// and validates the response shape.
func (e *Engine) generateTurn(ctx context.Context, sess *game.Session, action, memberID string, turnsSinceProgress int) (generate.Response, error) {
	req := generate.Request{
		CampaignName:        sess.Campaign.Name,
		CampaignDescription: sess.Campaign.Description,
		State:               sess.State,
		Log:                 logTail(sess.Log),
		Action:              action,
		MemberID:            memberID,
		Stuck:               turnsSinceProgress >= e.stuckThreshold,
	}
	if point, ok := game.NextRequiredPlotPoint(sess.Campaign.PlotPoints, sess.CompletedPlotPoints); ok {
		req.NextPlotPoint = point.Description
	}

	genCtx, cancel := context.WithTimeout(ctx, e.genTimeout)
	defer cancel()

	resp, err := e.gen.Generate(genCtx, req)
	if err != nil {
		return generate.Response{}, err
	}
	if err := resp.Validate(); err != nil {
		return generate.Response{}, err
	}
	return resp, nil
}

// filterDelta drops delta keys outside the campaign's state schema. A
// schema violation is degraded, not fatal: the key is logged and ignored.
func (e *Engine) filterDelta(sessionID string, campaign game.CampaignDefinition, delta map[string]any) map[string]any {
	schema := campaign.StateSchema()
	filtered := make(map[string]any, len(delta))
	for key, value := range delta {
		if _, ok := schema[key]; !ok {
			e.logger.Warn("dropping state key outside campaign schema",
				"session_id", sessionID,
				"key", key,
			)
			continue
		}
		filtered[key] = value
	}
	return filtered
}

func logTail(log []game.LogEntry) []game.LogEntry {
	if len(log) <= logTailLength {
		return append([]game.LogEntry(nil), log...)
	}
	return append([]game.LogEntry(nil), log[len(log)-logTailLength:]...)
}
