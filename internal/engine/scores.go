package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/roundtablehq/roundtable/internal/domain/event"
	"github.com/roundtablehq/roundtable/internal/port/cache"
	"github.com/roundtablehq/roundtable/internal/port/repository"
)

// ScoreBoard computes advisory per-knight quality scores from the durable
// event log. Scores weight the convergence synthesis; the cache is purely
// an optimization and every value is recomputable from the log.
type ScoreBoard struct {
	repo  repository.Repository
	cache cache.Cache
	ttl   time.Duration
}

// NewScoreBoard creates a score board backed by the given advisory cache.
// A nil cache disables caching.
func NewScoreBoard(repo repository.Repository, c cache.Cache, ttl time.Duration) *ScoreBoard {
	return &ScoreBoard{repo: repo, cache: c, ttl: ttl}
}

// Scores returns the per-knight score map for a session.
func (s *ScoreBoard) Scores(ctx context.Context, sessionID string) (map[string]float64, error) {
	key := "scores:" + sessionID

	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var scores map[string]float64
			if json.Unmarshal(data, &scores) == nil {
				return scores, nil
			}
		}
	}

	events, err := s.repo.ListEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	scores := Compute(events)

	if s.cache != nil {
		if data, err := json.Marshal(scores); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				slog.Debug("score cache set failed", "session_id", sessionID, "error", err)
			}
		}
	}
	return scores, nil
}

// Invalidate drops the cached scores for a session.
func (s *ScoreBoard) Invalidate(ctx context.Context, sessionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, "scores:"+sessionID); err != nil {
		slog.Debug("score cache delete failed", "session_id", sessionID, "error", err)
	}
}

// Compute derives scores from an ordered event log: each valid turn earns
// a point, citations and refuted fact-checks weigh extra, degraded turns
// subtract.
func Compute(events []event.DebateEvent) map[string]float64 {
	scores := make(map[string]float64)
	for _, ev := range events {
		if ev.KnightID == "" {
			continue
		}
		switch ev.Type {
		case event.TypeDegraded:
			scores[ev.KnightID] -= 2
		case event.TypeCitationAdded:
			scores[ev.KnightID] += 2
		case event.TypeFactCheck:
			scores[ev.KnightID] += 1.5
		default:
			if isTurnEvent(ev.Type) {
				scores[ev.KnightID]++
			}
		}
	}
	return scores
}
