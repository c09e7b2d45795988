// Package history keeps a Redis-backed record of recent assistant runs.
//
// Only summary metadata is stored. Transcripts are deliberately not
// persisted; they are discarded with the run.
package history

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/querypilot/querypilot/internal/api"
)

const (
	runListKey   = "querypilot:runs"
	runKeyPrefix = "querypilot:run:"

	defaultKeep = 100
	recordTTL   = 24 * time.Hour
)

// Store records run summaries in Redis: a capped list of recent run ids
// plus one hash per run with a TTL.
type Store struct {
	rdb  *redis.Client
	keep int64
}

// NewStore creates a history store keeping at most keep recent runs; keep
// <= 0 applies a default.
func NewStore(rdb *redis.Client, keep int) *Store {
	k := int64(keep)
	if k <= 0 {
		k = defaultKeep
	}
	return &Store{rdb: rdb, keep: k}
}

// Record stores one terminal run summary.
func (s *Store) Record(ctx context.Context, summary api.RunSummary) error {
	key := runKeyPrefix + summary.RunID
	fields := map[string]interface{}{
		"request":     summary.Request,
		"status":      summary.Status,
		"model":       summary.Model,
		"latency_ms":  summary.LatencyMS,
		"finished_at": summary.FinishedAt.UTC().Format(time.RFC3339),
	}
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("record run %s: %w", summary.RunID, err)
	}
	s.rdb.Expire(ctx, key, recordTTL)

	pipe := s.rdb.Pipeline()
	pipe.LPush(ctx, runListKey, summary.RunID)
	pipe.LTrim(ctx, runListKey, 0, s.keep-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index run %s: %w", summary.RunID, err)
	}
	return nil
}

// Recent returns up to limit summaries, newest first. Runs whose hash has
// expired are skipped.
func (s *Store) Recent(ctx context.Context, limit int) ([]api.RunSummary, error) {
	if limit <= 0 || int64(limit) > s.keep {
		limit = int(s.keep)
	}
	ids, err := s.rdb.LRange(ctx, runListKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}

	summaries := make([]api.RunSummary, 0, len(ids))
	for _, id := range ids {
		data, err := s.rdb.HGetAll(ctx, runKeyPrefix+id).Result()
		if err != nil || len(data) == 0 {
			continue
		}
		summary := api.RunSummary{
			RunID:   id,
			Request: data["request"],
			Status:  data["status"],
			Model:   data["model"],
		}
		if ms, err := strconv.ParseInt(data["latency_ms"], 10, 64); err == nil {
			summary.LatencyMS = ms
		}
		if at, err := time.Parse(time.RFC3339, data["finished_at"]); err == nil {
			summary.FinishedAt = at
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}
