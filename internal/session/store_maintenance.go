package session

import (
	"context"
	"fmt"
	"time"

	"maichart/internal/database"
)

// HealthSummary aggregates session counts by lifecycle bucket.
type HealthSummary struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Stats returns a count of sessions grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	ctx = database.EnsureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health summarizes session counts for diagnostics.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	var health HealthSummary
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusProcessing:
			health.Processing += count
		case StatusCompleted:
			health.Completed += count
		case StatusError:
			health.Failed += count
		}
	}
	return health, nil
}

// ExpireBefore deletes sessions last updated before cutoff and returns their
// IDs so callers can remove files on disk. Sessions still processing are kept;
// the guard is repeated in the DELETE so a session picked up by a worker after
// the scan survives.
func (s *Store) ExpireBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	ctx = database.EnsureContext(ctx)
	stamp := database.FormatTime(cutoff)
	ids, err := s.queryIDs(ctx,
		`SELECT id FROM sessions WHERE updated_at < ? AND status <> ?`,
		stamp, StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("find expired sessions: %w", err)
	}

	expired := make([]string, 0, len(ids))
	for _, id := range ids {
		deleted, err := s.expireOne(ctx, id, stamp)
		if err != nil {
			return expired, fmt.Errorf("expire session %s: %w", id, err)
		}
		if deleted {
			expired = append(expired, id)
		}
	}
	return expired, nil
}

func (s *Store) expireOne(ctx context.Context, id, cutoff string) (bool, error) {
	res, err := database.ExecWithRetry(ctx, s.db,
		`DELETE FROM sessions WHERE id = ? AND updated_at < ? AND status <> ?`,
		id, cutoff, StatusProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// StalledStreams returns streaming sessions still processing whose last
// update is older than cutoff: the client stopped sending chunks or a chunk
// never reached a worker.
func (s *Store) StalledStreams(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	ctx = database.EnsureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
        WHERE recording_mode = ? AND status = ? AND updated_at < ?
        ORDER BY updated_at`,
		ModeStreaming, StatusProcessing, database.FormatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("find stalled streams: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
