package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"maichart/internal/database"
)

// Pending counts messages on the stream the group has not acknowledged,
// including ones no consumer has claimed yet.
func (s *Store) Pending(ctx context.Context, stream, group string) (int, error) {
	var count int
	err := s.db.QueryRowContext(database.EnsureContext(ctx),
		`SELECT COUNT(1) FROM messages m
        LEFT JOIN deliveries d ON d.message_id = m.id AND d.group_name = ?
        WHERE m.stream = ? AND (d.message_id IS NULL OR d.acked_at IS NULL)`,
		group, stream,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

// Streams lists every stream that has messages or registered groups.
func (s *Store) Streams(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(database.EnsureContext(ctx),
		`SELECT stream FROM messages UNION SELECT stream FROM consumer_groups ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Stats summarizes a stream and its consumer groups.
func (s *Store) Stats(ctx context.Context, stream string) (StreamStats, error) {
	ctx = database.EnsureContext(ctx)
	stats := StreamStats{Stream: stream, Groups: []GroupStats{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE stream = ?`, stream).Scan(&stats.Length); err != nil {
		return stats, fmt.Errorf("stream length: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM consumer_groups WHERE stream = ? ORDER BY name`, stream)
	if err != nil {
		return stats, fmt.Errorf("list consumer groups: %w", err)
	}
	var groups []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return stats, err
		}
		groups = append(groups, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return stats, err
	}
	rows.Close()

	now := database.FormatTime(s.now())
	for _, name := range groups {
		group := GroupStats{Name: name}
		var lastRaw *string
		err := s.db.QueryRowContext(ctx,
			`SELECT
                COALESCE(SUM(CASE WHEN d.acked_at IS NULL AND d.lease_until >= ? THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN d.dead = 1 THEN 1 ELSE 0 END), 0),
                COUNT(DISTINCT CASE WHEN d.acked_at IS NULL THEN d.consumer END),
                MAX(d.delivered_at)
            FROM deliveries d JOIN messages m ON m.id = d.message_id
            WHERE m.stream = ? AND d.group_name = ?`,
			now, stream, name,
		).Scan(&group.InFlight, &group.DeadLettered, &group.Consumers, &lastRaw)
		if err != nil {
			return stats, fmt.Errorf("group stats %s: %w", name, err)
		}
		if lastRaw != nil {
			group.LastDeliveredAt = database.ParseTimePtr(*lastRaw)
		}
		pending, err := s.Pending(ctx, stream, name)
		if err != nil {
			return stats, err
		}
		group.Pending = pending
		stats.PendingMessages += pending
		stats.Groups = append(stats.Groups, group)
	}
	return stats, nil
}

// Trim deletes messages created before cutoff that every registered group on
// their stream has acknowledged.
func (s *Store) Trim(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := database.ExecWithRetry(ctx, s.db,
		`DELETE FROM messages
        WHERE created_at < ?
          AND NOT EXISTS (
              SELECT 1 FROM consumer_groups g
              WHERE g.stream = messages.stream
                AND NOT EXISTS (
                    SELECT 1 FROM deliveries d
                    WHERE d.message_id = messages.id AND d.group_name = g.name AND d.acked_at IS NOT NULL
                )
          )`,
		database.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("trim streams: %w", err)
	}
	return res.RowsAffected()
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(database.EnsureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	for _, table := range []string{"messages", "consumer_groups", "deliveries"} {
		var count int
		if err := s.db.QueryRowContext(connCtx,
			"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&count); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
		if count > 0 {
			health.TablesPresent = append(health.TablesPresent, table)
		} else {
			health.MissingTables = append(health.MissingTables, table)
		}
	}

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = integrity == "ok"

	if len(health.MissingTables) == 0 {
		if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM messages").Scan(&health.TotalMessages); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count messages: %w", err)
		}
	}
	return health, nil
}
