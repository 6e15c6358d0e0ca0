package queue

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"maichart/internal/config"
	"maichart/internal/database"
	"maichart/internal/services"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// claimRaceAttempts bounds how often Claim retries after losing an optimistic
// update to another consumer.
const claimRaceAttempts = 5

// Store manages stream persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the queue database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	path := cfg.QueueDBPath()
	db, err := database.Open(context.Background(), path, database.Schema{
		Name:    "queue",
		SQL:     schemaSQL,
		Version: schemaVersion,
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(database.EnsureContext(ctx))
}

// EnsureGroup registers a consumer group on a stream. New groups see every
// message still retained on the stream.
func (s *Store) EnsureGroup(ctx context.Context, stream, group string) error {
	if strings.TrimSpace(stream) == "" || strings.TrimSpace(group) == "" {
		return services.Wrap(services.ErrValidation, "queue", "ensure group", "stream and group are required", nil)
	}
	_, err := database.ExecWithRetry(ctx, s.db,
		`INSERT OR IGNORE INTO consumer_groups (stream, name, created_at) VALUES (?, ?, ?)`,
		stream, group, database.FormatTime(s.now()))
	if err != nil {
		return fmt.Errorf("ensure consumer group %s/%s: %w", stream, group, err)
	}
	return nil
}

// Publish appends payload to stream. When dedupKey is non-empty and a message
// with that key is still retained on the stream, the existing ID is returned
// and published is false.
func (s *Store) Publish(ctx context.Context, stream, dedupKey string, payload any) (id string, published bool, err error) {
	if strings.TrimSpace(stream) == "" {
		return "", false, services.Wrap(services.ErrValidation, "queue", "publish", "stream is required", nil)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", false, services.Wrap(services.ErrValidation, "queue", "publish", "encode payload", err)
	}
	id = uuid.NewString()
	res, err := database.ExecWithRetry(ctx, s.db,
		`INSERT OR IGNORE INTO messages (id, stream, dedup_key, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, stream, database.NullableString(dedupKey), string(body), database.FormatTime(s.now()))
	if err != nil {
		return "", false, services.Wrap(services.ErrTransient, "queue", "publish", "append message", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if affected > 0 {
		return id, true, nil
	}
	var existing string
	if err := s.db.QueryRowContext(database.EnsureContext(ctx),
		`SELECT id FROM messages WHERE stream = ? AND dedup_key = ?`, stream, dedupKey,
	).Scan(&existing); err != nil {
		return "", false, fmt.Errorf("lookup deduplicated message: %w", err)
	}
	return existing, false, nil
}

// Get returns a retained message by ID.
func (s *Store) Get(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(database.EnsureContext(ctx),
		`SELECT id, stream, dedup_key, payload, created_at FROM messages WHERE id = ?`, id)
	var (
		msg        Message
		dedup      sql.NullString
		payload    string
		createdRaw string
	)
	if err := row.Scan(&msg.ID, &msg.Stream, &dedup, &payload, &createdRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.Wrap(services.ErrNotFound, "queue", "get", "message not found", nil)
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	msg.DedupKey = dedup.String
	msg.Payload = json.RawMessage(payload)
	msg.CreatedAt, _ = database.ParseTime(createdRaw)
	return &msg, nil
}

// Claim leases the oldest message on the stream that the group has not
// acknowledged and that no consumer currently holds. It returns nil when
// nothing is claimable.
func (s *Store) Claim(ctx context.Context, req ClaimRequest) (*Delivery, error) {
	if req.Stream == "" || req.Group == "" || req.Consumer == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "claim", "stream, group and consumer are required", nil)
	}
	if req.Lease <= 0 {
		req.Lease = 5 * time.Minute
	}
	ctx = database.EnsureContext(ctx)
	for attempt := 0; attempt < claimRaceAttempts; attempt++ {
		delivery, lost, err := s.tryClaim(ctx, req)
		if err != nil {
			return nil, err
		}
		if !lost {
			return delivery, nil
		}
	}
	return nil, nil
}

func (s *Store) tryClaim(ctx context.Context, req ClaimRequest) (*Delivery, bool, error) {
	now := s.now().UTC()
	stamp := database.FormatTime(now)

	var (
		msg        Message
		dedup      sql.NullString
		payload    string
		createdRaw string
		count      sql.NullInt64
		leaseRaw   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT m.id, m.stream, m.dedup_key, m.payload, m.created_at, d.delivery_count, d.lease_until
        FROM messages m
        LEFT JOIN deliveries d ON d.message_id = m.id AND d.group_name = ?
        WHERE m.stream = ? AND (d.message_id IS NULL OR (d.acked_at IS NULL AND d.lease_until < ?))
        ORDER BY m.seq
        LIMIT 1`,
		req.Group, req.Stream, stamp,
	).Scan(&msg.ID, &msg.Stream, &dedup, &payload, &createdRaw, &count, &leaseRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select claimable message: %w", err)
	}

	leaseUntil := now.Add(req.Lease)
	var res sql.Result
	if !count.Valid {
		res, err = database.ExecWithRetry(ctx, s.db,
			`INSERT OR IGNORE INTO deliveries (message_id, group_name, consumer, delivery_count, lease_until, delivered_at)
            VALUES (?, ?, ?, 1, ?, ?)`,
			msg.ID, req.Group, req.Consumer, database.FormatTime(leaseUntil), stamp)
	} else {
		res, err = database.ExecWithRetry(ctx, s.db,
			`UPDATE deliveries SET consumer = ?, delivery_count = delivery_count + 1, lease_until = ?, delivered_at = ?
            WHERE message_id = ? AND group_name = ? AND acked_at IS NULL AND lease_until = ?`,
			req.Consumer, database.FormatTime(leaseUntil), stamp, msg.ID, req.Group, leaseRaw.String)
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim message %s: %w", msg.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 0 {
		return nil, true, nil
	}

	msg.DedupKey = dedup.String
	msg.Payload = json.RawMessage(payload)
	msg.CreatedAt, _ = database.ParseTime(createdRaw)
	deliveries := 1
	if count.Valid {
		deliveries = int(count.Int64) + 1
	}
	return &Delivery{
		Message:       msg,
		Group:         req.Group,
		Consumer:      req.Consumer,
		DeliveryCount: deliveries,
		LeaseUntil:    leaseUntil,
		DeliveredAt:   now,
	}, false, nil
}

// Read claims the next message, waiting up to block for one to appear.
func (s *Store) Read(ctx context.Context, req ClaimRequest, block time.Duration) (*Delivery, error) {
	ctx = database.EnsureContext(ctx)
	deadline := time.Now().Add(block)
	interval := block / 10
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	for {
		delivery, err := s.Claim(ctx, req)
		if err != nil || delivery != nil {
			return delivery, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Extend pushes the lease of a held delivery forward.
func (s *Store) Extend(ctx context.Context, d *Delivery, lease time.Duration) error {
	leaseUntil := s.now().UTC().Add(lease)
	res, err := database.ExecWithRetry(ctx, s.db,
		`UPDATE deliveries SET lease_until = ? WHERE message_id = ? AND group_name = ? AND consumer = ? AND acked_at IS NULL`,
		database.FormatTime(leaseUntil), d.ID, d.Group, d.Consumer)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	if err := leaseHeld(res); err != nil {
		return err
	}
	d.LeaseUntil = leaseUntil
	return nil
}

// Ack marks the delivery processed for its group.
func (s *Store) Ack(ctx context.Context, d *Delivery) error {
	return s.finish(ctx, d, false, "")
}

// DeadLetter acknowledges the delivery while recording why it was abandoned.
func (s *Store) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	return s.finish(ctx, d, true, reason)
}

func (s *Store) finish(ctx context.Context, d *Delivery, dead bool, reason string) error {
	res, err := database.ExecWithRetry(ctx, s.db,
		`UPDATE deliveries SET acked_at = ?, dead = ?, last_error = ?
        WHERE message_id = ? AND group_name = ? AND consumer = ? AND acked_at IS NULL`,
		database.FormatTime(s.now()), database.BoolToInt(dead), database.NullableString(reason),
		d.ID, d.Group, d.Consumer)
	if err != nil {
		return fmt.Errorf("ack delivery: %w", err)
	}
	return leaseHeld(res)
}

// Release gives up a held delivery without acknowledging it. The message
// becomes claimable again after retryAfter.
func (s *Store) Release(ctx context.Context, d *Delivery, retryAfter time.Duration, reason string) error {
	res, err := database.ExecWithRetry(ctx, s.db,
		`UPDATE deliveries SET lease_until = ?, last_error = ?
        WHERE message_id = ? AND group_name = ? AND consumer = ? AND acked_at IS NULL`,
		database.FormatTime(s.now().UTC().Add(retryAfter)), database.NullableString(reason),
		d.ID, d.Group, d.Consumer)
	if err != nil {
		return fmt.Errorf("release delivery: %w", err)
	}
	return leaseHeld(res)
}

func leaseHeld(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	return nil
}
