package session

import (
	"context"
	"time"

	"maichart/internal/database"
)

// ExpireOne runs the guarded single-row delete used by ExpireBefore.
func (s *Store) ExpireOne(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	return s.expireOne(ctx, id, database.FormatTime(cutoff))
}
