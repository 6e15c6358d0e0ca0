package queue

import "time"

// SetClock replaces the store clock for lease expiry tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}
