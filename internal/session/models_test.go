package session_test

import (
	"testing"

	"maichart/internal/session"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to session.Status
		want     bool
	}{
		{session.StatusQueued, session.StatusProcessing, true},
		{session.StatusQueued, session.StatusError, true},
		{session.StatusProcessing, session.StatusProcessing, true},
		{session.StatusProcessing, session.StatusCompleted, true},
		{session.StatusProcessing, session.StatusQueued, false},
		{session.StatusCompleted, session.StatusError, false},
		{session.StatusError, session.StatusCompleted, false},
		{session.StatusCompleted, session.StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := session.ParseStatus(" Completed "); !ok || status != session.StatusCompleted {
		t.Fatalf("unexpected parse: %q %v", status, ok)
	}
	if _, ok := session.ParseStatus("done"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}
