package jobs_test

import (
	"testing"

	"maichart/internal/jobs"
)

func TestDedupKeys(t *testing.T) {
	if got := jobs.AudioKey("s1"); got != "audio:s1" {
		t.Fatalf("unexpected audio key %q", got)
	}
	if got := jobs.ChunkKey("s1", 3); got != "chunk:s1:3" {
		t.Fatalf("unexpected chunk key %q", got)
	}
	if got := jobs.AutoExtractionKey("s1"); got != "extract:s1:auto" {
		t.Fatalf("unexpected auto key %q", got)
	}
	if got := jobs.ManualExtractionKey("s1", "r"); got != "extract:s1:manual:r" {
		t.Fatalf("unexpected manual key %q", got)
	}
}
