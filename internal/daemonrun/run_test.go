package daemonrun

import (
	"reflect"
	"testing"
)

func TestNormalizeRoles(t *testing.T) {
	got, err := normalizeRoles(nil)
	if err != nil {
		t.Fatalf("normalizeRoles(nil): %v", err)
	}
	if !reflect.DeepEqual(got, Roles) {
		t.Fatalf("expected every role, got %v", got)
	}

	got, err = normalizeRoles([]string{" Extraction ", "chunks", "extraction"})
	if err != nil {
		t.Fatalf("normalizeRoles: %v", err)
	}
	if want := []string{RoleExtraction, RoleChunks}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	if _, err := normalizeRoles([]string{"encoder"}); err == nil {
		t.Fatal("expected unknown role error")
	}
}
