package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// riffHeader makes fake audio payloads look like WAV to content sniffing.
var riffHeader = []byte("RIFF\x24\x00\x00\x00WAVEfmt ")

// AudioBytes returns size bytes that begin with a WAV header. A size <= 0
// yields a single byte.
func AudioBytes(size int64) []byte {
	if size <= 0 {
		size = 1
	}
	buf := bytes.Repeat([]byte{0x5a}, int(size))
	copy(buf, riffHeader)
	return buf
}

// WriteAudio writes a fake audio file of the requested size under dir and
// returns its path.
func WriteAudio(t testing.TB, dir, name string, size int64) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, AudioBytes(size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
