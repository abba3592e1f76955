package paramfile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "params.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadParsesKeyValuePairs(t *testing.T) {
	path := writeTempFile(t, "# comment\nBASE_PORT=40000\nW=30\n\nQ=5\nC=100.0\n")

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := f.Int("BASE_PORT", -1); got != 40000 {
		t.Errorf("BASE_PORT: got %d, want 40000", got)
	}
	if got := f.Int("w", -1); got != 30 {
		t.Errorf("case-insensitive W: got %d, want 30", got)
	}
	if got := f.Float("C", -1); got != 100.0 {
		t.Errorf("C: got %v, want 100.0", got)
	}
}

func TestMissingKeyReturnsDefault(t *testing.T) {
	path := writeTempFile(t, "BASE_PORT=40000\n")
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := f.Int("NUM_SWARMS", 2); got != 2 {
		t.Errorf("default not applied: got %d, want 2", got)
	}
	if f.Has("NUM_SWARMS") {
		t.Errorf("Has reported true for an absent key")
	}
}

func TestMalformedLineErrors(t *testing.T) {
	path := writeTempFile(t, "not-a-kv-pair\n")
	if _, err := Load(path); err == nil {
		t.Errorf("expected error for malformed line")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/to/params.txt"); err == nil {
		t.Errorf("expected error for missing file")
	}
}
