package cache

import (
	"bytes"
	"errors"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

// TestPutGetRoundTrip tests compression round-tripping.
func TestPutGetRoundTrip(t *testing.T) {
	s := testStore(t)

	data := bytes.Repeat([]byte("%PDF-1.4 page content "), 100)
	if err := s.Put("session-a", "score.pdf", data); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := s.Get("session-a", "score.pdf")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Get() returned different bytes than Put()")
	}

	stats := s.Stats()
	if stats.Entries != 1 {
		t.Errorf("Stats().Entries = %d, want 1", stats.Entries)
	}
	if stats.Bytes >= stats.RawBytes {
		t.Errorf("compressed size %d not smaller than raw %d", stats.Bytes, stats.RawBytes)
	}
}

// TestGetMissing tests the miss path.
func TestGetMissing(t *testing.T) {
	s := testStore(t)

	if _, err := s.Get("session-a", "nothing.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if s.Stats().Misses != 1 {
		t.Errorf("Stats().Misses = %d, want 1", s.Stats().Misses)
	}
}

// TestScopeIsolation tests that two sessions with the same base name
// do not clobber each other.
func TestScopeIsolation(t *testing.T) {
	s := testStore(t)

	if err := s.Put("session-a", "score.pdf", []byte("document a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("session-b", "score.pdf", []byte("document b")); err != nil {
		t.Fatal(err)
	}

	a, err := s.Get("session-a", "score.pdf")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Get("session-b", "score.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("sessions share a cache entry")
	}
	if string(a) != "document a" || string(b) != "document b" {
		t.Error("entries crossed between sessions")
	}
}

// TestPutReplaces tests overwriting an entry.
func TestPutReplaces(t *testing.T) {
	s := testStore(t)

	if err := s.Put("session-a", "score.pdf", []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("session-a", "score.pdf", []byte("second")); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get("session-a", "score.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Errorf("Get() = %q, want replacement", got)
	}
	if s.Stats().Entries != 1 {
		t.Errorf("Stats().Entries = %d, want 1 after replacement", s.Stats().Entries)
	}
}

// TestClearScope tests per-session teardown.
func TestClearScope(t *testing.T) {
	s := testStore(t)

	if err := s.Put("session-a", "score.pdf", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("session-a", "score.midi", []byte("m")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("session-b", "score.pdf", []byte("b")); err != nil {
		t.Fatal(err)
	}

	if err := s.ClearScope("session-a"); err != nil {
		t.Fatalf("ClearScope() error = %v", err)
	}
	if _, err := s.Get("session-a", "score.pdf"); !errors.Is(err, ErrNotFound) {
		t.Error("cleared entry still retrievable")
	}
	if _, err := s.Get("session-b", "score.pdf"); err != nil {
		t.Error("other session's entry was cleared")
	}
	if s.Stats().Entries != 1 {
		t.Errorf("Stats().Entries = %d, want 1", s.Stats().Entries)
	}
}

// TestScopeSanitized tests that path-like scopes cannot escape the
// cache root.
func TestScopeSanitized(t *testing.T) {
	s := testStore(t)

	if err := s.Put("../escape", "score.pdf", []byte("x")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := s.Get("escape", "score.pdf"); err != nil {
		t.Error("sanitized scope not readable under its base name")
	}
}
