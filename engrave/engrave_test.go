package engrave

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

const testSource = `\version "2.20.0"
{ c'4 }
`

// writeFakeTool writes an executable shell script standing in for the
// engraving tool and returns its path.
func writeFakeTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "lilypond")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testEngraver(t *testing.T, script string, opts ...EngraverOption) *Engraver {
	t.Helper()
	locator := NewLocator(WithOverride(ToolName, writeFakeTool(t, script)))
	return New(locator, opts...)
}

// fakeLilypond emits a document and performance data into the --output
// directory, mimicking a successful engraving run.
const fakeLilypond = `out=""
for a in "$@"; do
  case "$a" in
    --output=*) out="${a#--output=}" ;;
  esac
done
printf '%%PDF-1.4 engraved' > "$out/score.pdf"
printf 'MThd' > "$out/score.midi"
`

// TestConvertSuccess tests the minimal valid source scenario.
func TestConvertSuccess(t *testing.T) {
	e := testEngraver(t, fakeLilypond)

	res, err := e.Convert(context.Background(), Request{
		Source:   []byte(testSource),
		BaseName: "test1",
	})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if len(res.PDF) == 0 {
		t.Error("Convert() returned empty document")
	}
	if res.PDFName != "test1.pdf" {
		t.Errorf("PDFName = %q, want %q", res.PDFName, "test1.pdf")
	}
	if !res.HasMIDI() {
		t.Error("Convert() dropped the performance data")
	}
	if res.MIDIName != "test1.midi" {
		t.Errorf("MIDIName = %q, want %q", res.MIDIName, "test1.midi")
	}
}

// TestConvertWithoutMIDI tests a run that produces only the document.
func TestConvertWithoutMIDI(t *testing.T) {
	e := testEngraver(t, `out=""
for a in "$@"; do
  case "$a" in
    --output=*) out="${a#--output=}" ;;
  esac
done
printf '%%PDF-1.4 engraved' > "$out/score.pdf"
`)

	res, err := e.Convert(context.Background(), Request{
		Source:   []byte(testSource),
		BaseName: "nomidi",
	})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if res.HasMIDI() {
		t.Error("HasMIDI() = true for a run without performance data")
	}
}

// TestConvertToolFailure tests that a non-zero exit surfaces the tool's
// diagnostic text.
func TestConvertToolFailure(t *testing.T) {
	e := testEngraver(t, `echo "error: unterminated expression" >&2
exit 1
`)

	_, err := e.Convert(context.Background(), Request{
		Source:   []byte("{ c'4"),
		BaseName: "broken",
	})
	if err == nil {
		t.Fatal("Convert() succeeded on a failing tool")
	}
	var engraveErr *Error
	if !errors.As(err, &engraveErr) {
		t.Fatalf("Convert() error = %T, want *Error", err)
	}
	if engraveErr.Diagnostic == "" {
		t.Error("diagnostic text was dropped")
	}
}

// TestConvertNoDocument tests the defensive check for a clean exit
// without output.
func TestConvertNoDocument(t *testing.T) {
	e := testEngraver(t, "exit 0\n")

	_, err := e.Convert(context.Background(), Request{
		Source:   []byte(testSource),
		BaseName: "ghost",
	})
	if !errors.Is(err, ErrNoDocument) {
		t.Errorf("Convert() error = %v, want ErrNoDocument", err)
	}
}

// TestConvertTimeout tests that a hung tool is cut off.
func TestConvertTimeout(t *testing.T) {
	e := testEngraver(t, "sleep 10\n", WithTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := e.Convert(context.Background(), Request{
		Source:   []byte(testSource),
		BaseName: "slow",
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Convert() error = %v, want ErrTimeout", err)
	}
	if took := time.Since(start); took > 5*time.Second {
		t.Errorf("Convert() blocked for %v despite timeout", took)
	}
}

// TestConvertEmptySource tests that nothing is spawned for empty input.
func TestConvertEmptySource(t *testing.T) {
	e := testEngraver(t, "exit 0\n")

	_, err := e.Convert(context.Background(), Request{Source: []byte("   \n")})
	if !errors.Is(err, ErrEmptySource) {
		t.Errorf("Convert() error = %v, want ErrEmptySource", err)
	}
}

// TestConvertToolNotFound tests the hard stop when no tool exists.
func TestConvertToolNotFound(t *testing.T) {
	locator := NewLocator(
		WithRunProbe(func(context.Context, string) error { return errors.New("missing") }),
		WithFileProbe(func(string) bool { return false }),
	)
	e := New(locator)

	_, err := e.Convert(context.Background(), Request{Source: []byte(testSource)})
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("Convert() error = %v, want ErrToolNotFound", err)
	}
}

// TestConvertIdempotent tests byte-identical output for identical input.
func TestConvertIdempotent(t *testing.T) {
	e := testEngraver(t, fakeLilypond)

	req := Request{Source: []byte(testSource), BaseName: "same"}
	first, err := e.Convert(context.Background(), req)
	if err != nil {
		t.Fatalf("first Convert() error = %v", err)
	}
	second, err := e.Convert(context.Background(), req)
	if err != nil {
		t.Fatalf("second Convert() error = %v", err)
	}
	if !bytes.Equal(first.PDF, second.PDF) {
		t.Error("document bytes differ between identical runs")
	}
}

type recordingCache struct {
	entries map[string][]byte
}

func (c *recordingCache) Put(scope, name string, data []byte) error {
	if c.entries == nil {
		c.entries = make(map[string][]byte)
	}
	c.entries[scope+"/"+name] = data
	return nil
}

// TestConvertPersistsArtifacts tests that artifacts land in the durable
// cache under the session scope.
func TestConvertPersistsArtifacts(t *testing.T) {
	cache := &recordingCache{}
	e := testEngraver(t, fakeLilypond, WithCache(cache))

	_, err := e.Convert(context.Background(), Request{
		Source:   []byte(testSource),
		BaseName: "cached",
		Scope:    "session-a",
	})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if _, ok := cache.entries["session-a/cached.pdf"]; !ok {
		t.Error("document missing from cache")
	}
	if _, ok := cache.entries["session-a/cached.midi"]; !ok {
		t.Error("performance data missing from cache")
	}
}

// TestSanitizeBaseName tests output-name cleanup.
func TestSanitizeBaseName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"my_sheet_music", "my_sheet_music"},
		{"  spaced  ", "spaced"},
		{"melody.ly", "melody"},
		{"../../etc/passwd", "passwd"},
		{"", "score"},
		{".", "score"},
		{"nested/dir/name", "name"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := sanitizeBaseName(tt.in); got != tt.want {
				t.Errorf("sanitizeBaseName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
