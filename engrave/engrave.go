package engrave

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// ToolName is the logical name of the engraving executable.
const ToolName = "lilypond"

// Scratch files always use a fixed base name regardless of the desired
// output name; only the durable artifacts carry the user's name.
const (
	scratchSource   = "score.ly"
	scratchDocument = "score.pdf"
	scratchMIDI     = "score.midi"
)

// DefaultTimeout bounds a single engraving run. The external tool can
// hang on pathological input, so expiry is treated as a failed run.
const DefaultTimeout = 60 * time.Second

// Request is one conversion: notation source plus the base name the
// produced artifacts should carry.
type Request struct {
	Source   []byte
	BaseName string
	// Scope namespaces the durable cache entries, so two sessions
	// using the same base name cannot clobber each other.
	Scope string
}

// Result holds the artifacts of a successful conversion, fully read
// into memory.
type Result struct {
	PDF     []byte
	PDFName string

	// MIDI is nil when the source has no midi block.
	MIDI     []byte
	MIDIName string

	// WAV is filled in later by the audio renderer, when available.
	WAV     []byte
	WAVName string
}

// HasMIDI reports whether the conversion produced performance data.
func (r *Result) HasMIDI() bool {
	return len(r.MIDI) > 0
}

// Cache persists produced artifacts beyond the scratch directory's
// lifetime.
type Cache interface {
	Put(scope, name string, data []byte) error
}

// Engraver runs the external engraving tool, one fresh process per
// conversion.
type Engraver struct {
	locator *Locator
	cache   Cache
	timeout time.Duration
	logger  *log.Logger
	// run is swappable for tests.
	run func(ctx context.Context, tool, outDir, srcPath string) (stderr string, err error)
}

// EngraverOption configures an Engraver.
type EngraverOption func(*Engraver)

// WithCache sets the durable artifact cache.
func WithCache(c Cache) EngraverOption {
	return func(e *Engraver) { e.cache = c }
}

// WithTimeout bounds each engraving run.
func WithTimeout(d time.Duration) EngraverOption {
	return func(e *Engraver) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *log.Logger) EngraverOption {
	return func(e *Engraver) { e.logger = logger }
}

// New creates an Engraver using the given locator for tool discovery.
func New(locator *Locator, opts ...EngraverOption) *Engraver {
	e := &Engraver{
		locator: locator,
		timeout: DefaultTimeout,
		logger:  log.Default(),
	}
	e.run = e.runTool
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Available reports whether the engraving tool can be found at all.
func (e *Engraver) Available(ctx context.Context) bool {
	_, ok := e.locator.Locate(ctx, ToolName)
	return ok
}

// Convert writes the source to an isolated scratch directory, runs the
// engraving tool over it and harvests the produced document and, if
// present, the performance-data file. The scratch directory is removed
// on every exit path. A failed run never leaves partial artifacts.
func (e *Engraver) Convert(ctx context.Context, req Request) (*Result, error) {
	if len(bytes.TrimSpace(req.Source)) == 0 {
		return nil, ErrEmptySource
	}
	base := sanitizeBaseName(req.BaseName)

	tool, ok := e.locator.Locate(ctx, ToolName)
	if !ok {
		return nil, ErrToolNotFound
	}

	scratch, err := os.MkdirTemp("", "lilyweb-*")
	if err != nil {
		return nil, fmt.Errorf("unable to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	srcPath := filepath.Join(scratch, scratchSource)
	if err := os.WriteFile(srcPath, req.Source, 0o600); err != nil {
		return nil, fmt.Errorf("unable to write source file: %w", err)
	}

	start := time.Now()
	stderr, runErr := e.run(ctx, tool, scratch, srcPath)
	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) {
			e.logger.Error("engraving timed out", "timeout", e.timeout)
			return nil, failed(ErrTimeout, "")
		}
		e.logger.Error("engraving failed", "err", runErr)
		return nil, failed(runErr, strings.TrimSpace(stderr))
	}

	// The tool can exit 0 without writing a document under some
	// inputs, so the document's existence is checked explicitly.
	pdf, err := os.ReadFile(filepath.Join(scratch, scratchDocument))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, failed(ErrNoDocument, "")
		}
		return nil, fmt.Errorf("unable to read document: %w", err)
	}

	res := &Result{
		PDF:     pdf,
		PDFName: base + ".pdf",
	}
	if midi, err := os.ReadFile(filepath.Join(scratch, scratchMIDI)); err == nil {
		res.MIDI = midi
		res.MIDIName = base + ".midi"
	}

	e.persist(req.Scope, res)

	e.logger.Info("engraved document",
		"name", res.PDFName,
		"size", humanize.Bytes(uint64(len(res.PDF))),
		"midi", res.HasMIDI(),
		"took", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// persist copies the artifacts into the durable cache. Cache failures
// are logged but do not fail the conversion, the bytes are already in
// memory.
func (e *Engraver) persist(scope string, res *Result) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Put(scope, res.PDFName, res.PDF); err != nil {
		e.logger.Warn("unable to cache document", "name", res.PDFName, "err", err)
	}
	if res.HasMIDI() {
		if err := e.cache.Put(scope, res.MIDIName, res.MIDI); err != nil {
			e.logger.Warn("unable to cache performance data", "name", res.MIDIName, "err", err)
		}
	}
}

func (e *Engraver) runTool(ctx context.Context, tool, outDir, srcPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool, "--output="+outDir, srcPath)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return stderr.String(), context.DeadlineExceeded
	}
	return stderr.String(), err
}

// sanitizeBaseName strips anything path-like from a user-supplied
// output name and falls back to the scratch base name when nothing
// usable remains.
func sanitizeBaseName(name string) string {
	name = strings.TrimSpace(name)
	name = filepath.Base(name)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "score"
	}
	return name
}
