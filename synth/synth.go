// Package synth renders performance data to sampled audio through an
// external synthesizer. Audio is an optional enhancement: every failure
// mode here degrades to "unavailable" instead of failing the pipeline.
package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/legoalpha321/lilypondnotation/engrave"
)

// ToolName is the logical name of the synthesizer executable.
const ToolName = "fluidsynth"

// DefaultTimeout bounds a single synthesis run.
const DefaultTimeout = 30 * time.Second

// ErrUnavailable means audio preview cannot be produced right now:
// missing synthesizer, missing timbre bank, or a failed run. Callers
// treat it as a soft condition, never a pipeline failure.
var ErrUnavailable = errors.New("audio preview unavailable")

// soundfontCandidates returns conventional timbre-bank locations for a
// platform, in probe order.
func soundfontCandidates(p engrave.Platform) []string {
	switch p.GOOS {
	case "windows":
		return []string{
			filepath.Join(p.ProgramFiles, "fluidsynth", "sf2", "default.sf2"),
			`C:\soundfonts\default.sf2`,
		}
	case "darwin":
		return []string{
			"/opt/homebrew/share/soundfonts/default.sf2",
			"/usr/local/share/fluidsynth/default.sf2",
			"/usr/local/share/soundfonts/default.sf2",
		}
	default:
		return []string{
			"/usr/share/sounds/sf2/FluidR3_GM.sf2",
			"/usr/share/sounds/sf2/default-GM.sf2",
			"/usr/share/soundfonts/FluidR3_GM.sf2",
			"/usr/share/soundfonts/default.sf2",
		}
	}
}

// Renderer invokes the synthesizer, one fresh process per request.
type Renderer struct {
	locator   *engrave.Locator
	platform  engrave.Platform
	soundfont string
	timeout   time.Duration
	logger    *log.Logger
	probeFile func(path string) bool
	// run is swappable for tests.
	run func(ctx context.Context, tool, soundfont, midiPath, wavPath string) error
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithSoundfont pins the timbre bank to a configured file.
func WithSoundfont(path string) Option {
	return func(r *Renderer) { r.soundfont = path }
}

// WithTimeout bounds each synthesis run.
func WithTimeout(d time.Duration) Option {
	return func(r *Renderer) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the renderer logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Renderer) { r.logger = logger }
}

// WithPlatform overrides the host platform used for soundfont
// candidates, for tests.
func WithPlatform(p engrave.Platform) Option {
	return func(r *Renderer) { r.platform = p }
}

// WithFileProbe replaces the soundfont filesystem probe, for tests.
func WithFileProbe(probe func(string) bool) Option {
	return func(r *Renderer) { r.probeFile = probe }
}

// New creates a Renderer that discovers the synthesizer through the
// given locator.
func New(locator *engrave.Locator, opts ...Option) *Renderer {
	r := &Renderer{
		locator:  locator,
		platform: engrave.HostPlatform(),
		timeout:  DefaultTimeout,
		logger:   log.Default(),
		probeFile: func(path string) bool {
			info, err := os.Stat(path)
			return err == nil && !info.IsDir()
		},
	}
	r.run = r.runTool
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Available reports whether both the synthesizer and a timbre bank can
// be found.
func (r *Renderer) Available(ctx context.Context) bool {
	if _, ok := r.locator.Locate(ctx, ToolName); !ok {
		return false
	}
	_, ok := r.findSoundfont()
	return ok
}

func (r *Renderer) findSoundfont() (string, bool) {
	if r.soundfont != "" {
		if r.probeFile(r.soundfont) {
			return r.soundfont, true
		}
		r.logger.Warn("configured soundfont not usable", "path", r.soundfont)
	}
	for _, candidate := range soundfontCandidates(r.platform) {
		if r.probeFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// Render converts performance-data bytes to WAV audio. Missing
// dependencies and failed runs all come back as ErrUnavailable.
func (r *Renderer) Render(ctx context.Context, midi []byte) ([]byte, error) {
	if len(midi) == 0 {
		return nil, ErrUnavailable
	}

	tool, ok := r.locator.Locate(ctx, ToolName)
	if !ok {
		r.logger.Warn("synthesizer not found, skipping audio preview")
		return nil, ErrUnavailable
	}
	soundfont, ok := r.findSoundfont()
	if !ok {
		r.logger.Warn("no timbre bank found, skipping audio preview")
		return nil, ErrUnavailable
	}

	scratch, err := os.MkdirTemp("", "lilyweb-audio-*")
	if err != nil {
		r.logger.Warn("unable to create audio scratch directory", "err", err)
		return nil, ErrUnavailable
	}
	defer os.RemoveAll(scratch)

	midiPath := filepath.Join(scratch, "score.midi")
	wavPath := filepath.Join(scratch, "score.wav")
	if err := os.WriteFile(midiPath, midi, 0o600); err != nil {
		r.logger.Warn("unable to write performance data", "err", err)
		return nil, ErrUnavailable
	}

	start := time.Now()
	if err := r.run(ctx, tool, soundfont, midiPath, wavPath); err != nil {
		r.logger.Warn("synthesizer run failed", "err", err)
		return nil, ErrUnavailable
	}

	wav, err := os.ReadFile(wavPath)
	if err != nil || len(wav) == 0 {
		r.logger.Warn("synthesizer produced no audio", "err", err)
		return nil, ErrUnavailable
	}

	r.logger.Info("rendered audio preview",
		"bytes", len(wav),
		"took", time.Since(start).Round(time.Millisecond))
	return wav, nil
}

func (r *Renderer) runTool(ctx context.Context, tool, soundfont, midiPath, wavPath string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool, "-ni", soundfont, midiPath, "-F", wavPath)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("synthesizer timed out after %s", r.timeout)
		}
		return fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
