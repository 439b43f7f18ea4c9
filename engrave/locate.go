// Package engrave runs an external notation engraver over scratch files
// and collects the documents it produces.
package engrave

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/charmbracelet/log"
	homedir "github.com/mitchellh/go-homedir"
)

// Platform describes the host environment used to build candidate
// install paths. Keeping it a plain value makes the candidate lists
// testable without touching the real filesystem.
type Platform struct {
	GOOS            string
	Home            string
	ProgramFiles    string
	ProgramFilesX86 string
}

// HostPlatform returns the Platform for the running process.
func HostPlatform() Platform {
	home, err := homedir.Dir()
	if err != nil {
		home = ""
	}
	pf := os.Getenv("PROGRAMFILES")
	if pf == "" {
		pf = `C:\Program Files`
	}
	pfx86 := os.Getenv("PROGRAMFILES(X86)")
	if pfx86 == "" {
		pfx86 = `C:\Program Files (x86)`
	}
	return Platform{
		GOOS:            runtime.GOOS,
		Home:            home,
		ProgramFiles:    pf,
		ProgramFilesX86: pfx86,
	}
}

// Candidates returns the conventional install locations for a tool on
// this platform, in probe order.
func (p Platform) Candidates(tool string) []string {
	switch p.GOOS {
	case "windows":
		var paths []string
		for _, base := range []string{p.ProgramFiles, p.ProgramFilesX86} {
			paths = append(paths,
				filepath.Join(base, "LilyPond", "usr", "bin", tool+".exe"),
				filepath.Join(base, "LilyPond", "bin", tool+".exe"),
				filepath.Join(base, tool, "bin", tool+".exe"),
			)
		}
		return paths
	case "darwin":
		paths := []string{
			"/Applications/LilyPond.app/Contents/Resources/bin/" + tool,
			"/opt/homebrew/bin/" + tool,
			"/usr/local/bin/" + tool,
		}
		if p.Home != "" {
			paths = append(paths, filepath.Join(p.Home, "Applications", "LilyPond.app", "Contents", "Resources", "bin", tool))
		}
		return paths
	default:
		paths := []string{
			"/usr/bin/" + tool,
			"/usr/local/bin/" + tool,
		}
		if p.Home != "" {
			paths = append(paths,
				filepath.Join(p.Home, ".local", "bin", tool),
				filepath.Join(p.Home, "bin", tool),
			)
		}
		return paths
	}
}

// Locator discovers external executables. Discovery runs once per tool
// and the outcome, present or absent, is cached for the Locator's
// lifetime.
type Locator struct {
	platform  Platform
	overrides map[string]string
	probeRun  func(ctx context.Context, name string) error
	probeFile func(path string) bool
	logger    *log.Logger

	mu    sync.Mutex
	cache map[string]location
}

type location struct {
	path string
	ok   bool
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithPlatform overrides the host platform used for candidate paths.
func WithPlatform(p Platform) LocatorOption {
	return func(l *Locator) { l.platform = p }
}

// WithOverride pins a tool to a configured path, skipping discovery.
// Empty paths are ignored.
func WithOverride(tool, path string) LocatorOption {
	return func(l *Locator) {
		if path != "" {
			l.overrides[tool] = path
		}
	}
}

// WithRunProbe replaces the subprocess probe, for tests.
func WithRunProbe(probe func(ctx context.Context, name string) error) LocatorOption {
	return func(l *Locator) { l.probeRun = probe }
}

// WithFileProbe replaces the filesystem probe, for tests.
func WithFileProbe(probe func(path string) bool) LocatorOption {
	return func(l *Locator) { l.probeFile = probe }
}

// WithLocatorLogger sets the logger used for discovery messages.
func WithLocatorLogger(logger *log.Logger) LocatorOption {
	return func(l *Locator) { l.logger = logger }
}

// NewLocator creates a Locator for the host platform.
func NewLocator(opts ...LocatorOption) *Locator {
	l := &Locator{
		platform:  HostPlatform(),
		overrides: make(map[string]string),
		probeRun:  runVersionProbe,
		probeFile: isExecutableFile,
		logger:    log.Default(),
		cache:     make(map[string]location),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate resolves a tool name to a usable invocation path. The second
// return is false when the tool cannot be found anywhere; absence is a
// normal outcome, not an error.
func (l *Locator) Locate(ctx context.Context, tool string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if loc, ok := l.cache[tool]; ok {
		return loc.path, loc.ok
	}

	loc := l.discover(ctx, tool)
	l.cache[tool] = loc
	if loc.ok {
		l.logger.Info("located tool", "tool", tool, "path", loc.path)
	} else {
		l.logger.Warn("tool not found", "tool", tool)
	}
	return loc.path, loc.ok
}

func (l *Locator) discover(ctx context.Context, tool string) location {
	if path, ok := l.overrides[tool]; ok {
		if l.probeFile(path) {
			return location{path: path, ok: true}
		}
		l.logger.Warn("configured tool path not usable", "tool", tool, "path", path)
	}

	// The bare name through the shell search path first.
	if err := l.probeRun(ctx, tool); err == nil {
		return location{path: tool, ok: true}
	}

	for _, candidate := range l.platform.Candidates(tool) {
		if l.probeFile(candidate) {
			return location{path: candidate, ok: true}
		}
	}
	return location{}
}

// runVersionProbe runs the tool with a harmless diagnostic flag. A zero
// exit status means the bare name is usable as-is.
func runVersionProbe(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, name, "--version")
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd.Run()
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}
