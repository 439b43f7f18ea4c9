// Package session holds per-user conversion state: the source being
// edited, the most recent artifacts, and whether those artifacts are
// still valid for the source on screen.
package session

import "github.com/legoalpha321/lilypondnotation/engrave"

// EventKind identifies a state transition trigger.
type EventKind int

const (
	// EventTextChanged fires when the typed source differs from the
	// recorded content.
	EventTextChanged EventKind = iota
	// EventFileChanged fires when a different file is uploaded.
	EventFileChanged
	// EventSampleLoaded fires when the built-in example replaces the
	// source text.
	EventSampleLoaded
	// EventConvertSucceeded fires when the pipeline produced artifacts.
	EventConvertSucceeded
	// EventConvertFailed fires when the pipeline failed; it must not
	// disturb stored artifacts.
	EventConvertFailed
	// EventAudioRendered fires when an audio preview was produced for
	// the current artifacts.
	EventAudioRendered
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventTextChanged:
		return "text-changed"
	case EventFileChanged:
		return "file-changed"
	case EventSampleLoaded:
		return "sample-loaded"
	case EventConvertSucceeded:
		return "convert-succeeded"
	case EventConvertFailed:
		return "convert-failed"
	case EventAudioRendered:
		return "audio-rendered"
	default:
		return "unknown"
	}
}

// Event carries a transition trigger and its payload.
type Event struct {
	Kind EventKind

	// Text is the new source text for EventTextChanged and
	// EventSampleLoaded.
	Text string
	// FileName is the uploaded file's name for EventFileChanged.
	FileName string
	// Result is the pipeline output for EventConvertSucceeded.
	Result *engrave.Result
	// WAV is the produced audio for EventAudioRendered.
	WAV []byte
	// WAVName is the audio artifact name for EventAudioRendered.
	WAVName string
}

// State is the session's conversion state. Valid is true only while
// the displayed source identity matches the one the stored Result was
// produced from.
type State struct {
	// Text is the notation source in the text tab.
	Text string
	// FileName is the identity of the most recent upload.
	FileName string
	// Valid reports whether Result may be offered for download.
	Valid bool
	// Result holds the most recent successful conversion.
	Result *engrave.Result
}

// Apply computes the next state for an event. It is a pure function:
// the input state is never mutated, so invalidation rules can be
// tested without any UI or storage harness.
func Apply(s State, ev Event) State {
	switch ev.Kind {
	case EventTextChanged:
		if ev.Text == s.Text {
			return s
		}
		s.Text = ev.Text
		s.Valid = false
		return s

	case EventFileChanged:
		if ev.FileName == s.FileName {
			return s
		}
		s.FileName = ev.FileName
		s.Valid = false
		return s

	case EventSampleLoaded:
		s.Text = ev.Text
		s.Valid = false
		return s

	case EventConvertSucceeded:
		s.Result = ev.Result
		s.Valid = true
		return s

	case EventConvertFailed:
		// A failed run leaves prior artifacts and validity alone.
		return s

	case EventAudioRendered:
		if !s.Valid || s.Result == nil || len(ev.WAV) == 0 {
			return s
		}
		res := *s.Result
		res.WAV = ev.WAV
		res.WAVName = ev.WAVName
		s.Result = &res
		return s

	default:
		return s
	}
}
