package engrave

import "errors"

// Common errors for the engraving pipeline.
var (
	// ErrToolNotFound means no usable engraving executable could be
	// discovered. Conversions cannot be attempted at all.
	ErrToolNotFound = errors.New("engraving tool not found")

	// ErrNoDocument means the tool exited cleanly but produced no
	// document file.
	ErrNoDocument = errors.New("no document produced")

	// ErrEmptySource means there was no notation source to convert.
	ErrEmptySource = errors.New("empty notation source")

	// ErrTimeout means the tool ran past the configured deadline.
	ErrTimeout = errors.New("engraving timed out")
)

// Error reports a failed engraving run together with the diagnostic
// text the external tool wrote to stderr.
type Error struct {
	Err        error  // Underlying sentinel or exec error
	Diagnostic string // Verbatim stderr from the tool, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Diagnostic != "" {
		return e.Diagnostic
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "engraving failed"
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func failed(err error, diagnostic string) *Error {
	return &Error{Err: err, Diagnostic: diagnostic}
}
