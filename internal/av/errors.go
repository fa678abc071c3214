package av

import "github.com/pkg/errors"

var (
	// ErrAgain is returned by a codec when it needs more input before it can
	// produce output. It is a control signal, not a failure.
	ErrAgain = errors.New("resource temporarily unavailable")

	// ErrEOF is returned by a codec or input once it has been fully drained.
	ErrEOF = errors.New("end of stream")

	ErrNullHandle         = errors.New("null handle")
	ErrInvalidDimensions  = errors.New("invalid frame dimensions")
	ErrUnknownPixelFormat = errors.New("unknown pixel format")
)

// IsDrained reports whether err is one of the two drain signals.
func IsDrained(err error) bool {
	return errors.Is(err, ErrAgain) || errors.Is(err, ErrEOF)
}
