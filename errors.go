package segwire

import "github.com/pkg/errors"

// Decode and build-time error kinds a caller can match with errors.Is.
// These are sentinel values; wrapping with errors.Wrap preserves them
// through errors.Is/errors.Cause.
var (
	ErrInvalidPointerTag     = errors.New("segwire: invalid pointer tag")
	ErrOutOfBounds           = errors.New("segwire: pointer target out of bounds")
	ErrIncompatibleListType  = errors.New("segwire: incompatible list element type")
	ErrTraversalLimitExceeded = errors.New("segwire: traversal limit exceeded")
	ErrNestingLimitExceeded  = errors.New("segwire: nesting limit exceeded")
	ErrUnsupportedVariant    = errors.New("segwire: unsupported pointer variant")
)

// Stream/packed framing errors.
var (
	ErrUnexpectedEOF  = errors.New("segwire: unexpected end of stream")
	ErrIncompleteWord = errors.New("segwire: incomplete word in packed stream")
	ErrMessageTooLarge = errors.New("segwire: message exceeds configured limits")
)
