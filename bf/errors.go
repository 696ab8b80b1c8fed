package bf

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	// ErrUnbalancedBrackets is matched by every *UnbalancedBracketsError.
	ErrUnbalancedBrackets = errors.New("unbalanced brackets")
	// ErrPointerOutOfBounds is matched by every *PointerOutOfBoundsError.
	ErrPointerOutOfBounds = errors.New("pointer out of bounds")
)

// UnbalancedBracketsError reports a loop bracket without a partner. It is
// produced before anything runs.
type UnbalancedBracketsError struct {
	// Position is the index of the offending bracket in the source
	Position int
	Bracket  Command
}

func (e *UnbalancedBracketsError) Error() string {
	if e.Bracket == LoopStart {
		return fmt.Sprintf("unbalanced brackets: '[' at %d is never closed", e.Position)
	}
	return fmt.Sprintf("unbalanced brackets: ']' at %d has no matching '['", e.Position)
}

func (e *UnbalancedBracketsError) Unwrap() []error {
	return []error{ErrUnbalancedBrackets, errdefs.ErrInvalidArgument}
}

// PointerOutOfBoundsError reports a '<' or '>' that would move the tape
// pointer off the tape. The pointer is left where it was.
type PointerOutOfBoundsError struct {
	PC       int
	Pointer  int
	TapeSize int
	Command  Command
}

func (e *PointerOutOfBoundsError) Error() string {
	return fmt.Sprintf("pointer out of bounds: '%s' at pc %d moves pointer %d off a tape of %d cells", e.Command, e.PC, e.Pointer, e.TapeSize)
}

func (e *PointerOutOfBoundsError) Unwrap() []error {
	return []error{ErrPointerOutOfBounds, errdefs.ErrOutOfRange}
}
