package engine

import (
	"errors"
	"fmt"

	"valsort/internal/board"
)

// ErrSessionCompleted rejects mutations on a finished session.
var ErrSessionCompleted = errors.New("session already completed")

// ValidationError rejects a round transition that the current board
// state does not allow. Nothing is mutated and no command is appended;
// the Progress flags say which condition blocked it.
type ValidationError struct {
	Reason   string
	Progress board.Progress
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// InvariantError signals a state that should be unreachable, such as
// advancing with fewer surviving cards than the target despite the
// per-round card check. It aborts the transition instead of clamping.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Msg)
}
