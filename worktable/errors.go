package worktable

import "errors"

// Sentinel error kinds a caller can test for with errors.Is — the taxonomy
// every mutation path wraps its dynamic detail around (e.g.
// fmt.Errorf("%w: pk %v", ErrNotFound, pk)).
var (
	ErrAlreadyExists = errors.New("worktable: already exists")
	ErrNotFound      = errors.New("worktable: not found")
	ErrSerialize     = errors.New("worktable: serialize")
	ErrDeserialize   = errors.New("worktable: deserialize")
	ErrAlreadyLocked = errors.New("worktable: already locked")

	// ErrCorruption is terminal: once returned, the table refuses further
	// writes for the rest of its life; only a newly built Table accepts
	// writes again.
	ErrCorruption = errors.New("worktable: corruption, rollback failed")
)
