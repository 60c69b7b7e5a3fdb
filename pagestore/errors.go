package pagestore

import "errors"

// Sentinel errors a caller can match with errors.Is; wrapped with context
// at every propagation boundary the way the teacher's pager.go does
// ("pager: read page %d: %w").
var (
	// ErrInvalidLink is returned when a Link addresses a deleted slot, an
	// out-of-range page, or an offset outside the page's written slot area.
	// An offset inside that area is not checked against slot boundaries.
	ErrInvalidLink = errors.New("pagestore: invalid link")
	// ErrNotEnoughSpace is returned when a row cannot be placed anywhere,
	// including a freshly allocated page (malformed/oversized input).
	ErrNotEnoughSpace = errors.New("pagestore: not enough space")
)
