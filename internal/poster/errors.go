package poster

import (
	"errors"
	"fmt"
)

// ErrEnforcementDisabled is returned when the slot queue is not the
// enforced source of truth. The executor refuses to run instead of
// silently falling back to an ad-hoc "next approved item" pick.
var ErrEnforcementDisabled = errors.New("slot queue enforcement disabled")

// PublishError reports a failed publish for a claimed slot. The slot
// has already been reverted to pending when this error is returned.
type PublishError struct {
	SlotID    int64
	ContentID int64
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish slot %d (content %d): %v", e.SlotID, e.ContentID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
