package engine

import (
	"time"

	"evs/internal/domain"
)

// TargetStatus derives the status an election should hold at now, given its
// window and its current status. It is a pure function: the reconciler, the
// manual overrides, and the tests all go through it.
//
// Rules, in order of precedence:
//   - completed is terminal and never changes.
//   - once now reaches endAt, every status falls to completed, draft
//     included. An unpublished election whose window has passed can never
//     open, so it closes like any other.
//   - an inactive election inside its window is promoted to active.
//   - everything else (draft before endAt, active inside its window,
//     inactive before startAt) is left as is.
func TargetStatus(now, startAt, endAt time.Time, current string) string {
	switch {
	case current == domain.ElectionCompleted:
		return domain.ElectionCompleted
	case !now.Before(endAt):
		return domain.ElectionCompleted
	case current == domain.ElectionInactive && !now.Before(startAt) && now.Before(endAt):
		return domain.ElectionActive
	default:
		return current
	}
}
