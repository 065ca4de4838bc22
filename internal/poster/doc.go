package poster

// Package poster publishes at most one due slot per invocation.
//
// Correctness under concurrent invocations comes entirely from the
// store's atomic claim: whichever caller flips a slot from pending to
// posting owns it. Losing a claim is normal and handled by moving on
// to the next due slot.
