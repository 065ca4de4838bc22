package store

// Package store persists the content pool, scheduled slots and posted
// records, and owns the atomic claim that makes concurrent posting safe.
//
// Two backends implement the same interfaces:
//   - sqlite: claim via conditional UPDATE (affected-row count)
//   - postgres: claim via transactional SELECT ... FOR UPDATE
//
// All status transitions on slots go through TryClaim / RecordPosted /
// RevertToPending; nothing else writes slot status.
