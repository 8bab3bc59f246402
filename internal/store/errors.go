package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrOutcomeRecorded is returned when a decision record's outcome is set
// a second time.
var ErrOutcomeRecorded = errors.New("store: outcome already recorded")

// ErrIllegalTransition is returned when a proposal or suggestion status
// change is attempted on an already-settled record.
var ErrIllegalTransition = errors.New("store: illegal status transition")

// ErrAlreadyResolved is returned when a conflict is resolved twice.
var ErrAlreadyResolved = errors.New("store: conflict already resolved")

// ErrAlreadyExecuted is returned when an arbitration decision is marked
// executed twice.
var ErrAlreadyExecuted = errors.New("store: decision already executed")

// ErrAlreadyRolledBack is returned when an attempt is rolled back twice.
var ErrAlreadyRolledBack = errors.New("store: attempt already rolled back")

// ErrIdempotencyPayloadMismatch is returned when an idempotency key is
// reused with a different request payload hash for the same endpoint.
var ErrIdempotencyPayloadMismatch = errors.New("store: idempotency key reused with different payload")

// ErrIdempotencyInProgress indicates a matching idempotency key is
// currently being processed.
var ErrIdempotencyInProgress = errors.New("store: idempotency key request already in progress")
