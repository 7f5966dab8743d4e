package storage

import "errors"

// ErrInsufficientFunds is returned when an account balance is lower than a debit.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrDuplicateEvent is returned when a transaction with the same external reference
// (or id) already exists. Callers treat it as "already processed", not as a failure.
var ErrDuplicateEvent = errors.New("duplicate event")

// ErrInvalidState is returned when a conditional status transition does not match
// the transaction's current status.
var ErrInvalidState = errors.New("transaction not in the expected state")

// ErrNotFound is returned when an account or transaction does not exist.
var ErrNotFound = errors.New("not found")

// ErrAccountExists is returned when creating an account whose id is taken.
var ErrAccountExists = errors.New("account already exists")
