package chain

import "errors"

// ErrInvalidState is returned when an operation is attempted from a chain
// state that forbids it, e.g. starting an already-started chain.
var ErrInvalidState = errors.New("chain: invalid state")

// ErrStaleResponse is returned when a carrier responds to an attempt that is
// no longer current.
var ErrStaleResponse = errors.New("chain: stale response")

// ErrAlreadyAssigned is returned when an acceptance conflicts with an
// earlier terminal assignment.
var ErrAlreadyAssigned = errors.New("chain: carrier already assigned")

// ErrNotFound is returned when no chain exists for the given reference.
var ErrNotFound = errors.New("chain: not found")

// ErrChainExists is returned when an order already owns a chain.
var ErrChainExists = errors.New("chain: chain exists for order")
