package cascade

// Package cascade resolves which lane covers an order and turns the lane's
// carrier list into an ordered sequence of dispatch attempts. Eligibility is
// fail-closed: a carrier without a current score never enters a cascade.
