package chain

// Package chain owns the dispatch chain state machine: attempt sequencing,
// acceptance, refusal, timeouts, cancellation and the hand-off to the
// external broker. Every transition is a conditional read-modify-write on
// the chain store; notifications and other side effects always follow the
// committed write.
