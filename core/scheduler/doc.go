package scheduler

// Package scheduler drives time-based chain transitions: the mid-window
// reminder and the attempt timeout. It scans whatever is overdue rather
// than exactly-due items, so late or duplicated ticks converge on the same
// chain state.
