package queue

// priorityWeight spaces priority levels far enough apart that the
// sequence tiebreak (assumed to stay below this magnitude for the life of
// a process) never crosses from one priority band into another.
const priorityWeight = 1e15

// waitingScore combines priority and insertion sequence into a single
// ZSET score such that ZPOPMIN yields highest-priority-first, FIFO within
// a priority level (§4.D, §5): higher priority must sort lower (ZPOPMIN
// takes the minimum), so priority is negated.
func waitingScore(priority int, seq int64) float64 {
	return -float64(priority)*priorityWeight + float64(seq)
}
