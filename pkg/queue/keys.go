package queue

import "fmt"

// Keys are the Redis key names used by the queue, §6 "Persistence keys".
//
// `waiting` is implemented as a sorted set rather than a literal Redis
// LIST: §1 describes the substrate only as "ordered lists, sorted sets,
// ... any equivalent substrate suffices", and a ZSET is the natural way to
// get "higher priority first, FIFO within a priority level" (§4.D, §5)
// from one key with O(log n) reservation, instead of maintaining one list
// per priority level. See DESIGN.md for the Open Question resolution.
type Keys struct {
	Waiting         string // ZSET: job IDs waiting to be reserved, scored by priority+sequence
	WaitingSeq      string // STRING: monotonic counter backing the FIFO tiebreak
	Active          string // LIST: job IDs currently reserved by a runner
	Stalled         string // ZSET: job IDs currently reserved, scored by last-heartbeat unix time
	RetryReady      string // ZSET: job IDs scheduled for a delayed retry, scored by ready-at unix time
	JobsIndex       string // ZSET: every job ID ever created, scored by createdAt; backs GET /jobs paging
	JobPrefix       string // STRING prefix: job:<id> holds the JSON job record
	BatchJobsPrefix string // SET prefix: batch:<batchId>:jobs
}

// DefaultKeys returns the key layout named in §6.
func DefaultKeys() Keys {
	return Keys{
		Waiting:         "waiting",
		WaitingSeq:      "waiting_seq",
		Active:          "active",
		Stalled:         "stalled",
		RetryReady:      "retry_ready",
		JobsIndex:       "jobs_index",
		JobPrefix:       "job:",
		BatchJobsPrefix: "batch:",
	}
}

// JobKey returns the Redis key for a job record.
func (k Keys) JobKey(id string) string {
	return k.JobPrefix + id
}

// BatchJobsKey returns the Redis key for a batch's job-ID set.
func (k Keys) BatchJobsKey(batchID string) string {
	return fmt.Sprintf("%s%s:jobs", k.BatchJobsPrefix, batchID)
}
