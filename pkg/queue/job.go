package queue

import (
	"encoding/json"
	"time"
)

// Status is a job's lifecycle state, §3 "State".
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Result is the success payload of a completed job, §3 "Result".
type Result struct {
	JSON       string `json:"json"`
	RawText    string `json:"raw_text,omitempty"`
	UsedWorker int    `json:"usedWorker"`
}

// Progress is the opaque snapshot the dispatcher publishes, §3 "Progress".
type Progress struct {
	Stage    string `json:"stage"`
	WorkerID int    `json:"workerId,omitempty"`
}

// Job is the durable record described in §3; its JSON form is what is
// stored under job:<id>. API responses are built from it field by field.
type Job struct {
	ID          string `json:"id"`
	Prompt      string `json:"prompt"`
	WorkerHint  int    `json:"workerHint,omitempty"`
	BatchID     string `json:"batchId,omitempty"`
	BatchIndex  int    `json:"batchIndex,omitempty"`
	BatchTotal  int    `json:"batchTotal,omitempty"`
	Priority    int    `json:"priority"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"maxAttempts"`

	Status Status `json:"status"`

	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	Result        *Result   `json:"result,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	Progress      *Progress `json:"progress,omitempty"`

	// StalledCount tracks §4.D re-reservations due to stall detection; it
	// is stored with the record but never exposed over the API.
	StalledCount int `json:"stalledCount,omitempty"`
}

// marshalJob / unmarshalJob isolate the wire format used for the Redis
// string record so callers never hand-roll json.Marshal/Unmarshal.
func marshalJob(j *Job) (string, error) {
	buf, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func unmarshalJob(raw string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, err
	}
	return &j, nil
}
