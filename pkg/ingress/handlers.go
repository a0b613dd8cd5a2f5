package ingress

import (
	"encoding/json"
	"net/http"
	"time"

	"go.od2.network/hive/pkg/batch"
	"go.od2.network/hive/pkg/dispatch"
	"go.od2.network/hive/pkg/queue"
)

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type promptResponse struct {
	JobID string `json:"jobId"`
}

// handlePrompts implements `POST /prompts`, §6.
func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) (interface{}, *apiError) {
	if r.Method != http.MethodPost {
		return nil, badRequest("method not allowed")
	}
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, badRequest("invalid request body")
	}
	if req.Prompt == "" || len(req.Prompt) > dispatch.MaxPromptLen {
		return nil, validationError("prompt must be 1..10000 characters")
	}
	worker, apiErr := s.parseWorkerHint(r)
	if apiErr != nil {
		return nil, apiErr
	}

	id, err := s.Queue.Enqueue(r.Context(), queue.EnqueueRequest{
		Prompt:         req.Prompt,
		WorkerHint:     worker,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		return nil, translateErr(err)
	}
	return accepted(promptResponse{JobID: id}), nil
}

type promptsBulkRequest struct {
	Prompts []struct {
		Prompt string `json:"prompt"`
	} `json:"prompts"`
}

type promptsBulkResponse struct {
	BatchID string   `json:"batchId"`
	JobIDs  []string `json:"jobIds"`
	Count   int      `json:"count"`
}

// handlePromptsBulk implements `POST /prompts/bulk`, §6.
func (s *Server) handlePromptsBulk(w http.ResponseWriter, r *http.Request) (interface{}, *apiError) {
	if r.Method != http.MethodPost {
		return nil, badRequest("method not allowed")
	}
	var req promptsBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, badRequest("invalid request body")
	}
	if len(req.Prompts) == 0 || len(req.Prompts) > 100 {
		return nil, validationError("prompts must contain 1..100 entries")
	}
	prompts := make([]string, len(req.Prompts))
	for i, p := range req.Prompts {
		if p.Prompt == "" || len(p.Prompt) > dispatch.MaxPromptLen {
			return nil, validationError("every prompt must be 1..10000 characters")
		}
		prompts[i] = p.Prompt
	}
	worker, apiErr := s.parseWorkerHint(r)
	if apiErr != nil {
		return nil, apiErr
	}

	res, err := s.Batch.EnqueueBulk(r.Context(), batch.EnqueueBulkRequest{
		Prompts:        prompts,
		WorkerHint:     worker,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		return nil, translateErr(err)
	}
	return accepted(promptsBulkResponse{BatchID: res.BatchID, JobIDs: res.JobIDs, Count: len(res.JobIDs)}), nil
}

type jobResponse struct {
	JobID       string          `json:"jobId"`
	Status      queue.Status    `json:"status"`
	Progress    *queue.Progress `json:"progress,omitempty"`
	Result      *queue.Result   `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

func toJobResponse(job *queue.Job) jobResponse {
	return jobResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		Result:      job.Result,
		Error:       job.FailureReason,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.FinishedAt,
	}
}

// handleJobByID implements `GET /jobs/{id}`, §6.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) (interface{}, *apiError) {
	if r.Method != http.MethodGet {
		return nil, badRequest("method not allowed")
	}
	id, ok := pathSuffix(r.URL.Path, BasePath+"/jobs/")
	if !ok {
		return nil, notFound("job not found")
	}
	job, err := s.Queue.Get(r.Context(), id)
	if err != nil {
		return nil, translateErr(err)
	}
	return toJobResponse(job), nil
}

type pagination struct {
	TotalItems    int    `json:"totalItems"`
	ItemsPerPage  int    `json:"itemsPerPage"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

type jobsListResponse struct {
	Items      []jobResponse `json:"items"`
	Pagination pagination    `json:"pagination"`
}

// handleJobs implements `GET /jobs`, §6.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) (interface{}, *apiError) {
	if r.Method != http.MethodGet {
		return nil, badRequest("method not allowed")
	}
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil || n > 100 {
			return nil, badRequest("limit must be a positive integer <= 100")
		}
		limit = n
	}
	result, err := s.Queue.List(r.Context(), queue.ListRequest{
		Status:    queue.Status(q.Get("status")),
		Limit:     limit,
		PageToken: q.Get("pageToken"),
	})
	if err != nil {
		return nil, translateErr(err)
	}
	items := make([]jobResponse, len(result.Items))
	for i, job := range result.Items {
		items[i] = toJobResponse(job)
	}
	return jobsListResponse{
		Items: items,
		Pagination: pagination{
			TotalItems:    len(items),
			ItemsPerPage:  len(items),
			NextPageToken: result.NextPageToken,
		},
	}, nil
}

type batchJobSummary struct {
	JobID  string       `json:"jobId"`
	Status queue.Status `json:"status"`
}

type batchResponse struct {
	BatchID    string            `json:"batchId"`
	Total      int               `json:"total"`
	Completed  int               `json:"completed"`
	Processing int               `json:"processing"`
	Pending    int               `json:"pending"`
	Failed     int               `json:"failed"`
	Jobs       []batchJobSummary `json:"jobs"`
}

// handleBatchByID implements `GET /batches/{id}`, §6.
func (s *Server) handleBatchByID(w http.ResponseWriter, r *http.Request) (interface{}, *apiError) {
	if r.Method != http.MethodGet {
		return nil, badRequest("method not allowed")
	}
	id, ok := pathSuffix(r.URL.Path, BasePath+"/batches/")
	if !ok {
		return nil, notFound("batch not found")
	}
	status, err := s.Batch.GetStatus(r.Context(), id)
	if err != nil {
		return nil, translateErr(err)
	}
	jobs := make([]batchJobSummary, len(status.Jobs))
	for i, job := range status.Jobs {
		jobs[i] = batchJobSummary{JobID: job.ID, Status: job.Status}
	}
	return batchResponse{
		BatchID:    status.BatchID,
		Total:      status.Counts.Total,
		Completed:  status.Counts.Completed,
		Processing: status.Counts.Processing,
		Pending:    status.Counts.Pending,
		Failed:     status.Counts.Failed,
		Jobs:       jobs,
	}, nil
}

// handleHealth implements `GET /health`, §6: "never 5xx unless the
// process is dead", so this handler never produces an apiError.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) (interface{}, *apiError) {
	return s.Health.Aggregate(r.Context()), nil
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errNotANumber
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return 0, errNotANumber
	}
	return n, nil
}

var errNotANumber = &parseError{"not a positive integer"}

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }
