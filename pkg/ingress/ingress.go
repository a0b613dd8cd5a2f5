// Package ingress implements the HTTP transport for the dispatch service
// (§6): request parsing and validation, the success/error response
// envelope, and the mapping from core sentinel errors to error codes. The
// core packages (pkg/queue, pkg/batch, pkg/health) know nothing about HTTP;
// this is the only place status codes get decided, matching the Design
// Notes' instruction to keep the dispatcher from leaking transport
// concerns.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.od2.network/hive/pkg/batch"
	"go.od2.network/hive/pkg/dispatch"
	"go.od2.network/hive/pkg/health"
	"go.od2.network/hive/pkg/queue"
	"go.od2.network/hive/pkg/workerclient"
	"go.uber.org/zap"
)

// BasePath is the mount point for every route this package serves, §6.
const BasePath = "/search-intelligence/searcher/v1"

// Server wires the core domain objects to HTTP. All fields are explicit
// constructor arguments, matching the rest of the core's "ambient shared
// state -> explicit dependencies" redesign.
type Server struct {
	Queue   *queue.Queue
	Batch   *batch.Coordinator
	Health  *health.Aggregator
	Workers *workerclient.Client
	Log     *zap.Logger
}

// New builds a Server.
func New(q *queue.Queue, b *batch.Coordinator, h *health.Aggregator, workers *workerclient.Client, log *zap.Logger) *Server {
	return &Server{Queue: q, Batch: b, Health: h, Workers: workers, Log: log}
}

// Handler returns the mux serving every route under BasePath.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(BasePath+"/prompts", s.withEnvelope(s.handlePrompts))
	mux.HandleFunc(BasePath+"/prompts/bulk", s.withEnvelope(s.handlePromptsBulk))
	mux.HandleFunc(BasePath+"/jobs", s.withEnvelope(s.handleJobs))
	mux.HandleFunc(BasePath+"/jobs/", s.withEnvelope(s.handleJobByID))
	mux.HandleFunc(BasePath+"/batches/", s.withEnvelope(s.handleBatchByID))
	mux.HandleFunc(BasePath+"/health", s.withEnvelope(s.handleHealth))
	return mux
}

// requestIDFrom pulls the caller's correlation ID, enforced by withEnvelope
// before any handler body runs.
type ctxKey int

const requestIDKey ctxKey = 0

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// withEnvelope enforces X-Request-Id (§6) and wraps every handler so it
// can reply with apiError instead of writing the envelope itself.
func (s *Server) withEnvelope(next func(w http.ResponseWriter, r *http.Request) (interface{}, *apiError)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			writeError(w, "", http.StatusBadRequest, &apiError{Code: CodeBadRequest, Message: "missing X-Request-Id header"})
			return
		}
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		data, apiErr := next(w, r)
		if apiErr != nil {
			writeError(w, requestID, apiErr.httpStatus(), apiErr)
			return
		}
		writeData(w, requestID, data, time.Since(start))
	}
}

type envelope struct {
	Data interface{} `json:"data,omitempty"`
	Meta meta        `json:"meta"`
}

type meta struct {
	RequestID        string `json:"requestId"`
	ProcessingTimeMS int64  `json:"processingTimeMs,omitempty"`
}

type errorEnvelope struct {
	Error *apiError `json:"error"`
	Meta  meta      `json:"meta"`
}

func writeData(w http.ResponseWriter, requestID string, data interface{}, elapsed time.Duration) {
	status := http.StatusOK
	if s, ok := data.(statusCode); ok {
		status = int(s.code)
		data = s.body
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data, Meta: meta{RequestID: requestID, ProcessingTimeMS: elapsed.Milliseconds()}})
}

func writeError(w http.ResponseWriter, requestID string, status int, apiErr *apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: apiErr, Meta: meta{RequestID: requestID}})
}

// statusCode lets a handler override the default 200 without reaching for
// the ResponseWriter directly (used for 202 Accepted).
type statusCode struct {
	code int
	body interface{}
}

func accepted(body interface{}) statusCode { return statusCode{code: http.StatusAccepted, body: body} }

// ErrorCode enumerates §6's closed error-code set.
type ErrorCode string

const (
	CodeBadRequest      ErrorCode = "BAD_REQUEST"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
	CodeUpstreamError   ErrorCode = "UPSTREAM_ERROR"
	CodeInternalError   ErrorCode = "INTERNAL_ERROR"
)

type apiError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *apiError) httpStatus() int {
	switch e.Code {
	case CodeBadRequest, CodeValidationError:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(msg string) *apiError      { return &apiError{Code: CodeBadRequest, Message: msg} }
func validationError(msg string) *apiError { return &apiError{Code: CodeValidationError, Message: msg} }
func notFound(msg string) *apiError        { return &apiError{Code: CodeNotFound, Message: msg} }
func internalError(err error) *apiError    { return &apiError{Code: CodeInternalError, Message: "internal error", Details: err.Error()} }

// translateErr implements §7's propagation policy at the boundary: core
// sentinel errors become the fixed error-code set; anything unrecognized
// is INTERNAL_ERROR.
func translateErr(err error) *apiError {
	switch {
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, batch.ErrNotFound):
		return notFound(err.Error())
	case errors.Is(err, queue.ErrPromptInvalid), errors.Is(err, dispatch.ErrInvalidArgument), errors.Is(err, batch.ErrEmptyPrompts):
		return validationError(err.Error())
	case errors.Is(err, dispatch.ErrExhausted):
		return &apiError{Code: CodeUpstreamError, Message: err.Error()}
	default:
		return internalError(err)
	}
}

// parseWorkerHint reads ?worker=<int>, §6. Zero means "no hint". Out-of-range
// hints are rejected here, synchronously, so they never reach the core (§7,
// §8: "?worker=0 or ?worker=N+1 rejected with BAD_REQUEST").
func (s *Server) parseWorkerHint(r *http.Request) (int, *apiError) {
	raw := r.URL.Query().Get("worker")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > s.Workers.N() {
		return 0, badRequest("worker must be between 1 and the configured worker count")
	}
	return n, nil
}

// pathSuffix extracts the segment after prefix, e.g. "/jobs/abc" -> "abc".
func pathSuffix(path, prefix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	suffix := strings.TrimPrefix(path, prefix)
	suffix = strings.Trim(suffix, "/")
	if suffix == "" || strings.Contains(suffix, "/") {
		return "", false
	}
	return suffix, true
}
