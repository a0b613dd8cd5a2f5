package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.od2.network/hive/pkg/batch"
	"go.od2.network/hive/pkg/dispatch"
	"go.od2.network/hive/pkg/health"
	"go.od2.network/hive/pkg/idempotency"
	"go.od2.network/hive/pkg/queue"
	"go.od2.network/hive/pkg/store"
	"go.od2.network/hive/pkg/workerclient"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Server {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := store.New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	workers := workerclient.New(http.DefaultClient, []string{srv.URL})
	log := zaptest.NewLogger(t)
	d := dispatch.New(workers, log, dispatch.Options{
		HealthTimeout: time.Second,
		SearchTimeout: time.Second,
		RetryDelay:    10 * time.Millisecond,
		MaxAttempts:   2,
	})
	idem := idempotency.New(s)
	q := queue.New(s, d, idem, log, queue.DefaultOptions())
	b := batch.New(q, s, idem, log, time.Minute)
	h := health.New(s, workers, log, time.Second, 0, time.Minute)
	return New(q, b, h, workers, log)
}

func healthyHandler(rw http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		rw.Write([]byte(`{"ok":true,"busy":false,"ready":true}`))
	case "/search":
		rw.Write([]byte(`{"ok":true,"result":{"json":"{}"}}`))
	}
}

func doRequest(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if _, ok := headers["X-Request-Id"]; !ok {
		req.Header.Set("X-Request-Id", "req-1")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestMissingRequestIDIsBadRequest(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	req := httptest.NewRequest(http.MethodGet, BasePath+"/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, CodeBadRequest, body.Error.Code)
}

func TestPostPromptsAccepted(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	rec := doRequest(t, s, http.MethodPost, BasePath+"/prompts", `{"prompt":"hello"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "req-1", body.Meta.RequestID)

	data, ok := body.Data.(map[string]interface{})
	require.True(t, ok)
	require.NotEmpty(t, data["jobId"])
}

func TestPostPromptsRejectsEmptyPrompt(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	rec := doRequest(t, s, http.MethodPost, BasePath+"/prompts", `{"prompt":""}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, CodeValidationError, body.Error.Code)
}

func TestPostPromptsRejectsOversizedPrompt(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	huge := strings.Repeat("a", dispatch.MaxPromptLen+1)
	rec := doRequest(t, s, http.MethodPost, BasePath+"/prompts", fmt.Sprintf(`{"prompt":%q}`, huge), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, CodeValidationError, body.Error.Code)
}

func TestPostPromptsRejectsOutOfRangeWorkerHint(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	rec := doRequest(t, s, http.MethodPost, BasePath+"/prompts?worker=0", `{"prompt":"hello"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, CodeBadRequest, body.Error.Code)
}

func TestPostPromptsRejectsWorkerHintAboveWorkerCount(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	rec := doRequest(t, s, http.MethodPost, BasePath+"/prompts?worker=2", `{"prompt":"hello"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, CodeBadRequest, body.Error.Code)
}

func TestPostPromptsHonorsIdempotencyKey(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	headers := map[string]string{"Idempotency-Key": "k1"}

	rec1 := doRequest(t, s, http.MethodPost, BasePath+"/prompts", `{"prompt":"hello"}`, headers)
	rec2 := doRequest(t, s, http.MethodPost, BasePath+"/prompts", `{"prompt":"hello again"}`, headers)

	var body1, body2 envelope
	require.NoError(t, json.Unmarshal(rec1.Body.Bytes(), &body1))
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &body2))

	data1 := body1.Data.(map[string]interface{})
	data2 := body2.Data.(map[string]interface{})
	require.Equal(t, data1["jobId"], data2["jobId"])
}

func TestPostPromptsBulkAccepted(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	rec := doRequest(t, s, http.MethodPost, BasePath+"/prompts/bulk", `{"prompts":[{"prompt":"a"},{"prompt":"b"}]}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body.Data.(map[string]interface{})
	require.Equal(t, float64(2), data["count"])
}

func TestPostPromptsBulkRejectsEmptyList(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	rec := doRequest(t, s, http.MethodPost, BasePath+"/prompts/bulk", `{"prompts":[]}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, CodeValidationError, body.Error.Code)
}

func TestPostPromptsBulkRejectsOversizedList(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	var sb strings.Builder
	sb.WriteString(`{"prompts":[`)
	for i := 0; i < 101; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"prompt":"p"}`)
	}
	sb.WriteString(`]}`)

	rec := doRequest(t, s, http.MethodPost, BasePath+"/prompts/bulk", sb.String(), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobByIDReturnsJob(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	postRec := doRequest(t, s, http.MethodPost, BasePath+"/prompts", `{"prompt":"hello"}`, nil)
	var postBody envelope
	require.NoError(t, json.Unmarshal(postRec.Body.Bytes(), &postBody))
	jobID := postBody.Data.(map[string]interface{})["jobId"].(string)

	rec := doRequest(t, s, http.MethodGet, BasePath+"/jobs/"+jobID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body.Data.(map[string]interface{})
	require.Equal(t, jobID, data["jobId"])
	require.Equal(t, string(queue.StatusPending), data["status"])
}

func TestGetJobByIDUnknownReturnsNotFound(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	rec := doRequest(t, s, http.MethodGet, BasePath+"/jobs/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, CodeNotFound, body.Error.Code)
}

func TestGetJobsListsEnqueuedJobs(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	doRequest(t, s, http.MethodPost, BasePath+"/prompts", `{"prompt":"a"}`, nil)
	doRequest(t, s, http.MethodPost, BasePath+"/prompts", `{"prompt":"b"}`, nil)

	rec := doRequest(t, s, http.MethodGet, BasePath+"/jobs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body.Data.(map[string]interface{})
	items := data["items"].([]interface{})
	require.Len(t, items, 2)
}

func TestGetJobsRejectsOversizedLimit(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	rec := doRequest(t, s, http.MethodGet, BasePath+"/jobs?limit=101", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBatchByIDAggregates(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	postRec := doRequest(t, s, http.MethodPost, BasePath+"/prompts/bulk", `{"prompts":[{"prompt":"a"},{"prompt":"b"}]}`, nil)
	var postBody envelope
	require.NoError(t, json.Unmarshal(postRec.Body.Bytes(), &postBody))
	batchID := postBody.Data.(map[string]interface{})["batchId"].(string)

	rec := doRequest(t, s, http.MethodGet, BasePath+"/batches/"+batchID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body.Data.(map[string]interface{})
	require.Equal(t, batchID, data["batchId"])
	require.Equal(t, float64(2), data["total"])
}

func TestGetBatchByIDUnknownReturnsNotFound(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	rec := doRequest(t, s, http.MethodGet, BasePath+"/batches/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetHealthNeverReturnsServerError(t *testing.T) {
	s := newTestServer(t, healthyHandler)
	rec := doRequest(t, s, http.MethodGet, BasePath+"/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body.Data.(map[string]interface{})
	require.NotNil(t, data["app"])
	require.NotNil(t, data["redis"])
	require.NotNil(t, data["workers"])
}
