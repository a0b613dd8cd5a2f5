package workerclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, int) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.Client(), []string{srv.URL}), 1
}

func TestHealthSelectable(t *testing.T) {
	c, w := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte(`{"ok":true,"busy":false,"ready":true}`))
	})
	snap := c.Health(context.Background(), w, time.Second)
	require.True(t, snap.Selectable())
}

func TestHealthNotReadyIsNotSelectable(t *testing.T) {
	c, w := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte(`{"ok":true,"busy":false,"ready":false}`))
	})
	snap := c.Health(context.Background(), w, time.Second)
	require.False(t, snap.Selectable())
}

func TestHealthBusyIsNotSelectable(t *testing.T) {
	c, w := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte(`{"ok":true,"busy":true}`))
	})
	snap := c.Health(context.Background(), w, time.Second)
	require.False(t, snap.Selectable())
}

func TestHealthTransportErrorFoldsToNotOK(t *testing.T) {
	c := New(http.DefaultClient, []string{"http://127.0.0.1:1"})
	snap := c.Health(context.Background(), 1, 50*time.Millisecond)
	require.False(t, snap.OK)
	require.NotEmpty(t, snap.Error)
}

func TestHealthOutOfRangeWorker(t *testing.T) {
	c := New(http.DefaultClient, []string{"http://example.invalid"})
	snap := c.Health(context.Background(), 2, time.Second)
	require.False(t, snap.OK)
}

func TestSearchSuccess(t *testing.T) {
	c, w := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte(`{"ok":true,"result":{"json":"{\"answer\":1}"}}`))
	})
	out := c.Search(context.Background(), w, "prompt", time.Second)
	require.Equal(t, Success, out.Kind)
	require.Equal(t, `{"answer":1}`, out.JSON)
}

func TestSearchEmptyResult(t *testing.T) {
	c, w := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusUnprocessableEntity)
		rw.Write([]byte(`{"ok":false,"error":"empty_result","raw_text":"nothing found"}`))
	})
	out := c.Search(context.Background(), w, "prompt", time.Second)
	require.Equal(t, Empty, out.Kind)
	require.Equal(t, "nothing found", out.RawText)
}

func TestSearchBlocked(t *testing.T) {
	c, w := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusServiceUnavailable)
		rw.Write([]byte(`{"ok":false,"error":"captcha","retry_other_worker":true}`))
	})
	out := c.Search(context.Background(), w, "prompt", time.Second)
	require.Equal(t, Blocked, out.Kind)
	require.Equal(t, "captcha", out.Reason)
}

func TestSearchBusy(t *testing.T) {
	c, w := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusLocked)
	})
	out := c.Search(context.Background(), w, "prompt", time.Second)
	require.Equal(t, Busy, out.Kind)
}

func TestSearchTransientOnUnexpectedStatus(t *testing.T) {
	c, w := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusInternalServerError)
	})
	out := c.Search(context.Background(), w, "prompt", time.Second)
	require.Equal(t, Transient, out.Kind)
}

func TestClassifySearchTable(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   OutcomeKind
	}{
		{"success", 200, `{"ok":true,"result":{"json":"x"}}`, Success},
		{"ok-but-no-result", 200, `{"ok":true}`, Transient},
		{"empty", 422, `{"error":"empty_result"}`, Empty},
		{"blocked", 503, `{"retry_other_worker":true}`, Blocked},
		{"locked", 423, `{}`, Busy},
		{"busy-in-message", 500, `{"error":"worker busy"}`, Busy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := classifySearch(tc.status, []byte(tc.body))
			require.Equal(t, tc.want, out.Kind)
		})
	}
}

func TestWarmupRestartRefresh(t *testing.T) {
	var gotPath string
	c, w := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		rw.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.WarmupSearchTab(context.Background(), w, time.Second))
	require.Equal(t, "/tabs/search", gotPath)

	require.NoError(t, c.RestartBrowser(context.Background(), w, time.Second))
	require.Equal(t, "/browser/restart", gotPath)

	require.NoError(t, c.RefreshSession(context.Background(), w, time.Second))
	require.Equal(t, "/session/refresh", gotPath)
}

func TestPostNoBodyErrorsOn4xx(t *testing.T) {
	c, w := newTestClient(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusBadRequest)
	})
	err := c.WarmupSearchTab(context.Background(), w, time.Second)
	require.Error(t, err)
}
