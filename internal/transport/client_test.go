package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestPostJSON(t *testing.T) {
	var gotAuth, gotType, gotUA string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/analytics/events", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotUA = r.Header.Get("User-Agent")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithToken("tok"), WithUserAgent("tidepool-test"))
	data, err := c.PostJSON(context.Background(), "analytics/events", map[string]any{"batch_id": "b1"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"ok":true}`, string(data))
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "tidepool-test", gotUA)
	assert.Equal(t, "b1", gotBody["batch_id"])

	type okResp struct {
		OK bool `json:"ok"`
	}
	decoded, err := DecodeJSON[okResp](data)
	require.NoError(t, err)
	assert.True(t, decoded.OK)
}

func TestNon2xxReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.PostJSON(context.Background(), "/x", struct{}{})
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Contains(t, se.Body, "unavailable")
	assert.True(t, IsStatus(err, http.StatusServiceUnavailable))
	assert.False(t, IsStatus(err, http.StatusNotFound))
}

func TestReplaySendsStoredRequestVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/posts/7", r.URL.Path)
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		assert.Equal(t, "abc", r.Header.Get("X-Request-Tag"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "raw body", string(body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Replay(context.Background(), http.MethodPatch, "/api/posts/7",
		map[string]string{"Content-Type": "text/plain", "X-Request-Tag": "abc"}, []byte("raw body"))
	require.NoError(t, err)
}

func TestReplayAbsoluteURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New("http://unused.invalid")
	_, err := c.Replay(context.Background(), http.MethodDelete, srv.URL+"/thing", nil, nil)
	require.NoError(t, err)
}

func TestPing(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, WithHealthPath("/healthz"))
	assert.NoError(t, c.Ping(context.Background()))

	healthy.Store(false)
	assert.Error(t, c.Ping(context.Background()))
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(srv.URL, WithTimeout(20*time.Millisecond))
	_, err := c.PostJSON(context.Background(), "/slow", 1)
	assert.Error(t, err)
}

func TestTimeoutLeavesSharedClientAlone(t *testing.T) {
	shared := &http.Client{Timeout: time.Minute}
	c := New("http://example.invalid", WithHTTPClient(shared), WithTimeout(time.Second))

	assert.Equal(t, time.Minute, shared.Timeout)
	assert.Equal(t, time.Second, c.httpClient.Timeout)
	assert.NotSame(t, shared, c.httpClient)

	c = New("http://example.invalid", WithTimeout(time.Second), WithHTTPClient(http.DefaultClient))
	assert.Zero(t, http.DefaultClient.Timeout)
	assert.Equal(t, time.Second, c.httpClient.Timeout)
}

func TestNilHTTPClientKeepsDefault(t *testing.T) {
	var c *Client
	require.NotPanics(t, func() {
		c = New("http://example.invalid", WithHTTPClient(nil), WithTimeout(time.Second))
	})
	require.NotNil(t, c.httpClient)
	assert.Equal(t, time.Second, c.httpClient.Timeout)
}

func TestSpansRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	c := New(srv.URL, WithTracerProvider(tp))

	_, err := c.PostJSON(context.Background(), "/good", 1)
	require.NoError(t, err)
	_, err = c.Replay(context.Background(), http.MethodPost, "/bad", nil, nil)
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "transport.post", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "transport.replay", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestSendEventsAndBulk(t *testing.T) {
	var bodies []map[string]any
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		paths = append(paths, r.URL.Path)
	}))
	defer srv.Close()

	c := New(srv.URL)
	req := EventsRequest{
		BatchID:   "b1",
		Events:    json.RawMessage(`[{"id":"e1"}]`),
		Timestamp: time.UnixMilli(1000).UTC(),
	}
	require.NoError(t, c.SendEvents(context.Background(), "/analytics/events", req))
	require.NoError(t, c.SendBulk(context.Background(), "/analytics/batch", req))

	require.Len(t, bodies, 2)
	assert.Equal(t, []string{"/analytics/events", "/analytics/batch"}, paths)
	assert.Equal(t, "b1", bodies[0]["batch_id"])
	assert.Len(t, bodies[0]["events"], 1)
	_, hasID := bodies[1]["batch_id"]
	assert.False(t, hasID)
	assert.Len(t, bodies[1]["events"], 1)
}

func TestSyncContent(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/content/sync", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.SyncContent(context.Background(), "/content/sync", map[string]any{"id": "c1", "title": "draft"})
	require.NoError(t, err)
	assert.Equal(t, "c1", got["id"])
	assert.Equal(t, "draft", got["title"])
}
