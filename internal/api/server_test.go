package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"ChatCore/internal/backend"
	"ChatCore/internal/session"
	"ChatCore/internal/store"
	"ChatCore/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloBody = `{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`

type memRecorder struct {
	mu   sync.Mutex
	recs []store.Record
}

func (m *memRecorder) Save(ctx context.Context, rec store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, tr transport.Transport, rec Recorder) (*httptest.Server, *session.Session) {
	t.Helper()
	sess, err := session.New(tr, backend.Params{Model: "gpt-4o-mini"}, session.WithID("s1"))
	require.NoError(t, err)
	srv := httptest.NewServer(New(":0", sess, rec, quiet()).Handler())
	t.Cleanup(srv.Close)
	return srv, sess
}

func fixed(status int, body string) transport.Transport {
	return transport.Func(func(ctx context.Context, _ backend.ChatRequestBody) (transport.Response, error) {
		return transport.Response{StatusCode: status, Body: []byte(body)}, nil
	})
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url+"/v1/session/messages", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func errorField(out map[string]any, key string) any {
	e, _ := out["error"].(map[string]any)
	return e[key]
}

func TestSendSuccess(t *testing.T) {
	rec := &memRecorder{}
	srv, sess := newTestServer(t, fixed(200, helloBody), rec)

	resp, out := post(t, srv.URL, `{"text":"hi"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	msg := out["message"].(map[string]any)
	assert.Equal(t, "assistant", msg["role"])
	assert.Equal(t, "hello", msg["content"])
	assert.Equal(t, "stop", out["finish_reason"])

	assert.Len(t, sess.CurrentHistory(), 2)
	require.Len(t, rec.recs, 1)
	assert.Equal(t, "s1", rec.recs[0].ID)
	assert.Len(t, rec.recs[0].Messages, 2)
}

func TestSendServiceError(t *testing.T) {
	srv, _ := newTestServer(t, fixed(400, `{"error":{"message":"bad model","type":"invalid_request_error","code":"model_not_found"}}`), nil)

	resp, out := post(t, srv.URL, `{"text":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "bad model", errorField(out, "message"))
	assert.Equal(t, "invalid_request_error", errorField(out, "type"))
	assert.Equal(t, "model_not_found", errorField(out, "code"))
}

func TestSendTransportErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		tag    string
	}{
		{"network", errors.New("connection refused"), http.StatusBadGateway, backend.TagNetwork},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, backend.TagTimeout},
		{"configuration", &backend.ConfigurationError{Reason: "API key not set"}, http.StatusServiceUnavailable, backend.TagConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := transport.Func(func(ctx context.Context, _ backend.ChatRequestBody) (transport.Response, error) {
				return transport.Response{}, tt.err
			})
			srv, _ := newTestServer(t, tr, nil)

			resp, out := post(t, srv.URL, `{"text":"hi"}`)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, "transport", errorField(out, "type"))
			assert.Equal(t, tt.tag, errorField(out, "tag"))
		})
	}
}

func TestSendRejections(t *testing.T) {
	srv, _ := newTestServer(t, fixed(200, helloBody), nil)

	resp, out := post(t, srv.URL, `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "content", errorField(out, "field"))

	resp, _ = post(t, srv.URL, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendFaulted(t *testing.T) {
	tr := transport.Func(func(ctx context.Context, _ backend.ChatRequestBody) (transport.Response, error) {
		return transport.Response{}, &backend.ConfigurationError{Reason: "API key not set"}
	})
	srv, sess := newTestServer(t, tr, nil)

	post(t, srv.URL, `{"text":"hi"}`)
	require.Equal(t, session.Faulted, sess.State())

	resp, out := post(t, srv.URL, `{"text":"again"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "configuration", errorField(out, "type"))
}

func TestSendBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	tr := transport.Func(func(ctx context.Context, _ backend.ChatRequestBody) (transport.Response, error) {
		close(started)
		<-release
		return transport.Response{StatusCode: 200, Body: []byte(helloBody)}, nil
	})
	srv, _ := newTestServer(t, tr, nil)

	done := make(chan int, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/v1/session/messages", "application/json", strings.NewReader(`{"text":"first"}`))
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	<-started

	resp, out := post(t, srv.URL, `{"text":"second"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "busy", errorField(out, "type"))

	close(release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestResetHistoryState(t *testing.T) {
	srv, _ := newTestServer(t, fixed(200, helloBody), nil)
	post(t, srv.URL, `{"text":"hi"}`)

	resp, err := http.Get(srv.URL + "/v1/session/history")
	require.NoError(t, err)
	var hist historyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hist))
	resp.Body.Close()
	assert.Equal(t, "s1", hist.ID)
	assert.Len(t, hist.Messages, 2)

	resp, err = http.Get(srv.URL + "/v1/session/state")
	require.NoError(t, err)
	var state stateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	resp.Body.Close()
	assert.Equal(t, "idle", state.State)
	assert.Equal(t, 2, state.TotalUsage.TotalTokens)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/session", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/session/history")
	require.NoError(t, err)
	hist = historyResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hist))
	resp.Body.Close()
	assert.Empty(t, hist.Messages)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, fixed(200, helloBody), nil)
	resp, err := http.Get(srv.URL + "/v1/session/messages")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t, fixed(200, helloBody), nil)

	resp, err := http.Get(srv.URL + "/v1/session/state")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Len(t, resp.Header.Get("X-Request-ID"), 36)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/session/state", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	h := recoveryMiddleware(quiet(), "s1")(loggingMiddleware(quiet(), "s1")(panicky))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "internal", errorField(out, "type"))
}
