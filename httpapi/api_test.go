package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/conduit"
	"github.com/xraph/conduit/broker/memory"
	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/dlq"
	"github.com/xraph/conduit/engine"
	"github.com/xraph/conduit/httpapi"
	"github.com/xraph/conduit/id"
	"github.com/xraph/conduit/ping"
	"github.com/xraph/conduit/status"
	"github.com/xraph/conduit/task"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	eng     *engine.Engine
	broker  *memory.Broker
	handler http.Handler
	logs    *syncBuffer
}

// newHarness builds an engine on the memory backends. With enabled false
// both brokers are left unconfigured.
func newHarness(t *testing.T, enabled bool) *harness {
	t.Helper()
	logs := &syncBuffer{}
	logger := slog.New(logscopeHandler(logs))

	cfg := conduit.DefaultConfig()
	var opts []engine.Option
	opts = append(opts, engine.WithLogger(logger))
	var b *memory.Broker
	if enabled {
		cfg.Tasks.Enabled = true
		cfg.Tasks.URL = "memory://"
		cfg.Tasks.PollInterval = 10 * time.Millisecond
		cfg.Tasks.Backoff = "none"
		b = memory.New()
		t.Cleanup(func() { _ = b.Close() })
		opts = append(opts, engine.WithPubSub(b))
	}

	eng, err := engine.New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, ping.Register(eng))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	api := httpapi.New(eng, httpapi.WithVersion("1.2.3"))
	return &harness{eng: eng, broker: b, handler: api.Handler(), logs: logs}
}

func (h *harness) do(t *testing.T, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestPingPublishesAndEnqueues(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	replies, err := h.broker.Subscribe(ctx, h.eng.Router().ReplyTopic(ping.Topic))
	require.NoError(t, err)
	defer func() { _ = replies.Close() }()

	require.NoError(t, h.eng.Start(ctx))
	require.Eventually(t, func() bool { return h.broker.Stats().Subscriptions >= 2 }, 2*time.Second, 5*time.Millisecond)

	rec := h.do(t, http.MethodGet, "/v1/ping", http.Header{correlation.HeaderName: {"abc"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Header().Get(correlation.HeaderName))
	assert.Equal(t, httpapi.PingResponse{Version: "1.2.3", Message: "pong"}, decode[httpapi.PingResponse](t, rec))

	select {
	case msg := <-replies.Messages():
		var got struct {
			CorrelationID string       `json:"correlation_id"`
			Data          ping.Content `json:"data"`
			Status        string       `json:"status"`
		}
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, "abc", got.CorrelationID)
		assert.Equal(t, ping.Pong, got.Data.Message)
		assert.Equal(t, "COMPLETED", got.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("no reply on the ping reply topic")
	}

	require.Eventually(t, func() bool {
		recs, err := h.eng.Dispatcher().List(ctx, task.ListOpts{State: status.Completed})
		if err != nil || len(recs) != 1 {
			return false
		}
		return recs[0].Name == ping.TaskName && recs[0].CorrelationID == "abc"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPingFailsOpen(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, http.MethodGet, "/v1/ping", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", decode[httpapi.PingResponse](t, rec).Message)
	assert.NotEmpty(t, rec.Header().Get(correlation.HeaderName))
}

func TestRequestLogsAreTagged(t *testing.T) {
	h := newHarness(t, false)

	h.do(t, http.MethodGet, "/healthz", http.Header{correlation.HeaderName: {"req-1"}})

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(h.logs.String()), "\n") {
		if strings.Contains(line, `"msg":"request handled"`) {
			found = true
			assert.Contains(t, line, `"correlation_id":"req-1"`)
			assert.Contains(t, line, `"status":200`)
		}
	}
	assert.True(t, found, "no request log line:\n%s", h.logs.String())
}

func TestHealth(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[httpapi.HealthResponse](t, rec)
	assert.True(t, strings.HasPrefix(got.Tasks, "unavailable"))
	assert.True(t, strings.HasPrefix(got.Topics, "unavailable"))
}

func TestTaskEndpoints(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	taskID, err := h.eng.Dispatcher().Enqueue(ctx, ping.TaskName, nil, "abc")
	require.NoError(t, err)
	path := "/v1/tasks/" + taskID.String()

	rec := h.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[task.Record](t, rec)
	assert.Equal(t, status.Received, got.State)
	assert.Equal(t, correlation.ID("abc"), got.CorrelationID)

	rec = h.do(t, http.MethodPost, path+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, status.Cancelled, decode[task.Record](t, rec).State)

	rec = h.do(t, http.MethodPost, path+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/tasks/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/tasks/"+id.NewTaskID().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorBodyCarriesCorrelationID(t *testing.T) {
	h := newHarness(t, true)
	header := http.Header{correlation.HeaderName: []string{"req-42"}}

	rec := h.do(t, http.MethodGet, "/v1/tasks/"+id.NewTaskID().String(), header)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode[httpapi.ErrorResponse](t, rec)
	assert.Equal(t, "req-42", body.CorrelationID)
	assert.NotEmpty(t, body.Error)

	rec = h.do(t, http.MethodGet, "/v1/tasks/not-an-id", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body = decode[httpapi.ErrorResponse](t, rec)
	assert.Equal(t, rec.Header().Get(correlation.HeaderName), body.CorrelationID)
	assert.NotEmpty(t, body.CorrelationID)
}

func TestTaskEndpointsUnavailable(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, http.MethodGet, "/v1/tasks/"+id.NewTaskID().String(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/dlq", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDLQEndpoints(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	rec := h.do(t, http.MethodGet, "/v1/dlq", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]dlq.Entry](t, rec))

	failed := task.NewRecord(ping.TaskName, task.Args{"n": 1}, "abc", task.WithMaxAttempts(2))
	failed.Attempt = 2
	require.NoError(t, h.eng.DLQ().Push(ctx, failed, errors.New("boom")))

	rec = h.do(t, http.MethodGet, "/v1/dlq?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]dlq.Entry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].Error)
	assert.Equal(t, failed.ID, entries[0].TaskID)

	rec = h.do(t, http.MethodPost, "/v1/dlq/"+entries[0].ID.String()+"/replay", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	replayed := decode[task.Record](t, rec)
	assert.Equal(t, ping.TaskName, replayed.Name)
	assert.Equal(t, status.Received, replayed.State)
	assert.NotEqual(t, failed.ID, replayed.ID)

	rec = h.do(t, http.MethodPost, "/v1/dlq/"+id.NewDLQID().String()+"/replay", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/v1/dlq?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
