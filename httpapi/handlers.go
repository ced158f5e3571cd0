package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/dlq"
	"github.com/xraph/conduit/id"
	"github.com/xraph/conduit/ping"
	"github.com/xraph/conduit/router"
	"github.com/xraph/conduit/status"
)

// PingResponse is the body of GET /v1/ping.
type PingResponse struct {
	Version string `json:"version"`
	Message string `json:"message"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Tasks  string `json:"tasks"`
	Topics string `json:"topics"`
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, r, http.StatusOK, HealthResponse{
		Tasks:  a.eng.TaskAvailability().String(),
		Topics: a.eng.TopicAvailability().String(),
	})
}

// ping publishes to the ping topic and enqueues the ping task under the
// request's correlation id. Either may be unavailable; the endpoint still
// answers.
func (a *API) ping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	msg := ping.Content{Message: "ping", Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if err := router.PublishData(ctx, a.eng.Router(), ping.Topic, msg); err != nil {
		a.logger.DebugContext(ctx, "ping publish skipped", slog.String("error", err.Error()))
	}
	if _, err := a.eng.Dispatcher().Enqueue(ctx, ping.TaskName, nil, correlation.None); err != nil {
		a.logger.DebugContext(ctx, "ping enqueue skipped", slog.String("error", err.Error()))
	}

	a.logger.InfoContext(ctx, "ping request received")
	a.writeJSON(w, r, http.StatusOK, PingResponse{Version: a.version, Message: "pong"})
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := id.ParseTaskID(chi.URLParam(r, "id"))
	if err != nil {
		a.writeErrorBody(w, r, http.StatusBadRequest, "invalid task id")
		return
	}
	rec, err := a.eng.Dispatcher().Get(r.Context(), taskID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, rec)
}

// cancelTask answers 200 when the task is cancelled outright and 202 when
// a running task was asked to stop.
func (a *API) cancelTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := id.ParseTaskID(chi.URLParam(r, "id"))
	if err != nil {
		a.writeErrorBody(w, r, http.StatusBadRequest, "invalid task id")
		return
	}
	rec, err := a.eng.Dispatcher().Cancel(r.Context(), taskID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if rec.State != status.Cancelled {
		code = http.StatusAccepted
	}
	a.writeJSON(w, r, code, rec)
}

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	svc := a.eng.DLQ()
	if svc == nil {
		a.writeError(w, r, a.eng.TaskAvailability().Err())
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			a.writeErrorBody(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := svc.Store().ListDLQ(r.Context(), dlq.ListOpts{
		Limit: limit,
		Queue: r.URL.Query().Get("queue"),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	a.writeJSON(w, r, http.StatusOK, entries)
}

func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	svc := a.eng.DLQ()
	if svc == nil {
		a.writeError(w, r, a.eng.TaskAvailability().Err())
		return
	}
	entryID, err := id.ParseDLQID(chi.URLParam(r, "id"))
	if err != nil {
		a.writeErrorBody(w, r, http.StatusBadRequest, "invalid dlq entry id")
		return
	}
	rec, err := svc.Replay(r.Context(), entryID)
	if err != nil && rec == nil {
		a.writeError(w, r, err)
		return
	}
	if err != nil {
		a.logger.WarnContext(r.Context(), "dlq entry replayed but not stamped",
			slog.String("entry_id", entryID.String()),
			slog.String("error", err.Error()),
		)
	}
	a.writeJSON(w, r, http.StatusCreated, rec)
}
