package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nightsync/internal/domain"
	"github.com/aristath/nightsync/internal/history"
	"github.com/aristath/nightsync/internal/pipeline"
)

type fakeTrigger struct {
	mu      sync.Mutex
	running bool
	calls   int
}

func (t *fakeTrigger) Run(context.Context) (*pipeline.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return &pipeline.Result{RunID: "run-1", Completed: true}, nil
}

func (t *fakeTrigger) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *fakeTrigger) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type fakeHistory struct {
	records []history.RunRecord
	listErr error
}

func (h *fakeHistory) List(_ context.Context, limit int) ([]history.RunRecord, error) {
	if h.listErr != nil {
		return nil, h.listErr
	}
	if limit < len(h.records) {
		return h.records[:limit], nil
	}
	return h.records, nil
}

func (h *fakeHistory) Get(_ context.Context, id string) (*history.RunRecord, error) {
	for i := range h.records {
		if h.records[i].ID == id {
			return &h.records[i], nil
		}
	}
	return nil, domain.NewError(domain.ErrKindNotFound, "run %q not found", id)
}

type fakePinger struct{ err error }

func (p *fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(trigger *fakeTrigger, store *fakeHistory, db *fakePinger) *Server {
	return New(Config{Port: 0, DevMode: true}, trigger, store, db, zerolog.Nop())
}

func TestTriggerRunAccepted(t *testing.T) {
	trigger := &fakeTrigger{}
	srv := newTestServer(trigger, &fakeHistory{}, &fakePinger{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool {
		return trigger.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTriggerRunConflictWhileRunning(t *testing.T) {
	trigger := &fakeTrigger{running: true}
	srv := newTestServer(trigger, &fakeHistory{}, &fakePinger{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, trigger.callCount())
}

func TestListRuns(t *testing.T) {
	store := &fakeHistory{records: []history.RunRecord{
		{ID: "run-2", ProfileName: "Default", Completed: true},
		{ID: "run-1", ProfileName: "Default", Completed: false, ErrorKind: "tuner_timeout"},
	}}
	srv := newTestServer(&fakeTrigger{}, store, &fakePinger{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs    []history.RunRecord `json:"runs"`
		Running bool                `json:"running"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "run-2", body.Runs[0].ID)
	assert.False(t, body.Running)
}

func TestListRunsRejectsBadLimit(t *testing.T) {
	srv := newTestServer(&fakeTrigger{}, &fakeHistory{}, &fakePinger{})

	for _, limit := range []string{"0", "-3", "9999", "abc"} {
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs?limit="+limit, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestGetRun(t *testing.T) {
	store := &fakeHistory{records: []history.RunRecord{{ID: "run-1", ProfileName: "Default"}}}
	srv := newTestServer(&fakeTrigger{}, store, &fakePinger{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/run-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var record history.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "run-1", record.ID)
}

func TestGetRunNotFound(t *testing.T) {
	srv := newTestServer(&fakeTrigger{}, &fakeHistory{}, &fakePinger{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthOK(t *testing.T) {
	srv := newTestServer(&fakeTrigger{}, &fakeHistory{}, &fakePinger{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthDegradedWhenDatabaseDown(t *testing.T) {
	db := &fakePinger{err: context.DeadlineExceeded}
	srv := newTestServer(&fakeTrigger{}, &fakeHistory{}, db)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
