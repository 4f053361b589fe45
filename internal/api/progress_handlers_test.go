package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/provider-harvester/internal/store"
)

func TestProgressHandlerListRuns(t *testing.T) {
	t.Parallel()

	reader := &mockRunReader{
		runs: []store.Run{{
			ID:        uuid.New(),
			Status:    store.RunSuccess,
			StartedAt: time.Now().Add(-time.Hour),
			Total:     3,
			Succeeded: 2,
			Failed:    1,
			Outcomes:  map[string]int64{"success": 2, "exhausted": 1},
		}},
	}
	handler := NewProgressHandler(reader, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/progress/runs?status=success&limit=10&offset=0", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, reader.lastStatus)
	require.Equal(t, store.RunSuccess, *reader.lastStatus)
	require.Equal(t, 10, reader.lastLimit)

	var body struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, int64(3), body.Runs[0].Done)
	require.Equal(t, int64(1), body.Runs[0].Outcomes["exhausted"])
}

func TestProgressHandlerListRunsBadQuery(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockRunReader{}, zap.NewNop())
	for _, target := range []string{
		"/progress/runs?limit=-1",
		"/progress/runs?offset=x",
		"/progress/runs?status=paused",
	} {
		rec := httptest.NewRecorder()
		handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestProgressHandlerLimitIsCapped(t *testing.T) {
	t.Parallel()

	reader := &mockRunReader{}
	handler := NewProgressHandler(reader, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/progress/runs?limit=100000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, maxRunLimit, reader.lastLimit)
}

func TestProgressHandlerReaderErrors(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockRunReader{err: errors.New("boom")}, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/progress/runs", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	id := uuid.New()
	rec = httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/progress/runs/"+id.String(), nil), id.String()))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestProgressHandlerGetRun(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	reader := &mockRunReader{runs: []store.Run{{ID: id, Status: store.RunRunning, Total: 5, Succeeded: 1}}}
	handler := NewProgressHandler(reader, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/progress/runs/"+id.String(), nil), id.String()))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run runDTO `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, id.String(), body.Run.ID)
	require.Equal(t, "running", body.Run.Status)
	require.Nil(t, body.Run.FinishedAt)
}

func TestProgressHandlerGetRunNotFound(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockRunReader{err: store.ErrNotFound}, zap.NewNop())
	id := uuid.New()
	rec := httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/progress/runs/"+id.String(), nil), id.String()))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressHandlerGetRunBadID(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(&mockRunReader{}, zap.NewNop())
	rec := httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/progress/runs/nope", nil), "nope"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerUnavailable(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(nil, nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/progress/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type mockRunReader struct {
	runs       []store.Run
	err        error
	lastStatus *store.RunStatus
	lastLimit  int
}

func (m *mockRunReader) ListRuns(_ context.Context, status *store.RunStatus, limit, _ int) ([]store.Run, error) {
	m.lastStatus = status
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.runs, nil
}

func (m *mockRunReader) GetRun(_ context.Context, id uuid.UUID) (store.Run, error) {
	if m.err != nil {
		return store.Run{}, m.err
	}
	for _, run := range m.runs {
		if run.ID == id {
			return run, nil
		}
	}
	return store.Run{}, store.ErrNotFound
}

func withRunIDParam(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("run_id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
