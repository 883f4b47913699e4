package escalation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostelhub/notifyrouter/internal/shared/auth"
)

func newTestServer(t *testing.T) (*fixture, *httptest.Server) {
	t.Helper()
	f := newFixture()
	path := threeLevelPath()
	_, err := f.scheduler.MaybeSchedule(context.Background(), f.route("n-1", path), path)
	require.NoError(t, err)

	srv := httptest.NewServer(NewHandler(f.service).Routes())
	t.Cleanup(srv.Close)
	return f, srv
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestGetEscalationAPI(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/n-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, "n-1", body["notification_id"])
	assert.Equal(t, "2024-01-01T04:00:00Z", body["next_escalation_at"])

	resp, err = http.Get(srv.URL + "/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decode(t, resp)["code"])
}

func TestResolveEscalationAPI(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/n-1/resolve", "application/json", strings.NewReader(`{"resolved_by":"warden-7"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "RESOLVED", body["status"])
	assert.Equal(t, "warden-7", body["resolved_by"])

	resp, err = http.Post(srv.URL+"/n-1/resolve", "application/json", strings.NewReader(`{"resolved_by":"warden-8"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Post(srv.URL+"/n-1/resolve", "application/json", strings.NewReader(`{bad`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestResolveDefaultsToAuthenticatedUser(t *testing.T) {
	f, _ := newTestServer(t)
	handler := NewHandler(f.service).Routes()

	req := httptest.NewRequest(http.MethodPost, "/n-1/resolve", nil)
	req = req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, &auth.User{ID: "op-1"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	st, err := f.store.Get(context.Background(), "n-1")
	require.NoError(t, err)
	assert.Equal(t, "op-1", st.ResolvedBy)
}

func TestResolveWithoutActorIsRejected(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/n-1/resolve", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, resp)["code"])
}

func TestListEscalationsAPI(t *testing.T) {
	f, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	for _, h := range []float64{4, 12, 24} {
		f.clock.Set(at(h))
		_, err := f.ticker.Tick(context.Background())
		require.NoError(t, err)
	}

	resp, err = http.Get(srv.URL + "/?status=exhausted")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.EqualValues(t, 1, body["total"])
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "EXHAUSTED", data[0].(map[string]any)["status"])
}
