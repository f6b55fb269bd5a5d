package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commandcenter/internal/aggregate"
	"commandcenter/pkg/types"
)

type stubStore struct {
	patients map[string]*types.Patient
}

func (s *stubStore) FindPatient(ctx context.Context, mrn string) (*types.Patient, error) {
	p, ok := s.patients[mrn]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", mrn, types.ErrNotFound)
	}
	return p, nil
}

func (s *stubStore) SearchPatients(ctx context.Context, q string, limit int) ([]*types.Patient, error) {
	var out []*types.Patient
	for _, p := range s.patients {
		out = append(out, p)
	}
	return out, nil
}

func (s *stubStore) ProceduresForPatient(ctx context.Context, mrn string) ([]*types.Procedure, error) {
	return nil, nil
}

type stubImaging struct{}

func (stubImaging) Studies(ctx context.Context, mrn string) ([]types.Study, []types.StudyDetail, error) {
	return nil, nil, nil
}
func (stubImaging) Close() error { return nil }

type stubEMR struct{}

func (stubEMR) Configured() bool { return false }
func (stubEMR) Fetch(ctx context.Context, mrn string) (*types.EMRRecord, error) {
	return nil, types.ErrNotConfigured
}

type stubHub struct{}

func (stubHub) Stats() map[string]int {
	return map[string]int{"total_connections": 2, "authoring": 1, "viewing": 1}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := &stubStore{patients: map[string]*types.Patient{
		"MRN-1": {MRN: "MRN-1", FirstName: "Grace", LastName: "Hopper"},
	}}
	svc := aggregate.New(store, stubEMR{}, stubImaging{}, nil, aggregate.Options{}, zerolog.Nop())
	srv := httptest.NewServer(NewServer(svc, stubHub{}, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/patients?q=grace")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		Patients []*types.Patient `json:"patients"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Patients, 1)
}

func TestSearchEndpoint_MissingQuery(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/patients")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestComprehensiveEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/patients/MRN-1/comprehensive")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap types.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "MRN-1", snap.Patient.MRN)
	assert.False(t, snap.EMR.Available)
	assert.NotEmpty(t, snap.Summary.Text)
}

func TestComprehensiveEndpoint_UnknownPatient(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/patients/ghost-1/comprehensive")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestComprehensiveEndpoint_BadPaths(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{
		"/api/patients/MRN-1/other",
		"/api/patients/MRN-1",
		"/api/patients/bad;mrn/comprehensive",
		"/api/patients//comprehensive",
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "path %s", path)
	}
}

func TestCacheClearEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/cache/clear", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// GET on the clear endpoint is rejected.
	getResp, err := http.Get(srv.URL + "/api/cache/clear")
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status      string         `json:"status"`
		Connections map[string]int `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 2, body.Connections["total_connections"])
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/patients", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
