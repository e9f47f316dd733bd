package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsignal/threatmem/internal/kv"
	"github.com/opsignal/threatmem/internal/memory"
	"github.com/opsignal/threatmem/internal/resilience"
)

func newTestServer() http.Handler {
	store := kv.NewMemory()
	monitor := resilience.NewMonitor(resilience.Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	})
	svc := memory.NewService(store, monitor, memory.TTLConfig{
		Working:   time.Hour,
		ShortTerm: 7 * 24 * time.Hour,
		LongTerm:  90 * 24 * time.Hour,
	})
	decay := svc.NewDecayWorker(0.02, 0.5, 100)
	return NewServer(svc, WithDecayWorker(decay)).Routes()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(into))
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestServer()
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	decode(t, rec, &resp)
	assert.Equal(t, "healthy", resp["status"])
}

func TestThreatLifecycleOverHTTP(t *testing.T) {
	h := newTestServer()

	rec := doJSON(t, h, http.MethodPost, "/v1/threats", map[string]interface{}{
		"threat_id": "T1",
		"content":   "Suspicious PowerShell",
		"severity":  "HIGH",
		"metadata":  map[string]string{"source": "edr"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	for _, analyst := range []string{"alice", "bob", "carol"} {
		rec = doJSON(t, h, http.MethodPost, "/v1/threats/T1/interactions", map[string]string{
			"analyst_id": analyst,
			"action":     "view",
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/threats/T1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var wm memory.WorkingMemory
	decode(t, rec, &wm)
	assert.Equal(t, 3, wm.InteractionCount)
	assert.Equal(t, 3, wm.AnalystCount)

	rec = doJSON(t, h, http.MethodPost, "/v1/threats/T1/promote", map[string]interface{}{
		"confidence":           0.75,
		"industry":             "finance",
		"evidence_count":       5,
		"analyst_interactions": 3,
		"memory_type":          "VALIDATED",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var stm memory.ShortTermMemory
	decode(t, rec, &stm)
	assert.InDelta(t, 0.645, stm.Score, 1e-9)

	// The L1 record is gone after promotion.
	rec = doJSON(t, h, http.MethodGet, "/v1/threats/T1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/short-term/"+stm.ID+"/promote", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var ltm memory.LongTermMemory
	decode(t, rec, &ltm)
	assert.Equal(t, 1, ltm.ConsolidationCount)
	assert.True(t, ltm.ExportPending)

	rec = doJSON(t, h, http.MethodGet, "/v1/long-term/export-pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending struct {
		MemoryIDs []string `json:"memory_ids"`
	}
	decode(t, rec, &pending)
	assert.Equal(t, []string{ltm.ID}, pending.MemoryIDs)

	rec = doJSON(t, h, http.MethodPost, "/v1/long-term/"+ltm.ID+"/exported", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Tiers memory.TierCounts `json:"tiers"`
	}
	decode(t, rec, &status)
	assert.Equal(t, int64(1), status.Tiers.LongTerm)
}

func TestErrorMapping(t *testing.T) {
	h := newTestServer()

	rec := doJSON(t, h, http.MethodGet, "/v1/threats/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/threats", map[string]string{
		"threat_id": "T1", "content": "x", "severity": "URGENT",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/threats", map[string]string{
		"threat_id": "T1", "content": "x", "severity": "LOW",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/v1/threats", map[string]string{
		"threat_id": "T1", "content": "x", "severity": "LOW",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/short-term/stm_missing/promote", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "promotion invariant violations are conflicts")
}

func TestInteractionValidationOverHTTP(t *testing.T) {
	h := newTestServer()

	rec := doJSON(t, h, http.MethodPost, "/v1/threats", map[string]string{
		"threat_id": "T1", "content": "x", "severity": "LOW",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/threats/T1/interactions", map[string]string{
		"analyst_id": "alice",
		"action":     "delete",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeadLetterEndpoints(t *testing.T) {
	h := newTestServer()

	rec := doJSON(t, h, http.MethodGet, "/v1/dead-letters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var dlq struct {
		Count int `json:"count"`
	}
	decode(t, rec, &dlq)
	assert.Equal(t, 0, dlq.Count)

	rec = doJSON(t, h, http.MethodPost, "/v1/dead-letters/replay", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var replay map[string]int
	decode(t, rec, &replay)
	assert.Equal(t, 0, replay["replayed"])
}

func TestDecayRunEndpoint(t *testing.T) {
	h := newTestServer()

	rec := doJSON(t, h, http.MethodPost, "/v1/decay/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	decode(t, rec, &resp)
	assert.Equal(t, 0, resp["decayed"])
}
