package metric

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("create", "ok", time.Millisecond)
		m.SetSchemas(3)
		m.SyncMessage("in", "schema")
		m.SetSyncState(StateReady)
		m.ConnectAttempt()
		m.EventPublished(nil)
	})
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestRecording(t *testing.T) {
	m := New()

	m.ObserveOperation("create", "ok", 5*time.Millisecond)
	m.ObserveOperation("create", "PermissionDenied", time.Millisecond)
	m.SetSchemas(4)
	m.SyncMessage("out", "request")
	m.SetSyncState(StateSyncing)
	m.ConnectAttempt()
	m.ConnectAttempt()
	m.EventPublished(errors.New("bus down"))

	body := scrape(t, m)
	assert.Contains(t, body, `schemad_database_operations_total{operation="create",outcome="ok"} 1`)
	assert.Contains(t, body, `schemad_database_operations_total{operation="create",outcome="PermissionDenied"} 1`)
	assert.Contains(t, body, "schemad_registry_schemas 4")
	assert.Contains(t, body, `schemad_sync_messages_total{direction="out",type="request"} 1`)
	assert.Contains(t, body, "schemad_sync_state 1")
	assert.Contains(t, body, "schemad_database_connect_attempts_total 2")
	assert.Contains(t, body, `schemad_bus_events_published_total{outcome="error"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
