package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"devstack/internal/api"
	"devstack/internal/launcher"
	"devstack/internal/registry"
	"devstack/internal/supervisor"
	"devstack/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noSubjects struct{}

func (noSubjects) Subjects() []telemetry.Subject { return nil }

func setupRouter(t *testing.T) (*gin.Engine, *telemetry.Collector) {
	gin.SetMode(gin.TestMode)
	t.Helper()

	tmp := t.TempDir()
	reg := registry.New(filepath.Join(tmp, "ports.yml"), 3000, 4000)
	reg.SetProbe(func(int) bool { return false })

	l := launcher.New(reg, filepath.Join(tmp, "launch_project.sh"))
	l.DiscoveryTimeout = 200 * time.Millisecond

	sup := supervisor.New([]supervisor.ServiceConfig{
		{Name: "sleeper", Port: 5999, Command: "sleep", Args: []string{"60"}},
	})
	sup.StartGrace = 50 * time.Millisecond

	metrics := telemetry.NewMetrics()
	col := telemetry.New(noSubjects{}, nil, metrics)

	server := api.NewServer(l, reg, sup, col, metrics)
	return server.Router(), col
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "UP")
}

func TestLaunchMissingProjectReturns404(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, "GET", "/launch?project=/no/such/dir", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLaunchRequiresProjectParam(t *testing.T) {
	r, _ := setupRouter(t)

	assert.Equal(t, http.StatusBadRequest, doJSON(r, "GET", "/launch", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(r, "GET", "/stop", nil).Code)
}

func TestStopNotRunningReturns404(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, "GET", "/stop?project="+t.TempDir(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusEmpty(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, "GET", "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Count)
}

func TestAllocateAndRelease(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, "POST", "/allocate", api.AllocatePortOption{ProjectPath: "/work/proj"})
	require.Equal(t, http.StatusOK, w.Code)

	var alloc struct {
		Port int `json:"port"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alloc))
	assert.Equal(t, 3000, alloc.Port)

	// Same path allocates the same port again
	w = doJSON(r, "POST", "/allocate", api.AllocatePortOption{ProjectPath: "/work/proj"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alloc))
	assert.Equal(t, 3000, alloc.Port)

	// Mismatched port is rejected
	w = doJSON(r, "POST", "/release-port", api.ReleasePortOption{ProjectPath: "/work/proj", Port: 3999})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Exact pair releases
	w = doJSON(r, "POST", "/release-port", api.ReleasePortOption{ProjectPath: "/work/proj", Port: 3000})
	assert.Equal(t, http.StatusOK, w.Code)

	// Releasing again: nothing recorded
	w = doJSON(r, "POST", "/release-port", api.ReleasePortOption{ProjectPath: "/work/proj", Port: 3000})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAllocateValidatesBody(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, "POST", "/allocate", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrchestratorUnknownService(t *testing.T) {
	r, _ := setupRouter(t)

	assert.Equal(t, http.StatusNotFound, doJSON(r, "POST", "/orchestrator/start/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(r, "POST", "/orchestrator/stop/nope", nil).Code)
}

func TestOrchestratorLifecycle(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, "POST", "/orchestrator/start/sleeper", nil)
	require.Equal(t, http.StatusOK, w.Code)
	defer doJSON(r, "POST", "/orchestrator/stop/sleeper", nil)

	w = doJSON(r, "GET", "/orchestrator/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"running"`)

	w = doJSON(r, "POST", "/orchestrator/stop/sleeper", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOverviewIncludesTelemetry(t *testing.T) {
	r, col := setupRouter(t)

	col.AddSample(telemetry.Sample{
		SubjectID:  "proj",
		Timestamp:  time.Now(),
		CPUPercent: 12,
	})

	w := doJSON(r, "GET", "/orchestrator/overview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"telemetry"`)
	assert.Contains(t, w.Body.String(), `"proj"`)
}

func TestRecordExecutionAndSummary(t *testing.T) {
	r, _ := setupRouter(t)

	now := time.Now().UTC()
	w := doJSON(r, "POST", "/metrics/execution", telemetry.ExecutionMetrics{
		ExecutionID: "e-1",
		Language:    "go",
		StartTime:   now.Add(-time.Second),
		EndTime:     now,
		Status:      "success",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, "GET", "/metrics/summary?time_range=10", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report telemetry.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Executions.Total)
	assert.Equal(t, 1, report.Executions.Success)
}

func TestRecordExecutionValidates(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, "POST", "/metrics/execution", map[string]string{"language": "go"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubjectMetricsNotFound(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(r, "GET", "/metrics/subject/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubjectMetrics(t *testing.T) {
	r, col := setupRouter(t)

	col.AddSample(telemetry.Sample{SubjectID: "p1", Timestamp: time.Now(), CPUPercent: 5})
	col.AddSample(telemetry.Sample{SubjectID: "p1", Timestamp: time.Now(), CPUPercent: 7})

	w := doJSON(r, "GET", "/metrics/subject/p1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Samples []telemetry.Sample `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Samples, 2)
}

func TestTelemetryStartStop(t *testing.T) {
	r, col := setupRouter(t)

	require.Equal(t, http.StatusOK, doJSON(r, "POST", "/metrics/start", nil).Code)
	assert.True(t, col.Monitoring())

	w := doJSON(r, "GET", "/metrics/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"monitoring":true`)

	require.Equal(t, http.StatusOK, doJSON(r, "POST", "/metrics/stop", nil).Code)
	assert.False(t, col.Monitoring())
}

func TestPrometheusEndpoint(t *testing.T) {
	r, col := setupRouter(t)

	col.RecordExecution(telemetry.ExecutionMetrics{
		ExecutionID: "e-prom",
		Language:    "go",
		Status:      "success",
		Duration:    time.Second,
		StartTime:   time.Now(),
		EndTime:     time.Now(),
	})

	w := doJSON(r, "GET", "/metrics/prometheus", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "devstack_executions_total")
}
