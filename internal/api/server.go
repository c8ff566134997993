package api

import (
	"net/http"
	"time"

	"devstack/internal/launcher"
	"devstack/internal/registry"
	"devstack/internal/supervisor"
	"devstack/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wires the control-plane components behind the HTTP surface.
type Server struct {
	launcher   *launcher.Launcher
	registry   *registry.Registry
	supervisor *supervisor.Supervisor
	collector  *telemetry.Collector
	metrics    *telemetry.Metrics
}

func NewServer(l *launcher.Launcher, reg *registry.Registry, sup *supervisor.Supervisor, col *telemetry.Collector, m *telemetry.Metrics) *Server {
	return &Server{
		launcher:   l,
		registry:   reg,
		supervisor: sup,
		collector:  col,
		metrics:    m,
	}
}

// Router builds the gin engine with every route attached.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/health", HealthCheckHandler)

	r.GET("/launch", s.LaunchHandler)
	r.GET("/stop", s.StopHandler)
	r.GET("/status", s.StatusHandler)

	r.POST("/allocate", s.AllocatePortHandler)
	r.POST("/release-port", s.ReleasePortHandler)

	orch := r.Group("/orchestrator")
	{
		orch.POST("/start/:name", s.StartServiceHandler)
		orch.POST("/stop/:name", s.StopServiceHandler)
		orch.POST("/restart/:name", s.RestartServiceHandler)
		orch.POST("/start-all", s.StartAllHandler)
		orch.POST("/stop-all", s.StopAllHandler)
		orch.GET("/status", s.ServicesStatusHandler)
		orch.GET("/overview", s.OverviewHandler)
		orch.GET("/health", s.OrchestratorHealthHandler)
	}

	met := r.Group("/metrics")
	{
		met.GET("/summary", s.MetricsSummaryHandler)
		met.GET("/alerts", s.AlertsHandler)
		met.GET("/subject/:id", s.SubjectMetricsHandler)
		met.POST("/execution", s.RecordExecutionHandler)
		met.POST("/start", s.StartTelemetryHandler)
		met.POST("/stop", s.StopTelemetryHandler)
		met.GET("/health", s.TelemetryHealthHandler)
		if s.metrics != nil {
			met.GET("/prometheus", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
		}
	}

	return r
}

// HealthCheckHandler reports the control plane's own liveness.
func HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"service": "devstack",
		"time":    time.Now().UTC(),
	})
}
