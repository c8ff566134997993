package api

import (
	"net/http"
	"strconv"
	"time"

	"devstack/internal/telemetry"

	"github.com/gin-gonic/gin"
)

// timeRange reads the ?time_range= query in minutes.
func timeRange(c *gin.Context, fallback time.Duration) time.Duration {
	raw := c.Query("time_range")
	if raw == "" {
		return fallback
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes <= 0 {
		return fallback
	}
	return time.Duration(minutes) * time.Minute
}

// MetricsSummaryHandler handles GET /metrics/summary?time_range=<minutes>.
func (s *Server) MetricsSummaryHandler(c *gin.Context) {
	window := timeRange(c, 5*time.Minute)
	c.JSON(http.StatusOK, s.collector.Summary(window))
}

// AlertsHandler handles GET /metrics/alerts?time_range=<minutes>.
func (s *Server) AlertsHandler(c *gin.Context) {
	window := timeRange(c, time.Hour)
	alerts := s.collector.Alerts(window)
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// SubjectMetricsHandler handles GET /metrics/subject/:id: raw retained
// samples for one subject.
func (s *Server) SubjectMetricsHandler(c *gin.Context) {
	id := c.Param("id")
	samples := s.collector.SubjectSamples(id)
	if len(samples) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no samples for subject"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subject_id": id,
		"samples":    samples,
	})
}

// RecordExecutionHandler handles POST /metrics/execution: execution
// backends report completed runs here.
func (s *Server) RecordExecutionHandler(c *gin.Context) {
	var em telemetry.ExecutionMetrics
	if err := c.ShouldBindJSON(&em); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if em.ExecutionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing execution_id"})
		return
	}

	s.collector.RecordExecution(em)
	c.JSON(http.StatusCreated, gin.H{
		"status":       "recorded",
		"execution_id": em.ExecutionID,
	})
}

// StartTelemetryHandler handles POST /metrics/start.
func (s *Server) StartTelemetryHandler(c *gin.Context) {
	s.collector.StartMonitoring()
	c.JSON(http.StatusOK, gin.H{"status": "monitoring started"})
}

// StopTelemetryHandler handles POST /metrics/stop.
func (s *Server) StopTelemetryHandler(c *gin.Context) {
	s.collector.StopMonitoring()
	c.JSON(http.StatusOK, gin.H{"status": "monitoring stopped"})
}

// TelemetryHealthHandler handles GET /metrics/health.
func (s *Server) TelemetryHealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "UP",
		"service":    "telemetry",
		"monitoring": s.collector.Monitoring(),
	})
}
