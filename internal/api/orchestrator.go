package api

import (
	"errors"
	"net/http"
	"time"

	"devstack/internal/supervisor"

	"github.com/gin-gonic/gin"
)

func (s *Server) serviceAction(c *gin.Context, verb string, fn func(string) error) {
	name := c.Param("name")
	if err := fn(name); err != nil {
		if errors.Is(err, supervisor.ErrServiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown service: " + name})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": verb, "service": name})
}

// StartServiceHandler handles POST /orchestrator/start/:name.
func (s *Server) StartServiceHandler(c *gin.Context) {
	s.serviceAction(c, "started", s.supervisor.Start)
}

// StopServiceHandler handles POST /orchestrator/stop/:name.
func (s *Server) StopServiceHandler(c *gin.Context) {
	s.serviceAction(c, "stopped", s.supervisor.Stop)
}

// RestartServiceHandler handles POST /orchestrator/restart/:name.
func (s *Server) RestartServiceHandler(c *gin.Context) {
	s.serviceAction(c, "restarted", s.supervisor.Restart)
}

func fleetResults(results map[string]error) (gin.H, bool) {
	out := gin.H{}
	allOK := true
	for name, err := range results {
		if err != nil {
			out[name] = gin.H{"success": false, "error": err.Error()}
			allOK = false
			continue
		}
		out[name] = gin.H{"success": true}
	}
	return out, allOK
}

// StartAllHandler handles POST /orchestrator/start-all: ordered start of
// the whole fleet, monitoring included. Partial failure is 207-style: the
// body carries per-service results.
func (s *Server) StartAllHandler(c *gin.Context) {
	results, allOK := fleetResults(s.supervisor.StartAll())
	status := http.StatusOK
	if !allOK {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"results": results})
}

// StopAllHandler handles POST /orchestrator/stop-all.
func (s *Server) StopAllHandler(c *gin.Context) {
	results, allOK := fleetResults(s.supervisor.StopAll())
	status := http.StatusOK
	if !allOK {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"results": results})
}

// ServicesStatusHandler handles GET /orchestrator/status.
func (s *Server) ServicesStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": s.supervisor.StatusAll()})
}

// OverviewHandler handles GET /orchestrator/overview: the service fleet
// plus a telemetry summary in one operator view.
func (s *Server) OverviewHandler(c *gin.Context) {
	overview := s.supervisor.Overview()

	resp := gin.H{
		"services":  overview.Services,
		"summary":   overview.Summary,
		"timestamp": overview.Time,
	}
	if s.collector != nil {
		resp["telemetry"] = s.collector.Summary(5 * time.Minute)
	}
	c.JSON(http.StatusOK, resp)
}

// OrchestratorHealthHandler handles GET /orchestrator/health.
func (s *Server) OrchestratorHealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP", "service": "orchestrator"})
}
