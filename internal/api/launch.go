package api

import (
	"errors"
	"net/http"

	"devstack/internal/launcher"
	"devstack/internal/registry"

	"github.com/gin-gonic/gin"
)

// LaunchHandler handles GET /launch?project=<path>. A completed launch
// returns the project URL; a launch still discovering its port returns
// 202 and the caller polls /status.
func (s *Server) LaunchHandler(c *gin.Context) {
	projectPath := c.Query("project")
	if projectPath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing project parameter"})
		return
	}

	url, pending, err := s.launcher.Launch(projectPath)
	if err != nil {
		if errors.Is(err, launcher.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if pending {
		c.JSON(http.StatusAccepted, gin.H{
			"status":  "launching",
			"project": projectPath,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "running",
		"project": projectPath,
		"url":     url,
	})
}

// StopHandler handles GET /stop?project=<path>.
func (s *Server) StopHandler(c *gin.Context) {
	projectPath := c.Query("project")
	if projectPath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing project parameter"})
		return
	}

	if err := s.launcher.Stop(projectPath); err != nil {
		if errors.Is(err, launcher.ErrProjectNotRunning) {
			c.JSON(http.StatusNotFound, gin.H{"error": "project is not running"})
			return
		}
		// Partial cleanup: the entry is gone but some step failed.
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "project": projectPath})
}

// StatusHandler handles GET /status: the running-project table.
func (s *Server) StatusHandler(c *gin.Context) {
	running := s.launcher.Status()
	c.JSON(http.StatusOK, gin.H{
		"running": running,
		"count":   len(running),
	})
}

// AllocatePortOption is the POST /allocate request body.
type AllocatePortOption struct {
	ProjectPath string `json:"project_path" binding:"required"`
}

// ReleasePortOption is the POST /release-port request body.
type ReleasePortOption struct {
	ProjectPath string `json:"project_path" binding:"required"`
	Port        int    `json:"port" binding:"required"`
}

// AllocatePortHandler handles POST /allocate. Allocation is idempotent
// per project path.
func (s *Server) AllocatePortHandler(c *gin.Context) {
	var opt AllocatePortOption
	if err := c.ShouldBindJSON(&opt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	port, err := s.registry.Allocate(opt.ProjectPath)
	if err != nil {
		if errors.Is(err, registry.ErrPortsExhausted) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no available ports"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"project_path": opt.ProjectPath,
		"port":         port,
	})
}

// ReleasePortHandler handles POST /release-port. The recorded (path,
// port) pair must match exactly.
func (s *Server) ReleasePortHandler(c *gin.Context) {
	var opt ReleasePortOption
	if err := c.ShouldBindJSON(&opt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.registry.Release(opt.ProjectPath, opt.Port); err != nil {
		switch {
		case errors.Is(err, registry.ErrNotAllocated):
			c.JSON(http.StatusNotFound, gin.H{"error": "no allocation for project"})
		case errors.Is(err, registry.ErrPortMismatch):
			c.JSON(http.StatusBadRequest, gin.H{"error": "port does not match allocation"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "released",
		"project_path": opt.ProjectPath,
		"port":         opt.Port,
	})
}
