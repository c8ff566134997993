package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"devstack/config"
	"devstack/internal/api"
	"devstack/internal/launcher"
	"devstack/internal/registry"
	"devstack/internal/supervisor"
	"devstack/internal/telemetry"

	"github.com/gin-gonic/gin"
)

// metricsRetention is how long the SQLite telemetry mirror keeps rows.
const metricsRetention = 7 * 24 * time.Hour

func main() {
	initDirectories()
	initLogging()

	log.Println("Starting DevStack control plane...")

	// Port registry + launcher
	reg := registry.New(config.PortsFile, config.PortRangeStart, config.PortRangeEnd)

	l := launcher.New(reg, config.LaunchScript)
	l.DiscoveryTimeout = config.DiscoveryTimeout
	l.RefreshURL = config.RefreshURL
	l.LaunchLog = config.LaunchLog

	// Service supervisor
	services, err := supervisor.LoadServices(config.ServicesFile)
	if err != nil {
		log.Fatalf("Failed to load services config: %v", err)
	}
	sup := supervisor.New(services)

	// Telemetry: SQLite mirror is best-effort, in-memory rings always work
	store, err := telemetry.OpenStore(config.MetricsDB, metricsRetention)
	if err != nil {
		log.Printf("Warning: telemetry store unavailable: %v", err)
		store = nil
	}
	metrics := telemetry.NewMetrics()
	collector := telemetry.New(projectSubjects{l}, store, metrics)
	collector.StartMonitoring()

	server := api.NewServer(l, reg, sup, collector, metrics)

	srv := &http.Server{
		Addr:    ":" + config.HTTPPort,
		Handler: server.Router(),
	}
	srvErrCh := make(chan error, 1)
	go func() {
		log.Printf("Control plane listening on :%s", config.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v. Shutting down...", sig)
	case err := <-srvErrCh:
		log.Printf("Server error: %v. Shutting down...", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv.Shutdown(ctx)
	collector.StopMonitoring()
	sup.Shutdown()
	l.Shutdown(ctx)
	if store != nil {
		store.Close()
	}

	log.Println("DevStack exit.")
}

// projectSubjects adapts the launcher's running-project table to the
// telemetry sampler.
type projectSubjects struct {
	l *launcher.Launcher
}

func (p projectSubjects) Subjects() []telemetry.Subject {
	running := p.l.Status()
	subjects := make([]telemetry.Subject, 0, len(running))
	for _, project := range running {
		subjects = append(subjects, telemetry.Subject{
			ID:  project.Name,
			Pid: project.Pid,
		})
	}
	return subjects
}

func initDirectories() {
	dirs := []string{
		config.DataRoot,
		filepath.Dir(config.LogFile),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("Warning: failed to create directory %s: %v", dir, err)
		}
	}
}

func initLogging() {
	if config.LogFile == "" {
		return
	}

	logFile, err := os.OpenFile(config.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Printf("Warning: failed to open log file: %v, using stdout", err)
		return
	}

	log.SetOutput(logFile)
	gin.DefaultWriter = logFile
	gin.DefaultErrorWriter = logFile
}
