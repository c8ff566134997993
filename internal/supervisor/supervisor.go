package supervisor

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"devstack/internal/proc"
)

var (
	ErrServiceNotFound    = errors.New("unknown service")
	ErrServiceStartFailed = errors.New("service failed to start")
)

// Status of a managed service. Transitions are driven only by the
// supervisor's own operations.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
)

// Health of a running service as seen by the liveness query.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthUnhealthy   Health = "unhealthy"
	HealthUnreachable Health = "unreachable"
	HealthDown        Health = "down"
)

// ServiceStatus is the externally visible state of one service.
type ServiceStatus struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Port   int    `json:"port"`
	Pid    int    `json:"pid,omitempty"`
	Health Health `json:"health"`
}

type service struct {
	cfg    ServiceConfig
	cmd    *proc.JobCmd
	status Status

	waitCh chan struct{} // closed when the process exits

	// Restart-storm damping for the health loop
	restartCount     int
	consecutiveFails int
	nextRestartAt    time.Time
}

func (s *service) alive() bool {
	if s.cmd == nil || s.cmd.Process == nil {
		return false
	}
	select {
	case <-s.waitCh:
		return false
	default:
		return true
	}
}

// Supervisor starts, stops and health-checks the fixed fleet of
// auxiliary services. The service table lives for the program's
// lifetime; only statuses toggle.
type Supervisor struct {
	StartGrace     time.Duration // distinguish started from crashed-immediately
	StopTimeout    time.Duration // graceful wait before SIGKILL
	Stagger        time.Duration // delay between startAll spawns
	HealthInterval time.Duration // health loop period
	HealthTimeout  time.Duration // liveness query timeout

	mu       sync.Mutex
	services map[string]*service
	order    []string

	monitorStop chan struct{}
	monitorWG   sync.WaitGroup
	monitoring  bool
}

func New(configs []ServiceConfig) *Supervisor {
	s := &Supervisor{
		StartGrace:     2 * time.Second,
		StopTimeout:    10 * time.Second,
		Stagger:        2 * time.Second,
		HealthInterval: 30 * time.Second,
		HealthTimeout:  5 * time.Second,
		services:       make(map[string]*service, len(configs)),
	}
	for _, cfg := range configs {
		s.services[cfg.Name] = &service{cfg: cfg, status: StatusStopped}
		s.order = append(s.order, cfg.Name)
	}
	return s
}

func (s *Supervisor) lookup(name string) (*service, error) {
	svc, ok := s.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return svc, nil
}

// Start spawns the named service. Starting an already live service is a
// no-op success. After a short grace period the process must still be
// alive, otherwise the start is reported as failed.
func (s *Supervisor) Start(name string) error {
	s.mu.Lock()
	svc, err := s.lookup(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if svc.alive() {
		s.mu.Unlock()
		return nil
	}

	cmd := proc.NewJobCmd(svc.cfg.Command, svc.cfg.Args...)
	waitCh := make(chan struct{})
	if err := cmd.Start(); err != nil {
		svc.status = StatusFailed
		s.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", ErrServiceStartFailed, name, err)
	}
	svc.cmd = cmd
	svc.waitCh = waitCh
	go func() {
		cmd.Wait()
		close(waitCh)
	}()
	s.mu.Unlock()

	// Crash-on-boot shows up within the grace period.
	select {
	case <-waitCh:
		s.mu.Lock()
		svc.status = StatusFailed
		s.mu.Unlock()
		return fmt.Errorf("%w: %s exited immediately", ErrServiceStartFailed, name)
	case <-time.After(s.StartGrace):
	}

	s.mu.Lock()
	svc.status = StatusRunning
	svc.consecutiveFails = 0
	svc.nextRestartAt = time.Time{}
	s.mu.Unlock()

	log.Printf("Started service: %s", name)
	return nil
}

// Stop terminates the named service gracefully, escalating to a hard
// kill after the stop timeout. Stopping a non-running service succeeds.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	svc, err := s.lookup(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !svc.alive() {
		svc.status = StatusStopped
		svc.cmd = nil
		s.mu.Unlock()
		return nil
	}
	cmd := svc.cmd
	waitCh := svc.waitCh
	s.mu.Unlock()

	if err := proc.Terminate(cmd.Process.Pid); err != nil {
		return fmt.Errorf("terminate %s: %w", name, err)
	}

	select {
	case <-waitCh:
	case <-time.After(s.StopTimeout):
		cmd.Process.Kill()
		<-waitCh
	}

	s.mu.Lock()
	svc.status = StatusStopped
	svc.cmd = nil
	s.mu.Unlock()

	log.Printf("Stopped service: %s", name)
	return nil
}

// Restart is stop-then-start, short-circuiting on a stop failure.
func (s *Supervisor) Restart(name string) error {
	if err := s.Stop(name); err != nil {
		return err
	}
	time.Sleep(1 * time.Second)
	return s.Start(name)
}

// StartAll starts every service in dependency order with a stagger delay
// between spawns, then begins health monitoring. Per-service results are
// returned; one failure does not stop the rest.
func (s *Supervisor) StartAll() map[string]error {
	results := make(map[string]error, len(s.order))
	for _, name := range s.order {
		err := s.Start(name)
		results[name] = err
		if err == nil {
			time.Sleep(s.Stagger)
		}
	}
	s.StartMonitoring()
	return results
}

// StopAll stops monitoring and then every service.
func (s *Supervisor) StopAll() map[string]error {
	s.StopMonitoring()

	results := make(map[string]error, len(s.order))
	for _, name := range s.order {
		results[name] = s.Stop(name)
	}
	return results
}

// Status reports one service, or ErrServiceNotFound.
func (s *Supervisor) Status(name string) (ServiceStatus, error) {
	s.mu.Lock()
	svc, err := s.lookup(name)
	if err != nil {
		s.mu.Unlock()
		return ServiceStatus{}, err
	}
	st := ServiceStatus{
		Name:   name,
		Status: svc.status,
		Port:   svc.cfg.Port,
		Health: HealthDown,
	}
	running := svc.alive()
	if running {
		st.Pid = svc.cmd.Process.Pid
	} else if svc.status == StatusRunning {
		st.Status = StatusStopped
	}
	port := svc.cfg.Port
	s.mu.Unlock()

	if running {
		st.Health = s.checkHealth(port)
	}
	return st, nil
}

// StatusAll reports every service keyed by name.
func (s *Supervisor) StatusAll() map[string]ServiceStatus {
	out := make(map[string]ServiceStatus, len(s.order))
	for _, name := range s.order {
		st, err := s.Status(name)
		if err != nil {
			continue
		}
		out[name] = st
	}
	return out
}

// checkHealth issues the liveness query against the service's own
// health endpoint. The client is built per query so HealthTimeout can be
// tuned after construction.
func (s *Supervisor) checkHealth(port int) Health {
	client := &http.Client{Timeout: s.HealthTimeout}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/health", port))
	if err != nil {
		return HealthUnreachable
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return HealthHealthy
	}
	return HealthUnhealthy
}

// Shutdown stops monitoring and the whole fleet.
func (s *Supervisor) Shutdown() {
	s.StopAll()
}
