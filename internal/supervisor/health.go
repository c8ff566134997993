package supervisor

import (
	"log"
	"time"
)

// maxRestartBackoff caps the damping applied to a service that keeps
// failing its automatic restarts.
const maxRestartBackoff = 5 * time.Minute

// StartMonitoring launches the background health loop. Idempotent.
func (s *Supervisor) StartMonitoring() {
	s.mu.Lock()
	if s.monitoring {
		s.mu.Unlock()
		return
	}
	s.monitoring = true
	s.monitorStop = make(chan struct{})
	s.mu.Unlock()

	s.monitorWG.Add(1)
	go s.monitorLoop()
	log.Printf("Started service monitoring")
}

// StopMonitoring stops the health loop and waits for it to exit.
func (s *Supervisor) StopMonitoring() {
	s.mu.Lock()
	if !s.monitoring {
		s.mu.Unlock()
		return
	}
	s.monitoring = false
	close(s.monitorStop)
	s.mu.Unlock()

	s.monitorWG.Wait()
	log.Printf("Stopped service monitoring")
}

func (s *Supervisor) monitorLoop() {
	defer s.monitorWG.Done()

	ticker := time.NewTicker(s.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.monitorStop:
			return
		case <-ticker.C:
			s.checkServices()
		}
	}
}

// checkServices applies the two-tier check to every service that should
// be running: a dead process handle catches hard crashes, an unreachable
// health endpoint catches soft hangs. Either triggers a restart. Services
// whose automatic restart failed stay on the retry list and get another
// attempt once their backoff window passes; only Stop removes a service
// from the loop's care.
func (s *Supervisor) checkServices() {
	s.mu.Lock()
	type candidate struct {
		name   string
		port   int
		alive  bool
		failed bool
	}
	candidates := make([]candidate, 0, len(s.order))
	now := time.Now()
	for _, name := range s.order {
		svc := s.services[name]
		if svc.status != StatusRunning && svc.status != StatusFailed {
			continue
		}
		if now.Before(svc.nextRestartAt) {
			// Still inside this service's restart backoff window.
			continue
		}
		candidates = append(candidates, candidate{
			name:   name,
			port:   svc.cfg.Port,
			alive:  svc.alive(),
			failed: svc.status == StatusFailed,
		})
	}
	s.mu.Unlock()

	for _, c := range candidates {
		if c.failed {
			log.Printf("Service %s failed earlier, retrying...", c.name)
			s.recordRestart(c.name, s.Start(c.name))
			continue
		}
		if !c.alive {
			log.Printf("Service %s died, restarting...", c.name)
			s.recordRestart(c.name, s.Start(c.name))
			continue
		}
		if s.checkHealth(c.port) == HealthUnreachable {
			log.Printf("Service %s is unreachable, restarting...", c.name)
			s.recordRestart(c.name, s.Restart(c.name))
		}
	}
}

// recordRestart tracks the outcome of an automatic restart and arms an
// exponential backoff for services that fail repeatedly, so a service
// crashing on every boot cannot restart once per tick forever.
func (s *Supervisor) recordRestart(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[name]
	if !ok {
		return
	}
	svc.restartCount++
	if err == nil {
		svc.consecutiveFails = 0
		svc.nextRestartAt = time.Time{}
		return
	}

	svc.consecutiveFails++
	backoff := time.Second << uint(svc.consecutiveFails)
	if backoff > maxRestartBackoff {
		backoff = maxRestartBackoff
	}
	svc.nextRestartAt = time.Now().Add(backoff)
	log.Printf("Service %s restart failed (%d consecutive), next attempt after %v: %v",
		name, svc.consecutiveFails, backoff, err)
}

// Overview is the aggregate picture served to operators.
type Overview struct {
	Services map[string]ServiceStatus `json:"services"`
	Summary  OverviewSummary          `json:"summary"`
	Time     time.Time                `json:"timestamp"`
}

type OverviewSummary struct {
	TotalServices    int  `json:"total_services"`
	RunningServices  int  `json:"running_services"`
	HealthyServices  int  `json:"healthy_services"`
	MonitoringActive bool `json:"monitoring_active"`
}

// Overview aggregates per-service status into the operator view.
func (s *Supervisor) Overview() Overview {
	statuses := s.StatusAll()

	summary := OverviewSummary{TotalServices: len(statuses)}
	for _, st := range statuses {
		if st.Status == StatusRunning {
			summary.RunningServices++
		}
		if st.Health == HealthHealthy {
			summary.HealthyServices++
		}
	}

	s.mu.Lock()
	summary.MonitoringActive = s.monitoring
	s.mu.Unlock()

	return Overview{
		Services: statuses,
		Summary:  summary,
		Time:     time.Now(),
	}
}
