package telemetry

import (
	"log"
	"sync"
	"time"
)

// Ring capacities. Samples are capped per subject so one busy workload
// cannot evict another's history. Eviction is silent; the SQLite mirror
// keeps longer history.
const (
	sampleRingSize    = 1000
	executionRingSize = 10000
	alertRingSize     = 100
)

// errorRateWindow is the trailing window the error-rate check evaluates,
// independent of how often the evaluation runs.
const errorRateWindow = time.Hour

// minExecutionsForRate is the floor below which the error-rate alert
// stays quiet, so two executions with one failure do not page anyone.
const minExecutionsForRate = 10

// Collector samples tracked subjects and the host, accepts execution
// reports, and evaluates alert thresholds. All reads are served from the
// in-memory rings.
type Collector struct {
	Interval      time.Duration // sampling loop period
	AlertInterval time.Duration // threshold evaluation period
	Thresholds    Thresholds

	lister  SubjectLister
	sampler Sampler
	store   *Store   // optional mirror
	metrics *Metrics // optional prometheus export

	mu         sync.Mutex
	samples    map[string]*ring[Sample] // one ring per subject
	system     *ring[SystemSample]
	executions *ring[ExecutionMetrics]
	alerts     *ring[Alert]
	lastSeen   map[string]time.Time // subject -> last sample time

	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
	started time.Time
}

// New builds a collector. store and metrics may be nil.
func New(lister SubjectLister, store *Store, metrics *Metrics) *Collector {
	return &Collector{
		Interval:      5 * time.Second,
		AlertInterval: 30 * time.Second,
		Thresholds:    DefaultThresholds(),
		lister:        lister,
		store:         store,
		metrics:       metrics,
		samples:       make(map[string]*ring[Sample]),
		system:        newRing[SystemSample](sampleRingSize),
		executions:    newRing[ExecutionMetrics](executionRingSize),
		alerts:        newRing[Alert](alertRingSize),
		lastSeen:      make(map[string]time.Time),
	}
}

// StartMonitoring launches the sampling and evaluation loops. Idempotent.
func (c *Collector) StartMonitoring() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.started = time.Now()
	c.stop = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(2)
	go c.sampleLoop()
	go c.alertLoop()
	log.Printf("Started telemetry monitoring")
}

// StopMonitoring halts both loops and waits for them to exit. Idempotent.
func (c *Collector) StopMonitoring() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.mu.Unlock()

	c.wg.Wait()
	log.Printf("Stopped telemetry monitoring")
}

// Monitoring reports whether the loops are running.
func (c *Collector) Monitoring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Collector) sampleLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sampleOnce()
		}
	}
}

// sampleOnce probes every current subject plus the host. A subject whose
// process vanished mid-probe is skipped; the launcher owns its removal.
func (c *Collector) sampleOnce() {
	subjects := c.lister.Subjects()
	if c.metrics != nil {
		c.metrics.SetActiveSubjects(len(subjects))
	}

	seen := make(map[string]bool, len(subjects))
	for _, sub := range subjects {
		seen[sub.ID] = true
		sm, err := c.sampler.SampleSubject(sub)
		if err != nil {
			continue
		}
		c.AddSample(sm)
	}

	if sys, err := c.sampler.SampleSystem(); err == nil {
		c.mu.Lock()
		c.system.push(sys)
		c.mu.Unlock()
	}

	// Drop prometheus series for subjects that went away.
	c.mu.Lock()
	for id := range c.lastSeen {
		if !seen[id] {
			delete(c.lastSeen, id)
			if c.metrics != nil {
				c.metrics.ForgetSubject(id)
			}
		}
	}
	c.mu.Unlock()
}

// AddSample records one subject measurement. The sampling loop is the
// usual producer; externally taken measurements are accepted too.
func (c *Collector) AddSample(sm Sample) {
	c.mu.Lock()
	r := c.samples[sm.SubjectID]
	if r == nil {
		r = newRing[Sample](sampleRingSize)
		c.samples[sm.SubjectID] = r
	}
	r.push(sm)
	c.lastSeen[sm.SubjectID] = sm.Timestamp
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ObserveSample(sm)
	}
	if c.store != nil {
		if err := c.store.SaveSample(sm); err != nil {
			log.Printf("Failed to persist sample for %s: %v", sm.SubjectID, err)
		}
	}
}

// RecordExecution ingests a completed execution report. An over-long
// execution raises its alert immediately rather than waiting for the
// next evaluation tick.
func (c *Collector) RecordExecution(em ExecutionMetrics) {
	if em.Duration == 0 && !em.EndTime.IsZero() {
		em.Duration = em.EndTime.Sub(em.StartTime)
	}

	c.mu.Lock()
	c.executions.push(em)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ObserveExecution(em)
	}
	if c.store != nil {
		if err := c.store.SaveExecution(em); err != nil {
			log.Printf("Failed to persist execution %s: %v", em.ExecutionID, err)
		}
	}

	if c.Thresholds.ExecutionTimeout > 0 && em.Duration > c.Thresholds.ExecutionTimeout {
		c.raise("execution_timeout", map[string]any{
			"execution_id": em.ExecutionID,
			"language":     em.Language,
			"duration_s":   em.Duration.Seconds(),
		})
	}
}

func (c *Collector) alertLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.AlertInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.EvaluateAlerts()
			if c.store != nil {
				if err := c.store.Purge(); err != nil {
					log.Printf("Telemetry purge failed: %v", err)
				}
			}
		}
	}
}

// EvaluateAlerts applies the resource thresholds to each subject's
// latest sample and the error-rate threshold to the trailing hour of
// executions.
func (c *Collector) EvaluateAlerts() {
	sampleCutoff := time.Now().Add(-c.AlertInterval)
	execCutoff := time.Now().Add(-errorRateWindow)

	c.mu.Lock()
	latest := make(map[string]Sample)
	for id, r := range c.samples {
		sm, ok := r.last()
		if !ok || sm.Timestamp.Before(sampleCutoff) {
			// Subject went quiet; nothing fresh to judge.
			continue
		}
		latest[id] = sm
	}
	var total, errs int
	for _, em := range c.executions.all() {
		if em.EndTime.Before(execCutoff) {
			continue
		}
		total++
		if em.Status != "success" {
			errs++
		}
	}
	c.mu.Unlock()

	for id, sm := range latest {
		if sm.CPUPercent > c.Thresholds.CPUHigh {
			c.raise("high_cpu", map[string]any{
				"subject_id":  id,
				"cpu_percent": sm.CPUPercent,
			})
		}
		if sm.MemoryLimit > 0 {
			ratio := float64(sm.MemoryUsage) / float64(sm.MemoryLimit)
			if ratio > c.Thresholds.MemoryHigh {
				c.raise("high_memory", map[string]any{
					"subject_id":   id,
					"memory_ratio": ratio,
				})
			}
		}
	}

	if total >= minExecutionsForRate {
		rate := float64(errs) / float64(total)
		if rate > c.Thresholds.ErrorRateHigh {
			c.raise("high_error_rate", map[string]any{
				"error_rate": rate,
				"total":      total,
				"errors":     errs,
			})
		}
	}
}

func (c *Collector) raise(alertType string, data map[string]any) {
	a := Alert{
		Type:      alertType,
		Severity:  alertSeverity(alertType),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	c.mu.Lock()
	c.alerts.push(a)
	c.mu.Unlock()

	log.Printf("ALERT [%s] %s: %v", a.Severity, a.Type, data)

	if c.metrics != nil {
		c.metrics.ObserveAlert(a)
	}
	if c.store != nil {
		if err := c.store.SaveAlert(a, alertType); err != nil {
			log.Printf("Failed to persist alert: %v", err)
		}
	}
}

// Alerts returns alerts raised within the window, oldest first.
func (c *Collector) Alerts(window time.Duration) []Alert {
	cutoff := time.Now().Add(-window)

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Alert, 0)
	for _, a := range c.alerts.all() {
		if a.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// SubjectSamples returns retained samples for one subject, oldest first.
func (c *Collector) SubjectSamples(id string) []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.samples[id]
	if r == nil {
		return []Sample{}
	}
	return r.all()
}
