package telemetry

import "time"

// SubjectSummary condenses one subject's samples over the report window.
type SubjectSummary struct {
	Current   Sample  `json:"current"`
	AvgCPU    float64 `json:"avg_cpu_percent"`
	AvgMemory uint64  `json:"avg_memory_usage"`
	Samples   int     `json:"samples"`
}

// LanguageStats is the per-language execution breakdown.
type LanguageStats struct {
	Total       int     `json:"total"`
	Errors      int     `json:"errors"`
	AvgDuration float64 `json:"avg_duration_s"`
}

// ExecutionSummary aggregates executions over the report window.
type ExecutionSummary struct {
	Total       int                      `json:"total"`
	Success     int                      `json:"success"`
	Errors      int                      `json:"errors"`
	ErrorRate   float64                  `json:"error_rate"`
	AvgDuration float64                  `json:"avg_duration_s"`
	ByLanguage  map[string]LanguageStats `json:"by_language"`
}

// Report is the full telemetry summary served to operators.
type Report struct {
	Window      string                    `json:"window"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Subjects    map[string]SubjectSummary `json:"subjects"`
	Executions  ExecutionSummary          `json:"executions"`
	Alerts      []Alert                   `json:"alerts"`
	System      *SystemSample             `json:"system,omitempty"`
}

// Summary aggregates the rings over the given window. Reads only the
// in-memory rings; the SQLite mirror is never consulted.
func (c *Collector) Summary(window time.Duration) Report {
	cutoff := time.Now().Add(-window)

	c.mu.Lock()
	samples := make(map[string][]Sample, len(c.samples))
	for id, r := range c.samples {
		samples[id] = r.all()
	}
	executions := c.executions.all()
	sys, haveSys := c.system.last()
	c.mu.Unlock()

	report := Report{
		Window:      window.String(),
		GeneratedAt: time.Now().UTC(),
		Subjects:    make(map[string]SubjectSummary),
		Executions: ExecutionSummary{
			ByLanguage: make(map[string]LanguageStats),
		},
	}
	if haveSys {
		report.System = &sys
	}

	for id, subjectSamples := range samples {
		var (
			cpu     float64
			mem     uint64
			count   int
			current Sample
		)
		for _, sm := range subjectSamples {
			if sm.Timestamp.Before(cutoff) {
				continue
			}
			cpu += sm.CPUPercent
			mem += sm.MemoryUsage
			count++
			current = sm // rings are oldest-first, last wins
		}
		if count == 0 {
			continue
		}
		report.Subjects[id] = SubjectSummary{
			Current:   current,
			AvgCPU:    cpu / float64(count),
			AvgMemory: mem / uint64(count),
			Samples:   count,
		}
	}

	var totalDur float64
	for _, em := range executions {
		if em.EndTime.Before(cutoff) {
			continue
		}
		report.Executions.Total++
		totalDur += em.Duration.Seconds()
		if em.Status == "success" {
			report.Executions.Success++
		} else {
			report.Executions.Errors++
		}

		ls := report.Executions.ByLanguage[em.Language]
		ls.AvgDuration = (ls.AvgDuration*float64(ls.Total) + em.Duration.Seconds()) / float64(ls.Total+1)
		ls.Total++
		if em.Status != "success" {
			ls.Errors++
		}
		report.Executions.ByLanguage[em.Language] = ls
	}
	if report.Executions.Total > 0 {
		report.Executions.ErrorRate = float64(report.Executions.Errors) / float64(report.Executions.Total)
		report.Executions.AvgDuration = totalDur / float64(report.Executions.Total)
	}

	report.Alerts = c.Alerts(window)
	return report
}
