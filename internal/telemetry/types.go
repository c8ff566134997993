package telemetry

import "time"

// Sample is one resource measurement for a tracked subject. Samples are
// append-only; once taken they are never mutated.
type Sample struct {
	SubjectID   string    `json:"subject_id"`
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryUsage uint64    `json:"memory_usage"`
	MemoryLimit uint64    `json:"memory_limit"`
	NetworkRx   uint64    `json:"network_rx"`
	NetworkTx   uint64    `json:"network_tx"`
	BlockRead   uint64    `json:"block_read"`
	BlockWrite  uint64    `json:"block_write"`
}

// SystemSample is one host-wide measurement.
type SystemSample struct {
	Timestamp       time.Time `json:"timestamp"`
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryPercent   float64   `json:"memory_percent"`
	MemoryAvailable uint64    `json:"memory_available"`
	DiskPercent     float64   `json:"disk_percent"`
	DiskFree        uint64    `json:"disk_free"`
}

// ExecutionMetrics is a completed-execution record posted by execution
// backends.
type ExecutionMetrics struct {
	ExecutionID  string        `json:"execution_id"`
	Language     string        `json:"language"`
	Platform     string        `json:"platform"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`
	Status       string        `json:"status"` // "success" or "error"
	MemoryPeak   uint64        `json:"memory_peak"`
	CPUPeak      float64       `json:"cpu_peak"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// Severity of an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert is raised by threshold evaluation. Append-only; expires only by
// ring buffer eviction.
type Alert struct {
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Thresholds drive alert evaluation.
type Thresholds struct {
	CPUHigh          float64       // percent
	MemoryHigh       float64       // fraction of limit
	ExecutionTimeout time.Duration // max acceptable execution duration
	ErrorRateHigh    float64       // fraction over the rolling window
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUHigh:          80.0,
		MemoryHigh:       0.9,
		ExecutionTimeout: 5 * time.Minute,
		ErrorRateHigh:    0.1,
	}
}

var severityByType = map[string]Severity{
	"high_cpu":          SeverityWarning,
	"high_memory":       SeverityWarning,
	"execution_timeout": SeverityError,
	"high_error_rate":   SeverityCritical,
}

func alertSeverity(alertType string) Severity {
	if sev, ok := severityByType[alertType]; ok {
		return sev
	}
	return SeverityInfo
}
