package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var (
	// Core configuration (environment variables)
	DataRoot string // data root directory
	HTTPPort string // API listen port

	// Port allocation range for launched projects
	PortRangeStart int
	PortRangeEnd   int

	// Launch behavior
	LaunchScript     string        // script that starts a project and prints PORT:<n>
	DiscoveryTimeout time.Duration // bounded wait for port discovery
	RefreshURL       string        // projects.json regenerator, notified fire-and-forget
)

// Derived paths (based on DataRoot)
var (
	LogFile      string // $DATA_ROOT/log/devstack.log
	LaunchLog    string // $DATA_ROOT/log/launch.log
	PortsFile    string // $DATA_ROOT/ports.yml
	ServicesFile string // $DATA_ROOT/services.yml
	MetricsDB    string // $DATA_ROOT/metrics.db
)

func init() {
	DataRoot = getEnv("DEVSTACK_DATA_ROOT", "data")
	HTTPPort = getEnv("DEVSTACK_HTTP_PORT", "6110")

	PortRangeStart = getEnvInt("DEVSTACK_PORT_START", 3000)
	PortRangeEnd = getEnvInt("DEVSTACK_PORT_END", 4000)

	LaunchScript = getEnv("DEVSTACK_LAUNCH_SCRIPT", "./launch_project.sh")
	DiscoveryTimeout = getEnvDuration("DEVSTACK_DISCOVERY_TIMEOUT", 30*time.Second)
	RefreshURL = getEnv("DEVSTACK_REFRESH_URL", "http://localhost:9111/regenerate-projects")

	// Derived paths
	LogFile = filepath.Join(DataRoot, "log", "devstack.log")
	LaunchLog = filepath.Join(DataRoot, "log", "launch.log")
	PortsFile = filepath.Join(DataRoot, "ports.yml")
	ServicesFile = filepath.Join(DataRoot, "services.yml")
	MetricsDB = filepath.Join(DataRoot, "metrics.db")
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
