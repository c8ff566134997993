package supervisor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServiceConfig describes one managed auxiliary service. Ports and
// commands are fixed at configuration time, never discovered.
type ServiceConfig struct {
	Name    string   `yaml:"name"`
	Port    int      `yaml:"port"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// DefaultServices is the platform's auxiliary fleet in start order:
// telemetry first so everything later can report into it, caching next,
// execution sandboxes after, UI capture last.
func DefaultServices() []ServiceConfig {
	return []ServiceConfig{
		{Name: "telemetry_monitor", Port: 5006, Command: "python3", Args: []string{"telemetry_monitor.py"}},
		{Name: "build_cache_proxy", Port: 5003, Command: "python3", Args: []string{"build_cache_proxy.py"}},
		{Name: "sandbox_executor", Port: 5001, Command: "python3", Args: []string{"sandbox_executor.py"}},
		{Name: "microvm_manager", Port: 5002, Command: "python3", Args: []string{"microvm_manager.py"}},
		{Name: "cloud_runners", Port: 5004, Command: "python3", Args: []string{"cloud_runners.py"}},
		{Name: "screenshot_service", Port: 5005, Command: "python3", Args: []string{"screenshot_service.py"}},
	}
}

// LoadServices reads services.yml, falling back to the default fleet
// when the file does not exist.
func LoadServices(path string) ([]ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultServices(), nil
		}
		return nil, fmt.Errorf("read services config: %w", err)
	}

	var doc struct {
		Services []ServiceConfig `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse services config: %w", err)
	}
	if len(doc.Services) == 0 {
		return DefaultServices(), nil
	}
	return doc.Services, nil
}
