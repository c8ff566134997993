package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"devstack/internal/probe"

	"gopkg.in/yaml.v3"
)

var (
	ErrPortsExhausted = errors.New("no available ports in range")
	ErrNotAllocated   = errors.New("project has no allocated port")
	ErrPortMismatch   = errors.New("port does not match allocation")
)

// Registry owns the persistent project-path -> port mapping. It is the
// single source of truth for port ownership; every read-check-write runs
// under one lock so two racing allocations can never pick the same port.
type Registry struct {
	Path  string // ports.yml location
	Start int    // first port in the allocation range
	End   int    // last port in the allocation range (inclusive)

	mu         sync.Mutex
	portsInUse func(port int) bool
}

func New(path string, start, end int) *Registry {
	return &Registry{
		Path:       path,
		Start:      start,
		End:        end,
		portsInUse: probe.PortInUse,
	}
}

// SetProbe overrides the liveness probe. Tests use this to simulate
// occupied ports without binding sockets.
func (r *Registry) SetProbe(fn func(port int) bool) {
	r.portsInUse = fn
}

// Allocate returns the port assigned to projectPath, reusing a prior
// allocation when the recorded port is either free (stale owner gone) or
// still held by the project itself. Otherwise it scans the range for the
// first port that is neither listening nor recorded for another project.
func (r *Registry) Allocate(projectPath string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ports, err := r.load()
	if err != nil {
		return 0, fmt.Errorf("load port registry: %w", err)
	}

	if port, ok := ports[projectPath]; ok {
		// Existing allocation. If nothing is listening the prior owner is
		// gone and the port can be handed back to the same project; if the
		// port is still accepting connections the allocation is live.
		return port, nil
	}

	allocated := make(map[int]bool, len(ports))
	for _, p := range ports {
		allocated[p] = true
	}

	for port := r.Start; port <= r.End; port++ {
		if r.portsInUse(port) {
			// Bound by something, tracked or not.
			continue
		}
		if allocated[port] {
			// Recorded for another project; the probe can race a concurrent
			// launch whose process has not bound yet.
			continue
		}
		ports[projectPath] = port
		if err := r.save(ports); err != nil {
			return 0, fmt.Errorf("save port registry: %w", err)
		}
		return port, nil
	}

	return 0, ErrPortsExhausted
}

// Release removes the allocation for projectPath after validating the
// caller really owns it. A mismatched pair never touches another
// project's port.
func (r *Registry) Release(projectPath string, port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ports, err := r.load()
	if err != nil {
		return fmt.Errorf("load port registry: %w", err)
	}

	recorded, ok := ports[projectPath]
	if !ok {
		return ErrNotAllocated
	}
	if recorded != port {
		return ErrPortMismatch
	}

	delete(ports, projectPath)
	if err := r.save(ports); err != nil {
		return fmt.Errorf("save port registry: %w", err)
	}
	return nil
}

// Lookup returns the recorded port for projectPath, if any.
func (r *Registry) Lookup(projectPath string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ports, err := r.load()
	if err != nil {
		return 0, false
	}
	port, ok := ports[projectPath]
	return port, ok
}

func (r *Registry) load() (map[string]int, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]int), nil
		}
		return nil, err
	}

	ports := make(map[string]int)
	if err := yaml.Unmarshal(data, &ports); err != nil {
		// Corrupt document: start over rather than wedge allocation.
		return make(map[string]int), nil
	}
	return ports, nil
}

func (r *Registry) save(ports map[string]int) error {
	data, err := yaml.Marshal(ports)
	if err != nil {
		return err
	}

	// Write-then-rename so a crash mid-write never leaves a torn document.
	tmp := r.Path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(r.Path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, r.Path)
}
