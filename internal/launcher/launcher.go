package launcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"devstack/internal/proc"
	"devstack/internal/registry"
)

var (
	ErrProjectNotFound   = errors.New("project not found")
	ErrProjectNotRunning = errors.New("project is not running")
	ErrLaunchTimeout     = errors.New("no port discovered before timeout")
	ErrCleanupPartial    = errors.New("cleanup partially failed")
)

// PidFileName is the marker a project's start command writes its own pid
// to, enabling fallback port discovery when no PORT line is announced.
const PidFileName = ".pid"

// Project is a tracked running project.
type Project struct {
	Path      string    `json:"path"`
	Name      string    `json:"project_name"`
	Port      int       `json:"port"`
	URL       string    `json:"url"`
	Pid       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`

	cmd       *proc.JobCmd
	allocated int // port recorded in the registry, released on stop
}

// Launcher starts project processes, discovers their listening ports and
// tracks the running set. One entry per project path; a second launch for
// a tracked path returns the existing URL.
type Launcher struct {
	Registry         *registry.Registry
	LaunchScript     string
	DiscoveryTimeout time.Duration
	RefreshURL       string
	LaunchLog        string

	mu        sync.RWMutex
	running   map[string]*Project
	launching map[string]bool
}

func New(reg *registry.Registry, launchScript string) *Launcher {
	return &Launcher{
		Registry:         reg,
		LaunchScript:     launchScript,
		DiscoveryTimeout: 30 * time.Second,
		running:          make(map[string]*Project),
		launching:        make(map[string]bool),
	}
}

// Launch starts the project at projectPath unless it is already running.
// The spawn and port discovery happen asynchronously; when the launch has
// not completed yet, pending=true is returned and callers learn the URL
// from a later Status call.
func (l *Launcher) Launch(projectPath string) (url string, pending bool, err error) {
	projectPath = filepath.Clean(projectPath)

	if info, statErr := os.Stat(projectPath); statErr != nil || !info.IsDir() {
		return "", false, ErrProjectNotFound
	}

	l.mu.Lock()
	if p, ok := l.running[projectPath]; ok {
		l.mu.Unlock()
		return p.URL, false, nil
	}
	if l.launching[projectPath] {
		// A concurrent launch is already in flight; don't spawn a second
		// process for the same path.
		l.mu.Unlock()
		return "", true, nil
	}
	l.launching[projectPath] = true
	l.mu.Unlock()

	go l.runProject(projectPath)

	// Give fast projects a moment to announce their port so the common
	// case returns a URL synchronously.
	time.Sleep(500 * time.Millisecond)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.running[projectPath]; ok {
		return p.URL, false, nil
	}
	return "", true, nil
}

// runProject spawns the start command and performs two-tier port
// discovery: the PORT:<n> announcement on stdout, then the pid-marker
// fallback. On failure the launch is abandoned and only logged.
func (l *Launcher) runProject(projectPath string) {
	defer func() {
		l.mu.Lock()
		delete(l.launching, projectPath)
		l.mu.Unlock()
	}()

	allocated, err := l.Registry.Allocate(projectPath)
	if err != nil {
		l.logLaunchFailure(projectPath, fmt.Sprintf("port allocation failed: %v", err))
		return
	}

	cmd := proc.NewJobCmd(l.LaunchScript, projectPath)
	cmd.Dir = projectPath
	cmd.Env = append(os.Environ(), fmt.Sprintf("PORT=%d", allocated))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		l.logLaunchFailure(projectPath, fmt.Sprintf("stdout pipe failed: %v", err))
		return
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		l.logLaunchFailure(projectPath, fmt.Sprintf("start command failed: %v", err))
		return
	}

	port, ok := scanForPort(stdout, l.DiscoveryTimeout)
	if !ok {
		// Heterogeneous start commands can't all be trusted to announce;
		// ask the OS which port the project's own pid is listening on.
		port, err = portFromPidFile(projectPath)
		if err != nil {
			l.logLaunchFailure(projectPath, fmt.Sprintf("%v (fallback: %v)", ErrLaunchTimeout, err))
			go func() { cmd.Wait() }()
			return
		}
		log.Printf("Fallback port discovery for %s: %d", projectPath, port)
	}

	project := &Project{
		Path:      projectPath,
		Name:      filepath.Base(projectPath),
		Port:      port,
		URL:       fmt.Sprintf("http://localhost:%d", port),
		Pid:       cmd.Process.Pid,
		StartTime: time.Now(),
		cmd:       cmd,
		allocated: allocated,
	}

	l.mu.Lock()
	l.running[projectPath] = project
	l.mu.Unlock()

	// Reap the start command when it exits so it never zombies.
	go func() { cmd.Wait() }()

	log.Printf("Launched project %s at %s", projectPath, project.URL)
	l.notifyRefresh()
}

// Stop terminates a running project. Steps run best-effort in order:
// kill the pid from the marker file, remove the marker, release the port,
// drop the table entry, notify the listing regenerator. Failures are
// collected, not short-circuited.
func (l *Launcher) Stop(projectPath string) error {
	projectPath = filepath.Clean(projectPath)

	l.mu.Lock()
	project, ok := l.running[projectPath]
	if !ok {
		l.mu.Unlock()
		return ErrProjectNotRunning
	}
	delete(l.running, projectPath)
	l.mu.Unlock()

	var failures []string

	if err := l.killProject(project); err != nil {
		failures = append(failures, fmt.Sprintf("kill: %v", err))
	}

	if err := l.Registry.Release(projectPath, project.allocated); err != nil {
		// Leaked until the project's next allocation reclaims it.
		failures = append(failures, fmt.Sprintf("release port %d: %v", project.allocated, err))
	}

	l.notifyRefresh()

	if len(failures) > 0 {
		return fmt.Errorf("%w: %v", ErrCleanupPartial, failures)
	}
	log.Printf("Stopped project %s", projectPath)
	return nil
}

// killProject terminates the project's process, preferring the pid the
// project wrote to its marker file over the start command we spawned.
func (l *Launcher) killProject(project *Project) error {
	pidFile := filepath.Join(project.Path, PidFileName)

	data, err := os.ReadFile(pidFile)
	if err == nil {
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil {
			if err := proc.Terminate(pid); err != nil {
				return fmt.Errorf("terminate pid %d: %w", pid, err)
			}
		}
		if err := os.Remove(pidFile); err != nil {
			return fmt.Errorf("remove pid marker: %w", err)
		}
		return nil
	}

	// No marker; fall back to the process handle we hold.
	if project.cmd != nil && project.cmd.Process != nil {
		return project.cmd.Process.Kill()
	}
	return nil
}

// Status returns a snapshot of the running-project table.
func (l *Launcher) Status() map[string]Project {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Project, len(l.running))
	for path, p := range l.running {
		out[path] = *p
	}
	return out
}

// Shutdown kills every tracked project and releases its port so that
// terminating the platform leaves no orphans or leaked reservations.
// Each project's cleanup runs under its own short timeout; failures are
// logged, never retried.
func (l *Launcher) Shutdown(ctx context.Context) {
	l.mu.Lock()
	projects := make([]*Project, 0, len(l.running))
	for _, p := range l.running {
		projects = append(projects, p)
	}
	l.running = make(map[string]*Project)
	l.mu.Unlock()

	for _, project := range projects {
		done := make(chan struct{})
		go func(p *Project) {
			defer close(done)
			if err := l.killProject(p); err != nil {
				log.Printf("Error cleaning up project %s: %v", p.Path, err)
			}
			if err := l.Registry.Release(p.Path, p.allocated); err != nil {
				log.Printf("Error releasing port for project %s: %v", p.Path, err)
			}
		}(project)

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			log.Printf("Cleanup timed out for project %s", project.Path)
		case <-ctx.Done():
			log.Printf("Shutdown context cancelled, abandoning cleanup")
			return
		}
	}
}

// notifyRefresh pings the external project-listing regenerator so user
// visible status stays consistent. Fire-and-forget.
func (l *Launcher) notifyRefresh() {
	if l.RefreshURL == "" {
		return
	}
	go func() {
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Post(l.RefreshURL, "application/json", nil)
		if err != nil {
			log.Printf("Error regenerating projects: %v", err)
			return
		}
		resp.Body.Close()
	}()
}

// logLaunchFailure records an abandoned launch both to the process log
// and to the persistent launch log for later diagnosis. The original
// caller already received an in-progress response and is never told.
func (l *Launcher) logLaunchFailure(projectPath, msg string) {
	line := fmt.Sprintf("Failed to launch project %s: %s", projectPath, msg)
	log.Print(line)

	if l.LaunchLog == "" {
		return
	}
	f, err := os.OpenFile(l.LaunchLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s - %s\n", time.Now().Format(time.RFC3339), line)
}
