package launcher

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// portAnnouncePrefix is the line a cooperating start command prints once
// its server has bound a port.
const portAnnouncePrefix = "PORT:"

// scanForPort reads stdout line-by-line until the PORT:<n> announcement
// appears, the stream ends, or the bounded wait expires.
func scanForPort(stdout io.Reader, timeout time.Duration) (int, bool) {
	found := make(chan int, 1)

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, portAnnouncePrefix) {
				continue
			}
			portStr := strings.TrimSpace(strings.TrimPrefix(line, portAnnouncePrefix))
			port, err := strconv.Atoi(portStr)
			if err != nil || port <= 0 {
				// Malformed announcement; stop reading rather than wait
				// for a second one that will never come.
				break
			}
			found <- port
			return
		}
		close(found)
	}()

	select {
	case port, ok := <-found:
		if !ok {
			return 0, false
		}
		return port, true
	case <-time.After(timeout):
		return 0, false
	}
}

// portFromPidFile reads the project's pid marker and asks the OS which
// TCP port that pid is listening on.
func portFromPidFile(projectPath string) (int, error) {
	pidFile := filepath.Join(projectPath, PidFileName)
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, fmt.Errorf("no pid marker: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid marker: %w", err)
	}

	return listeningPort(pid)
}

// listeningPort queries lsof for the first TCP listen socket owned by pid.
func listeningPort(pid int) (int, error) {
	out, err := exec.Command(
		"lsof", "-nP", "-a",
		"-iTCP", "-sTCP:LISTEN",
		"-p", strconv.Itoa(pid),
		"-Fn",
	).Output()
	if err != nil {
		return 0, fmt.Errorf("lsof query for pid %d: %w", pid, err)
	}

	// Field output: name lines look like "n*:3000" or "n127.0.0.1:3000".
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.HasPrefix(line, "n") {
			continue
		}
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			continue
		}
		port, err := strconv.Atoi(line[idx+1:])
		if err == nil && port > 0 {
			return port, nil
		}
	}

	return 0, fmt.Errorf("pid %d has no listening TCP socket", pid)
}
