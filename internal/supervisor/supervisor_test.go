//go:build !windows

package supervisor_test

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"devstack/internal/supervisor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(configs []supervisor.ServiceConfig) *supervisor.Supervisor {
	s := supervisor.New(configs)
	s.StartGrace = 100 * time.Millisecond
	s.StopTimeout = 2 * time.Second
	s.Stagger = 10 * time.Millisecond
	s.HealthInterval = 200 * time.Millisecond
	return s
}

func sleeperConfig(name string, port int) supervisor.ServiceConfig {
	return supervisor.ServiceConfig{
		Name:    name,
		Port:    port,
		Command: "sleep",
		Args:    []string{"60"},
	}
}

// freePort grabs an OS-assigned port for the health endpoint tests.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestStartStopLifecycle(t *testing.T) {
	s := newTestSupervisor([]supervisor.ServiceConfig{sleeperConfig("cache", 5003)})

	require.NoError(t, s.Start("cache"))

	st, err := s.Status("cache")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StatusRunning, st.Status)
	assert.NotZero(t, st.Pid)

	// Starting a live service is a no-op success
	require.NoError(t, s.Start("cache"))

	require.NoError(t, s.Stop("cache"))
	st, err = s.Status("cache")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StatusStopped, st.Status)
	assert.Equal(t, supervisor.HealthDown, st.Health)
}

func TestStartUnknownService(t *testing.T) {
	s := newTestSupervisor(nil)

	err := s.Start("nope")
	assert.ErrorIs(t, err, supervisor.ErrServiceNotFound)
	_, err = s.Status("nope")
	assert.ErrorIs(t, err, supervisor.ErrServiceNotFound)
}

func TestStartCrashedImmediately(t *testing.T) {
	s := newTestSupervisor([]supervisor.ServiceConfig{{
		Name:    "crasher",
		Port:    5009,
		Command: "false",
	}})

	err := s.Start("crasher")
	assert.ErrorIs(t, err, supervisor.ErrServiceStartFailed)

	st, statusErr := s.Status("crasher")
	require.NoError(t, statusErr)
	assert.Equal(t, supervisor.StatusFailed, st.Status)
}

func TestHealthEndpointQuery(t *testing.T) {
	port := freePort(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: fmt.Sprintf("localhost:%d", port), Handler: mux}
	go srv.ListenAndServe()
	defer srv.Close()

	s := newTestSupervisor([]supervisor.ServiceConfig{sleeperConfig("healthy", port)})
	require.NoError(t, s.Start("healthy"))
	defer s.Stop("healthy")

	// The health server needs a moment to bind
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, err := s.Status("healthy")
		require.NoError(t, err)
		if st.Health == supervisor.HealthHealthy {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("service never reported healthy")
}

func TestHealthLoopRestartsDeadService(t *testing.T) {
	s := newTestSupervisor([]supervisor.ServiceConfig{sleeperConfig("fragile", freePort(t))})

	require.NoError(t, s.Start("fragile"))
	s.StartMonitoring()
	defer s.StopAll()

	st, err := s.Status("fragile")
	require.NoError(t, err)
	oldPid := st.Pid
	require.NotZero(t, oldPid)

	// Kill it out from under the supervisor
	require.NoError(t, syscall.Kill(oldPid, syscall.SIGKILL))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err = s.Status("fragile")
		require.NoError(t, err)
		if st.Status == supervisor.StatusRunning && st.Pid != 0 && st.Pid != oldPid {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("service was not restarted (status=%s pid=%d)", st.Status, st.Pid)
}

func waitForStatus(t *testing.T, s *supervisor.Supervisor, name string, want supervisor.Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st, err := s.Status(name)
		require.NoError(t, err)
		if st.Status == want {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	st, _ := s.Status(name)
	t.Fatalf("service %s never reached %s (status=%s)", name, want, st.Status)
}

func TestHealthLoopRetriesAfterFailedRestart(t *testing.T) {
	// The service only stays up while the flag file exists, so restarts
	// can be made to fail and then succeed again.
	flag := filepath.Join(t.TempDir(), "ready")
	cfg := supervisor.ServiceConfig{
		Name:    "flaky",
		Port:    freePort(t),
		Command: "sh",
		Args:    []string{"-c", fmt.Sprintf("test -f %s && exec sleep 60; exit 1", flag)},
	}
	s := newTestSupervisor([]supervisor.ServiceConfig{cfg})

	require.NoError(t, os.WriteFile(flag, nil, 0644))
	require.NoError(t, s.Start("flaky"))
	s.StartMonitoring()
	defer s.StopAll()

	st, err := s.Status("flaky")
	require.NoError(t, err)
	oldPid := st.Pid
	require.NotZero(t, oldPid)

	// Kill it with restarts doomed to fail: the loop's restart attempt
	// crashes immediately and the service lands in failed.
	require.NoError(t, os.Remove(flag))
	require.NoError(t, syscall.Kill(oldPid, syscall.SIGKILL))
	waitForStatus(t, s, "flaky", supervisor.StatusFailed, 5*time.Second)

	// Once starting can succeed again, the loop retries after the
	// backoff window instead of abandoning the service.
	require.NoError(t, os.WriteFile(flag, nil, 0644))
	waitForStatus(t, s, "flaky", supervisor.StatusRunning, 15*time.Second)

	st, err = s.Status("flaky")
	require.NoError(t, err)
	assert.NotEqual(t, oldPid, st.Pid)
}

func TestHealthTimeoutAdjustableAfterNew(t *testing.T) {
	// A listener that accepts and then stays silent, so the health query
	// can only end by timing out.
	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		var conns []net.Conn
		for {
			conn, err := ln.Accept()
			if err != nil {
				for _, c := range conns {
					c.Close()
				}
				return
			}
			conns = append(conns, conn)
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	s := newTestSupervisor([]supervisor.ServiceConfig{sleeperConfig("mute", port)})
	s.HealthTimeout = 200 * time.Millisecond
	require.NoError(t, s.Start("mute"))
	defer s.Stop("mute")

	started := time.Now()
	st, err := s.Status("mute")
	require.NoError(t, err)
	assert.Equal(t, supervisor.HealthUnreachable, st.Health)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestStartAllStartsEveryService(t *testing.T) {
	configs := []supervisor.ServiceConfig{
		sleeperConfig("first", freePort(t)),
		sleeperConfig("second", freePort(t)),
	}
	s := newTestSupervisor(configs)
	defer s.StopAll()

	results := s.StartAll()
	require.Len(t, results, 2)
	for name, err := range results {
		assert.NoError(t, err, "service %s", name)
	}

	for name, st := range s.StatusAll() {
		assert.Equal(t, supervisor.StatusRunning, st.Status, "service %s", name)
	}
}

func TestLoadServicesDefaults(t *testing.T) {
	configs, err := supervisor.LoadServices("/nonexistent/services.yml")
	require.NoError(t, err)
	require.NotEmpty(t, configs)
	assert.Equal(t, "telemetry_monitor", configs[0].Name, "telemetry starts first")
}
