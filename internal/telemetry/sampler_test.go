package telemetry_test

import (
	"os"
	"testing"

	"devstack/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleSubjectOwnProcess(t *testing.T) {
	var s telemetry.Sampler

	sm, err := s.SampleSubject(telemetry.Subject{ID: "self", Pid: os.Getpid()})
	require.NoError(t, err)

	assert.Equal(t, "self", sm.SubjectID)
	assert.False(t, sm.Timestamp.IsZero())
	assert.NotZero(t, sm.MemoryUsage, "a live process has resident memory")
	assert.NotZero(t, sm.MemoryLimit, "limit defaults to host total")
}

func TestSampleSubjectDeadPid(t *testing.T) {
	var s telemetry.Sampler

	// Pid 0 is never a probeable workload.
	_, err := s.SampleSubject(telemetry.Subject{ID: "ghost", Pid: 0})
	assert.Error(t, err)
}

func TestSampleSystem(t *testing.T) {
	var s telemetry.Sampler

	sys, err := s.SampleSystem()
	require.NoError(t, err)
	assert.False(t, sys.Timestamp.IsZero())
	assert.NotZero(t, sys.MemoryAvailable)
}
