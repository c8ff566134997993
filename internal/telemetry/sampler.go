package telemetry

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Subject is one tracked workload: an identifier plus the pid to probe.
type Subject struct {
	ID          string
	Pid         int
	MemoryLimit uint64 // 0 means "host total"
}

// SubjectLister enumerates the workloads the collector should sample.
// The launcher is the production implementation.
type SubjectLister interface {
	Subjects() []Subject
}

// Sampler reads resource usage from the OS.
type Sampler struct{}

// SampleSubject probes one workload's process tree.
func (Sampler) SampleSubject(sub Subject) (Sample, error) {
	p, err := process.NewProcess(int32(sub.Pid))
	if err != nil {
		return Sample{}, fmt.Errorf("probe pid %d: %w", sub.Pid, err)
	}

	s := Sample{
		SubjectID:   sub.ID,
		Timestamp:   time.Now().UTC(),
		MemoryLimit: sub.MemoryLimit,
	}

	if pct, err := p.CPUPercent(); err == nil {
		s.CPUPercent = pct
	}
	if info, err := p.MemoryInfo(); err == nil && info != nil {
		s.MemoryUsage = info.RSS
	}
	if io, err := p.IOCounters(); err == nil && io != nil {
		s.BlockRead = io.ReadBytes
		s.BlockWrite = io.WriteBytes
	}
	// Per-process net counters are not exposed by the OS the way CPU and
	// memory are; NetworkRx/Tx stay zero.

	if s.MemoryLimit == 0 {
		if vm, err := mem.VirtualMemory(); err == nil {
			s.MemoryLimit = vm.Total
		}
	}
	return s, nil
}

// SampleSystem probes host-wide CPU, memory and disk.
func (Sampler) SampleSystem() (SystemSample, error) {
	s := SystemSample{Timestamp: time.Now().UTC()}

	pcts, err := cpu.Percent(0, false)
	if err != nil {
		return SystemSample{}, fmt.Errorf("system cpu: %w", err)
	}
	if len(pcts) > 0 {
		s.CPUPercent = pcts[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return SystemSample{}, fmt.Errorf("system memory: %w", err)
	}
	s.MemoryPercent = vm.UsedPercent
	s.MemoryAvailable = vm.Available

	du, err := disk.Usage("/")
	if err != nil {
		return SystemSample{}, fmt.Errorf("system disk: %w", err)
	}
	s.DiskPercent = du.UsedPercent
	s.DiskFree = du.Free

	return s, nil
}
