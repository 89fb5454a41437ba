// Package health samples the server's own process so operators can see
// whether a misbehaving feed is costing CPU or memory.
package health

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is one sample of the server process.
type Snapshot struct {
	CPUPercent float64   `json:"cpuPercent"`
	MemoryRSS  uint64    `json:"memoryRss"`
	Goroutines int       `json:"goroutines"`
	UptimeSec  float64   `json:"uptimeSec"`
	SampledAt  time.Time `json:"sampledAt"`
}

// Sampler reads CPU and memory usage of the current process.
type Sampler struct {
	proc    *process.Process
	started time.Time
}

func NewSampler() (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("opening own process: %w", err)
	}
	return &Sampler{
		proc:    proc,
		started: time.Now(),
	}, nil
}

// Snapshot samples the process. Individual probe failures leave the
// corresponding field zero rather than failing the whole sample; a
// health endpoint that errors out is worse than a partial one.
func (s *Sampler) Snapshot() *Snapshot {
	now := time.Now()
	snap := &Snapshot{
		Goroutines: runtime.NumGoroutine(),
		UptimeSec:  now.Sub(s.started).Seconds(),
		SampledAt:  now,
	}

	if cpu, err := s.proc.CPUPercent(); err == nil {
		snap.CPUPercent = cpu
	}
	if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
		snap.MemoryRSS = mem.RSS
	}

	return snap
}
