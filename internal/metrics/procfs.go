//go:build dev

package metrics

import (
	"fmt"
	"log"
	"time"

	"github.com/prometheus/procfs"
)

var (
	cpuSelfGauge = NewGauge("cpu_self")
	memSelfGauge = NewGauge("mem_self")
	ioSelfGauge  = NewGauge("io_self")
)

// StartProcSampler samples the resource usage of this process every interval
// until the returned stop function is called.
func StartProcSampler(interval time.Duration) (stop func(), err error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("create procfs: %w", err)
	}

	proc, err := fs.Self()
	if err != nil {
		return nil, fmt.Errorf("get self proc: %w", err)
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := sampleSelf(proc); err != nil {
					log.Printf("failed to sample proc stat: %v", err)
				}
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}, nil
}

func sampleSelf(proc procfs.Proc) error {
	stat, err := proc.Stat()
	if err != nil {
		return fmt.Errorf("get stat: %w", err)
	}

	cpuSelfGauge.Set(stat.CPUTime(), "total")
	memSelfGauge.Set(float64(stat.ResidentMemory()), "resident")
	memSelfGauge.Set(float64(stat.VirtualMemory()), "virtual")

	io, err := proc.IO()
	if err != nil {
		return fmt.Errorf("get io: %w", err)
	}

	// cache fills and uploads show up as disk traffic of this process
	ioSelfGauge.Set(float64(io.ReadBytes), "read_bytes")
	ioSelfGauge.Set(float64(io.WriteBytes), "write_bytes")

	return nil
}
