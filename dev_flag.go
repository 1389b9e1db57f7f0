//go:build dev

package main

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/felixge/fgprof"
	"github.com/mazrean/blobdir/internal/metrics"
)

type DevFlag struct {
	CPUProf      string        `kong:"optional,help='CPU profile output file',type='path'"`
	CPUProfFile  *os.File      `kong:"-"`
	MemProf      string        `kong:"optional,help='Memory profile output file',type='path'"`
	FgProf       string        `kong:"optional,help='fgprof output file',type='path'"`
	ProcInterval time.Duration `kong:"default='100ms',help='Sampling interval of process metrics, written with --metrics'"`
	fgprofStop   func() error  `kong:"-"`
	procStop     func()        `kong:"-"`
}

func (d *DevFlag) StartProfiling() error {
	if d.CPUProf != "" {
		f, err := os.Create(d.CPUProf)
		if err != nil {
			return fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		d.CPUProfFile = f

		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("failed to start CPU profiling: %w", err)
		}
	}

	if d.FgProf != "" {
		f, err := os.Create(d.FgProf)
		if err != nil {
			return fmt.Errorf("failed to create fgprof file: %w", err)
		}

		d.fgprofStop = fgprof.Start(f, fgprof.FormatPprof)
	}

	if CLI.Config.Metrics != "" {
		stop, err := metrics.StartProcSampler(d.ProcInterval)
		if err != nil {
			return fmt.Errorf("failed to start proc sampler: %w", err)
		}
		d.procStop = stop
	}

	return nil
}

func (d *DevFlag) StopProfiling() {
	if d.procStop != nil {
		d.procStop()
	}

	if d.CPUProfFile != nil {
		pprof.StopCPUProfile()
		defer d.CPUProfFile.Close()
	}

	if d.fgprofStop != nil {
		if err := d.fgprofStop(); err != nil {
			log.Printf("could not stop fgprof: %v", err)
		}
	}

	if d.MemProf != "" {
		f, err := os.Create(d.MemProf)
		if err != nil {
			log.Printf("could not create memory profile: %v", err)
			return
		}
		defer f.Close()

		runtime.GC()

		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Printf("could not write memory profile: %v", err)
		}
	}
}
