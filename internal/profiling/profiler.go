// Package profiling captures runtime profiles for a single CLI run.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Session holds the profile destinations for one command invocation and
// the open files behind the streaming profiles. Empty paths disable the
// corresponding profile.
type Session struct {
	CPUPath   string
	HeapPath  string
	TracePath string

	cpuFile   *os.File
	traceFile *os.File
}

// Enabled reports whether any profile destination is set.
func (s *Session) Enabled() bool {
	return s.CPUPath != "" || s.HeapPath != "" || s.TracePath != ""
}

// Start begins the streaming profiles. The heap profile is a point-in-time
// snapshot and is written by Stop. A trace failure rolls back an already
// started CPU profile so a failed Start leaves nothing running.
func (s *Session) Start() error {
	if s.CPUPath != "" {
		f, err := os.Create(s.CPUPath)
		if err != nil {
			return fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		s.cpuFile = f
	}

	if s.TracePath != "" {
		f, err := os.Create(s.TracePath)
		if err != nil {
			s.stopCPU()
			return fmt.Errorf("failed to create trace file: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.stopCPU()
			return fmt.Errorf("failed to start trace: %w", err)
		}
		s.traceFile = f
	}
	return nil
}

// Stop flushes the streaming profiles and writes the heap snapshot last,
// so it reflects the command's end state.
func (s *Session) Stop() error {
	s.stopCPU()
	if s.traceFile != nil {
		trace.Stop()
		_ = s.traceFile.Close()
		s.traceFile = nil
	}

	if s.HeapPath == "" {
		return nil
	}
	f, err := os.Create(s.HeapPath)
	if err != nil {
		return fmt.Errorf("failed to create heap profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Collect first so the profile reflects live objects only.
	runtime.GC()

	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}

func (s *Session) stopCPU() {
	if s.cpuFile == nil {
		return
	}
	pprof.StopCPUProfile()
	_ = s.cpuFile.Close()
	s.cpuFile = nil
}
