// Package affinity pins worker goroutines to OS threads and, where the
// platform supports it, hard CPU cores. Core counting goes through
// github.com/shirou/gopsutil/v3/cpu so the pinning decision sees
// physical topology, not just GOMAXPROCS.
package affinity

import (
	"fmt"
	"log"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sys/unix"
)

// Decision is whether hard core pinning should be attempted, and the
// logical core count it was computed from.
type Decision struct {
	Enabled bool
	Cores   int
}

// Decide disables pinning automatically when the host has fewer logical
// cores than required (1 for the dispatcher + taskThreads + rxThreads +
// clientThreads).
func Decide(taskThreads, rxThreads, clientThreads int) (Decision, error) {
	infos, err := cpu.Info()
	if err != nil {
		return Decision{}, fmt.Errorf("affinity: counting cores: %w", err)
	}
	cores := 0
	for _, info := range infos {
		cores += int(info.Cores)
	}
	if cores == 0 {
		cores = runtime.NumCPU()
	}

	required := 1 + taskThreads + rxThreads + clientThreads
	return Decision{Enabled: cores >= required, Cores: cores}, nil
}

// Pin locks the calling goroutine to its current OS thread and attempts
// to restrict that thread's scheduling to coreIdx. A pin failure is
// logged and treated as non-fatal; the caller keeps running unpinned.
// The caller must arrange to call runtime.UnlockOSThread when the worker
// exits.
func Pin(coreIdx int) {
	runtime.LockOSThread()
	if coreIdx < 0 {
		return
	}
	var mask unix.CPUSet
	mask.Zero()
	mask.Set(coreIdx)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		log.Printf("affinity: pin to core %d failed, continuing unpinned: %v", coreIdx, err)
	}
}

// Unpin releases the calling goroutine's OS thread lock. Workers that
// called Pin must defer Unpin.
func Unpin() {
	runtime.UnlockOSThread()
}
