package cache

import (
	"github.com/shirou/gopsutil/v3/mem"
)

// PressureMonitor decides when the host is under enough memory pressure
// that the Performance Cache should drop to rebuild mode after exhausting
// expendable-key eviction (§4.4.4). It reads real process/host memory
// stats rather than inferring pressure purely from Redis's own eviction
// counters, giving "memory pressure" in the configuration a literal,
// host-level meaning.
type PressureMonitor struct {
	maxBytes uint64
}

// NewPressureMonitor builds a monitor against the configured pc_max_memory
// budget (bytes).
func NewPressureMonitor(maxBytes uint64) *PressureMonitor {
	return &PressureMonitor{maxBytes: maxBytes}
}

// UnderPressure reports whether host memory usage has crossed the
// configured budget.
func (p *PressureMonitor) UnderPressure() (bool, error) {
	if p.maxBytes == 0 {
		return false, nil
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return false, err
	}
	return vm.Used >= p.maxBytes, nil
}
