// Package diag provides the paging core's runtime counters, adapted
// from the teacher's stats package (stats/stats.go): Counter_t there is
// a plain int64 behind a compile-time const gate; here the gate is a
// runtime bool (config.Config.Diag.Enabled) since this module has no
// build-tag mechanism of its own, and the counter type uses
// go.uber.org/atomic instead of the teacher's unsafe.Pointer-cast
// atomic.AddInt64 trick.
package diag

import (
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/google/pprof/profile"
	"go.uber.org/atomic"
)

// Enabled gates every counter increment in this package, the equivalent
// of the teacher's stats.Stats compile-time constant.
var Enabled = atomic.NewBool(false)

// Counter is a gated statistical counter (Counter_t).
type Counter struct {
	v atomic.Int64
}

// Inc increments the counter if diagnostics are enabled.
func (c *Counter) Inc() {
	if Enabled.Load() {
		c.v.Inc()
	}
}

// Value returns the counter's current value.
func (c *Counter) Value() int64 {
	return c.v.Load()
}

// Counters holds every counter the paging core maintains.
var Counters = struct {
	PageFaults    Counter
	Evictions     Counter
	SwapOuts      Counter
	SwapIns       Counter
	StackGrowths  Counter
	AllocFailures Counter
}{}

// String formats every counter for a log line, mirroring
// stats.Stats2String's reflect-based dump but over a fixed struct
// instead of an arbitrary one, since this package owns the one set of
// counters the paging core needs.
func String() string {
	if !Enabled.Load() {
		return ""
	}
	return fmt.Sprintf(
		"\n\t#PageFaults: %d\n\t#Evictions: %d\n\t#SwapOuts: %d\n\t#SwapIns: %d\n\t#StackGrowths: %d\n\t#AllocFailures: %d\n",
		Counters.PageFaults.Value(), Counters.Evictions.Value(), Counters.SwapOuts.Value(),
		Counters.SwapIns.Value(), Counters.StackGrowths.Value(), Counters.AllocFailures.Value(),
	)
}

// PinLeakReport captures the process heap profile and counts live
// allocation sites under a caller-chosen package prefix (such as the
// frame or spt packages), as a coarse proxy for
// a pinned-frame leak: a climbing sample count there across repeated
// calls means pins are being taken and never released.
type PinLeakReport struct {
	Sites int
	Bytes int64
}

// CapturePinLeakReport writes a heap profile to path, then reparses it
// with github.com/google/pprof/profile to summarize allocation sites
// whose call stack passes through pkgPrefix (e.g. "pagingcore/src/spt").
func CapturePinLeakReport(path, pkgPrefix string) (*PinLeakReport, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("diag: create profile: %w", err)
	}
	if err := pprof.WriteHeapProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("diag: write heap profile: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("diag: close profile: %w", err)
	}

	pf, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("diag: reopen profile: %w", err)
	}
	defer pf.Close()
	prof, err := profile.Parse(pf)
	if err != nil {
		return nil, fmt.Errorf("diag: parse profile: %w", err)
	}

	report := &PinLeakReport{}
	for _, sample := range prof.Sample {
		matches := false
		for _, loc := range sample.Location {
			for _, line := range loc.Line {
				if line.Function != nil && containsPrefix(line.Function.Filename, pkgPrefix) {
					matches = true
				}
			}
		}
		if !matches {
			continue
		}
		report.Sites++
		for i, st := range prof.SampleType {
			if st.Type == "inuse_space" && i < len(sample.Value) {
				report.Bytes += sample.Value[i]
			}
		}
	}
	return report, nil
}

func containsPrefix(s, prefix string) bool {
	for i := 0; i+len(prefix) <= len(s); i++ {
		if s[i:i+len(prefix)] == prefix {
			return true
		}
	}
	return false
}
