package diag

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterGatedByEnabled(t *testing.T) {
	Enabled.Store(false)
	var c Counter
	c.Inc()
	c.Inc()
	assert.Equal(t, int64(0), c.Value(), "Inc must be a no-op while diagnostics are disabled")

	Enabled.Store(true)
	defer Enabled.Store(false)
	c.Inc()
	assert.Equal(t, int64(1), c.Value())
}

func TestStringEmptyWhenDisabled(t *testing.T) {
	Enabled.Store(false)
	assert.Equal(t, "", String())
}

func TestStringReportsCounters(t *testing.T) {
	Enabled.Store(true)
	defer Enabled.Store(false)
	Counters.PageFaults.Inc()
	Counters.Evictions.Inc()

	s := String()
	assert.Contains(t, s, "#PageFaults: ")
	assert.Contains(t, s, "#Evictions: ")
}

// retainForProfile allocates a buffer whose call stack passes through this
// file. The test below sets runtime.MemProfileRate to 1 first, so the heap
// profiler records this allocation, and runs a GC so the profile includes it.
func retainForProfile() []byte {
	return make([]byte, 1<<20)
}

func TestCapturePinLeakReportFindsSamplesUnderPrefix(t *testing.T) {
	oldRate := runtime.MemProfileRate
	runtime.MemProfileRate = 1
	defer func() { runtime.MemProfileRate = oldRate }()

	buf := retainForProfile()
	_ = buf[0]
	runtime.GC()

	path := filepath.Join(t.TempDir(), "heap.pprof")
	report, err := CapturePinLeakReport(path, "src/diag")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.Sites, 1)
	assert.GreaterOrEqual(t, report.Bytes, int64(len(buf)))
	runtime.KeepAlive(buf)
}

func TestContainsPrefixMatchesSubstring(t *testing.T) {
	assert.True(t, containsPrefix("/root/module/src/spt/spt.go", "src/spt"))
	assert.False(t, containsPrefix("/root/module/src/spt/spt.go", "src/frame"))
	assert.True(t, strings.Contains("abc", "abc"))
}
