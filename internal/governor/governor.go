// Package governor keeps the process inside its memory ceiling and tells
// the monitor how much fetch concurrency the current cycle can afford.
package governor

import (
	"runtime"
	"runtime/debug"

	"viralwatch/pkg/logx"
)

// Governor samples heap usage before each cycle. A zero ceiling disables
// enforcement.
type Governor struct {
	ceilingBytes uint64
	log          logx.Logger

	// readMem is swappable for tests.
	readMem func() uint64
}

func New(ceilingMB int, log logx.Logger) *Governor {
	return &Governor{
		ceilingBytes: uint64(ceilingMB) * 1024 * 1024,
		log:          log,
		readMem:      heapInUse,
	}
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}

// HeapBytes reports the current sampled heap usage.
func (g *Governor) HeapBytes() uint64 {
	return g.readMem()
}

// Concurrency decides the worker count for the next cycle. Under the
// ceiling it returns want unchanged. Over the ceiling it reclaims memory
// and, if still over, halves the concurrency with a floor of one so the
// cycle degrades instead of stopping.
func (g *Governor) Concurrency(want int) int {
	if want < 1 {
		want = 1
	}
	if g.ceilingBytes == 0 {
		return want
	}

	used := g.readMem()
	if used < g.ceilingBytes {
		return want
	}

	g.log.Warn("memory ceiling reached, reclaiming",
		logx.Int64("heap_bytes", int64(used)),
		logx.Int64("ceiling_bytes", int64(g.ceilingBytes)))
	g.Reclaim()

	used = g.readMem()
	if used < g.ceilingBytes {
		return want
	}

	reduced := want / 2
	if reduced < 1 {
		reduced = 1
	}
	g.log.Warn("still over ceiling after reclaim, reducing concurrency",
		logx.Int64("heap_bytes", int64(used)),
		logx.Int("workers", reduced))
	return reduced
}

// ReclaimIfOver reclaims memory when the heap sits over the ceiling,
// returning whether it did. Meant for the quiet point after a cycle, so a
// long inter-cycle sleep does not start with a bloated heap.
func (g *Governor) ReclaimIfOver() bool {
	if g.ceilingBytes == 0 {
		return false
	}
	used := g.readMem()
	if used < g.ceilingBytes {
		return false
	}
	g.log.Warn("memory ceiling reached after cycle, reclaiming",
		logx.Int64("heap_bytes", int64(used)),
		logx.Int64("ceiling_bytes", int64(g.ceilingBytes)))
	g.Reclaim()
	return true
}

// Reclaim forces a collection and returns freed pages to the OS.
func (g *Governor) Reclaim() {
	runtime.GC()
	debug.FreeOSMemory()
}
