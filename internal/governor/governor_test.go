package governor

import (
	"testing"

	"viralwatch/pkg/logx"
)

const mb = 1024 * 1024

func TestConcurrencyUnchangedUnderCeiling(t *testing.T) {
	t.Parallel()

	g := New(256, logx.Nop())
	g.readMem = func() uint64 { return 100 * mb }

	if got := g.Concurrency(4); got != 4 {
		t.Fatalf("Concurrency = %d, want 4", got)
	}
}

func TestConcurrencyUnlimitedWithZeroCeiling(t *testing.T) {
	t.Parallel()

	g := New(0, logx.Nop())
	g.readMem = func() uint64 { return 10_000 * mb }

	if got := g.Concurrency(8); got != 8 {
		t.Fatalf("Concurrency = %d, want 8", got)
	}
}

func TestConcurrencyHalvedWhenReclaimDoesNotHelp(t *testing.T) {
	t.Parallel()

	g := New(256, logx.Nop())
	g.readMem = func() uint64 { return 300 * mb }

	if got := g.Concurrency(4); got != 2 {
		t.Fatalf("Concurrency = %d, want 2", got)
	}
	if got := g.Concurrency(1); got != 1 {
		t.Fatalf("Concurrency floor = %d, want 1", got)
	}
}

func TestReclaimIfOverOnlyAboveCeiling(t *testing.T) {
	t.Parallel()

	g := New(256, logx.Nop())
	g.readMem = func() uint64 { return 100 * mb }
	if g.ReclaimIfOver() {
		t.Fatal("reclaimed under the ceiling")
	}

	g.readMem = func() uint64 { return 300 * mb }
	if !g.ReclaimIfOver() {
		t.Fatal("no reclaim over the ceiling")
	}

	unlimited := New(0, logx.Nop())
	unlimited.readMem = func() uint64 { return 10_000 * mb }
	if unlimited.ReclaimIfOver() {
		t.Fatal("reclaimed with enforcement disabled")
	}
}

func TestConcurrencyRestoredAfterSuccessfulReclaim(t *testing.T) {
	t.Parallel()

	calls := 0
	g := New(256, logx.Nop())
	g.readMem = func() uint64 {
		calls++
		if calls == 1 {
			return 300 * mb
		}
		return 120 * mb
	}

	if got := g.Concurrency(4); got != 4 {
		t.Fatalf("Concurrency = %d, want 4 after reclaim freed memory", got)
	}
}
