package clock

import (
	"testing"

	"pgregory.net/rapid"
)

func TestTruncateProperties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		x := rapid.Int64Range(0, 1<<52).Draw(rt, "x")
		m := rapid.Int64Range(1, 1<<20).Draw(rt, "m")

		tr := Truncate(x, m)
		if Truncate(tr, m) != tr {
			rt.Fatalf("Truncate not idempotent: %d -> %d -> %d", x, tr, Truncate(tr, m))
		}
		if tr > x {
			rt.Fatalf("Truncate(%d, %d) = %d exceeds x", x, m, tr)
		}
		if x-tr >= m {
			rt.Fatalf("Truncate(%d, %d) = %d is more than one step below x", x, m, tr)
		}
		if tr%m != 0 {
			rt.Fatalf("Truncate(%d, %d) = %d is not a multiple of m", x, m, tr)
		}
	})
}

func TestTruncateNonPositiveModulus(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		x := rapid.Int64().Draw(rt, "x")
		m := rapid.Int64Range(-1<<20, 0).Draw(rt, "m")
		if got := Truncate(x, m); got != x {
			rt.Fatalf("Truncate(%d, %d) = %d, want x unchanged", x, m, got)
		}
	})
}

func TestSimulated(t *testing.T) {
	t.Parallel()

	var zero Simulated
	if zero.Set(10) {
		t.Fatal("Set on an uninitialised clock should report false")
	}

	c := NewSimulated(1_000)
	if got := c.Advance(500); got != 1_500 {
		t.Fatalf("Advance = %d, want 1500", got)
	}
	if c.Set(1_500) {
		t.Fatal("Set to the same value should report false")
	}
	if !c.Set(2_000) {
		t.Fatal("Set to a new value should report true")
	}
	if c.Now() != 2_000 {
		t.Fatalf("Now = %d, want 2000", c.Now())
	}
}
