package celebrate

import (
	"testing"
)

func TestPickNeverRepeatsInARow(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		s := NewState(seed)
		prev := ""
		for i := 0; i < 50; i++ {
			msg := s.Pick(KindRunPassed)
			if msg == prev {
				t.Fatalf("seed %d: %q shown twice in a row", seed, msg)
			}
			prev = msg
		}
	}
}

func TestPickCyclesThroughPool(t *testing.T) {
	s := NewState(7)
	pool := Messages(KindLessonComplete)
	seen := make(map[string]bool)
	for range pool {
		seen[s.Pick(KindLessonComplete)] = true
	}
	if len(seen) != len(pool) {
		t.Errorf("saw %d distinct messages in one cycle, want %d", len(seen), len(pool))
	}
}

func TestPickDeterministic(t *testing.T) {
	a, b := NewState(42), NewState(42)
	for i := 0; i < 10; i++ {
		if x, y := a.Pick(KindQuizComplete), b.Pick(KindQuizComplete); x != y {
			t.Fatalf("pick %d differs: %q vs %q", i, x, y)
		}
	}
}

func TestKindsAreIndependent(t *testing.T) {
	s := NewState(1)
	s.Pick(KindRunPassed)
	pool := Messages(KindQuizComplete)
	seen := make(map[string]bool)
	for range pool {
		seen[s.Pick(KindQuizComplete)] = true
	}
	if len(seen) != len(pool) {
		t.Errorf("quiz cycle incomplete: %d of %d", len(seen), len(pool))
	}
}

func TestUnknownKind(t *testing.T) {
	if got := NewState(1).Pick("nope"); got != "" {
		t.Errorf("Pick(unknown) = %q", got)
	}
}
