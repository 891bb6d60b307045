// Package celebrate picks the cheering messages shown after a success. The
// picker state belongs to one session; nothing is shared between sessions.
package celebrate

import (
	"math/rand"
	"sync"
)

// Kind selects a message pool.
type Kind string

const (
	KindRunPassed      Kind = "run_passed"
	KindLessonComplete Kind = "lesson_complete"
	KindQuizComplete   Kind = "quiz_complete"
)

var messages = map[Kind][]string{
	KindRunPassed: {
		"You did it!",
		"Awesome coding!",
		"Python understood you perfectly!",
		"High five!",
		"That is exactly right!",
		"Your code works like magic!",
	},
	KindLessonComplete: {
		"Lesson complete! You are a real coder now.",
		"Another lesson mastered!",
		"Level up! On to the next adventure.",
		"Brilliant work, keep going!",
	},
	KindQuizComplete: {
		"Quiz finished, great thinking!",
		"You know your stuff!",
		"Quiz champion!",
	},
}

// Messages returns the pool for kind.
func Messages(kind Kind) []string {
	out := make([]string, len(messages[kind]))
	copy(out, messages[kind])
	return out
}

// State remembers which messages a session has already seen. It is safe for
// concurrent use.
type State struct {
	mu    sync.Mutex
	rng   *rand.Rand
	decks map[Kind][]int // remaining pool indices, next pick at the end
	last  map[Kind]int
}

// NewState creates a picker. Equal seeds give equal sequences.
func NewState(seed int64) *State {
	return &State{
		rng:   rand.New(rand.NewSource(seed)),
		decks: make(map[Kind][]int),
		last:  make(map[Kind]int),
	}
}

// Pick returns the next message of kind. Every message of the pool is shown
// once before any repeats, and the same message never appears twice in a row.
// Unknown kinds return "".
func (s *State) Pick(kind Kind) string {
	pool := messages[kind]
	if len(pool) == 0 {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deck := s.decks[kind]
	if len(deck) == 0 {
		deck = s.rng.Perm(len(pool))
		// the end of the deck is drawn first
		if last, seen := s.last[kind]; seen && len(deck) > 1 && deck[len(deck)-1] == last {
			deck[0], deck[len(deck)-1] = deck[len(deck)-1], deck[0]
		}
	}
	idx := deck[len(deck)-1]
	s.decks[kind] = deck[:len(deck)-1]
	s.last[kind] = idx
	return pool[idx]
}
