// Package quiz holds the multiplication facts both duel modes race against.
package quiz

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

const (
	MinFactor = 3
	MaxFactor = 20
)

// Question is one multiplication fact. Values are replaced wholesale each round, never mutated.
type Question struct {
	N1     int `json:"n1"`
	N2     int `json:"n2"`
	Answer int `json:"answer"`
}

func New(n1, n2 int) Question {
	return Question{N1: n1, N2: n2, Answer: n1 * n2}
}

// Valid reports whether both factors are in range and Answer is their product.
func (q Question) Valid() bool {
	return inRange(q.N1) && inRange(q.N2) && q.Answer == q.N1*q.N2
}

func (q Question) IsZero() bool { return q == Question{} }

func (q Question) String() string {
	return fmt.Sprintf("%d × %d", q.N1, q.N2)
}

func inRange(n int) bool { return n >= MinFactor && n <= MaxFactor }

type Generator interface {
	Next() Question
}

// Random draws both factors independently and uniformly from [MinFactor, MaxFactor].
// Safe for concurrent use.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))}
}

func (r *Random) Next() Question {
	r.mu.Lock()
	defer r.mu.Unlock()
	span := MaxFactor - MinFactor + 1
	return New(r.rng.IntN(span)+MinFactor, r.rng.IntN(span)+MinFactor)
}

// Sequence replays a fixed list of questions, repeating the last one once exhausted.
type Sequence struct {
	mu   sync.Mutex
	qs   []Question
	next int
}

func NewSequence(qs ...Question) *Sequence {
	return &Sequence{qs: qs}
}

func (s *Sequence) Next() Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.qs) == 0 {
		return New(MinFactor, MinFactor)
	}
	q := s.qs[min(s.next, len(s.qs)-1)]
	s.next++
	return q
}
