package session

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/DoyleJ11/math-duel/internal/quiz"
)

const (
	DefaultAddressPrefix = "math-duel-v1"

	minCode = 1000
	maxCode = 9999
)

// Code is the 4-digit number a host shares so a guest can derive the host's address.
type Code string

// Address maps the code onto the transport namespace.
func (c Code) Address(prefix string) string {
	return prefix + "-" + string(c)
}

// ParseCode accepts exactly four digits in 1000..9999, ignoring surrounding space.
func ParseCode(s string) (Code, error) {
	s = strings.TrimSpace(s)
	if len(s) != 4 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCode, s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCode, s)
		}
	}
	if s[0] == '0' {
		return "", fmt.Errorf("%w: %q", ErrInvalidCode, s)
	}
	return Code(s), nil
}

// CodeSource hands out session codes.
type CodeSource func() Code

// RandomCodes draws codes uniformly from 1000..9999. Collisions are not checked here;
// a taken code surfaces as ErrAddressConflict when the host registers.
func RandomCodes(seed int64) CodeSource {
	var mu sync.Mutex
	rng := rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
	return func() Code {
		mu.Lock()
		defer mu.Unlock()
		return Code(fmt.Sprintf("%d", minCode+rng.IntN(maxCode-minCode+1)))
	}
}

// FixedCodes replays codes in order, repeating the last.
func FixedCodes(codes ...Code) CodeSource {
	var mu sync.Mutex
	i := 0
	return func() Code {
		mu.Lock()
		defer mu.Unlock()
		c := codes[min(i, len(codes)-1)]
		i++
		return c
	}
}

func defaultCodes() CodeSource {
	seed, err := quiz.NewSeed()
	if err != nil {
		seed = 1
	}
	return RandomCodes(seed)
}
