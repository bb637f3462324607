package session

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/math-duel/internal/quiz"
	"github.com/DoyleJ11/math-duel/internal/transport"
)

type Timings struct {
	HelloRetry  time.Duration
	SoftTimeout time.Duration
	RoundDelay  time.Duration
	WrongFlash  time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		HelloRetry:  time.Second,
		SoftTimeout: 12 * time.Second,
		RoundDelay:  2 * time.Second,
		WrongFlash:  500 * time.Millisecond,
	}
}

type Config struct {
	Network       transport.Network
	Clock         clockwork.Clock
	Generator     quiz.Generator
	Codes         CodeSource
	Logger        *zap.Logger
	AddressPrefix string
	Timings       Timings
	TraceSize     int
}

func (c *Config) setDefaults() {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.AddressPrefix == "" {
		c.AddressPrefix = DefaultAddressPrefix
	}
	if c.Codes == nil {
		c.Codes = defaultCodes()
	}
	if c.Generator == nil {
		seed, err := quiz.NewSeed()
		if err != nil {
			seed = c.Clock.Now().UnixNano()
		}
		c.Generator = quiz.NewRandom(seed)
	}
	d := DefaultTimings()
	if c.Timings.HelloRetry <= 0 {
		c.Timings.HelloRetry = d.HelloRetry
	}
	if c.Timings.SoftTimeout <= 0 {
		c.Timings.SoftTimeout = d.SoftTimeout
	}
	if c.Timings.RoundDelay <= 0 {
		c.Timings.RoundDelay = d.RoundDelay
	}
	if c.Timings.WrongFlash <= 0 {
		c.Timings.WrongFlash = d.WrongFlash
	}
	if c.TraceSize <= 0 {
		c.TraceSize = DefaultTraceSize
	}
}
