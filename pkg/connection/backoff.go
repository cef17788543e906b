package connection

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Redial backoff defaults.
const (
	// DefaultInitialDelay is the pause after the first failed dial.
	DefaultInitialDelay = 2 * time.Second

	// DefaultMaxDelay caps the pause between dials.
	DefaultMaxDelay = 2 * time.Minute

	// DefaultMultiplier grows the delay after each failure.
	DefaultMultiplier = 2.0

	// DefaultJitter is the largest random addition, as a fraction of the delay.
	DefaultJitter = 0.2
)

// BackoffConfig customizes a Backoff. Zero values select the defaults;
// a negative Jitter disables jitter.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = DefaultInitialDelay
	}
	if c.Max <= 0 {
		c.Max = DefaultMaxDelay
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = DefaultMultiplier
	}
	switch {
	case c.Jitter < 0:
		c.Jitter = 0
	case c.Jitter == 0:
		c.Jitter = DefaultJitter
	}
	return c
}

// Backoff yields growing delays between dial attempts.
type Backoff struct {
	mu       sync.Mutex
	config   BackoffConfig
	current  time.Duration
	attempts int
}

// NewBackoff creates a backoff from config.
func NewBackoff(config BackoffConfig) *Backoff {
	config = config.withDefaults()
	return &Backoff{config: config, current: config.Initial}
}

// Next returns the delay before the next attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current
	if b.config.Jitter > 0 {
		delay += time.Duration(float64(delay) * b.config.Jitter * rand.Float64())
	}

	b.attempts++
	b.current = min(time.Duration(float64(b.current)*b.config.Multiplier), b.config.Max)
	return delay
}

// Reset restarts the sequence. Call it after a successful dial.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.config.Initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the next base delay, without jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
