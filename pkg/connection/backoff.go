package connection

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff defaults.
const (
	// DefaultBaseDelay is the first reconnection delay.
	DefaultBaseDelay = 1 * time.Second

	// DefaultMaxDelay caps the reconnection delay.
	DefaultMaxDelay = 60 * time.Second

	// DefaultMultiplier is the factor by which the delay grows per attempt.
	DefaultMultiplier = 2.0

	// DefaultJitterFraction is the default jitter as a fraction of the
	// computed delay. The jittered delay is drawn uniformly from
	// [delay*(1-j), delay*(1+j)].
	DefaultJitterFraction = 0.1
)

// BackoffConfig customizes backoff behavior.
type BackoffConfig struct {
	// BaseDelay is the delay for attempt 1.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay before jitter.
	MaxDelay time.Duration

	// Multiplier grows the delay per attempt. Must be > 1.
	Multiplier float64

	// JitterFraction is the multiplicative jitter width (0 disables jitter).
	JitterFraction float64

	// MaxAttempts bounds one connect cycle. 0 means unbounded.
	MaxAttempts int
}

// DefaultBackoffConfig returns the default backoff configuration.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		Multiplier:     DefaultMultiplier,
		JitterFraction: DefaultJitterFraction,
	}
}

// Backoff computes per-attempt reconnection delays.
// Delay is a pure function of the attempt number apart from jitter, and
// jitter is deterministic under a seeded source, so tests can reproduce
// exact delay sequences.
type Backoff struct {
	config BackoffConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoff creates a backoff calculator, normalizing invalid settings
// to the defaults.
func NewBackoff(config BackoffConfig) *Backoff {
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultBaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultMaxDelay
	}
	if config.Multiplier <= 1 {
		config.Multiplier = DefaultMultiplier
	}
	if config.JitterFraction < 0 {
		config.JitterFraction = 0
	}
	if config.MaxAttempts < 0 {
		config.MaxAttempts = 0
	}

	return &Backoff{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRand replaces the jitter source. Tests use a seeded source for
// reproducible sequences.
func (b *Backoff) SetRand(rng *rand.Rand) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rng = rng
}

// Delay returns the jittered delay before the given attempt.
// Attempts are numbered from 1.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(b.config.BaseDelay) * math.Pow(b.config.Multiplier, float64(attempt-1))
	if base > float64(b.config.MaxDelay) {
		base = float64(b.config.MaxDelay)
	}

	return b.addJitter(time.Duration(base))
}

// Exhausted reports whether the given attempt number exceeds the
// configured bound. With MaxAttempts == 0 the sequence never exhausts.
func (b *Backoff) Exhausted(attempt int) bool {
	return b.config.MaxAttempts > 0 && attempt > b.config.MaxAttempts
}

// MaxAttempts returns the configured attempt bound (0 = unbounded).
func (b *Backoff) MaxAttempts() int {
	return b.config.MaxAttempts
}

// addJitter scales d by a factor drawn uniformly from [1-j, 1+j].
func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.config.JitterFraction <= 0 {
		return d
	}

	b.mu.Lock()
	factor := 1 - b.config.JitterFraction + 2*b.config.JitterFraction*b.rng.Float64()
	b.mu.Unlock()

	return time.Duration(float64(d) * factor)
}
