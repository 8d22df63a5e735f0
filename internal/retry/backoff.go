package retry

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Strategy selects how the base delay grows between attempts.
type Strategy string

const (
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
	StrategyFibonacci   Strategy = "fibonacci"
)

const (
	DefaultBaseDelay    = 5 * time.Second
	DefaultMaxDelay     = 300 * time.Second
	DefaultMaxAttempts  = 10
	DefaultJitterFactor = 0.1

	// MinDelay keeps restart loops from spinning when jitter pulls a delay toward zero.
	MinDelay = 100 * time.Millisecond
)

var (
	// ErrInvalidAttempt indicates an attempt number below 1.
	ErrInvalidAttempt = errors.New("attempt must be at least 1")
	// ErrAttemptsExhausted indicates the attempt number exceeds MaxAttempts.
	ErrAttemptsExhausted = errors.New("attempt exceeds max attempts")
)

// ParseStrategy maps a configuration string onto a Strategy.
func ParseStrategy(value string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(value))) {
	case StrategyLinear:
		return StrategyLinear, nil
	case StrategyExponential, "":
		return StrategyExponential, nil
	case StrategyFibonacci:
		return StrategyFibonacci, nil
	default:
		return "", fmt.Errorf("unknown backoff strategy %q", value)
	}
}

// Config describes a restart backoff policy.
type Config struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Strategy     Strategy
	Jitter       bool
	JitterFactor float64
}

// DefaultConfig returns the policy used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		MaxAttempts:  DefaultMaxAttempts,
		Strategy:     StrategyExponential,
		Jitter:       true,
		JitterFactor: DefaultJitterFactor,
	}
}

// Validate reports configuration values that cannot produce a usable delay.
func (c Config) Validate() error {
	if c.BaseDelay <= 0 {
		return errors.New("base delay must be positive")
	}
	if c.MaxDelay < c.BaseDelay {
		return errors.New("max delay must be at least the base delay")
	}
	if c.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return errors.New("jitter factor must be between 0 and 1")
	}
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	return nil
}

// Option customizes a Calculator.
type Option func(*Calculator)

// WithRand replaces the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(c *Calculator) {
		if fn != nil {
			c.rand = fn
		}
	}
}

// Calculator maps attempt numbers onto delays. It is safe for concurrent use.
type Calculator struct {
	cfg  Config
	rand func() float64
}

// New validates cfg and returns a Calculator for it.
func New(cfg Config, opts ...Option) (*Calculator, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyExponential
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("retry config: %w", err)
	}
	calc := &Calculator{cfg: cfg, rand: rand.Float64}
	for _, opt := range opts {
		opt(calc)
	}
	return calc, nil
}

// Config returns the policy the calculator was built with.
func (c *Calculator) Config() Config {
	return c.cfg
}

// Delay returns the wait before the given 1-indexed attempt.
func (c *Calculator) Delay(attempt int) (time.Duration, error) {
	if attempt < 1 {
		return 0, fmt.Errorf("attempt %d: %w", attempt, ErrInvalidAttempt)
	}
	if attempt > c.cfg.MaxAttempts {
		return 0, fmt.Errorf("attempt %d of %d: %w", attempt, c.cfg.MaxAttempts, ErrAttemptsExhausted)
	}

	delay := c.raw(attempt)
	if delay > float64(c.cfg.MaxDelay) {
		delay = float64(c.cfg.MaxDelay)
	}

	if c.cfg.Jitter && c.cfg.JitterFactor > 0 {
		spread := delay * c.cfg.JitterFactor
		delay += spread * (2*c.rand() - 1)
	}
	if delay < float64(MinDelay) {
		delay = float64(MinDelay)
	}
	return time.Duration(delay), nil
}

func (c *Calculator) raw(attempt int) float64 {
	base := float64(c.cfg.BaseDelay)
	switch c.cfg.Strategy {
	case StrategyLinear:
		return base * float64(attempt)
	case StrategyFibonacci:
		return base * float64(fibonacci(attempt))
	default:
		// math.Pow saturates to +Inf rather than wrapping, and the cap handles Inf.
		return base * math.Pow(2, float64(attempt-1))
	}
}

func fibonacci(n int) uint64 {
	var a, b uint64 = 0, 1
	for i := 0; i < n; i++ {
		a, b = b, a+b
		if b < a {
			return math.MaxUint64
		}
	}
	return a
}
