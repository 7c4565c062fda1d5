package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Circuit breaker defaults.
const (
	DefaultMaxRequests      uint32 = 1
	DefaultInterval                = 60 * time.Second
	DefaultTimeout                 = 30 * time.Second
	DefaultFailureThreshold uint32 = 5
)

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // allowed in half-open state
	Interval         time.Duration // failure count reset period while closed
	Timeout          time.Duration // open -> half-open delay
	FailureThreshold uint32        // consecutive failures that trip the breaker
}

// DefaultBreakerConfig returns defaults for name.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      DefaultMaxRequests,
		Interval:         DefaultInterval,
		Timeout:          DefaultTimeout,
		FailureThreshold: DefaultFailureThreshold,
	}
}

// CircuitBreaker wraps gobreaker with logging.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *slog.Logger
}

// NewCircuitBreaker creates a breaker. isFailure decides which errors count
// against it; nil counts every error.
func NewCircuitBreaker(cfg BreakerConfig, logger *slog.Logger, isFailure func(error) bool) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = DefaultFailureThreshold
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	if isFailure != nil {
		settings.IsSuccessful = func(err error) bool { return err == nil || !isFailure(err) }
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings), name: cfg.Name, logger: logger}
}

// Execute runs fn through the breaker.
func (c *CircuitBreaker) Execute(fn func() error) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Warn("circuit breaker rejected call", "name", c.name, "error", err)
		return fmt.Errorf("%s: %w", c.name, ErrCircuitOpen)
	}
	return err
}

// State returns the breaker state name.
func (c *CircuitBreaker) State() string {
	return c.cb.State().String()
}
