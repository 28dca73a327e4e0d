package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrGatewayUnavailable is returned when the gateway timed out, failed or the breaker is open.
var ErrGatewayUnavailable = errors.New("payments: gateway unavailable")

// BreakerConfig bounds calls made to a gateway.
type BreakerConfig struct {
	Name             string
	Timeout          time.Duration
	MaxFailures      int
	OpenTimeout      time.Duration
	HalfOpenRequests int
	Logger           StripeLogger
}

// GuardedProvider wraps a Provider with a per-call timeout and a circuit breaker.
// Outbound calls that fail for transport reasons trip the breaker; not-found lookups do not.
type GuardedProvider struct {
	next    Provider
	timeout time.Duration
	intents *gobreaker.CircuitBreaker[Intent]
	fetches *gobreaker.CircuitBreaker[Payment]
}

var _ Provider = (*GuardedProvider)(nil)

// NewGuardedProvider constructs a GuardedProvider around next.
func NewGuardedProvider(next Provider, cfg BreakerConfig) (*GuardedProvider, error) {
	if next == nil {
		return nil, errors.New("payments: guarded provider requires a provider")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}
	if cfg.Name == "" {
		cfg.Name = "payments"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: uint32(cfg.HalfOpenRequests),
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.MaxFailures)
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrPaymentNotFound)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger(context.Background(), "payments.breaker.state", map[string]any{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
			},
		}
	}

	return &GuardedProvider{
		next:    next,
		timeout: cfg.Timeout,
		intents: gobreaker.NewCircuitBreaker[Intent](settings(cfg.Name + ".intents")),
		fetches: gobreaker.NewCircuitBreaker[Payment](settings(cfg.Name + ".fetches")),
	}, nil
}

// CreatePaymentIntent calls the wrapped provider within the timeout and breaker.
func (g *GuardedProvider) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	intent, err := g.intents.Execute(func() (Intent, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return g.next.CreatePaymentIntent(callCtx, req)
	})
	return intent, guardError(err)
}

// FetchPayment calls the wrapped provider within the timeout and breaker.
func (g *GuardedProvider) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	payment, err := g.fetches.Execute(func() (Payment, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return g.next.FetchPayment(callCtx, paymentID)
	})
	return payment, guardError(err)
}

// ParseNotification is local signature work and bypasses the breaker.
func (g *GuardedProvider) ParseNotification(payload []byte, header http.Header) (Notification, error) {
	return g.next.ParseNotification(payload, header)
}

func guardError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPaymentNotFound):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: circuit open", ErrGatewayUnavailable)
	default:
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
}
