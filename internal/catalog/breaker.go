package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/amazon-clone-api/internal/domain"
	"github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before letting a trial request through.
	OpenTimeout time.Duration
}

// BreakerStore guards catalog reads with a circuit breaker so a failing backend
// is not hammered on every cart request. Not-found answers count as successes.
type BreakerStore struct {
	Store
	cb *gobreaker.CircuitBreaker[any]
}

func WithBreaker(store Store, settings BreakerSettings, log *slog.Logger) *BreakerStore {
	failures := settings.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &BreakerStore{Store: store, cb: cb}
}

func (b *BreakerStore) FindProduct(ctx context.Context, id string) (*domain.Product, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.Store.FindProduct(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Product), nil
}

func (b *BreakerStore) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.Store.ListProducts(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*domain.Product), nil
}

// State reports the breaker state, mostly for tests and logs.
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}
