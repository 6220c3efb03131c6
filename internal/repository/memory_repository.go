package repository

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/amazon-clone-api/internal/domain"
	"github.com/google/uuid"
)

// MemoryRepository is an in-process CartRepository with the same version
// semantics as the Mongo implementation. Carts are copied on the way in and out.
type MemoryRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		carts: make(map[string]*domain.Cart),
	}
}

func (m *MemoryRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cart, ok := m.carts[userID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	return cloneCart(cart), nil
}

func (m *MemoryRepository) CreateCart(_ context.Context, cart *domain.Cart) error {
	if err := cart.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.carts[cart.UserID]; exists {
		return ErrVersionConflict
	}

	now := time.Now().UTC()
	if cart.ID == "" {
		cart.ID = uuid.NewString()
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
	cart.Version = 1

	m.carts[cart.UserID] = cloneCart(cart)
	return nil
}

func (m *MemoryRepository) SaveCart(_ context.Context, cart *domain.Cart) error {
	if err := cart.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.carts[cart.UserID]
	if !ok || stored.Version != cart.Version {
		return ErrVersionConflict
	}

	cart.Version++
	cart.UpdatedAt = time.Now().UTC()
	m.carts[cart.UserID] = cloneCart(cart)
	return nil
}

func (m *MemoryRepository) ClearCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.carts[userID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}

	stored.Clear()
	stored.Version++
	stored.UpdatedAt = time.Now().UTC()
	return cloneCart(stored), nil
}

func cloneCart(c *domain.Cart) *domain.Cart {
	out := *c
	out.Items = make([]domain.CartItem, len(c.Items))
	copy(out.Items, c.Items)
	return &out
}
