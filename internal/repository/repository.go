package repository

import (
	"context"
	"errors"

	"github.com/fjod/amazon-clone-api/internal/domain"
)

// ErrVersionConflict means the cart changed (or was created) by someone else
// since it was read. The caller should reload and retry.
var ErrVersionConflict = errors.New("cart version conflict")

// CartRepository defines the interface for cart data operations
// Consumers define this interface, not the MongoDB implementation
type CartRepository interface {
	// GetCart returns domain.ErrCartNotFound when the user has no cart document.
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	// CreateCart inserts a new cart at version 1. ErrVersionConflict if one already exists.
	CreateCart(ctx context.Context, cart *domain.Cart) error
	// SaveCart writes the cart only if the stored version still equals cart.Version,
	// then bumps cart.Version.
	SaveCart(ctx context.Context, cart *domain.Cart) error
	// ClearCart empties the items and zeroes the totals in one step.
	ClearCart(ctx context.Context, userID string) (*domain.Cart, error)
}
