package domain

import (
	"errors"
	"fmt"
)

// Error categories surfaced by the cart and catalog layers. Callers match them with errors.Is.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("not enough stock available")
	ErrStorage           = errors.New("storage failure")
)

// Specific not-found errors. Each one also matches ErrNotFound.
var (
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	ErrCartNotFound    = fmt.Errorf("cart %w", ErrNotFound)
	ErrItemNotFound    = fmt.Errorf("item %w in cart", ErrNotFound)
)
