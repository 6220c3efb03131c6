package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/fjod/amazon-clone-api/internal/cache"
	"github.com/fjod/amazon-clone-api/internal/catalog"
	"github.com/fjod/amazon-clone-api/internal/domain"
	"github.com/fjod/amazon-clone-api/internal/repository"
	"golang.org/x/sync/singleflight"
)

const (
	defaultMaxAttempts = 5
	cacheWriteTimeout  = time.Second
	sharedLoadTimeout  = 10 * time.Second
)

type CartService struct {
	repo        repository.CartRepository
	catalog     catalog.Finder
	cache       cache.CartCache
	sfg         singleflight.Group // Prevents cache stampede
	maxAttempts int
	log         *slog.Logger
	now         func() time.Time
}

type Option func(*CartService)

// WithMaxAttempts bounds how many times a mutation is retried after a version conflict.
func WithMaxAttempts(n int) Option {
	return func(s *CartService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *CartService) {
		if l != nil {
			s.log = l
		}
	}
}

func NewCartService(repo repository.CartRepository, products catalog.Finder, c cache.CartCache, opts ...Option) *CartService {
	if c == nil {
		c = cache.Nop{}
	}
	s := &CartService{
		repo:        repo,
		catalog:     products,
		cache:       c,
		maxAttempts: defaultMaxAttempts,
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreateCart returns the user's cart, persisting an empty one on first access.
func (s *CartService) GetOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}

	// The shared load is detached from any one caller. Each caller still
	// gives up when its own context ends.
	ch := s.sfg.DoChan(userID, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()

		cart, err := s.cache.Get(loadCtx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(loadCtx, "cache get failed", "user_id", userID, "error", err)
		}

		cart, err = s.loadOrCreate(loadCtx, userID)
		if err != nil {
			return nil, err
		}

		// Version-guarded, so a late write cannot replace a newer cart.
		go s.storeInCache(context.WithoutCancel(ctx), cart)

		return cart, nil
	})

	var v interface{}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		v = res.Val
	}

	return cloneCart(v.(*domain.Cart)), nil
}

func (s *CartService) loadOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		cart, err := s.repo.GetCart(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, domain.ErrCartNotFound) {
			return nil, storageError("get cart", err)
		}

		cart = domain.NewCart(userID, s.now())
		err = s.repo.CreateCart(ctx, cart)
		if err == nil {
			s.log.InfoContext(ctx, "cart created", "user_id", userID)
			return cart, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, storageError("create cart", err)
		}
		// Another request created it first; read theirs.
	}
	return nil, conflictError("create cart", s.maxAttempts)
}

// AddItem adds quantity units of a product, incrementing an existing line item.
// Stock is checked against the incoming quantity only.
func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	if err := validateTarget(userID, productID); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidArgument)
	}

	product, err := s.findProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Stock < quantity {
		return nil, domain.ErrInsufficientStock
	}

	return s.mutate(ctx, "add item", userID, true, func(cart *domain.Cart) error {
		return cart.AddItem(domain.NewCartItem(product, quantity))
	})
}

// UpdateItemQuantity sets an absolute quantity. Zero removes the line item.
func (s *CartService) UpdateItemQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	if err := validateTarget(userID, productID); err != nil {
		return nil, err
	}
	if quantity < 0 {
		return nil, fmt.Errorf("%w: quantity cannot be negative", domain.ErrInvalidArgument)
	}

	return s.mutate(ctx, "update item", userID, false, func(cart *domain.Cart) error {
		if _, ok := cart.Item(productID); !ok {
			return domain.ErrItemNotFound
		}
		if quantity > 0 {
			product, err := s.findProduct(ctx, productID)
			if err != nil {
				return err
			}
			if product.Stock < quantity {
				return domain.ErrInsufficientStock
			}
		}
		return cart.SetQuantity(productID, quantity)
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error) {
	if err := validateTarget(userID, productID); err != nil {
		return nil, err
	}

	return s.mutate(ctx, "remove item", userID, false, func(cart *domain.Cart) error {
		return cart.RemoveItem(productID)
	})
}

// ClearCart empties an existing cart. It never creates one.
func (s *CartService) ClearCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}

	cart, err := s.repo.ClearCart(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrCartNotFound) {
			return nil, err
		}
		return nil, storageError("clear cart", err)
	}

	s.storeInCache(ctx, cart)
	s.log.InfoContext(ctx, "cart cleared", "user_id", userID, "version", cart.Version)
	return cart, nil
}

// LookupProducts resolves the current catalog record for each line item.
// Products that are gone or fail to load are left out of the map.
func (s *CartService) LookupProducts(ctx context.Context, cart *domain.Cart) map[string]*domain.Product {
	products := make(map[string]*domain.Product, len(cart.Items))
	for _, item := range cart.Items {
		if _, done := products[item.ProductID]; done {
			continue
		}
		p, err := s.catalog.FindProduct(ctx, item.ProductID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				s.log.WarnContext(ctx, "product lookup failed", "product_id", item.ProductID, "error", err)
			}
			continue
		}
		products[item.ProductID] = p
	}
	return products
}

// mutate runs load, change, recompute and save as one unit and repeats it when
// the stored cart moved on in between.
func (s *CartService) mutate(ctx context.Context, op, userID string, create bool, change func(*domain.Cart) error) (*domain.Cart, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		isNew := false
		cart, err := s.repo.GetCart(ctx, userID)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrCartNotFound) && create:
			cart = domain.NewCart(userID, s.now())
			isNew = true
		case errors.Is(err, domain.ErrCartNotFound):
			return nil, err
		default:
			return nil, storageError(op, err)
		}

		if err := change(cart); err != nil {
			return nil, err
		}
		cart.Recalculate()
		cart.UpdatedAt = s.now()

		if isNew {
			err = s.repo.CreateCart(ctx, cart)
		} else {
			err = s.repo.SaveCart(ctx, cart)
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			s.log.DebugContext(ctx, "cart version conflict, retrying",
				"op", op, "user_id", userID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, storageError(op, err)
		}

		s.storeInCache(ctx, cart)
		s.log.InfoContext(ctx, "cart updated", "op", op, "user_id", userID,
			"version", cart.Version, "total_items", cart.TotalItems)
		return cart, nil
	}

	s.log.WarnContext(ctx, "cart update gave up", "op", op, "user_id", userID, "attempts", s.maxAttempts)
	return nil, conflictError(op, s.maxAttempts)
}

func (s *CartService) findProduct(ctx context.Context, productID string) (*domain.Product, error) {
	p, err := s.catalog.FindProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, storageError("find product", err)
	}
	return p, nil
}

// storeInCache writes the saved cart through to the cache. On failure the
// entry is dropped so readers fall back to the repository.
func (s *CartService) storeInCache(ctx context.Context, cart *domain.Cart) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()

	if err := s.cache.Set(ctx, cart.UserID, cart); err != nil {
		s.log.WarnContext(ctx, "cache set failed", "user_id", cart.UserID, "error", err)
		if err := s.cache.Delete(ctx, cart.UserID); err != nil {
			s.log.WarnContext(ctx, "cache invalidate failed", "user_id", cart.UserID, "error", err)
		}
	}
}

func validateTarget(userID, productID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(productID) == "" {
		return fmt.Errorf("%w: product id is required", domain.ErrInvalidArgument)
	}
	return nil
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStorage, op, err)
}

func conflictError(op string, attempts int) error {
	return fmt.Errorf("%w: %s: %d attempts: %w", domain.ErrStorage, op, attempts, repository.ErrVersionConflict)
}

func cloneCart(c *domain.Cart) *domain.Cart {
	out := *c
	out.Items = append([]domain.CartItem(nil), c.Items...)
	if out.Items == nil {
		out.Items = []domain.CartItem{}
	}
	return &out
}
