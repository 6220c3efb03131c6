package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/amazon-clone-api/internal/domain"
)

// MemoryStore keeps products in a map. It backs CATALOG_DRIVER=memory and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*domain.Product),
	}
}

func (s *MemoryStore) FindProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return cloneProduct(p), nil
}

func (s *MemoryStore) ListProducts(context.Context) ([]*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Product, 0, len(s.products))
	for _, p := range s.products {
		result = append(result, cloneProduct(p))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) UpsertProducts(_ context.Context, products []domain.Product) error {
	now := time.Now().UTC()
	for i := range products {
		prepare(&products[i], now)
	}
	if err := validateAll(products); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range products {
		s.products[products[i].ID] = cloneProduct(&products[i])
	}
	return nil
}

// DeleteProduct removes a product. Carts keep their captured line items.
func (s *MemoryStore) DeleteProduct(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneProduct(p *domain.Product) *domain.Product {
	c := *p
	c.Images = append([]string(nil), p.Images...)
	if p.Specifications != nil {
		c.Specifications = make(map[string]string, len(p.Specifications))
		for k, v := range p.Specifications {
			c.Specifications[k] = v
		}
	}
	return &c
}
