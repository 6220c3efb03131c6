package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fjod/amazon-clone-api/internal/domain"
	"github.com/google/uuid"
)

// seedNamespace scopes the name-based ids given to products that arrive without one.
var seedNamespace = uuid.MustParse("5b0c1f7e-3d2a-4c8e-9f61-2a7d4e9b8c10")

// Finder is the read side the cart service depends on.
type Finder interface {
	// FindProduct returns domain.ErrProductNotFound when no product has the id.
	FindProduct(ctx context.Context, id string) (*domain.Product, error)
}

// Store is a product catalog backend.
type Store interface {
	Finder
	ListProducts(ctx context.Context) ([]*domain.Product, error)
	// UpsertProducts validates and writes products, replacing records with the same id.
	UpsertProducts(ctx context.Context, products []domain.Product) error
	Close() error
}

// LoadSeedFile reads a JSON array of products. Products without an id get one
// derived from brand and name, so loading the same file again replaces the
// records instead of adding copies.
func LoadSeedFile(path string) ([]domain.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var products []domain.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	now := time.Now().UTC()
	for i := range products {
		prepare(&products[i], now)
	}
	return products, nil
}

func prepare(p *domain.Product, now time.Time) {
	if p.ID == "" {
		p.ID = derivedID(p)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}

// derivedID is 24 hex characters, the same shape as an ObjectID.
func derivedID(p *domain.Product) string {
	key := strings.ToLower(strings.TrimSpace(p.Brand)) + "\x00" + strings.ToLower(strings.TrimSpace(p.Name))
	id := uuid.NewSHA1(seedNamespace, []byte(key))
	return strings.ReplaceAll(id.String(), "-", "")[:24]
}

func validateAll(products []domain.Product) error {
	for i := range products {
		if err := products[i].Validate(); err != nil {
			return fmt.Errorf("product %d (%s): %w", i, products[i].ID, err)
		}
	}
	return nil
}
