package domain

import (
	"fmt"
	"strings"
	"time"
)

type Product struct {
	ID                 string            `bson:"_id" json:"_id"`
	Name               string            `bson:"name" json:"name"`
	Description        string            `bson:"description" json:"description"`
	Price              float64           `bson:"price" json:"price"`
	OriginalPrice      float64           `bson:"original_price,omitempty" json:"originalPrice,omitempty"`
	Images             []string          `bson:"images" json:"images"`
	Category           string            `bson:"category" json:"category"`
	Brand              string            `bson:"brand" json:"brand"`
	Stock              int               `bson:"stock" json:"stock"`
	Ratings            float64           `bson:"ratings" json:"ratings"`
	NumReviews         int               `bson:"num_reviews" json:"numReviews"`
	IsFeatured         bool              `bson:"is_featured" json:"isFeatured"`
	IsOnSale           bool              `bson:"is_on_sale" json:"isOnSale"`
	DiscountPercentage float64           `bson:"discount_percentage" json:"discountPercentage"`
	Specifications     map[string]string `bson:"specifications,omitempty" json:"specifications,omitempty"`
	CreatedAt          time.Time         `bson:"created_at" json:"createdAt"`
	UpdatedAt          time.Time         `bson:"updated_at" json:"updatedAt"`
}

// PrimaryImage returns the first image reference, or "" when the product has none.
func (p *Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Validate checks the shape a catalog store accepts.
func (p *Product) Validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return fmt.Errorf("%w: product id is required", ErrInvalidArgument)
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: product name is required", ErrInvalidArgument)
	case p.Price < 0:
		return fmt.Errorf("%w: price must be positive", ErrInvalidArgument)
	case p.OriginalPrice < 0:
		return fmt.Errorf("%w: original price must be positive", ErrInvalidArgument)
	case len(p.Images) == 0:
		return fmt.Errorf("%w: at least one product image is required", ErrInvalidArgument)
	case p.Stock < 0:
		return fmt.Errorf("%w: stock cannot be negative", ErrInvalidArgument)
	case p.Ratings < 0 || p.Ratings > 5:
		return fmt.Errorf("%w: rating must be between 0 and 5", ErrInvalidArgument)
	case p.DiscountPercentage < 0 || p.DiscountPercentage > 100:
		return fmt.Errorf("%w: discount must be between 0 and 100", ErrInvalidArgument)
	}
	return nil
}
