package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Cart is the per-user aggregate. TotalPrice and TotalItems are derived from Items
// and are recomputed by Recalculate after every mutation.
type Cart struct {
	ID         string     `bson:"_id,omitempty" json:"_id,omitempty"`
	UserID     string     `bson:"user_id" json:"user"`
	Items      []CartItem `bson:"items" json:"items"`
	TotalPrice float64    `bson:"total_price" json:"totalPrice"`
	TotalItems int        `bson:"total_items" json:"totalItems"`
	Version    int64      `bson:"version" json:"version"`
	CreatedAt  time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `bson:"updated_at" json:"updatedAt"`
}

// CartItem is one product line. Price, Name and Image are captured when the
// product is first added and are not refreshed afterwards.
type CartItem struct {
	ProductID string  `bson:"product_id" json:"product"`
	Quantity  int     `bson:"quantity" json:"quantity"`
	Price     float64 `bson:"price" json:"price"`
	Name      string  `bson:"name" json:"name"`
	Image     string  `bson:"image" json:"image"`
}

func NewCart(userID string, now time.Time) *Cart {
	return &Cart{
		UserID:    userID,
		Items:     []CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewCartItem captures the product's current price and display fields.
func NewCartItem(p *Product, quantity int) CartItem {
	return CartItem{
		ProductID: p.ID,
		Quantity:  quantity,
		Price:     p.Price,
		Name:      p.Name,
		Image:     p.PrimaryImage(),
	}
}

// IndexOf returns the position of the line item for productID, or -1.
func (c *Cart) IndexOf(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Item returns a copy of the line item for productID.
func (c *Cart) Item(productID string) (CartItem, bool) {
	idx := c.IndexOf(productID)
	if idx < 0 {
		return CartItem{}, false
	}
	return c.Items[idx], true
}

// AddItem increments an existing line item or appends a new one.
func (c *Cart) AddItem(item CartItem) error {
	if item.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidArgument)
	}
	if idx := c.IndexOf(item.ProductID); idx >= 0 {
		c.Items[idx].Quantity += item.Quantity
		return nil
	}
	c.Items = append(c.Items, item)
	return nil
}

// SetQuantity sets an absolute quantity. Zero removes the line item.
func (c *Cart) SetQuantity(productID string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: quantity cannot be negative", ErrInvalidArgument)
	}
	idx := c.IndexOf(productID)
	if idx < 0 {
		return ErrItemNotFound
	}
	if quantity == 0 {
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
		return nil
	}
	c.Items[idx].Quantity = quantity
	return nil
}

func (c *Cart) RemoveItem(productID string) error {
	idx := c.IndexOf(productID)
	if idx < 0 {
		return ErrItemNotFound
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return nil
}

// Clear empties the cart and zeroes its totals.
func (c *Cart) Clear() {
	c.Items = []CartItem{}
	c.TotalPrice = 0
	c.TotalItems = 0
}

// Recalculate recomputes both totals from scratch over the current line items.
func (c *Cart) Recalculate() {
	c.TotalPrice, c.TotalItems = totals(c.Items)
}

// Validate reports whether the cart satisfies its invariants.
func (c *Cart) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("%w: cart has no user", ErrInvalidArgument)
	}
	seen := make(map[string]struct{}, len(c.Items))
	for _, item := range c.Items {
		if item.ProductID == "" {
			return fmt.Errorf("%w: line item has no product", ErrInvalidArgument)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidArgument)
		}
		if _, dup := seen[item.ProductID]; dup {
			return fmt.Errorf("%w: duplicate line item for product %s", ErrInvalidArgument, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}
	price, count := totals(c.Items)
	if price != c.TotalPrice || count != c.TotalItems {
		return fmt.Errorf("%w: totals out of date (have %v/%d, want %v/%d)",
			ErrInvalidArgument, c.TotalPrice, c.TotalItems, price, count)
	}
	return nil
}

func totals(items []CartItem) (float64, int) {
	sum := decimal.Zero
	count := 0
	for _, item := range items {
		line := decimal.NewFromFloat(item.Price).Mul(decimal.NewFromInt(int64(item.Quantity)))
		sum = sum.Add(line)
		count += item.Quantity
	}
	return sum.InexactFloat64(), count
}
