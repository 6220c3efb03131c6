package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/amazon-clone-api/internal/domain"
	"github.com/go-chi/chi/v5"
)

// CartService is what the cart routes need from the service layer.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error)
	UpdateItemQuantity(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, userID string) (*domain.Cart, error)
	LookupProducts(ctx context.Context, cart *domain.Cart) map[string]*domain.Product
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
	log     *slog.Logger
}

func NewCartHandler(carts CartService, timeout time.Duration, log *slog.Logger) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
		log:     log,
	}
}

// CartItemRequestDTO is the body of POST and PUT /api/cart.
type CartItemRequestDTO struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity"`
}

type ProductSummary struct {
	ID     string   `json:"_id"`
	Name   string   `json:"name"`
	Images []string `json:"images"`
	Price  float64  `json:"price"`
	Stock  int      `json:"stock"`
}

type CartItemResponse struct {
	Product   *ProductSummary `json:"product"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     float64         `json:"price"`
	Name      string          `json:"name"`
	Image     string          `json:"image"`
}

type CartResponse struct {
	ID         string             `json:"_id"`
	User       string             `json:"user"`
	Items      []CartItemResponse `json:"items"`
	TotalPrice float64            `json:"totalPrice"`
	TotalItems int                `json:"totalItems"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.GetOrCreateCart(ctx, UserIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondData(w, h.populate(ctx, cart))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	req, ok := decodeItemRequest(w, r)
	if !ok {
		return
	}
	if *req.Quantity < 1 {
		respondError(w, http.StatusBadRequest, msgInvalidCartRequest)
		return
	}

	cart, err := h.carts.AddItem(ctx, UserIDFromContext(r.Context()), req.ProductID, *req.Quantity)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondData(w, h.populate(ctx, cart))
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	req, ok := decodeItemRequest(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.UpdateItemQuantity(ctx, UserIDFromContext(r.Context()), req.ProductID, *req.Quantity)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondData(w, h.populate(ctx, cart))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.RemoveItem(ctx, UserIDFromContext(r.Context()), chi.URLParam(r, "productId"))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondData(w, h.populate(ctx, cart))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.ClearCart(ctx, UserIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondData(w, h.populate(ctx, cart))
}

// decodeItemRequest writes the 400 itself when the body is unusable.
func decodeItemRequest(w http.ResponseWriter, r *http.Request) (CartItemRequestDTO, bool) {
	var req CartItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, msgInvalidCartRequest)
		return req, false
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" || req.Quantity == nil {
		respondError(w, http.StatusBadRequest, msgInvalidCartRequest)
		return req, false
	}
	return req, true
}

func (h *CartHandler) populate(ctx context.Context, cart *domain.Cart) CartResponse {
	products := h.carts.LookupProducts(ctx, cart)

	items := make([]CartItemResponse, 0, len(cart.Items))
	for _, item := range cart.Items {
		resp := CartItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Name:      item.Name,
			Image:     item.Image,
		}
		if p, ok := products[item.ProductID]; ok {
			resp.Product = &ProductSummary{
				ID:     p.ID,
				Name:   p.Name,
				Images: p.Images,
				Price:  p.Price,
				Stock:  p.Stock,
			}
		}
		items = append(items, resp)
	}

	return CartResponse{
		ID:         cart.ID,
		User:       cart.UserID,
		Items:      items,
		TotalPrice: cart.TotalPrice,
		TotalItems: cart.TotalItems,
		CreatedAt:  cart.CreatedAt,
		UpdatedAt:  cart.UpdatedAt,
	}
}
