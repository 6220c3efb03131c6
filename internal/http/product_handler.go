package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/amazon-clone-api/internal/domain"
	"github.com/go-chi/chi/v5"
)

type ProductReader interface {
	FindProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]*domain.Product, error)
}

type ProductHandler struct {
	products ProductReader
	timeout  time.Duration
	log      *slog.Logger
}

func NewProductHandler(products ProductReader, timeout time.Duration, log *slog.Logger) *ProductHandler {
	return &ProductHandler{
		products: products,
		timeout:  timeout,
		log:      log,
	}
}

func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	products, err := h.products.ListProducts(ctx)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	if products == nil {
		products = []*domain.Product{}
	}

	respondList(w, len(products), products)
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	product, err := h.products.FindProduct(ctx, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondData(w, product)
}
