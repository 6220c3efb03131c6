package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const banner = "Amazon Clone API is running..."

type RouterConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	AllowedOrigins     []string
	DemoUserID         string
}

func NewRouter(cfg RouterConfig, carts CartService, products ProductReader, log *slog.Logger) http.Handler {
	cartHandler := NewCartHandler(carts, cfg.RequestTimeout, log)
	productHandler := NewProductHandler(products, cfg.RequestTimeout, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", userIDHeader, requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestSize(cfg.MaxRequestBodySize))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(banner))
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", productHandler.List)
			r.Get("/{id}", productHandler.Get)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Use(MockAuthMiddleware(cfg.DemoUserID))
			r.Get("/", cartHandler.GetCart)
			r.Post("/", cartHandler.AddItem)
			r.Put("/", cartHandler.UpdateQuantity)
			r.Delete("/", cartHandler.ClearCart)
			r.Delete("/{productId}", cartHandler.RemoveItem)
		})
	})

	return r
}
