package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	c "github.com/fjod/amazon-clone-api/internal/cache"
	"github.com/fjod/amazon-clone-api/internal/catalog"
	"github.com/fjod/amazon-clone-api/internal/config"
	"github.com/fjod/amazon-clone-api/internal/events"
	h "github.com/fjod/amazon-clone-api/internal/http"
	"github.com/fjod/amazon-clone-api/internal/logger"
	"github.com/fjod/amazon-clone-api/internal/repository"
	s "github.com/fjod/amazon-clone-api/internal/service"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Set up MongoDB connection
	mongoDB, err := repository.ConnectMongoDB(ctx, repository.MongoOptions{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDBName,
		AppName:  "amazon-clone-api",
	})
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := mongoDB.Client().Disconnect(disconnectCtx); err != nil {
			log.Error("failed to disconnect from MongoDB", "error", err)
		}
	}()
	log.Info("connected to MongoDB", "db", cfg.MongoDBName)

	repo := repository.NewMongoRepository(mongoDB)
	if err := repo.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}

	store, err := openCatalog(ctx, cfg, mongoDB)
	if err != nil {
		return err
	}
	defer store.Close()
	products := catalog.WithBreaker(store, catalog.BreakerSettings{
		ConsecutiveFailures: uint32(cfg.CatalogBreakerFailures),
		OpenTimeout:         cfg.CatalogBreakerTimeout,
	}, log)
	log.Info("catalog ready", "driver", cfg.CatalogDriver)

	if cfg.CatalogSeedPath != "" {
		seed, err := catalog.LoadSeedFile(cfg.CatalogSeedPath)
		if err != nil {
			return err
		}
		if err := products.UpsertProducts(ctx, seed); err != nil {
			return fmt.Errorf("failed to seed catalog: %w", err)
		}
		log.Info("catalog seeded", "path", cfg.CatalogSeedPath, "products", len(seed))
	}

	cartCache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	service := s.NewCartService(repo, products, cartCache,
		s.WithMaxAttempts(cfg.CartMaxAttempts),
		s.WithLogger(log),
	)

	if len(cfg.KafkaBrokers) > 0 {
		consumer := events.NewConsumer(service, cfg.KafkaBrokers, cfg.KafkaCheckoutTopic, cfg.KafkaGroupID, log)
		defer consumer.Close()
		go consumer.Run(ctx)
		log.Info("checkout consumer started", "topic", cfg.KafkaCheckoutTopic, "group", cfg.KafkaGroupID)
	}

	router := h.NewRouter(h.RouterConfig{
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		DemoUserID:         cfg.DemoUserID,
	}, service, products, log)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "amazon-clone-api"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func openCatalog(ctx context.Context, cfg *config.Config, db *mongo.Database) (catalog.Store, error) {
	switch cfg.CatalogDriver {
	case config.CatalogSQLite:
		store, err := catalog.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := store.RunMigrations(); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case config.CatalogMemory:
		return catalog.NewMemoryStore(), nil
	default:
		store := catalog.NewMongoStore(db)
		if err := store.CreateIndexes(ctx); err != nil {
			return nil, fmt.Errorf("failed to create product indexes: %w", err)
		}
		return store, nil
	}
}

// openCache falls back to a no-op cache when no Redis address is configured.
func openCache(ctx context.Context, cfg *config.Config, log *slog.Logger) (c.CartCache, func(), error) {
	if cfg.RedisAddr == "" {
		log.Info("redis not configured, cart cache disabled")
		return c.Nop{}, func() {}, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	log.Info("redis ping succeeded", "addr", cfg.RedisAddr)

	return c.NewRedisCache(redisClient), func() { _ = redisClient.Close() }, nil
}
