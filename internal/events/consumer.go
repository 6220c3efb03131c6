package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/amazon-clone-api/internal/domain"
	"github.com/segmentio/kafka-go"
)

const readBackoff = time.Second

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type CartClearer interface {
	ClearCart(ctx context.Context, userID string) (*domain.Cart, error)
}

// CheckoutCompleted is the payload published when a user finishes checkout.
type CheckoutCompleted struct {
	CheckoutID string `json:"checkout_id"`
	UserID     string `json:"user_id"`
}

// Consumer empties a user's cart once their checkout completes.
type Consumer struct {
	carts  CartClearer
	reader MessageReader
	log    *slog.Logger
}

func NewConsumer(carts CartClearer, brokers []string, topic, groupID string, log *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(carts, reader, log)
}

func NewConsumerWithReader(carts CartClearer, reader MessageReader, log *slog.Logger) *Consumer {
	return &Consumer{carts: carts, reader: reader, log: log}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.ErrorContext(ctx, "error reading checkout message", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(readBackoff):
			}
			continue
		}

		c.handle(ctx, m)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Error("error closing checkout reader", "error", err)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	var event CheckoutCompleted
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.log.WarnContext(ctx, "error parsing checkout message", "offset", m.Offset, "error", err)
		return
	}
	if event.UserID == "" {
		c.log.WarnContext(ctx, "checkout message without user_id", "offset", m.Offset)
		return
	}

	_, err := c.carts.ClearCart(ctx, event.UserID)
	switch {
	case err == nil:
		c.log.InfoContext(ctx, "cart cleared after checkout",
			"user_id", event.UserID, "checkout_id", event.CheckoutID)
	case errors.Is(err, domain.ErrCartNotFound):
		// Never created, nothing to clear.
	default:
		c.log.ErrorContext(ctx, "failed to clear cart after checkout",
			"user_id", event.UserID, "checkout_id", event.CheckoutID, "error", err)
	}
}
