package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type MongoOptions struct {
	URI      string
	Database string
	AppName  string
	// Zero values fall back to the driver settings below.
	MaxPoolSize    uint64
	ConnectTimeout time.Duration
}

// ConnectMongoDB opens a client, checks that the primary answers and returns
// the configured database. The client is closed again when the check fails.
func ConnectMongoDB(ctx context.Context, o MongoOptions) (*mongo.Database, error) {
	if o.MaxPoolSize == 0 {
		o.MaxPoolSize = 100
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(o.URI).
		SetAppName(o.AppName).
		SetConnectTimeout(o.ConnectTimeout).
		SetServerSelectionTimeout(o.ConnectTimeout/2).
		SetMaxPoolSize(o.MaxPoolSize).
		SetRetryWrites(true))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, o.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to ping MongoDB primary: %w", err)
	}

	return client.Database(o.Database), nil
}
