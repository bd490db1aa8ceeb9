package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoOptions configures the cart store connection. Zero values take the
// defaults below.
type MongoOptions struct {
	URI                    string
	Database               string
	AppName                string
	MaxPoolSize            uint64
	MinPoolSize            uint64
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
}

const (
	DefaultMongoMaxPool          = 100
	DefaultMongoMinPool          = 10
	DefaultMongoConnectTimeout   = 10 * time.Second
	DefaultMongoSelectionTimeout = 5 * time.Second
)

func (o MongoOptions) clientOptions() (*options.ClientOptions, error) {
	if o.MaxPoolSize == 0 {
		o.MaxPoolSize = DefaultMongoMaxPool
	}
	if o.MinPoolSize == 0 {
		o.MinPoolSize = min(DefaultMongoMinPool, o.MaxPoolSize)
	}
	if o.MinPoolSize > o.MaxPoolSize {
		return nil, fmt.Errorf("mongo min pool size %d exceeds max pool size %d", o.MinPoolSize, o.MaxPoolSize)
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultMongoConnectTimeout
	}
	if o.ServerSelectionTimeout <= 0 {
		o.ServerSelectionTimeout = DefaultMongoSelectionTimeout
	}
	if o.AppName == "" {
		o.AppName = "cartsync"
	}
	return options.Client().
		ApplyURI(o.URI).
		SetAppName(o.AppName).
		SetConnectTimeout(o.ConnectTimeout).
		SetServerSelectionTimeout(o.ServerSelectionTimeout).
		SetMaxPoolSize(o.MaxPoolSize).
		SetMinPoolSize(o.MinPoolSize), nil
}

// ConnectMongoDB connects and pings before handing out the cart database.
func ConnectMongoDB(ctx context.Context, opts MongoOptions) (*mongo.Database, error) {
	clientOpts, err := opts.clientOptions()
	if err != nil {
		return nil, err
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(opts.Database), nil
}
