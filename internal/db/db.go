package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/foodior/apiserver/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultMaxPoolSize    = 100
	defaultMinPoolSize    = 5
	defaultMaxConnIdle    = 2 * time.Minute
)

// Conn holds the MongoDB client together with the application database.
type Conn struct {
	Client *mongo.Client
	DB     *mongo.Database

	// Transactions reports whether the deployment accepts multi-document
	// transactions (replica set or sharded cluster).
	Transactions bool
}

// Open connects to MongoDB, pings the primary and probes the topology.
func Open(ctx context.Context, cfg config.Config) (*Conn, error) {
	timeout := cfg.Database.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.Database.URI).
		SetMaxPoolSize(defaultMaxPoolSize).
		SetMinPoolSize(defaultMinPoolSize).
		SetMaxConnIdleTime(defaultMaxConnIdle)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	database := client.Database(cfg.Database.DBName)
	tx, err := supportsTransactions(ctx, database)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo hello: %w", err)
	}

	return &Conn{Client: client, DB: database, Transactions: tx}, nil
}

// Ping checks that the primary is reachable.
func (c *Conn) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (c *Conn) Close(ctx context.Context) error {
	return c.Client.Disconnect(ctx)
}

func supportsTransactions(ctx context.Context, database *mongo.Database) (bool, error) {
	var hello bson.M
	if err := database.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		return false, err
	}
	return helloSupportsTransactions(hello), nil
}

func helloSupportsTransactions(hello bson.M) bool {
	if name, ok := hello["setName"].(string); ok && name != "" {
		return true
	}
	msg, _ := hello["msg"].(string)
	return msg == "isdbgrid"
}
