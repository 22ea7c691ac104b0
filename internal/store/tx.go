package store

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
)

// Transactor runs a unit of work that spans several documents.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Atomic reports whether a failed unit of work is rolled back. When it
	// is false, callers undo partial writes themselves.
	Atomic() bool
}

// MongoTransactor runs work inside a MongoDB multi-document transaction when
// the deployment supports them (replica set or sharded cluster). On a
// standalone server it runs the work directly and callers rely on their own
// compensation.
type MongoTransactor struct {
	client  *mongo.Client
	enabled bool
}

func NewMongoTransactor(client *mongo.Client, enabled bool) *MongoTransactor {
	return &MongoTransactor{client: client, enabled: enabled}
}

func (t *MongoTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !t.enabled {
		return fn(ctx)
	}

	session, err := t.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

func (t *MongoTransactor) Atomic() bool {
	return t.enabled
}

// NoopTransactor runs work directly.
type NoopTransactor struct{}

func (NoopTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (NoopTransactor) Atomic() bool { return false }
