package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/flowsim/internal/emit"
	"github.com/roach88/flowsim/internal/value"
)

// Mongo inserts events as documents, one collection per event type. The
// event id becomes the document _id.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// OpenMongo connects to uri. database defaults to "flowsim".
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	if database == "" {
		database = "flowsim"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Mongo{client: client, db: client.Database(database)}, nil
}

// Name implements Sink.
func (m *Mongo) Name() string { return "mongo:" + m.db.Name() }

// Deliver implements Sink.
func (m *Mongo) Deliver(ctx context.Context, ev emit.Event) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := m.db.Collection(ev.Type).InsertOne(ctx, Document(ev))
	return err
}

// Document converts an event into a BSON document.
func Document(ev emit.Event) bson.M {
	rec := ev.Record()
	doc := make(bson.M, len(rec)+1)
	for k, v := range rec {
		doc[k] = value.Native(v)
	}
	doc["_id"] = ev.ID
	return doc
}

// Close disconnects the client.
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
