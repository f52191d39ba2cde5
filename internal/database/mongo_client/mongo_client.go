package mongo_client

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	connectRetries = 3
	maxPoolSize    = 50
)

// UsersCollection holds the user documents; userName is unique in it.
const UsersCollection = "user"

// Open connects, pings and returns the named database. Transient connect
// failures are retried a few times before giving up.
func Open(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Database, error) {
	opts := options.Client().ApplyURI(uri).SetMaxPoolSize(maxPoolSize)

	var (
		cli *mongo.Client
		err error
	)
	for i := 0; i < connectRetries; i++ {
		cli, err = connect(ctx, opts)
		if err == nil {
			break
		}
		zap.L().Warn("mongo_connect", zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(time.Second / 2):
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo %s: %w", uri, err)
	}
	return cli, cli.Database(database), nil
}

func connect(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cli, err := mongo.Connect(cctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(cctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}

// EnsureIndexes makes userName unique so concurrent registrations of one
// name cannot both succeed.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(UsersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userName", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_userName"),
	})
	if err != nil {
		return fmt.Errorf("create user index: %w", err)
	}
	return nil
}
