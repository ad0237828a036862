package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/conveyor/store"
	"github.com/xraph/conveyor/store/memory"
	"github.com/xraph/conveyor/store/mongo"
	"github.com/xraph/conveyor/store/postgres"
	"github.com/xraph/conveyor/store/redis"
	"github.com/xraph/conveyor/store/sqlite"
)

const defaultMongoDatabase = "conveyor"

// ownedStore closes the client the CLI opened for a backend whose Close
// leaves the client alone.
type ownedStore struct {
	store.Store
	closeClient func() error
}

func (s ownedStore) Close() error {
	return errors.Join(s.Store.Close(), s.closeClient())
}

// openStore opens the backend named by rawURL.
func openStore(ctx context.Context, rawURL string, logger *slog.Logger) (store.Store, error) {
	if rawURL == "" || rawURL == "memory" {
		return memory.New(), nil
	}

	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		// A bare path is a SQLite file.
		return sqlite.Open(ctx, rawURL, sqlite.WithLogger(logger))
	}

	switch scheme {
	case "sqlite", "sqlite3", "file":
		return sqlite.Open(ctx, rest, sqlite.WithLogger(logger))

	case "postgres", "postgresql":
		return postgres.New(ctx, rawURL, postgres.WithLogger(logger))

	case "redis", "rediss":
		opts, err := goredis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		return ownedStore{
			Store:       redis.New(client, redis.WithLogger(logger)),
			closeClient: client.Close,
		}, nil

	case "mongodb", "mongodb+srv":
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse mongodb url: %w", err)
		}
		dbName := strings.TrimPrefix(u.Path, "/")
		if dbName == "" {
			dbName = defaultMongoDatabase
		}
		client, err := mongod.Connect(options.Client().ApplyURI(rawURL))
		if err != nil {
			return nil, fmt.Errorf("connect mongodb: %w", err)
		}
		return ownedStore{
			Store: mongo.New(client.Database(dbName), mongo.WithLogger(logger)),
			closeClient: func() error {
				return client.Disconnect(context.WithoutCancel(ctx))
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store scheme %q", scheme)
	}
}
