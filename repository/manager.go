package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/goliatone/go-allowlist"
	"github.com/goliatone/go-logger/glog"
	"github.com/uptrace/bun/driver/sqliteshim"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config selects and configures the member store backend.
type Config struct {
	Driver string

	// DSN is the SQLite data source used by the sqlite driver.
	DSN string
	// Debug logs SQL queries.
	Debug bool
	// Logger receives migration output from the sqlite driver.
	Logger glog.Logger

	MongoURI        string
	MongoDatabase   string
	MongoCollection string
}

// Manager owns the connection behind a MemberStore.
type Manager struct {
	members allowlist.MemberStore
	close   func(ctx context.Context) error
}

// Open connects to the configured backend and prepares its schema.
func Open(ctx context.Context, cfg Config) (*Manager, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return openSQLite(ctx, cfg)
	case DriverMongo:
		return openMongo(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func openSQLite(ctx context.Context, cfg Config) (*Manager, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = "file:allowlist.db?cache=shared"
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}

	db, err := migrate(ctx, sqldb, cfg)
	if err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("migrate member store: %w", err)
	}
	members := NewMemberRepository(db)

	return &Manager{
		members: members,
		close: func(context.Context) error {
			return db.Close()
		},
	}, nil
}

func openMongo(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.MongoURI == "" {
		return nil, errors.New("mongo store requires a connection uri")
	}

	database := cfg.MongoDatabase
	if database == "" {
		database = DefaultMongoDatabase
	}
	collection := cfg.MongoCollection
	if collection == "" {
		collection = DefaultMongoCollection
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	members := NewMongoMemberRepository(client.Database(database).Collection(collection))
	if err := members.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return &Manager{
		members: members,
		close:   client.Disconnect,
	}, nil
}

func (m *Manager) Validate() error {
	if m.members == nil {
		return errors.New("repository members should be initialized")
	}
	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m *Manager) Members() allowlist.MemberStore {
	return m.members
}

// Close releases the underlying connection.
func (m *Manager) Close(ctx context.Context) error {
	if m.close == nil {
		return nil
	}
	return m.close(ctx)
}
