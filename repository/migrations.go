package repository

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the SQL migrations for the member store.
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

func init() {
	persistence.RegisterModel((*MemberModel)(nil))
}

const defaultPingTimeout = 5 * time.Second

// persistenceConfig adapts Config to the persistence client.
type persistenceConfig struct {
	dsn   string
	debug bool
}

func (c persistenceConfig) GetDebug() bool {
	return c.debug
}

func (c persistenceConfig) GetDriver() string {
	return sqliteshim.ShimName
}

func (c persistenceConfig) GetServer() string {
	return c.dsn
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return defaultPingTimeout
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return ""
}

// migrate wraps sqldb in a persistence client and applies the member
// migrations.
func migrate(ctx context.Context, sqldb *sql.DB, cfg Config) (*bun.DB, error) {
	client, err := persistence.New(persistenceConfig{dsn: cfg.DSN, debug: cfg.Debug}, sqldb, sqlitedialect.New())
	if err != nil {
		return nil, err
	}

	if cfg.Logger != nil {
		client.SetLogger(cfg.Logger)
	}

	migrations, err := fs.Sub(GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return nil, err
	}
	client.RegisterDialectMigrations(
		migrations,
		persistence.WithDialectSourceLabel("data/sql/migrations"),
		persistence.WithValidationTargets("sqlite"),
	)
	if err := client.ValidateDialects(ctx); err != nil {
		return nil, err
	}

	if err := client.Migrate(ctx); err != nil {
		return nil, err
	}

	return client.DB(), nil
}
