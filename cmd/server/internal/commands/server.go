package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/logger"
	"github.com/tallyhq/tally/internal/server"
	"github.com/tallyhq/tally/internal/store"
	memorystore "github.com/tallyhq/tally/internal/store/memory"
	postgresstore "github.com/tallyhq/tally/internal/store/postgres"
	"github.com/tallyhq/tally/internal/tenant"
)

type ServerCmd struct {
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"TALLY_LISTEN"`

	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost:3000" env:"TALLY_CORS_ORIGINS"`

	TokenSecret string        `help:"secret for HMAC signing of API tokens, at least 32 bytes" env:"TALLY_TOKEN_SECRET"`
	TokenTTL    time.Duration `help:"API token lifetime" default:"24h" env:"TALLY_TOKEN_TTL"`

	StoreType string        `help:"store type (memory or postgres)" default:"memory" env:"TALLY_STORE_TYPE" enum:"memory,postgres"`
	Postgres  PostgresFlags `embed:"" prefix:"postgres-"`
}

type PostgresFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	AutoMigrate bool `help:"run database migrations on startup, including the row isolation policies" default:"false" env:"TALLY_POSTGRES_AUTO_MIGRATE"`
}

func (f *PostgresFlags) config() *postgresstore.Config {
	return &postgresstore.Config{
		ConnString:      f.ConnString,
		AutoMigrate:     f.AutoMigrate,
		MaxConns:        f.MaxConns,
		MinConns:        f.MinConns,
		MaxConnLifetime: time.Duration(f.MaxConnLifetime) * time.Second,
		MaxConnIdleTime: time.Duration(f.MaxConnIdleTime) * time.Second,
	}
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if len(c.TokenSecret) < 32 {
		return errors.New("token secret must be at least 32 bytes (--token-secret or TALLY_TOKEN_SECRET)")
	}

	stores, pool, err := openStores(ctx, c.StoreType, &c.Postgres)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	signer, err := auth.NewTokenSigner([]byte(c.TokenSecret), c.TokenTTL)
	if err != nil {
		return err
	}

	bridge := tenant.NewBridge(pool)
	guard := auth.NewGuard(stores.Organizations, stores.Memberships, bridge)

	srv := server.NewServer(stores, guard, signer, bridge, server.Options{
		CORSOrigins: c.CORSOrigins,
	})

	log.Info().Str("addr", c.Listen).Str("store", c.StoreType).Msg("Starting HTTP server")
	return configureHTTPServer(c.Listen, srv.Handler(log)).ListenAndServe()
}

// openStores builds the store set for the selected backend. The pool is nil
// for the in-memory backend.
func openStores(ctx context.Context, storeType string, flags *PostgresFlags) (*store.Stores, *pgxpool.Pool, error) {
	switch storeType {
	case "postgres":
		pool, err := postgresstore.NewPool(ctx, flags.config())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		return postgresstore.NewStores(pool), pool, nil
	default:
		return memorystore.NewStores(), nil, nil
	}
}
