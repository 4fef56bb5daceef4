package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, connString string) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	// Pool configuration
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool}
	if err := client.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return client, nil
}

// Migrate creates the directory tables. Conversation tables are created on
// demand by the table manager.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	_, err := p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS channels (
			id UUID PRIMARY KEY,
			name VARCHAR(255) UNIQUE NOT NULL,
			slug VARCHAR(100) UNIQUE NOT NULL,
			aliases TEXT[] NOT NULL DEFAULT '{}',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("create channels table: %w", err)
	}

	// Only one default channel
	_, err = p.Pool.Exec(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS channels_single_default ON channels (is_default) WHERE is_default;`)
	if err != nil {
		return fmt.Errorf("create channels default index: %w", err)
	}

	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS instances (
			id UUID PRIMARY KEY,
			name VARCHAR(100) UNIQUE NOT NULL,
			endpoint TEXT NOT NULL,
			api_key TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("create instances table: %w", err)
	}

	// One row per channel; upserts conflict on channel_id
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS instance_mappings (
			id UUID PRIMARY KEY,
			channel_id UUID NOT NULL UNIQUE REFERENCES channels(id) ON DELETE CASCADE,
			channel_name VARCHAR(255) NOT NULL,
			instance_id UUID NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
			instance_name VARCHAR(100) NOT NULL,
			endpoint TEXT NOT NULL,
			api_key TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			connection_state VARCHAR(20) NOT NULL DEFAULT 'disconnected',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("create instance_mappings table: %w", err)
	}

	// Conversation table registry
	_, err = p.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS channel_tables (
			channel_id UUID PRIMARY KEY REFERENCES channels(id) ON DELETE CASCADE,
			table_name VARCHAR(63) UNIQUE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("create channel_tables registry: %w", err)
	}

	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
