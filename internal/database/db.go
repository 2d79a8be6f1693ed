package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/clevora/clevora-api/internal/config"
	"github.com/clevora/clevora-api/pkg/logger"
)

// Database represents a database connection
type Database struct {
	DB     *sqlx.DB
	logger logger.Logger
}

// New creates a new database connection
func New(cfg *config.Config, logger logger.Logger) (*Database, error) {
	db, err := sqlx.Connect("postgres", cfg.GetDBConnString())

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("Connected to database", "host", cfg.DB.Host, "database", cfg.DB.Name)

	return &Database{
		DB:     db,
		logger: logger,
	}, nil
}

// Ping checks the database connection
func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}

// RunMigrations runs database migrations
func (d *Database) RunMigrations() error {
	// For initial setup, just create tables directly
	// In a real project, you'd want to use a migration tool
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		order_id VARCHAR(20) PRIMARY KEY,
		amount BIGINT NOT NULL,
		item_names TEXT NOT NULL,
		status VARCHAR(20) NOT NULL,
		customer_id BIGINT,
		delivery_type VARCHAR(10) NOT NULL DEFAULT 'home',
		store_id VARCHAR(20),
		store_name VARCHAR(100),
		cvs_type VARCHAR(20),
		address TEXT,
		recipient_name VARCHAR(100) NOT NULL,
		recipient_phone VARCHAR(20) NOT NULL,
		fail_reason TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		paid_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_orders_customer_id ON orders(customer_id);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at);

	-- A shipment exists only for a successfully settled order, at most one per order.
	CREATE TABLE IF NOT EXISTS shipments (
		shipment_id VARCHAR(50) PRIMARY KEY,
		order_id VARCHAR(20) NOT NULL UNIQUE REFERENCES orders(order_id),
		recipient_name VARCHAR(100) NOT NULL,
		delivery_type VARCHAR(10) NOT NULL,
		store_id VARCHAR(20),
		store_name VARCHAR(100),
		cvs_type VARCHAR(20),
		address TEXT,
		status VARCHAR(20) NOT NULL,
		return_store_name VARCHAR(100),
		return_tracking_number VARCHAR(60),
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		delivered_at TIMESTAMP,
		picked_up_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_shipments_status ON shipments(status);

	-- Outbox table for event publishing
	CREATE TABLE IF NOT EXISTS outbox_messages (
		id SERIAL PRIMARY KEY,
		aggregate_type VARCHAR(50) NOT NULL,
		aggregate_id VARCHAR(50) NOT NULL,
		event_type VARCHAR(50) NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMP,
		processing_attempts INT NOT NULL DEFAULT 0,
		last_error TEXT,
		status VARCHAR(20) NOT NULL DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_messages(status);
	CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_messages(aggregate_type, aggregate_id);

	CREATE TABLE IF NOT EXISTS dead_letter_messages (
		id SERIAL PRIMARY KEY,
		original_message_id BIGINT NOT NULL,
		aggregate_type VARCHAR(50) NOT NULL,
		aggregate_id VARCHAR(50) NOT NULL,
		event_type VARCHAR(50) NOT NULL,
		payload JSONB NOT NULL,
		error_message TEXT,
		failure_reason TEXT,
		retry_count INT NOT NULL DEFAULT 0,
		last_retry_at TIMESTAMP,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		resolved_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_dead_letter_status ON dead_letter_messages(status);
	`

	_, err := d.DB.Exec(schema)

	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.logger.Info("Database migrations completed successfully")
	return nil
}
