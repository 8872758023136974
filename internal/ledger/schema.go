package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// Table names, kept from the storefront plugin layout
const (
	SubscriptionsTable = "pay_in_3_subscriptions"
	InstallmentsTable  = "pay_in_3_installments"
	LogsTable          = "pay_in_3_logs"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ` + SubscriptionsTable + ` (
		id VARCHAR(64) PRIMARY KEY,
		order_id VARCHAR(64) NOT NULL,
		customer_id VARCHAR(64) NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		payment_gateway_id VARCHAR(100) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_pay_in_3_subscriptions_order ON ` + SubscriptionsTable + ` (order_id)`,
	`CREATE TABLE IF NOT EXISTS ` + InstallmentsTable + ` (
		id VARCHAR(64) PRIMARY KEY,
		subscription_id VARCHAR(64) NOT NULL REFERENCES ` + SubscriptionsTable + `(id) ON DELETE CASCADE,
		order_id VARCHAR(64) NOT NULL,
		amount NUMERIC(10,2) NOT NULL CHECK (amount >= 0),
		due_date TIMESTAMPTZ NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		transaction_id VARCHAR(255),
		failed_at TIMESTAMPTZ,
		retries INT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pay_in_3_installments_due ON ` + InstallmentsTable + ` (status, due_date)`,
	`CREATE INDEX IF NOT EXISTS idx_pay_in_3_installments_subscription ON ` + InstallmentsTable + ` (subscription_id)`,
	`CREATE TABLE IF NOT EXISTS ` + LogsTable + ` (
		id BIGSERIAL PRIMARY KEY,
		subscription_id VARCHAR(64),
		order_id VARCHAR(64),
		context VARCHAR(50) NOT NULL,
		log_level VARCHAR(20) NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pay_in_3_logs_subscription ON ` + LogsTable + ` (subscription_id, created_at)`,
}

// EnsureSchema creates the ledger tables if they do not exist
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Uninstall drops every ledger table. Irreversible.
func Uninstall(ctx context.Context, db *sql.DB) error {
	for _, table := range []string{LogsTable, InstallmentsTable, SubscriptionsTable} {
		if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	return nil
}
