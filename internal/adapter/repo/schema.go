package repo

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
    id                         VARCHAR(40)   NOT NULL PRIMARY KEY,
    idempotency_key            VARCHAR(128)  NOT NULL,
    request_hash               CHAR(64)      NOT NULL DEFAULT '',
    items_json                 JSON          NOT NULL,
    customer_json              JSON          NOT NULL,
    customer_email             VARCHAR(320)  NOT NULL,
    subtotal                   DECIMAL(12,2) NOT NULL,
    tax                        DECIMAL(12,2) NOT NULL,
    shipping                   DECIMAL(12,2) NOT NULL,
    grand_total                DECIMAL(12,2) NOT NULL,
    currency                   CHAR(3)       NOT NULL,
    fulfillment_method         VARCHAR(16)   NOT NULL,
    special_instructions       TEXT          NOT NULL,
    status                     VARCHAR(16)   NOT NULL,
    payment_kind               VARCHAR(16)   NOT NULL,
    payment_id                 VARCHAR(64)   NOT NULL DEFAULT '',
    payment_reference          VARCHAR(64)   NOT NULL DEFAULT '',
    payment_status             VARCHAR(16)   NOT NULL,
    payment_failure_reason     VARCHAR(255)  NOT NULL DEFAULT '',
    card_reference             VARCHAR(32)   NOT NULL DEFAULT '',
    estimated_fulfillment_date DATETIME(6)   NULL,
    version                    INT           NOT NULL DEFAULT 0,
    created_at                 DATETIME(6)   NOT NULL,
    updated_at                 DATETIME(6)   NOT NULL,
    UNIQUE KEY uq_orders_idempotency_key (idempotency_key),
    KEY idx_orders_customer_email (customer_email, created_at)
)`,
	`CREATE TABLE IF NOT EXISTS outbox (
    id              BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
    channel         VARCHAR(64)  NOT NULL,
    payload         JSON         NOT NULL,
    status          VARCHAR(16)  NOT NULL,
    retry_count     INT          NOT NULL DEFAULT 0,
    next_attempt_at DATETIME(6)  NOT NULL,
    created_at      DATETIME(6)  NOT NULL,
    sent_at         DATETIME(6)  NULL,
    KEY idx_outbox_pending (status, next_attempt_at)
)`,
}

// Migrate creates the tables when they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
