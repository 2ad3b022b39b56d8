// Package dbtest opens throwaway sqlite databases carrying the production schema.
package dbtest

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db"
)

var counter atomic.Int64

// schema mirrors pkg/migrate/migrations with sqlite types. Enum columns are
// plain text.
var schema = []string{
	`CREATE TABLE products (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		price_cents INTEGER NOT NULL CHECK (price_cents >= 0),
		currency TEXT NOT NULL DEFAULT 'USD',
		stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
		asset_key TEXT,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE product_variants (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		label TEXT NOT NULL,
		price_cents INTEGER NOT NULL CHECK (price_cents >= 0),
		stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (product_id, label)
	)`,
	`CREATE TABLE checkout_sessions (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		buyer_email TEXT NOT NULL,
		line_items TEXT NOT NULL,
		shipping_selections TEXT NOT NULL DEFAULT '{}',
		delivery_address TEXT,
		subtotal_cents INTEGER NOT NULL,
		shipping_cents INTEGER NOT NULL DEFAULT 0,
		total_cents INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		created_at DATETIME
	)`,
	`CREATE TABLE fulfillment_jobs (
		id TEXT PRIMARY KEY,
		transaction_reference TEXT NOT NULL UNIQUE,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		attempts INTEGER NOT NULL DEFAULT 0,
		next_run_at DATETIME NOT NULL,
		locked_by TEXT,
		locked_until DATETIME,
		last_error TEXT,
		completed_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		transaction_reference TEXT NOT NULL UNIQUE,
		checkout_session_id TEXT,
		buyer_id TEXT NOT NULL,
		buyer_email TEXT NOT NULL,
		seller_ids TEXT NOT NULL DEFAULT '[]',
		paid_amount_cents INTEGER NOT NULL,
		fulfilled_amount_cents INTEGER NOT NULL,
		shortfall_cents INTEGER NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'USD',
		payment_status TEXT NOT NULL DEFAULT 'paid',
		fulfillment_status TEXT NOT NULL,
		delivery_address TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE sub_orders (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		seller_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		shipping_method TEXT,
		shipping_cost_cents INTEGER NOT NULL DEFAULT 0,
		subtotal_cents INTEGER NOT NULL,
		platform_fee_cents INTEGER NOT NULL,
		settle_cents INTEGER NOT NULL,
		delivery_status TEXT NOT NULL,
		tracking_carrier TEXT,
		tracking_number TEXT,
		delivered_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (order_id, seller_id)
	)`,
	`CREATE TABLE order_line_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		sub_order_id TEXT NOT NULL REFERENCES sub_orders(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		variant_id TEXT,
		variant_label TEXT,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price_cents INTEGER NOT NULL,
		gross_cents INTEGER NOT NULL,
		platform_fee_cents INTEGER NOT NULL,
		settle_cents INTEGER NOT NULL,
		created_at DATETIME,
		CHECK (platform_fee_cents + settle_cents = gross_cents)
	)`,
	`CREATE TABLE seller_accounts (
		seller_id TEXT PRIMARY KEY,
		payout_account_ref TEXT,
		pending_balance_cents INTEGER NOT NULL DEFAULT 0,
		total_earnings_cents INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE settlement_records (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		sub_order_id TEXT NOT NULL UNIQUE,
		gross_cents INTEGER NOT NULL,
		platform_fee_cents INTEGER NOT NULL,
		settle_cents INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		payout_status TEXT NOT NULL DEFAULT 'PENDING',
		payout_account_ref TEXT,
		payout_reference TEXT,
		failure_reason TEXT,
		processing_at DATETIME,
		paid_at DATETIME,
		failed_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		CHECK (platform_fee_cents + settle_cents = gross_cents)
	)`,
	`CREATE TABLE digital_delivery_grants (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		sub_order_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		asset_key TEXT NOT NULL,
		buyer_email TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		one_time BOOLEAN NOT NULL DEFAULT false,
		consumed_at DATETIME,
		download_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
	`CREATE TABLE notifications (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		link TEXT,
		event_id TEXT UNIQUE,
		read_at DATETIME,
		created_at DATETIME
	)`,
}

// Open returns a fresh in-memory database with every table created. The pool is
// limited to one connection so concurrent callers serialize on it the way row
// locks serialize them in postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:dbtest_%d?mode=memory&cache=shared&_foreign_keys=1", counter.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                db.NowUTC,
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}

// Client wraps Open in the shared db.Client so services can use WithTx.
func Client(t testing.TB) *db.Client {
	t.Helper()
	return db.NewFromConn(Open(t))
}
