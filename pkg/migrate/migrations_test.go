package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if err := ValidateFS(embedded, "migrations"); err != nil {
		t.Fatalf("validate embedded migrations: %v", err)
	}
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	entries, err := embedded.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) != len(onDisk) {
		t.Fatalf("embedded has %d migrations, disk has %d", len(entries), len(onDisk))
	}
}

func TestMigrationsGuardStockAndUniqueness(t *testing.T) {
	cases := map[string][]string{
		"create_products": {
			"CHECK (stock >= 0)",
			"product_variants",
		},
		"create_fulfillment_jobs": {
			"CONSTRAINT ux_fulfillment_jobs_reference UNIQUE (transaction_reference)",
			"locked_until timestamptz",
		},
		"create_orders": {
			"CONSTRAINT ux_orders_transaction_reference UNIQUE (transaction_reference)",
			"CHECK (platform_fee_cents + settle_cents = gross_cents)",
		},
		"create_settlements": {
			"CONSTRAINT ux_settlement_records_sub_order UNIQUE (sub_order_id)",
			"pending_balance_cents bigint NOT NULL DEFAULT 0",
		},
		"create_digital_delivery_grants": {
			"consumed_at timestamptz",
			"one_time boolean",
		},
	}

	for suffix, wants := range cases {
		content := readMigration(t, suffix)
		for _, want := range wants {
			if !strings.Contains(content, want) {
				t.Fatalf("migration %s missing %q", suffix, want)
			}
		}
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Payout Refs!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_payout_refs.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}

func TestValidateDirRejectsMissingDown(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nCREATE TABLE x (id int);\n"
	if err := os.WriteFile(filepath.Join(dir, "20260101000000_x.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ValidateDir(dir); err == nil {
		t.Fatal("expected missing goose Down to fail validation")
	}
}

func TestValidateDirRejectsDuplicateVersions(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	for _, name := range []string{"20260101000000_a.sql", "20260101000000_b.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	err := ValidateDir(dir)
	if err == nil || !strings.Contains(err.Error(), "share version") {
		t.Fatalf("expected duplicate version error, got %v", err)
	}
}

func TestValidateDirRejectsBadTimestamp(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	if err := os.WriteFile(filepath.Join(dir, "20261399000000_x.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ValidateDir(dir); err == nil {
		t.Fatal("expected month 13 to fail validation")
	}
}

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob %s: %v", suffix, err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one %s migration, found %d", suffix, len(matches))
	}
	b, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read %s: %v", matches[0], err)
	}
	return string(b)
}
