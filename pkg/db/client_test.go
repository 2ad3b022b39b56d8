package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/dbtest"
)

func seedProduct(t *testing.T, client *db.Client, stock int) {
	t.Helper()
	require.NoError(t, client.Exec(context.Background(),
		`INSERT INTO products (id, seller_id, kind, title, price_cents, stock) VALUES (?, ?, ?, ?, ?, ?)`,
		"p-1", "s-1", "physical", "Canvas tote", 2500, stock).Error)
}

func stockOf(t *testing.T, client *db.Client) int {
	t.Helper()
	var stock int
	require.NoError(t, client.Raw(context.Background(), `SELECT stock FROM products WHERE id = ?`, "p-1").Scan(&stock).Error)
	return stock
}

func TestWithTxCommitsStockDecrement(t *testing.T) {
	client := dbtest.Client(t)
	seedProduct(t, client, 5)

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return tx.Exec(`UPDATE products SET stock = stock - 2 WHERE id = ? AND stock >= 2`, "p-1").Error
	})
	require.NoError(t, err)
	require.Equal(t, 3, stockOf(t, client))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	client := dbtest.Client(t)
	seedProduct(t, client, 5)

	boom := errors.New("persist order failed")
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := tx.Exec(`UPDATE products SET stock = stock - 2 WHERE id = ?`, "p-1").Error; err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 5, stockOf(t, client))
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	client := dbtest.Client(t)
	seedProduct(t, client, 5)

	require.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			tx.Exec(`UPDATE products SET stock = 0 WHERE id = ?`, "p-1")
			panic("engine bug")
		})
	})
	require.Equal(t, 5, stockOf(t, client))
}

func TestStockCheckConstraintRejectsNegative(t *testing.T) {
	client := dbtest.Client(t)
	seedProduct(t, client, 1)

	err := client.Exec(context.Background(), `UPDATE products SET stock = stock - 2 WHERE id = ?`, "p-1").Error
	require.Error(t, err)
	require.Equal(t, 1, stockOf(t, client))
}

func TestIsUniqueViolationOnDuplicateReference(t *testing.T) {
	client := dbtest.Client(t)
	insert := `INSERT INTO fulfillment_jobs (id, transaction_reference, payload, next_run_at)
		VALUES (?, 'txn_dup', '{}', CURRENT_TIMESTAMP)`

	require.NoError(t, client.Exec(context.Background(), insert, "job-1").Error)
	err := client.Exec(context.Background(), insert, "job-2").Error
	require.Error(t, err)
	require.True(t, db.IsUniqueViolation(err, ""))
	require.True(t, db.IsUniqueViolation(err, "transaction_reference"))
	require.False(t, db.IsUniqueViolation(errors.New("connection reset"), ""))
}

func TestPing(t *testing.T) {
	client := dbtest.Client(t)
	require.NoError(t, client.Ping(context.Background()))
}
