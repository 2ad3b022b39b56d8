package settlements

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/pagination"
)

// Repository persists settlement records and seller balances.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, record *models.SettlementRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// AccruePending adds amount to the seller's pending balance, creating the
// account on first sale.
func (r *Repository) AccruePending(ctx context.Context, sellerID uuid.UUID, amount int64) error {
	account := models.SellerAccount{
		SellerID:            sellerID,
		PendingBalanceCents: amount,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "seller_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"pending_balance_cents": gorm.Expr("seller_accounts.pending_balance_cents + ?", amount),
			"updated_at":            time.Now().UTC(),
		}),
	}).Create(&account).Error
}

// MoveToEarnings shifts amount from pending to total earnings.
func (r *Repository) MoveToEarnings(ctx context.Context, sellerID uuid.UUID, amount int64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.SellerAccount{}).
		Where("seller_id = ?", sellerID).
		Updates(map[string]any{
			"pending_balance_cents": gorm.Expr("pending_balance_cents - ?", amount),
			"total_earnings_cents":  gorm.Expr("total_earnings_cents + ?", amount),
			"updated_at":            time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// TransitionStatus moves a record from one payout status to another. The WHERE
// clause carries the expected status, so zero rows affected means another
// writer got there first or the record is elsewhere in its lifecycle.
func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.PayoutStatus, extra map[string]any) (int64, error) {
	updates := map[string]any{
		"payout_status": to,
		"updated_at":    time.Now().UTC(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).Model(&models.SettlementRecord{}).
		Where("id = ? AND payout_status = ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SettlementRecord, error) {
	var record models.SettlementRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// Account returns the seller account, or nil when the seller has no sales yet.
func (r *Repository) Account(ctx context.Context, sellerID uuid.UUID) (*models.SellerAccount, error) {
	var account models.SellerAccount
	err := r.db.WithContext(ctx).Where("seller_id = ?", sellerID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListBySeller returns records newest first, fetching one extra row so callers
// can tell whether another page exists.
func (r *Repository) ListBySeller(ctx context.Context, sellerID uuid.UUID, status *enums.PayoutStatus, limit int, cursor *pagination.Cursor) ([]models.SettlementRecord, error) {
	query := r.db.WithContext(ctx).Model(&models.SettlementRecord{}).
		Where("seller_id = ?", sellerID)
	if status != nil {
		query = query.Where("payout_status = ?", *status)
	}
	if cursor != nil {
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.SettlementRecord
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
