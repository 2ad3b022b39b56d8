package settlements

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/pagination"
)

var nowUTC = func() time.Time { return time.Now().UTC() }

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Posting is the settlement owed for one sub-order.
type Posting struct {
	SellerID         uuid.UUID
	OrderID          uuid.UUID
	SubOrderID       uuid.UUID
	GrossCents       int64
	PlatformFeeCents int64
	Currency         enums.Currency
	PayoutAccountRef *string
}

// ListParams filters ListBySeller.
type ListParams struct {
	Status *enums.PayoutStatus
	pagination.Params
}

// ListResult is one page of settlement records.
type ListResult struct {
	Items      []models.SettlementRecord `json:"items"`
	NextCursor string                    `json:"next_cursor,omitempty"`
}

// AccountView is the seller balance snapshot.
type AccountView struct {
	SellerID            uuid.UUID `json:"seller_id"`
	PendingBalanceCents int64     `json:"pending_balance_cents"`
	TotalEarningsCents  int64     `json:"total_earnings_cents"`
	PayoutAccountRef    *string   `json:"payout_account_ref,omitempty"`
}

// Service is the settlement ledger.
type Service struct {
	db     txRunner
	repo   *Repository
	outbox eventEmitter
	logg   *logger.Logger
}

func NewService(db txRunner, repo *Repository, emitter eventEmitter, logg *logger.Logger) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("settlement repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &Service{db: db, repo: repo, outbox: emitter, logg: logg}, nil
}

// PostSettlement creates the PENDING record for a sub-order and accrues the
// settle amount to the seller's pending balance, both inside tx.
func (s *Service) PostSettlement(ctx context.Context, tx *gorm.DB, in Posting) (*models.SettlementRecord, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settlement posting requires a transaction")
	}
	if in.SellerID == uuid.Nil || in.OrderID == uuid.Nil || in.SubOrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller, order and sub-order ids are required")
	}
	if in.GrossCents < 0 || in.PlatformFeeCents < 0 || in.PlatformFeeCents > in.GrossCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid settlement amounts").
			WithDetails(map[string]any{"gross_cents": in.GrossCents, "platform_fee_cents": in.PlatformFeeCents})
	}
	currency := in.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}

	record := &models.SettlementRecord{
		SellerID:         in.SellerID,
		OrderID:          in.OrderID,
		SubOrderID:       in.SubOrderID,
		GrossCents:       in.GrossCents,
		PlatformFeeCents: in.PlatformFeeCents,
		SettleCents:      in.GrossCents - in.PlatformFeeCents,
		Currency:         currency,
		PayoutStatus:     enums.PayoutStatusPending,
		PayoutAccountRef: in.PayoutAccountRef,
	}
	repo := s.repo.WithTx(tx)
	if err := repo.Create(ctx, record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create settlement record")
	}
	if err := repo.AccruePending(ctx, in.SellerID, record.SettleCents); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "accrue pending balance")
	}
	return record, nil
}

// MarkProcessing hands a PENDING record to the payout process.
func (s *Service) MarkProcessing(ctx context.Context, id uuid.UUID, payoutAccountRef string) (*models.SettlementRecord, error) {
	extra := map[string]any{"processing_at": nowUTC()}
	if ref := strings.TrimSpace(payoutAccountRef); ref != "" {
		extra["payout_account_ref"] = ref
	}
	return s.transition(ctx, id, enums.PayoutStatusPending, enums.PayoutStatusProcessing, extra, nil)
}

// MarkPaid settles a PROCESSING record and moves its amount from pending to
// total earnings in the same transaction.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, payoutReference string) (*models.SettlementRecord, error) {
	extra := map[string]any{"paid_at": nowUTC()}
	if ref := strings.TrimSpace(payoutReference); ref != "" {
		extra["payout_reference"] = ref
	}
	return s.transition(ctx, id, enums.PayoutStatusProcessing, enums.PayoutStatusPaid, extra,
		func(ctx context.Context, repo *Repository, record *models.SettlementRecord) error {
			rows, err := repo.MoveToEarnings(ctx, record.SellerID, record.SettleCents)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "move balance to earnings")
			}
			if rows == 0 {
				return pkgerrors.New(pkgerrors.CodeNotFound, "seller account not found")
			}
			return nil
		})
}

// MarkFailed records a failed payout. The amount stays pending since it is still owed.
func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.SettlementRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "failure reason is required")
	}
	extra := map[string]any{"failed_at": nowUTC(), "failure_reason": reason}
	return s.transition(ctx, id, enums.PayoutStatusProcessing, enums.PayoutStatusFailed, extra, nil)
}

// RetryFailed puts a FAILED record back in the payout queue.
func (s *Service) RetryFailed(ctx context.Context, id uuid.UUID) (*models.SettlementRecord, error) {
	extra := map[string]any{"failure_reason": nil, "failed_at": nil, "processing_at": nil}
	return s.transition(ctx, id, enums.PayoutStatusFailed, enums.PayoutStatusPending, extra, nil)
}

type afterTransition func(ctx context.Context, repo *Repository, record *models.SettlementRecord) error

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to enums.PayoutStatus, extra map[string]any, after afterTransition) (*models.SettlementRecord, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "settlement id is required")
	}
	if !from.CanTransitionTo(to) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("payout cannot move from %s to %s", from, to))
	}

	var updated *models.SettlementRecord
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.TransitionStatus(ctx, id, from, to, extra)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout status")
		}
		if rows == 0 {
			current, err := repo.FindByID(ctx, id)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "settlement record not found")
			}
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement record")
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "settlement is not in the expected payout status").
				WithDetails(map[string]any{"expected": from, "current": current.PayoutStatus})
		}

		record, err := repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload settlement record")
		}
		if after != nil {
			if err := after(ctx, repo, record); err != nil {
				return err
			}
		}

		event := payloads.PayoutStatusChangedEvent{
			SettlementID:  record.ID,
			SellerID:      record.SellerID,
			From:          from,
			To:            to,
			SettleCents:   record.SettleCents,
			Currency:      record.Currency.String(),
			FailureReason: record.FailureReason,
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutStatusChanged,
			AggregateType: enums.AggregateSettlement,
			AggregateID:   record.ID,
			Actor:         outbox.SystemActor("payouts"),
			Data:          event,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payout event")
		}
		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithSellerID(ctx, updated.SellerID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"settlement_id": updated.ID.String(),
			"from":          from,
			"to":            to,
		})
		s.logg.Info(logCtx, "settlement payout status changed")
	}
	return updated, nil
}

// ListBySeller pages through a seller's settlement records, newest first.
func (s *Service) ListBySeller(ctx context.Context, sellerID uuid.UUID, params ListParams) (*ListResult, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payout status")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListBySeller(ctx, sellerID, params.Status, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list settlements")
	}
	items, next := pagination.Page(rows, params.Limit, func(r models.SettlementRecord) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	})
	if items == nil {
		items = []models.SettlementRecord{}
	}
	return &ListResult{Items: items, NextCursor: next}, nil
}

// Account returns the seller's balances. Sellers without sales report zeros.
func (s *Service) Account(ctx context.Context, sellerID uuid.UUID) (*AccountView, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	account, err := s.repo.Account(ctx, sellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller account")
	}
	view := &AccountView{SellerID: sellerID}
	if account != nil {
		view.PendingBalanceCents = account.PendingBalanceCents
		view.TotalEarningsCents = account.TotalEarningsCents
		view.PayoutAccountRef = account.PayoutAccountRef
	}
	return view, nil
}
