// Package fulfillment turns one verified payment into an order, its seller
// sub-orders, settlement postings, digital grants and outbound events. A run
// either commits all of it or none of it.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/internal/commission"
	"github.com/angelmondragon/marketplace-fulfillment/internal/delivery"
	"github.com/angelmondragon/marketplace-fulfillment/internal/orders"
	"github.com/angelmondragon/marketplace-fulfillment/internal/queue"
	"github.com/angelmondragon/marketplace-fulfillment/internal/settlements"
	dbpkg "github.com/angelmondragon/marketplace-fulfillment/pkg/db"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/types"
)

const actorComponent = "fulfillment"

var errDuplicateOrder = errors.New("order already exists for transaction reference")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockLedger interface {
	TryDecrement(ctx context.Context, tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID, amount int) (bool, error)
}

type splitter interface {
	Split(gross int64) (commission.Split, error)
}

type settlementPoster interface {
	PostSettlement(ctx context.Context, tx *gorm.DB, in settlements.Posting) (*models.SettlementRecord, error)
}

type artifactIssuer interface {
	Issue(ctx context.Context, claims delivery.GrantClaims) (delivery.Artifact, error)
	ExpiryFrom(t time.Time) time.Time
}

type grantStore interface {
	WithTx(tx *gorm.DB) *delivery.Repository
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Config tunes grant issuance.
type Config struct {
	OneTimeGrants bool
}

// Deps groups the collaborators the engine drives inside one transaction.
type Deps struct {
	DB          txRunner
	Orders      orders.Repository
	Ledger      stockLedger
	Commission  splitter
	Settlements settlementPoster
	Issuer      artifactIssuer
	Grants      grantStore
	Outbox      eventEmitter
	Logger      *logger.Logger
}

// Engine executes fulfillment jobs.
type Engine struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

func NewEngine(deps Deps, cfg Config) (*Engine, error) {
	switch {
	case deps.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("inventory ledger required")
	case deps.Commission == nil:
		return nil, fmt.Errorf("commission calculator required")
	case deps.Settlements == nil:
		return nil, fmt.Errorf("settlement ledger required")
	case deps.Issuer == nil || deps.Grants == nil:
		return nil, fmt.Errorf("digital delivery issuer and grant repository required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &Engine{deps: deps, cfg: cfg, now: dbpkg.NowUTC}, nil
}

// Handle adapts the engine to the queue worker pool.
func (e *Engine) Handle(ctx context.Context, job types.FulfillmentJob) (queue.Outcome, error) {
	res, err := e.Fulfill(ctx, job)
	if err != nil {
		return queue.Outcome{}, err
	}
	return queue.Outcome{Duplicate: res.Duplicate}, nil
}

// Fulfill processes one paid cart. Running it again for the same
// transaction reference is a no-op reported as Duplicate.
func (e *Engine) Fulfill(ctx context.Context, job types.FulfillmentJob) (*Result, error) {
	job = job.Normalize()
	if job.TransactionReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction reference is required")
	}
	if len(job.CartLineItems) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart has no line items")
	}
	lines := make([]line, 0, len(job.CartLineItems))
	for i, item := range job.CartLineItems {
		l, err := classify(i, item)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	currency, err := enums.ParseCurrency(job.Currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency")
	}

	ctx = e.deps.Logger.WithReference(ctx, job.TransactionReference)

	var result *Result
	err = e.deps.DB.WithTx(ctx, func(tx *gorm.DB) error {
		run := &run{engine: e, tx: tx, job: job, currency: currency, now: e.now()}
		res, err := run.execute(ctx, lines)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if errors.Is(err, errDuplicateOrder) {
		e.deps.Logger.Info(ctx, "fulfillment skipped, order already exists")
		return &Result{Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if result.Duplicate {
		e.deps.Logger.Info(ctx, "fulfillment skipped, order already exists")
		return result, nil
	}

	logCtx := e.deps.Logger.WithFields(ctx, map[string]any{
		"order_id":           result.OrderID.String(),
		"fulfillment_status": result.FulfillmentStatus,
		"sub_orders":         len(result.SubOrders),
		"insufficient_lines": len(result.InsufficientStock),
		"digital_grants":     len(result.DigitalGrants),
		"shortfall_cents":    result.ShortfallCents,
	})
	if len(result.InsufficientStock) > 0 {
		e.deps.Logger.Warn(logCtx, "order committed with insufficient stock lines")
	} else {
		e.deps.Logger.Info(logCtx, "order fulfilled")
	}
	return result, nil
}

// run holds the state of one transaction attempt.
type run struct {
	engine   *Engine
	tx       *gorm.DB
	job      types.FulfillmentJob
	currency enums.Currency
	now      time.Time

	orderID uuid.UUID
	sellers []uuid.UUID
	groups  map[uuid.UUID]*sellerGroup
	short   []InsufficientLine
	result  *Result
}

// sellerGroup accumulates one seller's fulfilled lines before the sub-order
// is written.
type sellerGroup struct {
	sellerID    uuid.UUID
	subOrder    models.SubOrder
	items       []models.OrderLineItem
	digital     []digitalLine
	hasPhysical bool
}

func (r *run) execute(ctx context.Context, lines []line) (*Result, error) {
	e := r.engine
	repo := e.deps.Orders.WithTx(r.tx)

	exists, err := repo.ExistsByReference(ctx, r.job.TransactionReference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing order")
	}
	if exists {
		return &Result{Duplicate: true}, nil
	}

	r.orderID = uuid.New()
	r.groups = make(map[uuid.UUID]*sellerGroup)
	for _, l := range lines {
		if err := r.apply(ctx, l); err != nil {
			return nil, err
		}
	}

	subOrders, err := r.writeOrder(ctx, repo)
	if err != nil {
		return nil, err
	}
	if err := r.issueGrants(ctx); err != nil {
		return nil, err
	}
	if err := r.postSettlements(ctx, subOrders); err != nil {
		return nil, err
	}
	if err := r.emitEvents(ctx); err != nil {
		return nil, err
	}
	return r.result, nil
}

// apply decrements stock for one line and, when it is covered, books it
// under its seller with the commission split.
func (r *run) apply(ctx context.Context, l line) error {
	item := l.item()
	var variantID *uuid.UUID

	switch v := l.(type) {
	case physicalLine:
	case variantLine:
		id := v.variantID
		variantID = &id
	case digitalLine:
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unhandled line type %T", l))
	}

	if _, digital := l.(digitalLine); !digital {
		ok, err := r.engine.deps.Ledger.TryDecrement(ctx, r.tx, item.ProductID, variantID, item.Quantity)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement stock")
		}
		if !ok {
			r.short = append(r.short, InsufficientLine{
				SellerID:   item.SellerID,
				ProductID:  item.ProductID,
				VariantID:  variantID,
				Title:      item.DisplayTitle(),
				Quantity:   item.Quantity,
				GrossCents: item.GrossCents(),
			})
			return nil
		}
	}

	gross := item.GrossCents()
	split, err := r.engine.deps.Commission.Split(gross)
	if err != nil {
		return err
	}

	group := r.group(item.SellerID)
	row := models.OrderLineItem{
		ID:               uuid.New(),
		OrderID:          r.orderID,
		SubOrderID:       group.subOrder.ID,
		ProductID:        item.ProductID,
		VariantID:        variantID,
		Kind:             item.Kind,
		Title:            item.DisplayTitle(),
		Quantity:         item.Quantity,
		UnitPriceCents:   item.EffectiveUnitPrice(),
		GrossCents:       gross,
		PlatformFeeCents: split.PlatformFee,
		SettleCents:      split.SettleAmount,
	}
	if item.SelectedVariant != nil {
		label := item.SelectedVariant.Label
		row.VariantLabel = &label
	}
	group.items = append(group.items, row)
	group.subOrder.SubtotalCents += gross
	group.subOrder.PlatformFeeCents += split.PlatformFee

	switch v := l.(type) {
	case digitalLine:
		group.digital = append(group.digital, v)
	default:
		group.hasPhysical = true
	}
	return nil
}

// group returns the seller's bucket, creating it in first-appearance order.
func (r *run) group(sellerID uuid.UUID) *sellerGroup {
	if g, ok := r.groups[sellerID]; ok {
		return g
	}
	g := &sellerGroup{
		sellerID: sellerID,
		subOrder: models.SubOrder{
			ID:       uuid.New(),
			OrderID:  r.orderID,
			SellerID: sellerID,
			Position: len(r.sellers),
		},
	}
	r.groups[sellerID] = g
	r.sellers = append(r.sellers, sellerID)
	return g
}

func (r *run) writeOrder(ctx context.Context, repo orders.Repository) ([]models.SubOrder, error) {
	subOrders := make([]models.SubOrder, 0, len(r.sellers))
	var items []models.OrderLineItem
	var fulfilled, fees int64

	for _, sellerID := range r.sellers {
		g := r.groups[sellerID]
		sub := &g.subOrder
		if g.hasPhysical {
			sub.DeliveryStatus = enums.DeliveryOrderPlaced
			if sel, ok := r.job.ShippingSelections.For(sellerID); ok {
				method := sel.Method
				sub.ShippingMethod = &method
				sub.ShippingCostCents = sel.CostCents
			}
		} else {
			sub.DeliveryStatus = enums.DeliveryViaDownload
			delivered := r.now
			sub.DeliveredAt = &delivered
		}
		sub.SettleCents = sub.SubtotalCents + sub.ShippingCostCents - sub.PlatformFeeCents
		fulfilled += sub.SubtotalCents + sub.ShippingCostCents
		fees += sub.PlatformFeeCents
		subOrders = append(subOrders, *sub)
		items = append(items, g.items...)
	}

	shortfall := r.job.PaidAmountCents - fulfilled
	if shortfall < 0 {
		shortfall = 0
	}
	status := enums.OrderFulfilled
	switch {
	case len(subOrders) == 0:
		status = enums.OrderUnfulfilled
	case len(r.short) > 0:
		status = enums.OrderPartiallyFulfilled
	}

	order := &models.Order{
		ID:                   r.orderID,
		TransactionReference: r.job.TransactionReference,
		CheckoutSessionID:    r.job.CheckoutSessionID,
		BuyerID:              r.job.BuyerID,
		BuyerEmail:           r.job.BuyerEmail,
		SellerIDs:            types.UUIDList(append([]uuid.UUID{}, r.sellers...)),
		PaidAmountCents:      r.job.PaidAmountCents,
		FulfilledAmountCents: fulfilled,
		ShortfallCents:       shortfall,
		Currency:             r.currency,
		PaymentStatus:        enums.PaymentStatusPaid,
		FulfillmentStatus:    status,
		DeliveryAddress:      r.job.DeliveryAddress.Normalize(),
	}
	if err := repo.CreateOrder(ctx, order); err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, errDuplicateOrder
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	if len(subOrders) > 0 {
		if err := repo.CreateSubOrders(ctx, subOrders); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create sub-orders")
		}
		if err := repo.CreateLineItems(ctx, items); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create line items")
		}
	}

	r.result = &Result{
		OrderID:              r.orderID,
		FulfillmentStatus:    status,
		InsufficientStock:    r.short,
		FulfilledAmountCents: fulfilled,
		ShortfallCents:       shortfall,
		PlatformFeeCents:     fees,
	}
	return subOrders, nil
}

func (r *run) issueGrants(ctx context.Context) error {
	e := r.engine
	grants := e.deps.Grants.WithTx(r.tx)
	expiresAt := e.deps.Issuer.ExpiryFrom(r.now)

	for _, sellerID := range r.sellers {
		g := r.groups[sellerID]
		for _, d := range g.digital {
			grant := &models.DigitalDeliveryGrant{
				ID:         uuid.New(),
				OrderID:    r.orderID,
				SubOrderID: g.subOrder.ID,
				ProductID:  d.cart.ProductID,
				AssetKey:   d.assetKey,
				BuyerEmail: r.job.BuyerEmail,
				ExpiresAt:  expiresAt,
				OneTime:    e.cfg.OneTimeGrants,
			}
			if err := grants.Create(ctx, grant); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create digital grant")
			}
			artifact, err := e.deps.Issuer.Issue(ctx, delivery.GrantClaims{
				GrantID:   grant.ID,
				OrderID:   r.orderID,
				ProductID: grant.ProductID,
				ExpiresAt: expiresAt,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "issue download link")
			}
			r.result.DigitalGrants = append(r.result.DigitalGrants, GrantSummary{
				GrantID:     grant.ID,
				SubOrderID:  g.subOrder.ID,
				ProductID:   grant.ProductID,
				Title:       d.cart.DisplayTitle(),
				DownloadURL: artifact.URL,
				ExpiresAt:   artifact.ExpiresAt,
			})
		}
	}
	return nil
}

func (r *run) postSettlements(ctx context.Context, subOrders []models.SubOrder) error {
	for _, sub := range subOrders {
		record, err := r.engine.deps.Settlements.PostSettlement(ctx, r.tx, settlements.Posting{
			SellerID:         sub.SellerID,
			OrderID:          r.orderID,
			SubOrderID:       sub.ID,
			GrossCents:       sub.SubtotalCents + sub.ShippingCostCents,
			PlatformFeeCents: sub.PlatformFeeCents,
			Currency:         r.currency,
		})
		if err != nil {
			return err
		}
		r.result.SubOrders = append(r.result.SubOrders, SubOrderSummary{
			SubOrderID:       sub.ID,
			SellerID:         sub.SellerID,
			SettlementID:     record.ID,
			GrossCents:       record.GrossCents,
			PlatformFeeCents: record.PlatformFeeCents,
			SettleCents:      record.SettleCents,
			DeliveryStatus:   sub.DeliveryStatus,
		})
	}
	return nil
}
