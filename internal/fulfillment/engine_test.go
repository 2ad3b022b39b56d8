package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/internal/commission"
	"github.com/angelmondragon/marketplace-fulfillment/internal/delivery"
	"github.com/angelmondragon/marketplace-fulfillment/internal/inventory"
	"github.com/angelmondragon/marketplace-fulfillment/internal/orders"
	"github.com/angelmondragon/marketplace-fulfillment/internal/settlements"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/types"
)

// failingEmitter passes events through until it sees failOn.
type failingEmitter struct {
	next   eventEmitter
	failOn enums.OutboxEventType
}

func (f failingEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if event.EventType == f.failOn {
		return errors.New("outbox unavailable")
	}
	return f.next.Emit(ctx, tx, event)
}

type harness struct {
	engine      *Engine
	client      *db.Client
	ledger      *inventory.Ledger
	settlements *settlements.Service
}

func newHarness(t *testing.T, wrap func(eventEmitter) eventEmitter) harness {
	t.Helper()
	client := dbtest.Client(t)
	conn := client.DB()
	logg := logger.New(logger.Options{ServiceName: "fulfillment-test", Output: io.Discard})

	var emitter eventEmitter = outbox.NewService(outbox.NewRepository(conn), logg)
	if wrap != nil {
		emitter = wrap(emitter)
	}
	calc, err := commission.NewCalculator(config.CommissionConfig{Mode: config.CommissionModeFlat, RateBPS: 1000})
	require.NoError(t, err)
	settlementSvc, err := settlements.NewService(client, settlements.NewRepository(conn), emitter, logg)
	require.NoError(t, err)
	issuer, err := delivery.NewIssuer(config.DeliveryConfig{
		GrantTTL:      time.Hour,
		TokenSecret:   "delivery-secret",
		PublicBaseURL: "https://shop.example",
	})
	require.NoError(t, err)
	ledger := inventory.NewLedger(conn)

	engine, err := NewEngine(Deps{
		DB:          client,
		Orders:      orders.NewRepository(conn),
		Ledger:      ledger,
		Commission:  calc,
		Settlements: settlementSvc,
		Issuer:      issuer,
		Grants:      delivery.NewRepository(conn),
		Outbox:      emitter,
		Logger:      logg,
	}, Config{OneTimeGrants: true})
	require.NoError(t, err)
	return harness{engine: engine, client: client, ledger: ledger, settlements: settlementSvc}
}

func (h harness) seedPhysical(t *testing.T, seller uuid.UUID, stock int, price int64) models.Product {
	t.Helper()
	p := models.Product{
		SellerID:   seller,
		Kind:       enums.ProductKindPhysical,
		Title:      "Ceramic mug",
		PriceCents: price,
		Currency:   enums.CurrencyUSD,
		Stock:      stock,
		IsActive:   true,
	}
	require.NoError(t, h.client.DB().Create(&p).Error)
	return p
}

func (h harness) seedVariant(t *testing.T, seller uuid.UUID, label string, stock int, price int64) (models.Product, models.ProductVariant) {
	t.Helper()
	p := h.seedPhysical(t, seller, 0, price)
	v := models.ProductVariant{ProductID: p.ID, Label: label, PriceCents: price, Stock: stock}
	require.NoError(t, h.client.DB().Create(&v).Error)
	return p, v
}

func (h harness) seedDigital(t *testing.T, seller uuid.UUID, price int64) models.Product {
	t.Helper()
	key := "assets/" + uuid.NewString() + ".pdf"
	p := models.Product{
		SellerID:   seller,
		Kind:       enums.ProductKindDigital,
		Title:      "Field guide",
		PriceCents: price,
		Currency:   enums.CurrencyUSD,
		AssetKey:   &key,
		IsActive:   true,
	}
	require.NoError(t, h.client.DB().Create(&p).Error)
	return p
}

func (h harness) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := h.client.DB().Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func physicalItem(p models.Product, qty int) types.CartLineItem {
	return types.CartLineItem{
		ProductID:      p.ID,
		SellerID:       p.SellerID,
		Kind:           p.Kind,
		Title:          p.Title,
		Quantity:       qty,
		UnitPriceCents: p.PriceCents,
	}
}

func variantItem(p models.Product, v models.ProductVariant, qty int) types.CartLineItem {
	item := physicalItem(p, qty)
	item.SelectedVariant = &types.VariantSelection{VariantID: v.ID, Label: v.Label, PriceCents: v.PriceCents}
	return item
}

func digitalItem(p models.Product) types.CartLineItem {
	item := physicalItem(p, 1)
	item.AssetKey = *p.AssetKey
	return item
}

func newJob(reference string, items ...types.CartLineItem) types.FulfillmentJob {
	job := types.FulfillmentJob{
		TransactionReference: reference,
		BuyerID:              uuid.New(),
		BuyerEmail:           "Buyer@Example.com",
		CartLineItems:        items,
		ShippingSelections:   types.ShippingSelections{},
		Currency:             "usd",
	}
	job.PaidAmountCents = job.CartGrossCents()
	return job
}

func TestFulfillSplitsBySellerAndRecordsShortfall(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sellerA, sellerB := uuid.New(), uuid.New()

	mug := h.seedPhysical(t, sellerA, 5, 1000)
	shirt, large := h.seedVariant(t, sellerB, "L", 1, 800)
	guide := h.seedDigital(t, sellerB, 500)

	job := newJob("pay_split", physicalItem(mug, 2), variantItem(shirt, large, 3), digitalItem(guide))
	job.ShippingSelections[sellerA.String()] = types.ShippingSelection{Method: "ground", CostCents: 500}
	job.PaidAmountCents += 500
	require.Equal(t, int64(5400), job.PaidAmountCents)

	res, err := h.engine.Fulfill(ctx, job)
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.Equal(t, enums.OrderPartiallyFulfilled, res.FulfillmentStatus)
	require.Equal(t, int64(3000), res.FulfilledAmountCents)
	require.Equal(t, int64(2400), res.ShortfallCents)
	require.Equal(t, int64(250), res.PlatformFeeCents)

	require.Len(t, res.InsufficientStock, 1)
	require.Equal(t, shirt.ID, res.InsufficientStock[0].ProductID)
	require.Equal(t, "Ceramic mug (L)", res.InsufficientStock[0].Title)

	require.Len(t, res.SubOrders, 2)
	first, second := res.SubOrders[0], res.SubOrders[1]
	require.Equal(t, sellerA, first.SellerID)
	require.Equal(t, int64(2500), first.GrossCents)
	require.Equal(t, int64(200), first.PlatformFeeCents)
	require.Equal(t, int64(2300), first.SettleCents)
	require.Equal(t, enums.DeliveryOrderPlaced, first.DeliveryStatus)

	require.Equal(t, sellerB, second.SellerID)
	require.Equal(t, int64(500), second.GrossCents)
	require.Equal(t, int64(50), second.PlatformFeeCents)
	require.Equal(t, int64(450), second.SettleCents)
	require.Equal(t, enums.DeliveryViaDownload, second.DeliveryStatus)

	require.Len(t, res.DigitalGrants, 1)
	require.Contains(t, res.DigitalGrants[0].DownloadURL, "https://shop.example/api/v1/downloads/")

	stock, err := h.ledger.Stock(ctx, mug.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 3, stock)
	variantStock, err := h.ledger.Stock(ctx, shirt.ID, &large.ID)
	require.NoError(t, err)
	require.Equal(t, 1, variantStock, "short line must leave its counter untouched")

	order, err := orders.NewRepository(h.client.DB()).FindByReference(ctx, "pay_split")
	require.NoError(t, err)
	require.NotNil(t, order)
	require.Equal(t, "buyer@example.com", order.BuyerEmail)
	require.Equal(t, types.UUIDList{sellerA, sellerB}, order.SellerIDs)
	require.Len(t, order.SubOrders, 2)
	require.NotNil(t, order.SubOrders[0].ShippingMethod)
	require.Equal(t, "ground", *order.SubOrders[0].ShippingMethod)
	require.Nil(t, order.SubOrders[1].ShippingMethod)
	require.Len(t, order.SubOrders[0].Items, 1)
	require.Len(t, order.SubOrders[1].Items, 1)

	accountA, err := h.settlements.Account(ctx, sellerA)
	require.NoError(t, err)
	require.Equal(t, int64(2300), accountA.PendingBalanceCents)
	accountB, err := h.settlements.Account(ctx, sellerB)
	require.NoError(t, err)
	require.Equal(t, int64(450), accountB.PendingBalanceCents)

	var grant models.DigitalDeliveryGrant
	require.NoError(t, h.client.DB().Where("order_id = ?", order.ID).First(&grant).Error)
	require.True(t, grant.OneTime)
	require.Equal(t, "buyer@example.com", grant.BuyerEmail)
	require.Equal(t, *guide.AssetKey, grant.AssetKey)

	wantEvents := map[enums.OutboxEventType]int64{
		enums.EventSellerSaleAlert:   2,
		enums.EventLowStockAlert:     1,
		enums.EventDigitalDelivery:   1,
		enums.EventOrderConfirmation: 1,
		enums.EventOrderFulfilled:    1,
	}
	for eventType, want := range wantEvents {
		require.Equal(t, want, h.count(t, &models.OutboxEvent{}, "event_type = ?", eventType), "events of type %s", eventType)
	}
}

func TestFulfillAllDigitalCart(t *testing.T) {
	h := newHarness(t, nil)
	seller := uuid.New()
	a := h.seedDigital(t, seller, 1200)
	b := h.seedDigital(t, seller, 800)

	job := newJob("pay_digital", digitalItem(a), digitalItem(b))
	job.ShippingSelections[seller.String()] = types.ShippingSelection{Method: "ground", CostCents: 400}

	ctx := context.Background()
	res, err := h.engine.Fulfill(ctx, job)
	require.NoError(t, err)
	require.Equal(t, enums.OrderFulfilled, res.FulfillmentStatus)
	require.Zero(t, res.ShortfallCents)
	require.Len(t, res.SubOrders, 1)
	require.Equal(t, enums.DeliveryViaDownload, res.SubOrders[0].DeliveryStatus)
	require.Len(t, res.DigitalGrants, 2)
	require.Equal(t, int64(2), h.count(t, &models.DigitalDeliveryGrant{}, ""))

	order, err := orders.NewRepository(h.client.DB()).FindByReference(ctx, "pay_digital")
	require.NoError(t, err)
	require.NotNil(t, order)
	require.Len(t, order.SubOrders, 1)
	require.Nil(t, order.SubOrders[0].ShippingMethod, "digital-only sub-orders never ship")
	require.Zero(t, order.SubOrders[0].ShippingCostCents)
	require.NotNil(t, order.SubOrders[0].DeliveredAt)
}

func TestFulfillWithNoStockStillCreatesOrder(t *testing.T) {
	h := newHarness(t, nil)
	p := h.seedPhysical(t, uuid.New(), 0, 1500)

	res, err := h.engine.Fulfill(context.Background(), newJob("pay_empty", physicalItem(p, 1)))
	require.NoError(t, err)
	require.Equal(t, enums.OrderUnfulfilled, res.FulfillmentStatus)
	require.Empty(t, res.SubOrders)
	require.Equal(t, int64(1500), res.ShortfallCents)
	require.Equal(t, int64(1), h.count(t, &models.Order{}, ""))
	require.Zero(t, h.count(t, &models.SettlementRecord{}, ""))
}

func TestFulfillIsIdempotentPerReference(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.seedPhysical(t, uuid.New(), 10, 1000)
	job := newJob("pay_dup", physicalItem(p, 2))

	first, err := h.engine.Fulfill(ctx, job)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := h.engine.Fulfill(ctx, job)
	require.NoError(t, err)
	require.True(t, second.Duplicate)

	stock, err := h.ledger.Stock(ctx, p.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 8, stock)
	require.Equal(t, int64(1), h.count(t, &models.Order{}, ""))
	require.Equal(t, int64(1), h.count(t, &models.SettlementRecord{}, ""))
	require.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderFulfilled))
}

func TestConcurrentJobsNeverOversell(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	p := h.seedPhysical(t, uuid.New(), 10, 1000)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		fulfilled int
		failures  []error
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.engine.Fulfill(ctx, newJob(fmt.Sprintf("pay_race_%d", i), physicalItem(p, 1)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			if res.FulfillmentStatus == enums.OrderFulfilled {
				fulfilled++
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, failures)
	require.Equal(t, 10, fulfilled)
	stock, err := h.ledger.Stock(ctx, p.ID, nil)
	require.NoError(t, err)
	require.Zero(t, stock)
	require.Equal(t, int64(100), h.count(t, &models.Order{}, ""))
	require.Equal(t, int64(90), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventLowStockAlert))
}

func TestFulfillRollsBackEverythingOnFailure(t *testing.T) {
	h := newHarness(t, func(next eventEmitter) eventEmitter {
		return failingEmitter{next: next, failOn: enums.EventOrderFulfilled}
	})
	ctx := context.Background()
	seller := uuid.New()
	p := h.seedPhysical(t, seller, 4, 1000)
	d := h.seedDigital(t, seller, 300)

	_, err := h.engine.Fulfill(ctx, newJob("pay_rollback", physicalItem(p, 2), digitalItem(d)))
	require.Error(t, err)
	require.True(t, pkgerrors.IsRetryable(err))

	stock, err := h.ledger.Stock(ctx, p.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 4, stock)
	require.Zero(t, h.count(t, &models.Order{}, ""))
	require.Zero(t, h.count(t, &models.SubOrder{}, ""))
	require.Zero(t, h.count(t, &models.SettlementRecord{}, ""))
	require.Zero(t, h.count(t, &models.DigitalDeliveryGrant{}, ""))
	require.Zero(t, h.count(t, &models.OutboxEvent{}, ""))

	account, err := h.settlements.Account(ctx, seller)
	require.NoError(t, err)
	require.Zero(t, account.PendingBalanceCents)
}

func TestFulfillRejectsMalformedLines(t *testing.T) {
	h := newHarness(t, nil)
	p := h.seedPhysical(t, uuid.New(), 5, 1000)

	zeroQty := physicalItem(p, 0)
	noAsset := physicalItem(p, 1)
	noAsset.Kind = enums.ProductKindDigital
	unknown := physicalItem(p, 1)
	unknown.Kind = enums.ProductKind("service")

	cases := map[string]types.CartLineItem{
		"zero quantity":         zeroQty,
		"digital without asset": noAsset,
		"unknown kind":          unknown,
	}
	for name, item := range cases {
		job := newJob("pay_bad_"+name, physicalItem(p, 1), item)
		_, err := h.engine.Fulfill(context.Background(), job)
		require.Error(t, err, name)
		typed := pkgerrors.As(err)
		require.NotNil(t, typed, name)
		require.Equal(t, pkgerrors.CodeValidation, typed.Code(), name)
		require.False(t, pkgerrors.IsRetryable(err), name)
	}

	stock, err := h.ledger.Stock(context.Background(), p.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 5, stock, "validation happens before any decrement")
}

func TestHandleReportsDuplicate(t *testing.T) {
	h := newHarness(t, nil)
	p := h.seedPhysical(t, uuid.New(), 5, 1000)
	job := newJob("pay_handle", physicalItem(p, 1))

	out, err := h.engine.Handle(context.Background(), job)
	require.NoError(t, err)
	require.False(t, out.Duplicate)

	out, err = h.engine.Handle(context.Background(), job)
	require.NoError(t, err)
	require.True(t, out.Duplicate)
}
