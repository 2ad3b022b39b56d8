package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox/payloads"
	"github.com/google/uuid"
)

const analyticsConsumerName = "analytics"

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type subscriber interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consumer streams order_fulfilled facts into BigQuery while honoring Redis idempotency.
type Consumer struct {
	client  tableInserter
	table   string
	sub     subscriber
	manager idempotencyChecker
	logg    *logger.Logger
	now     func() time.Time
}

// NewConsumer builds a new analytics consumer. sub may be nil when only Process is used.
func NewConsumer(client tableInserter, table string, sub subscriber, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("bigquery table name required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		client:  client,
		table:   strings.TrimSpace(table),
		sub:     sub,
		manager: manager,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run receives analytics messages until ctx is canceled. Failed inserts are
// nacked so Pub/Sub redelivers them.
func (c *Consumer) Run(ctx context.Context) error {
	if c.sub == nil {
		return fmt.Errorf("analytics subscription required")
	}
	return c.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		eventType := enums.OutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
		envelope, err := outbox.DecodeEnvelope(msg.Data)
		if err != nil {
			c.logg.Error(c.logg.WithField(ctx, "message_id", msg.ID), "failed to decode analytics envelope", err)
			msg.Ack()
			return
		}
		if err := c.Process(ctx, eventType, envelope); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Process ingests the outbox envelope into BigQuery if the event is supported.
func (c *Consumer) Process(ctx context.Context, eventType enums.OutboxEventType, envelope outbox.PayloadEnvelope) error {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id":   envelope.EventID,
		"event_type": eventType,
	})

	if eventType != enums.EventOrderFulfilled {
		c.logg.Debug(logCtx, "event not handled by analytics consumer")
		return nil
	}

	if envelope.EventID == "" {
		return fmt.Errorf("event id missing")
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return fmt.Errorf("parse event id: %w", err)
	}

	already, err := c.manager.CheckAndMarkProcessed(ctx, analyticsConsumerName, eventID)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return nil
	}

	row, err := buildRow(envelope, c.now())
	if err != nil {
		c.logg.Error(logCtx, "failed to build fulfillment fact", err)
		_ = c.manager.Release(ctx, analyticsConsumerName, eventID)
		return err
	}

	saver := &cbigquery.StructSaver{Struct: row, InsertID: envelope.EventID}
	if err := c.client.InsertRows(ctx, c.table, []any{saver}); err != nil {
		c.logg.Error(logCtx, "failed to insert fulfillment fact", err)
		_ = c.manager.Release(ctx, analyticsConsumerName, eventID)
		return err
	}

	c.logg.Info(c.logg.WithReference(logCtx, row.TransactionReference), "fulfillment fact ingested")
	return nil
}

type fulfillmentFactRow struct {
	EventID              string             `bigquery:"event_id"`
	OrderID              string             `bigquery:"order_id"`
	TransactionReference string             `bigquery:"transaction_reference"`
	BuyerID              string             `bigquery:"buyer_id"`
	SellerIDs            []string           `bigquery:"seller_ids"`
	FulfillmentStatus    string             `bigquery:"fulfillment_status"`
	Currency             string             `bigquery:"currency"`
	PaidAmountCents      int64              `bigquery:"paid_amount_cents"`
	FulfilledAmountCents int64              `bigquery:"fulfilled_amount_cents"`
	ShortfallCents       int64              `bigquery:"shortfall_cents"`
	PlatformFeeCents     int64              `bigquery:"platform_fee_cents"`
	LineCount            int64              `bigquery:"line_count"`
	InsufficientCount    int64              `bigquery:"insufficient_count"`
	DigitalGrantCount    int64              `bigquery:"digital_grant_count"`
	FulfilledAt          time.Time          `bigquery:"fulfilled_at"`
	IngestedAt           time.Time          `bigquery:"ingested_at"`
	Payload              cbigquery.NullJSON `bigquery:"payload"`
}

func buildRow(envelope outbox.PayloadEnvelope, now time.Time) (*fulfillmentFactRow, error) {
	var fact payloads.OrderFulfilledEvent
	if err := json.Unmarshal(envelope.Data, &fact); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if fact.OrderID == uuid.Nil {
		return nil, fmt.Errorf("order id missing")
	}

	sellerIDs := make([]string, 0, len(fact.SellerIDs))
	for _, id := range fact.SellerIDs {
		sellerIDs = append(sellerIDs, id.String())
	}

	fulfilledAt := fact.FulfilledAt
	if fulfilledAt.IsZero() {
		fulfilledAt = envelope.OccurredAt
	}

	return &fulfillmentFactRow{
		EventID:              envelope.EventID,
		OrderID:              fact.OrderID.String(),
		TransactionReference: fact.TransactionReference,
		BuyerID:              fact.BuyerID.String(),
		SellerIDs:            sellerIDs,
		FulfillmentStatus:    string(fact.FulfillmentStatus),
		Currency:             fact.Currency,
		PaidAmountCents:      fact.PaidAmountCents,
		FulfilledAmountCents: fact.FulfilledAmountCents,
		ShortfallCents:       fact.ShortfallCents,
		PlatformFeeCents:     fact.PlatformFeeCents,
		LineCount:            int64(fact.LineCount),
		InsufficientCount:    int64(fact.InsufficientCount),
		DigitalGrantCount:    int64(fact.DigitalGrantCount),
		FulfilledAt:          fulfilledAt.UTC(),
		IngestedAt:           now,
		Payload:              cbigquery.NullJSON{JSONVal: string(envelope.Data), Valid: len(envelope.Data) > 0},
	}, nil
}
