// Package notifications delivers the notification intents recorded in the
// outbox: buyer emails through SendGrid and seller alerts as in-app rows.
package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox/registry"
)

// Message is one decoded notification intent. Payload holds a pointer to one
// of the payloads event structs.
type Message struct {
	EventID    uuid.UUID
	EventType  enums.OutboxEventType
	OccurredAt time.Time
	Payload    any
}

// Dispatcher delivers a message on one channel. Channels ignore messages they
// do not render.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// Channel is a named Dispatcher. The name scopes the dedupe claim, so a
// redelivered event only reaches the channels that have not delivered it yet.
type Channel struct {
	Name       string
	Dispatcher Dispatcher
}

func (c Channel) consumerKey() string {
	return notificationConsumerName + ":" + c.Name
}

// NewDecoderRegistry registers the v1 payload decoders for every notification event.
func NewDecoderRegistry() *registry.DecoderRegistry {
	reg := registry.NewDecoderRegistry()
	registry.RegisterJSON[payloads.SellerSaleAlertEvent](reg, enums.EventSellerSaleAlert, 1)
	registry.RegisterJSON[payloads.LowStockAlertEvent](reg, enums.EventLowStockAlert, 1)
	registry.RegisterJSON[payloads.DigitalDeliveryEvent](reg, enums.EventDigitalDelivery, 1)
	registry.RegisterJSON[payloads.OrderConfirmationEvent](reg, enums.EventOrderConfirmation, 1)
	registry.RegisterJSON[payloads.SubOrderStatusChangedEvent](reg, enums.EventSubOrderStatusChanged, 1)
	registry.RegisterJSON[payloads.PayoutStatusChangedEvent](reg, enums.EventPayoutStatusChanged, 1)
	return reg
}
