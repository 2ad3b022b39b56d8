package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
)

const (
	notificationConsumerName = "notifications"
	// maxDeliveryAttempts bounds how often Pub/Sub redelivers an event whose
	// dispatch failed transiently. After that the notification is dropped.
	maxDeliveryAttempts = 3
)

type subscriber interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type payloadDecoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (interface{}, error)
}

// Consumer reads the notification topic and hands every event to each channel
// once. Delivery is best-effort: a transient channel failure is redelivered by
// Pub/Sub a bounded number of times, anything else is logged and acked.
type Consumer struct {
	subscription subscriber
	decoder      payloadDecoder
	channels     []Channel
	idempotency  idempotencyChecker
	logg         *logger.Logger
}

// NewConsumer builds a notification consumer.
func NewConsumer(subscription subscriber, channels []Channel, manager idempotencyChecker, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("notification subscription required")
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("at least one channel required")
	}
	seen := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		if ch.Name == "" || ch.Dispatcher == nil {
			return nil, fmt.Errorf("channel requires a name and a dispatcher")
		}
		if _, dup := seen[ch.Name]; dup {
			return nil, fmt.Errorf("duplicate channel %q", ch.Name)
		}
		seen[ch.Name] = struct{}{}
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscription: subscription,
		decoder:      NewDecoderRegistry(),
		channels:     channels,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		attempt := 0
		if msg.DeliveryAttempt != nil {
			attempt = *msg.DeliveryAttempt
		}
		result := c.process(ctx, delivery{ID: msg.ID, Attributes: msg.Attributes, Data: msg.Data, Attempt: attempt})
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type delivery struct {
	ID         string
	Attributes map[string]string
	Data       []byte
	// Attempt is zero when the subscription has no dead-letter policy, in
	// which case Pub/Sub does not count attempts and failures are not retried.
	Attempt int
}

type processResult struct {
	dispatched bool
	nack       bool
}

func (c *Consumer) process(ctx context.Context, msg delivery) processResult {
	eventType := enums.OutboxEventType(strings.TrimSpace(msg.Attributes["event_type"]))
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	envelope, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{}
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{}
	}
	logCtx = c.logg.WithField(logCtx, "event_id", eventID.String())

	payload, err := c.decoder.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "skipping undecodable notification event")
		return processResult{}
	}

	message := Message{
		EventID:    eventID,
		EventType:  eventType,
		OccurredAt: envelope.OccurredAt,
		Payload:    payload,
	}

	var result processResult
	var failed error
	for _, ch := range c.channels {
		chCtx := c.logg.WithField(logCtx, "channel", ch.Name)
		already, err := c.idempotency.CheckAndMarkProcessed(ctx, ch.consumerKey(), eventID)
		if err != nil {
			c.logg.Error(chCtx, "idempotency check failed", err)
			result.nack = true
			continue
		}
		if already {
			c.logg.Info(chCtx, "event already processed")
			continue
		}

		err = ch.Dispatcher.Dispatch(ctx, message)
		if err == nil {
			result.dispatched = true
			continue
		}
		if pkgerrors.IsRetryable(err) && msg.Attempt > 0 && msg.Attempt < maxDeliveryAttempts {
			if releaseErr := c.idempotency.Release(ctx, ch.consumerKey(), eventID); releaseErr == nil {
				c.logg.Warn(c.logg.WithFields(chCtx, map[string]any{"error": err.Error(), "delivery_attempt": msg.Attempt}), "notification delivery failed, awaiting redelivery")
				result.nack = true
				continue
			}
		}
		failed = multierr.Append(failed, fmt.Errorf("%s: %w", ch.Name, err))
	}

	if failed != nil {
		c.logg.Error(c.logg.WithField(logCtx, "delivery_attempt", msg.Attempt), "notification delivery failed", failed)
	}
	return result
}
