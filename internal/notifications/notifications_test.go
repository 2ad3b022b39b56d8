package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/config"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox/payloads"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "notifications-test", Output: io.Discard})
}

type fakeMailClient struct {
	sent   []*mail.SGMailV3
	status int
	err    error
}

func (f *fakeMailClient) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, email)
	status := f.status
	if status == 0 {
		status = 202
	}
	return &rest.Response{StatusCode: status, Body: "rejected"}, nil
}

func newEmailTestDispatcher(t *testing.T, client *fakeMailClient) *EmailDispatcher {
	t.Helper()
	d, err := newEmailDispatcher(client, config.SendgridConfig{DefaultFrom: "orders@shop.example", FromName: "Shop"}, testLogger())
	require.NoError(t, err)
	return d
}

func confirmationMessage() Message {
	return Message{
		EventID:   uuid.New(),
		EventType: enums.EventOrderConfirmation,
		Payload: &payloads.OrderConfirmationEvent{
			OrderID:              uuid.New(),
			TransactionReference: "pay_123",
			BuyerEmail:           "buyer@example.com",
			PaidAmountCents:      5400,
			FulfilledAmountCents: 3000,
			ShortfallCents:       2400,
			Currency:             "USD",
			FulfillmentStatus:    enums.OrderPartiallyFulfilled,
			Lines:                []payloads.SaleLine{{Title: "Mug", Quantity: 2, GrossCents: 2000}},
			Unfulfilled:          []payloads.SaleLine{{Title: "Poster", Quantity: 3, GrossCents: 2400}},
		},
	}
}

func TestEmailDispatcherSendsOrderConfirmation(t *testing.T) {
	client := &fakeMailClient{}
	d := newEmailTestDispatcher(t, client)

	require.NoError(t, d.Dispatch(context.Background(), confirmationMessage()))
	require.Len(t, client.sent, 1)

	sent := client.sent[0]
	require.Equal(t, "Your order is confirmed with changes", sent.Subject)
	require.Equal(t, "orders@shop.example", sent.From.Address)
	require.Equal(t, "buyer@example.com", sent.Personalizations[0].To[0].Address)
	require.Len(t, sent.Content, 2)
	text := sent.Content[0].Value
	require.Contains(t, text, "pay_123")
	require.Contains(t, text, "2 x Mug: 20.00 USD")
	require.Contains(t, text, "3 x Poster")
	require.Contains(t, text, "24.00 USD of your payment will be refunded")
	require.Contains(t, sent.Content[1].Value, "<h2>Thanks for your order</h2>")
}

func TestEmailDispatcherSendsDownloadLink(t *testing.T) {
	client := &fakeMailClient{}
	d := newEmailTestDispatcher(t, client)

	msg := Message{
		EventID:   uuid.New(),
		EventType: enums.EventDigitalDelivery,
		Payload: &payloads.DigitalDeliveryEvent{
			BuyerEmail:  "buyer@example.com",
			Title:       "Field Guide <PDF>",
			DownloadURL: "https://shop.example/api/v1/downloads/abc",
			ExpiresAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
	require.NoError(t, d.Dispatch(context.Background(), msg))
	require.Len(t, client.sent, 1)
	require.Contains(t, client.sent[0].Content[0].Value, "https://shop.example/api/v1/downloads/abc")
	require.Contains(t, client.sent[0].Content[1].Value, "Field Guide &lt;PDF&gt;")
}

func TestEmailDispatcherIgnoresSellerEvents(t *testing.T) {
	client := &fakeMailClient{}
	d := newEmailTestDispatcher(t, client)

	msg := Message{EventID: uuid.New(), EventType: enums.EventLowStockAlert, Payload: &payloads.LowStockAlertEvent{}}
	require.NoError(t, d.Dispatch(context.Background(), msg))
	require.Empty(t, client.sent)
}

func TestEmailDispatcherErrors(t *testing.T) {
	rejected := newEmailTestDispatcher(t, &fakeMailClient{status: 500})
	err := rejected.Dispatch(context.Background(), confirmationMessage())
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())

	failing := newEmailTestDispatcher(t, &fakeMailClient{err: errors.New("dial tcp: timeout")})
	err = failing.Dispatch(context.Background(), confirmationMessage())
	require.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())

	noRecipient := confirmationMessage()
	noRecipient.Payload.(*payloads.OrderConfirmationEvent).BuyerEmail = ""
	client := &fakeMailClient{}
	err = newEmailTestDispatcher(t, client).Dispatch(context.Background(), noRecipient)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
	require.Empty(t, client.sent)
}

func TestInAppDispatcherRecordsSellerAlertOnce(t *testing.T) {
	gdb := dbtest.Open(t)
	d, err := NewInAppDispatcher(NewRepository(gdb), testLogger())
	require.NoError(t, err)

	sellerID := uuid.New()
	method := "ground"
	msg := Message{
		EventID:   uuid.New(),
		EventType: enums.EventSellerSaleAlert,
		Payload: &payloads.SellerSaleAlertEvent{
			SubOrderID:           uuid.New(),
			SellerID:             sellerID,
			TransactionReference: "pay_9",
			ShippingMethod:       &method,
			GrossCents:           2500,
			SettleCents:          2300,
			Currency:             "USD",
			Lines:                []payloads.SaleLine{{Quantity: 2}, {Quantity: 1}},
		},
	}

	require.NoError(t, d.Dispatch(context.Background(), msg))
	require.NoError(t, d.Dispatch(context.Background(), msg))

	var rows []models.Notification
	require.NoError(t, gdb.Where("seller_id = ?", sellerID).Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, enums.NotificationTypeSaleAlert, rows[0].Type)
	require.Equal(t, "Order pay_9: 3 item(s), 25.00 USD gross, 23.00 USD after fees. Ship via ground.", rows[0].Message)
	require.NotNil(t, rows[0].EventID)
	require.Equal(t, msg.EventID, *rows[0].EventID)
}

func TestInAppDispatcherIgnoresBuyerEvents(t *testing.T) {
	gdb := dbtest.Open(t)
	d, err := NewInAppDispatcher(NewRepository(gdb), testLogger())
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(context.Background(), confirmationMessage()))
	var count int64
	require.NoError(t, gdb.Model(&models.Notification{}).Count(&count).Error)
	require.Zero(t, count)
}

type recordingDispatcher struct {
	calls []Message
	err   error
}

func (r *recordingDispatcher) Dispatch(_ context.Context, msg Message) error {
	r.calls = append(r.calls, msg)
	return r.err
}

type memoryIdempotency struct {
	seen map[string]bool
	err  error
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{seen: map[string]bool{}}
}

func (m *memoryIdempotency) CheckAndMarkProcessed(_ context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	key := consumer + "/" + eventID.String()
	if m.seen[key] {
		return true, nil
	}
	m.seen[key] = true
	return false, nil
}

func (m *memoryIdempotency) Release(_ context.Context, consumer string, eventID uuid.UUID) error {
	delete(m.seen, consumer+"/"+eventID.String())
	return nil
}

func (m *memoryIdempotency) claimed(channel string, eventID uuid.UUID) bool {
	return m.seen[notificationConsumerName+":"+channel+"/"+eventID.String()]
}

type idleSubscriber struct{}

func (idleSubscriber) Receive(ctx context.Context, _ func(context.Context, *pubsub.Message)) error {
	<-ctx.Done()
	return ctx.Err()
}

func newTestConsumer(t *testing.T, dispatcher Dispatcher, manager *memoryIdempotency) *Consumer {
	t.Helper()
	return newChannelConsumer(t, manager, Channel{Name: "test", Dispatcher: dispatcher})
}

func newChannelConsumer(t *testing.T, manager *memoryIdempotency, channels ...Channel) *Consumer {
	t.Helper()
	c, err := NewConsumer(idleSubscriber{}, channels, manager, testLogger())
	require.NoError(t, err)
	return c
}

func encodeDelivery(t *testing.T, eventType enums.OutboxEventType, eventID uuid.UUID, data any) delivery {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	envelope, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	require.NoError(t, err)
	return delivery{
		ID:         "msg-" + eventID.String()[:8],
		Attributes: map[string]string{"event_type": string(eventType)},
		Data:       envelope,
	}
}

func TestConsumerDispatchesEachEventOnce(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	manager := newMemoryIdempotency()
	c := newTestConsumer(t, dispatcher, manager)

	eventID := uuid.New()
	msg := encodeDelivery(t, enums.EventLowStockAlert, eventID, payloads.LowStockAlertEvent{
		SellerID:          uuid.New(),
		Title:             "Mug",
		RequestedQuantity: 2,
	})

	first := c.process(context.Background(), msg)
	require.True(t, first.dispatched)
	require.False(t, first.nack)

	second := c.process(context.Background(), msg)
	require.False(t, second.dispatched)
	require.False(t, second.nack)

	require.Len(t, dispatcher.calls, 1)
	decoded, ok := dispatcher.calls[0].Payload.(*payloads.LowStockAlertEvent)
	require.True(t, ok)
	require.Equal(t, "Mug", decoded.Title)
	require.Equal(t, eventID, dispatcher.calls[0].EventID)
}

func TestConsumerAcksDeliveryFailures(t *testing.T) {
	dispatcher := &recordingDispatcher{err: errors.New("sendgrid unavailable")}
	c := newTestConsumer(t, dispatcher, newMemoryIdempotency())

	msg := encodeDelivery(t, enums.EventOrderConfirmation, uuid.New(), payloads.OrderConfirmationEvent{BuyerEmail: "b@example.com"})
	result := c.process(context.Background(), msg)
	require.False(t, result.nack)
	require.False(t, result.dispatched)
	require.Len(t, dispatcher.calls, 1)
}

func TestConsumerRedeliversTransientFailuresWithinBudget(t *testing.T) {
	dispatcher := &recordingDispatcher{err: pkgerrors.New(pkgerrors.CodeDependency, "sendgrid 503")}
	manager := newMemoryIdempotency()
	c := newTestConsumer(t, dispatcher, manager)

	eventID := uuid.New()
	msg := encodeDelivery(t, enums.EventDigitalDelivery, eventID, payloads.DigitalDeliveryEvent{BuyerEmail: "b@example.com"})

	msg.Attempt = 1
	require.True(t, c.process(context.Background(), msg).nack)
	require.False(t, manager.claimed("test", eventID), "claim must be released for the redelivery")

	msg.Attempt = maxDeliveryAttempts
	require.False(t, c.process(context.Background(), msg).nack, "last attempt is dropped")
	require.Len(t, dispatcher.calls, 2)
}

func TestConsumerRedeliversOnlyToFailedChannel(t *testing.T) {
	email := &recordingDispatcher{}
	inApp := &recordingDispatcher{err: pkgerrors.New(pkgerrors.CodeDependency, "db down")}
	manager := newMemoryIdempotency()
	c := newChannelConsumer(t, manager,
		Channel{Name: "email", Dispatcher: email},
		Channel{Name: "in_app", Dispatcher: inApp},
	)

	eventID := uuid.New()
	msg := encodeDelivery(t, enums.EventOrderConfirmation, eventID, payloads.OrderConfirmationEvent{BuyerEmail: "b@example.com"})

	msg.Attempt = 1
	first := c.process(context.Background(), msg)
	require.True(t, first.nack)
	require.True(t, first.dispatched)
	require.True(t, manager.claimed("email", eventID))
	require.False(t, manager.claimed("in_app", eventID))

	inApp.err = nil
	msg.Attempt = 2
	second := c.process(context.Background(), msg)
	require.False(t, second.nack)
	require.True(t, second.dispatched)

	require.Len(t, email.calls, 1, "redelivery must not resend the email")
	require.Len(t, inApp.calls, 2)
}

func TestNewConsumerValidatesChannels(t *testing.T) {
	manager := newMemoryIdempotency()
	d := &recordingDispatcher{}

	_, err := NewConsumer(idleSubscriber{}, nil, manager, testLogger())
	require.Error(t, err)
	_, err = NewConsumer(idleSubscriber{}, []Channel{{Name: "email"}}, manager, testLogger())
	require.Error(t, err)
	_, err = NewConsumer(idleSubscriber{}, []Channel{{Name: "email", Dispatcher: d}, {Name: "email", Dispatcher: d}}, manager, testLogger())
	require.Error(t, err)
}

func TestConsumerDropsPermanentFailures(t *testing.T) {
	dispatcher := &recordingDispatcher{err: pkgerrors.New(pkgerrors.CodeValidation, "missing buyer email")}
	c := newTestConsumer(t, dispatcher, newMemoryIdempotency())

	msg := encodeDelivery(t, enums.EventOrderConfirmation, uuid.New(), payloads.OrderConfirmationEvent{})
	msg.Attempt = 1
	require.False(t, c.process(context.Background(), msg).nack)
}

func TestConsumerNacksWhenDedupeStoreFails(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	c := newTestConsumer(t, dispatcher, &memoryIdempotency{seen: map[string]bool{}, err: errors.New("redis down")})

	msg := encodeDelivery(t, enums.EventOrderConfirmation, uuid.New(), payloads.OrderConfirmationEvent{})
	require.True(t, c.process(context.Background(), msg).nack)
	require.Empty(t, dispatcher.calls)
}

func TestConsumerSkipsMalformedAndForeignEvents(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	c := newTestConsumer(t, dispatcher, newMemoryIdempotency())

	cases := []delivery{
		{ID: "garbage", Attributes: map[string]string{"event_type": "order_confirmation"}, Data: []byte("{not json")},
		{ID: "no-id", Attributes: map[string]string{"event_type": "order_confirmation"}, Data: []byte(`{"version":1,"data":{}}`)},
		encodeDelivery(t, enums.EventOrderFulfilled, uuid.New(), payloads.OrderFulfilledEvent{}),
	}
	for _, msg := range cases {
		result := c.process(context.Background(), msg)
		require.False(t, result.nack, msg.ID)
		require.False(t, result.dispatched, msg.ID)
	}
	require.Empty(t, dispatcher.calls)
}

func TestRenderPayoutFailureIncludesReason(t *testing.T) {
	reason := "account closed"
	rendered, ok := renderInApp(Message{Payload: &payloads.PayoutStatusChangedEvent{
		SellerID:      uuid.New(),
		To:            enums.PayoutStatusFailed,
		SettleCents:   450,
		Currency:      "usd",
		FailureReason: &reason,
	}})
	require.True(t, ok)
	require.Equal(t, enums.NotificationTypePayout, rendered.Type)
	require.Equal(t, "Settlement of 4.50 USD is now failed. Reason: account closed", rendered.Message)
	require.True(t, strings.HasPrefix(*rendered.Link, "/sellers/"))
}
