package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox/payloads"
)

// Email is a rendered buyer message.
type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// InApp is a rendered seller inbox entry.
type InApp struct {
	SellerID uuid.UUID
	Type     enums.NotificationType
	Title    string
	Message  string
	Link     *string
}

type emailContent struct {
	To       string
	Subject  string
	Heading  string
	Lines    []string
	Link     string
	LinkText string
}

var emailLayout = template.Must(template.New("email").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<h2>{{.Heading}}</h2>
{{range .Lines}}<p>{{.}}</p>
{{end}}{{if .Link}}<p><a href="{{.Link}}">{{.LinkText}}</a></p>
{{end}}</body></html>`))

// renderEmail returns false for messages that are not addressed to the buyer.
func renderEmail(msg Message) (*Email, bool, error) {
	var content emailContent
	switch p := msg.Payload.(type) {
	case *payloads.OrderConfirmationEvent:
		content = orderConfirmationEmail(p)
	case *payloads.DigitalDeliveryEvent:
		content = emailContent{
			To:       p.BuyerEmail,
			Subject:  fmt.Sprintf("Your download: %s", p.Title),
			Heading:  "Your download is ready",
			Lines:    []string{fmt.Sprintf("%s is ready to download until %s.", p.Title, p.ExpiresAt.UTC().Format("Jan 2, 2006 15:04 MST"))},
			Link:     p.DownloadURL,
			LinkText: "Download " + p.Title,
		}
	case *payloads.SubOrderStatusChangedEvent:
		content = statusChangedEmail(p)
	default:
		return nil, false, nil
	}

	if strings.TrimSpace(content.To) == "" {
		return nil, true, fmt.Errorf("%s: buyer email missing", msg.EventType)
	}

	var html bytes.Buffer
	if err := emailLayout.Execute(&html, content); err != nil {
		return nil, true, fmt.Errorf("render %s email: %w", msg.EventType, err)
	}
	text := strings.Join(content.Lines, "\n")
	if content.Link != "" {
		text += "\n\n" + content.Link
	}
	return &Email{
		To:      content.To,
		Subject: content.Subject,
		Text:    text,
		HTML:    html.String(),
	}, true, nil
}

func orderConfirmationEmail(p *payloads.OrderConfirmationEvent) emailContent {
	lines := []string{fmt.Sprintf("Order reference %s.", p.TransactionReference)}
	for _, line := range p.Lines {
		lines = append(lines, fmt.Sprintf("%d x %s: %s", line.Quantity, line.Title, formatMoney(line.GrossCents, p.Currency)))
	}
	if len(p.Unfulfilled) > 0 {
		lines = append(lines, "Some items could not be fulfilled because they sold out:")
		for _, line := range p.Unfulfilled {
			lines = append(lines, fmt.Sprintf("%d x %s", line.Quantity, line.Title))
		}
		lines = append(lines, fmt.Sprintf("%s of your payment will be refunded.", formatMoney(p.ShortfallCents, p.Currency)))
	}
	lines = append(lines, fmt.Sprintf("Total charged: %s", formatMoney(p.PaidAmountCents, p.Currency)))

	subject := "Your order is confirmed"
	heading := "Thanks for your order"
	switch p.FulfillmentStatus {
	case enums.OrderPartiallyFulfilled:
		subject = "Your order is confirmed with changes"
	case enums.OrderUnfulfilled:
		subject = "We could not fulfill your order"
		heading = "Your order could not be fulfilled"
	}
	return emailContent{To: p.BuyerEmail, Subject: subject, Heading: heading, Lines: lines}
}

func statusChangedEmail(p *payloads.SubOrderStatusChangedEvent) emailContent {
	heading := "Your order was updated"
	line := fmt.Sprintf("Your shipment is now %s.", humanize(string(p.To)))
	switch p.To {
	case enums.DeliveryOutForDelivery:
		heading = "Your order is on its way"
	case enums.DeliveryDelivered:
		heading = "Your order was delivered"
	}
	lines := []string{line}
	if p.TrackingNumber != nil && *p.TrackingNumber != "" {
		tracking := *p.TrackingNumber
		if p.TrackingCarrier != nil && *p.TrackingCarrier != "" {
			tracking = *p.TrackingCarrier + " " + tracking
		}
		lines = append(lines, "Tracking: "+tracking)
	}
	return emailContent{To: p.BuyerEmail, Subject: heading, Heading: heading, Lines: lines}
}

// renderInApp returns false for messages that are not seller alerts.
func renderInApp(msg Message) (*InApp, bool) {
	switch p := msg.Payload.(type) {
	case *payloads.SellerSaleAlertEvent:
		units := 0
		for _, line := range p.Lines {
			units += line.Quantity
		}
		message := fmt.Sprintf("Order %s: %d item(s), %s gross, %s after fees.",
			p.TransactionReference, units, formatMoney(p.GrossCents, p.Currency), formatMoney(p.SettleCents, p.Currency))
		if p.ShippingMethod != nil && *p.ShippingMethod != "" {
			message += " Ship via " + *p.ShippingMethod + "."
		}
		return &InApp{
			SellerID: p.SellerID,
			Type:     enums.NotificationTypeSaleAlert,
			Title:    "New sale",
			Message:  message,
			Link:     stringPtr(fmt.Sprintf("/sub-orders/%s", p.SubOrderID)),
		}, true
	case *payloads.LowStockAlertEvent:
		return &InApp{
			SellerID: p.SellerID,
			Type:     enums.NotificationTypeLowStock,
			Title:    "Out of stock",
			Message: fmt.Sprintf("%s sold out before order %s could take %d unit(s). Restock to keep selling.",
				p.Title, p.TransactionReference, p.RequestedQuantity),
			Link: stringPtr(fmt.Sprintf("/products/%s", p.ProductID)),
		}, true
	case *payloads.PayoutStatusChangedEvent:
		message := fmt.Sprintf("Settlement of %s is now %s.", formatMoney(p.SettleCents, p.Currency), humanize(string(p.To)))
		if p.FailureReason != nil && *p.FailureReason != "" {
			message += " Reason: " + *p.FailureReason
		}
		return &InApp{
			SellerID: p.SellerID,
			Type:     enums.NotificationTypePayout,
			Title:    "Payout update",
			Message:  message,
			Link:     stringPtr(fmt.Sprintf("/sellers/%s/settlements", p.SellerID)),
		}, true
	default:
		return nil, false
	}
}

func formatMoney(cents int64, currency string) string {
	return decimal.New(cents, -2).StringFixed(2) + " " + strings.ToUpper(currency)
}

func humanize(status string) string {
	return strings.ReplaceAll(strings.ToLower(status), "_", " ")
}

func stringPtr(value string) *string {
	return &value
}
