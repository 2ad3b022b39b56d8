package enums

import "testing"

func TestSubOrderDeliveryStatusTransitions(t *testing.T) {
	allowed := [][2]SubOrderDeliveryStatus{
		{DeliveryOrderPlaced, DeliveryProcessing},
		{DeliveryProcessing, DeliveryOutForDelivery},
		{DeliveryOutForDelivery, DeliveryDelivered},
	}
	for _, pair := range allowed {
		if !pair[0].CanTransitionTo(pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}

	rejected := [][2]SubOrderDeliveryStatus{
		{DeliveryOrderPlaced, DeliveryDelivered},
		{DeliveryProcessing, DeliveryOrderPlaced},
		{DeliveryDelivered, DeliveryProcessing},
		{DeliveryViaDownload, DeliveryDelivered},
		{DeliveryOrderPlaced, DeliveryViaDownload},
	}
	for _, pair := range rejected {
		if pair[0].CanTransitionTo(pair[1]) {
			t.Fatalf("expected %s -> %s to be rejected", pair[0], pair[1])
		}
	}

	if !DeliveryViaDownload.IsTerminal() || !DeliveryDelivered.IsTerminal() {
		t.Fatal("delivered states must be terminal")
	}
	if DeliveryOutForDelivery.IsTerminal() {
		t.Fatal("out_for_delivery must not be terminal")
	}
}

func TestPayoutStatusTransitions(t *testing.T) {
	if !PayoutStatusPending.CanTransitionTo(PayoutStatusProcessing) {
		t.Fatal("pending -> processing must be allowed")
	}
	if PayoutStatusPending.CanTransitionTo(PayoutStatusPaid) {
		t.Fatal("pending -> paid must be rejected")
	}
	if PayoutStatusPaid.CanTransitionTo(PayoutStatusPending) {
		t.Fatal("paid is terminal")
	}
	if !PayoutStatusFailed.CanTransitionTo(PayoutStatusPending) {
		t.Fatal("failed -> pending must be allowed for retries")
	}
}

func TestParseProductKind(t *testing.T) {
	kind, err := ParseProductKind("digital")
	if err != nil || kind != ProductKindDigital {
		t.Fatalf("unexpected parse result %q %v", kind, err)
	}
	if _, err := ParseProductKind("service"); err == nil {
		t.Fatal("expected unknown kind to fail")
	}
}
