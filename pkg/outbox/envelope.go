package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who produced the event. System producers such as the
// fulfillment worker leave UserID empty and set Role.
type ActorRef struct {
	UserID   uuid.UUID  `json:"userId"`
	SellerID *uuid.UUID `json:"sellerId,omitempty"`
	Role     string     `json:"role,omitempty"`
}

// SystemActor marks events produced by background workers.
func SystemActor(component string) *ActorRef {
	return &ActorRef{Role: "system:" + component}
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses the stored outbox payload.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PayloadEnvelope{}, err
	}
	return envelope, nil
}
