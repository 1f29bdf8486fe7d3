package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// ScheduledMessage is the caller-visible unit of work. All fields except
// AttemptCount are immutable after creation.
type ScheduledMessage struct {
	MessageID          string    `json:"message_id"`
	Recipient          string    `json:"recipient"`
	Body               string    `json:"body"`
	CreatedAt          time.Time `json:"created_at"`
	TargetDeliveryTime time.Time `json:"target_delivery_time"`
	AttemptCount       int       `json:"attempt_count"`
}

// Envelope is the unit placed on the delay queue. It carries enough of the
// scheduled message to act without a second lookup. Envelopes have no
// identity of their own: any number of copies for the same MessageID may be
// in flight at once, and consumers must collapse them idempotently.
type Envelope struct {
	MessageID          string    `json:"message_id"`
	Recipient          string    `json:"recipient"`
	Body               string    `json:"body"`
	TargetDeliveryTime time.Time `json:"target_delivery_time"`
	AttemptCount       int       `json:"attempt_count"`
}

// NewEnvelope builds the queue envelope for a scheduled message.
func NewEnvelope(msg *ScheduledMessage) Envelope {
	return Envelope{
		MessageID:          msg.MessageID,
		Recipient:          msg.Recipient,
		Body:               msg.Body,
		TargetDeliveryTime: msg.TargetDeliveryTime,
		AttemptCount:       msg.AttemptCount,
	}
}

// Remaining returns how long until the envelope's target delivery time.
// A non-positive result means the envelope is ready to send.
func (e Envelope) Remaining(now time.Time) time.Duration {
	return e.TargetDeliveryTime.Sub(now)
}

// Marshal encodes the envelope to its JSON wire shape.
func (e Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope %s: %w", e.MessageID, err)
	}
	return data, nil
}

// UnmarshalEnvelope decodes an envelope from its JSON wire shape.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if e.MessageID == "" {
		return Envelope{}, fmt.Errorf("envelope is missing message_id")
	}
	return e, nil
}
