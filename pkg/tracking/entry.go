package tracking

import "time"

// Status represents the authoritative delivery status of a scheduled message.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusInFlight     Status = "in_flight"
	StatusDelivered    Status = "delivered"
	StatusFailedRetry  Status = "failed_retry"
	StatusDeadLettered Status = "dead_lettered"
)

// Terminal reports whether the status is absorbing. No transition may leave
// a terminal status.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusDeadLettered
}

// validTransitions is the status DAG. delivered and dead_lettered have no
// outgoing edges.
var validTransitions = map[Status][]Status{
	StatusQueued:      {StatusInFlight, StatusDeadLettered},
	StatusInFlight:    {StatusDelivered, StatusFailedRetry, StatusDeadLettered},
	StatusFailedRetry: {StatusInFlight, StatusDeadLettered},
}

// ValidTransition reports whether from -> to is an edge of the status DAG.
func ValidTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Entry is the tracking record for a single message, one per message_id.
// It is the single source of truth for delivery status; workers mutate it
// only through conditional updates.
type Entry struct {
	MessageID          string     `json:"message_id" bson:"message_id"`
	Recipient          string     `json:"recipient" bson:"recipient"`
	Body               string     `json:"body" bson:"body"`
	TimingPreference   string     `json:"timing_preference" bson:"timing_preference"`
	CallerReference    string     `json:"caller_reference" bson:"caller_reference"`
	Status             Status     `json:"status" bson:"status"`
	Attempts           int        `json:"attempts" bson:"attempts"`
	LastError          string     `json:"last_error" bson:"last_error"`
	ProviderReference  string     `json:"provider_reference" bson:"provider_reference"`
	TargetDeliveryTime time.Time  `json:"target_delivery_time" bson:"target_delivery_time"`
	CreatedAt          time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" bson:"updated_at"`
	DeliveredAt        *time.Time `json:"delivered_at,omitempty" bson:"delivered_at,omitempty"`
}

// Update describes the fields a conditional write may change. Empty string
// fields leave the stored value untouched; DeliveredAt is written once and
// preserved afterwards.
type Update struct {
	Status            Status
	IncrementAttempts bool
	LastError         string
	ProviderReference string
	DeliveredAt       *time.Time
}
