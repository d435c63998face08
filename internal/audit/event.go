package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderAction   = "OrderAction"
	EventExport        = "ExportRequested"
	EventSessionEnded  = "SessionEnded"
	TopicConsoleEvents = "console.activity"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id when there is one
	Payload       json.RawMessage `json:"payload"`
}

// Activity is the payload of every console event.
type Activity struct {
	Action     string `json:"action"`
	UserID     int64  `json:"user_id"`
	User       string `json:"user"`
	Role       string `json:"role"`
	OrderID    int64  `json:"order_id,omitempty"`
	ProductID  int64  `json:"product_id,omitempty"`
	Quantity   int    `json:"quantity,omitempty"`
	Status     string `json:"status,omitempty"`
	Format     string `json:"format,omitempty"`
	Outcome    string `json:"outcome"`
	Message    string `json:"message,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func NewEnvelope(eventType, producer string, a Activity) (Envelope, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     producer,
		Payload:      payload,
	}
	if a.OrderID != 0 {
		env.CorrelationID = itoa(a.OrderID)
	}
	return env, nil
}

func (e Envelope) Activity() (Activity, error) {
	var a Activity
	err := json.Unmarshal(e.Payload, &a)
	return a, err
}
