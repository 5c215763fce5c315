package events

import "time"

type Kind string

const (
	SessionActivated Kind = "session_activated"
	SessionDisabled  Kind = "session_disabled"
	SessionExpired   Kind = "session_expired"
	SessionPurged    Kind = "session_purged"

	OrderTracked       Kind = "order_tracked"
	OrderUpdated       Kind = "order_updated"
	TrackingCodeFound  Kind = "tracking_code_found"
	OrderStatusUpdated Kind = "order_status_updated"
	OrderDelivered     Kind = "order_delivered"
	OrderCancelled     Kind = "order_cancelled"
	OrderPurged        Kind = "order_purged"

	CycleCompleted Kind = "cycle_completed"
	CycleSkipped   Kind = "cycle_skipped"
)

type Event struct {
	Kind      Kind      `json:"kind"`
	At        time.Time `json:"at"`
	SessionID uint64    `json:"sessionId,omitempty"`
	OrderID   string    `json:"orderId,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Publisher is what engine components need to emit events.
type Publisher interface {
	Publish(e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}
