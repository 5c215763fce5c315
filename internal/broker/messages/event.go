package messages

import (
	"encoding/json"
	"strconv"
	"time"
)

// Event is the wire form of an engine event on the events topic.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	At        time.Time `json:"at"`
	SessionID uint64    `json:"session_id,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`

	Data json.RawMessage `json:"data,omitempty"`
}

// Key keeps events of one order (or session) on one partition.
func (e Event) Key() string {
	if e.OrderID != "" {
		return e.OrderID
	}
	if e.SessionID != 0 {
		return "session:" + strconv.FormatUint(e.SessionID, 10)
	}
	return e.Kind
}
