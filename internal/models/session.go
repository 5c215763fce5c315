package models

import "time"

type SessionStatus string

const (
	SessionPending  SessionStatus = "pending"
	SessionActive   SessionStatus = "active"
	SessionDisabled SessionStatus = "disabled"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionPending, SessionActive, SessionDisabled:
		return true
	}
	return false
}

// Session is a borrowed marketplace credential.
type Session struct {
	ID         uint64        `json:"id"`
	Credential string        `json:"-"`
	Status     SessionStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

type SessionCounts struct {
	Pending   int64 `json:"pending"`
	Active    int64 `json:"active"`
	Disabled  int64 `json:"disabled"`
	Delivered int64 `json:"delivered"`
}
