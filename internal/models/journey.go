package models

import "time"

// TrackingJourney caches the full carrier history for a tracking code.
type TrackingJourney struct {
	TrackingCode string         `json:"trackingCode"`
	Carrier      string         `json:"carrier"`
	Events       []JourneyEvent `json:"events"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

type JourneyEvent struct {
	Code        string     `json:"code,omitempty"`
	Text        string     `json:"text"`
	Description string     `json:"description,omitempty"`
	At          *time.Time `json:"at,omitempty"`
	Location    string     `json:"location,omitempty"`
}
