package message

import "time"

// Results a handled delivery can end in.
const (
	ResultDispatched = "dispatched"
	ResultIgnored    = "ignored"
	ResultFailed     = "failed"
	ResultRejected   = "rejected"
)

// Outcome is the JSON envelope published on the activity feed, one per
// handled webhook delivery.
type Outcome struct {
	Type         string    `json:"type"`
	DeliveryID   string    `json:"delivery_id,omitempty"`
	Event        string    `json:"event,omitempty"`
	Action       string    `json:"action,omitempty"`
	Result       string    `json:"result"`
	Status       int       `json:"status"`
	Organization string    `json:"organization,omitempty"`
	Repository   string    `json:"repository,omitempty"`
	Creator      string    `json:"creator,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// OutcomeType is the Type of every Outcome.
const OutcomeType = "relay"

// Subscribe is sent by feed clients to restrict delivery to the listed
// results. An empty list means everything.
type Subscribe struct {
	Type    string   `json:"type"`
	Results []string `json:"results"`
}

// Subscribe types. The server answers each "subscribe" with a "subscribed"
// echoing the active filter.
const (
	SubscribeType  = "subscribe"
	SubscribedType = "subscribed"
)
