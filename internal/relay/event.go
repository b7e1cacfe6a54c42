package relay

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ActionCreated is the only repository event action the relay acts on.
const ActionCreated = "created"

// DispatchEventType is the event_type sent with every repository dispatch.
const DispatchEventType = "repository_created"

// InboundEvent is the subset of a GitHub "repository" webhook payload the
// relay reads.
type InboundEvent struct {
	Action       string     `json:"action"`
	Repository   Repository `json:"repository"`
	Sender       Account    `json:"sender"`
	Organization Account    `json:"organization"`
}

type Repository struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	// CreatedAt is kept verbatim so it is forwarded exactly as received.
	CreatedAt json.RawMessage `json:"created_at,omitempty"`
}

type Account struct {
	Login string `json:"login"`
}

// ParseAction reads only the action of a webhook body. The body must be JSON,
// but nothing else in it is checked, so ignored events never fail on fields
// the relay does not use. A missing or non-string action reads as "".
func ParseAction(body []byte) (string, error) {
	var head struct {
		Action json.RawMessage `json:"action"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return "", errors.Wrap(err, "invalid payload")
	}
	var action string
	if len(head.Action) > 0 {
		_ = json.Unmarshal(head.Action, &action)
	}
	return action, nil
}

// ParseInboundEvent decodes a webhook body.
func ParseInboundEvent(body []byte) (InboundEvent, error) {
	var ev InboundEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return InboundEvent{}, errors.Wrap(err, "invalid payload")
	}
	return ev, nil
}

// Validate checks the fields a dispatch needs.
func (e InboundEvent) Validate() error {
	switch {
	case e.Repository.Name == "":
		return errors.New("missing repository.name")
	case e.Sender.Login == "":
		return errors.New("missing sender.login")
	case e.Organization.Login == "":
		return errors.New("missing organization.login")
	}
	return nil
}

// DispatchRequest is the body of a repository dispatch call.
type DispatchRequest struct {
	EventType     string        `json:"event_type"`
	ClientPayload ClientPayload `json:"client_payload"`
}

type ClientPayload struct {
	Repository string          `json:"repository"`
	Creator    string          `json:"creator"`
	CreatedAt  json.RawMessage `json:"created_at,omitempty"`
	FullName   string          `json:"full_name"`
}

// NewDispatchRequest derives the dispatch for a creation event.
func NewDispatchRequest(e InboundEvent) DispatchRequest {
	return DispatchRequest{
		EventType: DispatchEventType,
		ClientPayload: ClientPayload{
			Repository: e.Repository.Name,
			Creator:    e.Sender.Login,
			CreatedAt:  e.Repository.CreatedAt,
			FullName:   e.Repository.FullName,
		},
	}
}
