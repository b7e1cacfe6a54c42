package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDispatchRequest(t *testing.T) {
	ev, err := ParseInboundEvent([]byte(createdPayload))
	require.NoError(t, err)
	require.Equal(t, ActionCreated, ev.Action)
	require.NoError(t, ev.Validate())

	encoded, err := json.Marshal(NewDispatchRequest(ev))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event_type": "repository_created",
		"client_payload": {
			"repository": "foo",
			"creator": "alice",
			"created_at": "2024-01-01T00:00:00Z",
			"full_name": "org/foo"
		}
	}`, string(encoded))
}

func TestNewDispatchRequest_CreatedAtVerbatim(t *testing.T) {
	for _, raw := range []string{`"2024-01-01T00:00:00+02:00"`, `1704067200`, `null`} {
		ev, err := ParseInboundEvent([]byte(`{"action":"created","repository":{"name":"r","created_at":` + raw + `}}`))
		require.NoError(t, err)
		assert.Equal(t, raw, string(NewDispatchRequest(ev).ClientPayload.CreatedAt))
	}
}

func TestNewDispatchRequest_MissingCreatedAtOmitted(t *testing.T) {
	ev, err := ParseInboundEvent([]byte(`{"action":"created","repository":{"name":"r","full_name":"o/r"},"sender":{"login":"s"},"organization":{"login":"o"}}`))
	require.NoError(t, err)
	encoded, err := json.Marshal(NewDispatchRequest(ev).ClientPayload)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "created_at")
}

func TestInboundEvent_Validate(t *testing.T) {
	full := InboundEvent{
		Action:       ActionCreated,
		Repository:   Repository{Name: "foo"},
		Sender:       Account{Login: "alice"},
		Organization: Account{Login: "org"},
	}
	assert.NoError(t, full.Validate())

	noRepo := full
	noRepo.Repository.Name = ""
	assert.EqualError(t, noRepo.Validate(), "missing repository.name")

	noSender := full
	noSender.Sender.Login = ""
	assert.EqualError(t, noSender.Validate(), "missing sender.login")
}

func TestParseInboundEvent_Invalid(t *testing.T) {
	_, err := ParseInboundEvent([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseInboundEvent([]byte(`{"action": 1}`))
	assert.Error(t, err)
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"action":"created"}`, "created"},
		{`{"action":"deleted","sender":{"login":5}}`, "deleted"},
		{`{"action":5}`, ""},
		{`{"zen":"hi"}`, ""},
		{`null`, ""},
	}
	for _, tt := range tests {
		got, err := ParseAction([]byte(tt.body))
		require.NoError(t, err, tt.body)
		assert.Equal(t, tt.want, got, tt.body)
	}

	_, err := ParseAction([]byte(`{"action":`))
	assert.Error(t, err)
	_, err = ParseAction([]byte(`["created"]`))
	assert.Error(t, err)
}
