package assertion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Rule
	}{
		{"result=dispatched", Rule{Field: "result", Operator: OpEquals, Value: "dispatched", ExitCode: 0}},
		{" repository = foo ", Rule{Field: "repository", Operator: OpEquals, Value: "foo", ExitCode: 0}},
		{"error exists", Rule{Field: "error", Operator: OpExists, ExitCode: 0}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.input, 0)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}

	re, err := Parse("repository=~^svc-", 1)
	require.NoError(t, err)
	assert.Equal(t, OpRegex, re.Operator)
	assert.Equal(t, "^svc-", re.Value)
	assert.Equal(t, 1, re.ExitCode)
}

func TestParse_Errors(t *testing.T) {
	for _, input := range []string{"", "=x", "result=", "result=~", "result=~(", "result", "result missing"} {
		_, err := Parse(input, 0)
		assert.Error(t, err, input)
	}
}

func TestParseAll(t *testing.T) {
	rules, err := ParseAll([]string{"result=failed", "status=500"}, 1)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	_, err = ParseAll([]string{"result=failed", "bogus"}, 1)
	assert.Error(t, err)
}

func TestFirst(t *testing.T) {
	msg := []byte(`{"type":"relay","result":"failed","status":500,"repository":"svc-api","error":"invalid"}`)

	success, _ := ParseAll([]string{"result=dispatched"}, 0)
	failure, _ := ParseAll([]string{"status=500", "result=failed"}, 1)

	_, ok := First(msg, success)
	assert.False(t, ok)

	rule, ok := First(msg, failure)
	require.True(t, ok)
	assert.Equal(t, "status", rule.Field)
	assert.Equal(t, 1, rule.ExitCode)

	re, _ := ParseAll([]string{"repository=~^svc-"}, 0)
	_, ok = First(msg, re)
	assert.True(t, ok)

	exists, _ := ParseAll([]string{"delivery_id exists"}, 0)
	_, ok = First(msg, exists)
	assert.False(t, ok)

	_, ok = First([]byte("not json"), failure)
	assert.False(t, ok)
}
