// Package assertion parses and evaluates the exit rules of the watch command.
package assertion

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Operators.
const (
	OpEquals = "eq"
	OpRegex  = "regex"
	OpExists = "exists"
)

// Rule matches one top-level field of a feed message.
type Rule struct {
	Field    string
	Operator string
	Value    string
	ExitCode int

	re *regexp.Regexp
}

// Parse accepts "field=value", "field=~regex" and "field exists".
func Parse(input string, exitCode int) (Rule, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Rule{}, errors.New("rule cannot be empty")
	}

	if idx := strings.IndexRune(trimmed, '='); idx >= 0 {
		field := strings.TrimSpace(trimmed[:idx])
		value := strings.TrimSpace(trimmed[idx+1:])
		if field == "" {
			return Rule{}, errors.New("missing field before '='")
		}
		if strings.HasPrefix(value, "~") {
			pattern := strings.TrimSpace(value[1:])
			if pattern == "" {
				return Rule{}, errors.New("missing regex after '=~'")
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return Rule{}, errors.Wrap(err, "invalid regex")
			}
			return Rule{Field: field, Operator: OpRegex, Value: pattern, ExitCode: exitCode, re: re}, nil
		}
		if value == "" {
			return Rule{}, errors.New("missing value after '='")
		}
		return Rule{Field: field, Operator: OpEquals, Value: value, ExitCode: exitCode}, nil
	}

	fields := strings.Fields(trimmed)
	if len(fields) != 2 || fields[1] != OpExists {
		return Rule{}, errors.New("expected 'field=value', 'field=~regex' or 'field exists'")
	}
	return Rule{Field: fields[0], Operator: OpExists, ExitCode: exitCode}, nil
}

// ParseAll parses every input with the same exit code.
func ParseAll(inputs []string, exitCode int) ([]Rule, error) {
	rules := make([]Rule, 0, len(inputs))
	for _, input := range inputs {
		rule, err := Parse(input, exitCode)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid rule %q", input)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Match reports whether the rule holds for a decoded message.
func (r Rule) Match(fields map[string]interface{}) bool {
	value, ok := fields[r.Field]
	switch r.Operator {
	case OpExists:
		return ok
	case OpEquals:
		if !ok {
			return false
		}
		str, ok := scalar(value)
		return ok && str == r.Value
	case OpRegex:
		if !ok || r.re == nil {
			return false
		}
		str, ok := scalar(value)
		return ok && r.re.MatchString(str)
	}
	return false
}

// First returns the first rule matching data, a JSON object.
func First(data []byte, rules []Rule) (Rule, bool) {
	if len(rules) == 0 {
		return Rule{}, false
	}
	var fields map[string]interface{}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&fields); err != nil {
		return Rule{}, false
	}
	for _, rule := range rules {
		if rule.Match(fields) {
			return rule, true
		}
	}
	return Rule{}, false
}

func scalar(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case nil:
		return "null", true
	default:
		return "", false
	}
}
