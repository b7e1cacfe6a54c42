// Package metrics wires the tally scope used for relay counters and timers.
package metrics

import (
	"io"
	"time"

	"github.com/cactus/go-statsd-client/statsd"
	"github.com/pkg/errors"
	"github.com/uber-go/tally/v4"
	tallystatsd "github.com/uber-go/tally/v4/statsd"
)

// Metric names emitted by the relay, relative to the root prefix.
const (
	WebhookReceived = "webhook.received"
	DispatchLatency = "dispatch.latency"
)

// Result returns the counter name for a relay outcome, e.g. "webhook.dispatched".
func Result(result string) string {
	return "webhook." + result
}

// NewScope returns a root scope flushing every second. With an empty
// statsdAddr metrics are kept in memory only.
func NewScope(prefix, statsdAddr string) (tally.Scope, io.Closer, error) {
	reporter, err := newReporter(statsdAddr)
	if err != nil {
		return nil, nil, err
	}
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:   prefix,
		Reporter: reporter,
	}, time.Second)
	return scope, closer, nil
}

func newReporter(addr string) (tally.StatsReporter, error) {
	if addr == "" {
		return tally.NullStatsReporter, nil
	}
	client, err := statsd.NewClientWithConfig(&statsd.ClientConfig{
		Address: addr,
	})
	if err != nil {
		return nil, errors.Wrap(err, "initializing statsd client")
	}
	return tallystatsd.NewReporter(client, tallystatsd.Options{}), nil
}
