package metrics

import "github.com/prometheus/client_golang/prometheus"

// Observer records one metric. The routing code observes through this
// interface so it never names a backend directly.
type Observer interface {
	Observe(val float64, labels ...string)

	// Registration still happens against prometheus, so implementations
	// expose the underlying collector.
	prometheus.Collector
}

type Metrics struct {
	// MsgsCount counts messages entering the router.
	MsgsCount Observer
	// CommandCount counts executed command actions, labeled by plugin.
	CommandCount Observer
	// CommandErrors counts command actions that returned an error, labeled
	// by plugin.
	CommandErrors Observer
	// SpamRestricted counts plugin candidate sets discarded by the spam gate.
	SpamRestricted Observer
	// RouteLatency observes how long routing one message takes in seconds.
	RouteLatency Observer
}

func (m Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MsgsCount,
		m.CommandCount,
		m.CommandErrors,
		m.SpamRestricted,
		m.RouteLatency,
	}
}
