package client

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/VictoriaMetrics/metrics"
)

// clientMetrics is the metric set of one client and its namespaced copies
type clientMetrics struct {
	set *metrics.Set
}

func newClientMetrics() *clientMetrics {
	return &clientMetrics{set: metrics.NewSet()}
}

// start counts a command and returns the func recording its result
func (m *clientMetrics) start(cmd *common.Command) func(out common.Outcome, err error) {
	began := time.Now()
	m.set.GetOrCreateCounter(fmt.Sprintf(`mcache_client_commands_total{command=%q}`, cmd.Type)).Inc()

	return func(out common.Outcome, err error) {
		m.set.GetOrCreateHistogram(fmt.Sprintf(`mcache_client_command_duration_seconds{command=%q}`, cmd.Type)).UpdateDuration(began)

		if err != nil {
			code := common.AsError(err).Code
			m.set.GetOrCreateCounter(fmt.Sprintf(`mcache_client_errors_total{kind=%q}`, code)).Inc()
		}
		// a failed exchange has no misses, only the entries it got
		if cmd.Type.IsRetrieval() {
			hits := len(out.Entries)
			m.set.GetOrCreateCounter(`mcache_client_hits_total`).Add(hits)
			if err == nil && len(cmd.Keys) > hits {
				m.set.GetOrCreateCounter(`mcache_client_misses_total`).Add(len(cmd.Keys) - hits)
			}
		}
	}
}

// WriteMetrics writes the metrics of the client in Prometheus text format
func (c *Client) WriteMetrics(w io.Writer) {
	c.metrics.set.WritePrometheus(w)
}
