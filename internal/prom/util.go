// Package prom holds the shared Prometheus namespace and small helpers for instrumenting code.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ZooNamespace prefixes every metric the server defines.
const ZooNamespace = "modelzoo"

// Time observes the seconds since it was called when the returned func runs. Use it as
// `defer prom.Time(h)()`.
func Time(o prometheus.Observer) func() {
	start := time.Now()
	return func() {
		o.Observe(time.Since(start).Seconds())
	}
}

// ErrCount increments c if *err is non-nil. Use it as `defer prom.ErrCount(c, &err)`.
func ErrCount(c prometheus.Counter, err *error) {
	if err != nil && *err != nil {
		c.Inc()
	}
}
