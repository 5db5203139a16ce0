package prom_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/modelzoo/modelzoo/internal/prom"
)

var (
	labels    = []string{"method"}
	histogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: prom.ZooNamespace,
		Subsystem: "my_subsystem",
		Name:      "seconds",
		Buckets:   prometheus.DefBuckets,
	}, labels)
	counter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: prom.ZooNamespace,
		Subsystem: "my_subsystem",
		Name:      "errors",
	}, labels)
)

func ExampleTime() {
	defer prom.Time(histogram.WithLabelValues("GET"))()

	// do thing you want to time.
	time.Sleep(time.Millisecond)
	// Output:
}

func ExampleErrCount() {
	var err error
	defer prom.ErrCount(counter.WithLabelValues("GET"), &err)

	// do some stuff that may cause error to be non-nil
	_, err = strconv.Atoi("abc")
	// Output:
}

func TestErrCount(t *testing.T) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_errors"})

	func() {
		var err error
		defer prom.ErrCount(c, &err)
	}()
	require.Equal(t, float64(0), testutil.ToFloat64(c))

	func() {
		var err error
		defer prom.ErrCount(c, &err)
		_, err = strconv.Atoi("abc")
	}()
	require.Equal(t, float64(1), testutil.ToFloat64(c))
}

func TestTime(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_seconds"})
	prom.Time(h)()
	require.Equal(t, 1, testutil.CollectAndCount(h))
}
