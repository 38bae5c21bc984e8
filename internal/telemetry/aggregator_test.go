package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockhand/dockhand/internal/models"
)

type fakeDiscoverer struct {
	services []models.ServiceMetadata
	err      error
	calls    int64
}

func (f *fakeDiscoverer) DiscoveredServices(_ context.Context, _ bool) ([]models.ServiceMetadata, error) {
	atomic.AddInt64(&f.calls, 1)
	return f.services, f.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// metricsHandler serves a minimal Actuator-shaped metrics endpoint for one
// instrumented URI and method.
func metricsHandler(uri string, percentileShape string, successCount, errorCount int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		tags := r.URL.Query()["tag"]
		var outcome string
		for _, tag := range tags {
			if len(tag) > 8 && tag[:8] == "outcome:" {
				outcome = tag[8:]
			}
		}

		switch {
		case outcome == "SUCCESS":
			fmt.Fprintf(w, `{"measurements":[{"statistic":"COUNT","value":%d}]}`, successCount)
		case outcome == "SERVER_ERROR":
			fmt.Fprintf(w, `{"measurements":[{"statistic":"COUNT","value":%d}]}`, errorCount)
		case len(tags) > 0:
			var measurements string
			if percentileShape == "statistic" {
				measurements = `{"statistic":"COUNT","value":40},
					{"statistic":"PERCENTILE_50","value":0.2},
					{"statistic":"PERCENTILE_90","value":0.35},
					{"statistic":"PERCENTILE_99","value":0.5}`
			} else {
				measurements = `{"statistic":"COUNT","value":40},
					{"statistic":"VALUE","value":0.2,"percentile":"0.5"},
					{"statistic":"VALUE","value":0.35,"percentile":"0.9"},
					{"statistic":"VALUE","value":0.5,"percentile":"0.99"}`
			}
			fmt.Fprintf(w, `{"measurements":[%s]}`, measurements)
		default:
			fmt.Fprintf(w, `{"availableTags":[
				{"tag":"uri","values":[%q]},
				{"tag":"method","values":["GET"]}
			],"measurements":[]}`, uri)
		}
	}
}

func serviceFor(name, metricsURL string) models.ServiceMetadata {
	return models.ServiceMetadata{Name: name, MetricsURLs: []string{metricsURL}}
}

func newTestAggregator(t *testing.T, services ...models.ServiceMetadata) *Aggregator {
	t.Helper()
	discoverer := &fakeDiscoverer{services: services}
	return NewAggregator(Settings{
		PollInterval: time.Hour,
		HTTPTimeout:  2 * time.Second,
	}, discoverer, quietLogger())
}

func TestSweepStatisticShapedPercentiles(t *testing.T) {
	server := httptest.NewServer(metricsHandler("/api/orders", "statistic", 38, 2))
	defer server.Close()

	aggregator := newTestAggregator(t, serviceFor("orders", server.URL))
	aggregator.sweep(context.Background())

	metrics := aggregator.Latest()["orders"]
	require.Len(t, metrics, 1)

	m := metrics[0]
	assert.Equal(t, "orders", m.ServiceName)
	assert.Equal(t, "GET", m.Method)
	assert.Equal(t, "/api/orders", m.Path)
	require.NotNil(t, m.P50MS)
	assert.InDelta(t, 200.0, *m.P50MS, 0.001)
	require.NotNil(t, m.P90MS)
	assert.InDelta(t, 350.0, *m.P90MS, 0.001)
	require.NotNil(t, m.P99MS)
	assert.InDelta(t, 500.0, *m.P99MS, 0.001)
	require.NotNil(t, m.ErrorRate)
	assert.InDelta(t, 0.05, *m.ErrorRate, 0.0001)
	require.NotNil(t, m.SampleSize)
	assert.Equal(t, 40, *m.SampleSize)
	assert.Nil(t, m.RPS)
}

func TestSweepValueShapedPercentiles(t *testing.T) {
	server := httptest.NewServer(metricsHandler("/api/orders", "value", 38, 2))
	defer server.Close()

	aggregator := newTestAggregator(t, serviceFor("orders", server.URL))
	aggregator.sweep(context.Background())

	metrics := aggregator.Latest()["orders"]
	require.Len(t, metrics, 1)
	require.NotNil(t, metrics[0].P50MS)
	assert.InDelta(t, 200.0, *metrics[0].P50MS, 0.001)
	require.NotNil(t, metrics[0].P99MS)
	assert.InDelta(t, 500.0, *metrics[0].P99MS, 0.001)
}

func TestErrorRateNullWithoutOutcomeCounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if len(r.URL.Query()["tag"]) > 0 {
			// no COUNT and no outcome measurements at all
			fmt.Fprint(w, `{"measurements":[{"statistic":"VALUE","value":0.1,"percentile":"0.5"}]}`)
			return
		}
		fmt.Fprint(w, `{"availableTags":[
			{"tag":"uri","values":["/api/ping"]},
			{"tag":"method","values":["GET"]}
		],"measurements":[]}`)
	}))
	defer server.Close()

	aggregator := newTestAggregator(t, serviceFor("ping", server.URL))
	aggregator.sweep(context.Background())

	metrics := aggregator.Latest()["ping"]
	require.Len(t, metrics, 1)
	assert.Nil(t, metrics[0].ErrorRate)
	assert.Nil(t, metrics[0].SampleSize)
}

func TestErrorRateFallsBackToCountDenominator(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		tags := r.URL.Query()["tag"]
		for _, tag := range tags {
			if tag == "outcome:SUCCESS" || tag == "outcome:SERVER_ERROR" {
				fmt.Fprint(w, `{"measurements":[]}`)
				return
			}
		}
		if len(tags) > 0 {
			fmt.Fprint(w, `{"measurements":[{"statistic":"COUNT","value":10}]}`)
			return
		}
		fmt.Fprint(w, `{"availableTags":[
			{"tag":"uri","values":["/api/ping"]},
			{"tag":"method","values":["GET"]}
		],"measurements":[]}`)
	}))
	defer server.Close()

	aggregator := newTestAggregator(t, serviceFor("ping", server.URL))
	aggregator.sweep(context.Background())

	metrics := aggregator.Latest()["ping"]
	require.Len(t, metrics, 1)
	require.NotNil(t, metrics[0].ErrorRate)
	assert.Zero(t, *metrics[0].ErrorRate)
}

func TestExcludedAndCappedURIs(t *testing.T) {
	uris := []string{"UNKNOWN", "root", "/*", "/actuator/health", "/actuator/metrics"}
	for i := 0; i < 20; i++ {
		uris = append(uris, fmt.Sprintf("/api/path%02d", i))
	}

	var queried int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if len(r.URL.Query()["tag"]) > 0 {
			if len(r.URL.Query()["percentile"]) > 0 {
				atomic.AddInt64(&queried, 1)
			}
			fmt.Fprint(w, `{"measurements":[{"statistic":"COUNT","value":1}]}`)
			return
		}
		payload := map[string]interface{}{
			"availableTags": []map[string]interface{}{
				{"tag": "uri", "values": uris},
				{"tag": "method", "values": []string{"GET"}},
			},
			"measurements": []interface{}{},
		}
		require.NoError(t, json.NewEncoder(w).Encode(payload))
	}))
	defer server.Close()

	aggregator := newTestAggregator(t, serviceFor("busy", server.URL))
	aggregator.sweep(context.Background())

	// Cap applies before exclusion: of the first 12 URIs, 5 are excluded.
	assert.Equal(t, int64(7), atomic.LoadInt64(&queried))
	assert.Len(t, aggregator.Latest()["busy"], 7)
}

func TestMissingTagDimensionsYieldEmptyList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"availableTags":[{"tag":"uri","values":["/api/ping"]}],"measurements":[]}`)
	}))
	defer server.Close()

	aggregator := newTestAggregator(t, serviceFor("untagged", server.URL))
	aggregator.sweep(context.Background())

	metrics, ok := aggregator.Latest()["untagged"]
	require.True(t, ok)
	assert.Empty(t, metrics)
}

func TestFailedServiceKeepsPreviousMetrics(t *testing.T) {
	server := httptest.NewServer(metricsHandler("/api/orders", "value", 10, 0))

	aggregator := newTestAggregator(t, serviceFor("orders", server.URL))
	aggregator.sweep(context.Background())
	require.Len(t, aggregator.Latest()["orders"], 1)

	server.Close()
	aggregator.sweep(context.Background())

	assert.Len(t, aggregator.Latest()["orders"], 1, "stale metrics survive a failed probe")
}

func TestMetricsURLFallback(t *testing.T) {
	server := httptest.NewServer(metricsHandler("/api/orders", "value", 10, 0))
	defer server.Close()

	service := models.ServiceMetadata{
		Name:        "orders",
		MetricsURLs: []string{"http://127.0.0.1:1/actuator/metrics/http.server.requests", server.URL},
	}

	aggregator := newTestAggregator(t, service)
	aggregator.sweep(context.Background())

	assert.Len(t, aggregator.Latest()["orders"], 1)
}

func TestDiscoveryFailureSkipsSweep(t *testing.T) {
	discoverer := &fakeDiscoverer{err: fmt.Errorf("compose unavailable")}
	aggregator := NewAggregator(Settings{PollInterval: time.Hour, HTTPTimeout: time.Second}, discoverer, quietLogger())

	aggregator.sweep(context.Background())

	assert.Empty(t, aggregator.Latest())
}

func TestZeroTimeoutGetsDefault(t *testing.T) {
	aggregator := NewAggregator(Settings{PollInterval: time.Hour}, &fakeDiscoverer{}, quietLogger())
	assert.Equal(t, defaultQueryTimeout, aggregator.httpClient.Timeout)
}

func TestStartStopLifecycle(t *testing.T) {
	discoverer := &fakeDiscoverer{}
	aggregator := NewAggregator(Settings{PollInterval: time.Hour, HTTPTimeout: time.Second}, discoverer, quietLogger())

	aggregator.Start()
	aggregator.Start()

	stopped := make(chan struct{})
	go func() {
		aggregator.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return promptly")
	}

	aggregator.Stop()
	assert.Equal(t, int64(1), atomic.LoadInt64(&discoverer.calls))
}
