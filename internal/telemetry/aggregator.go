// Package telemetry polls service metrics endpoints for HTTP-request
// percentiles and outcome counts, caching derived per-endpoint statistics.
// The backend is expected to speak the Micrometer/Actuator metrics shape:
// availableTags enumerating uri/method dimensions, measurements carrying
// statistics and optional percentile annotations.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dockhand/dockhand/internal/diagnostics"
	"github.com/dockhand/dockhand/internal/models"
)

// maxEndpointsPerService caps how many URIs we fan out per sweep so a
// service exposing hundreds of paths cannot blow up the query volume.
const maxEndpointsPerService = 12

// defaultQueryTimeout bounds metrics queries when no timeout is configured.
const defaultQueryTimeout = 5 * time.Second

// Discoverer is the slice of the compose façade the aggregator needs.
type Discoverer interface {
	DiscoveredServices(ctx context.Context, includeStatus bool) ([]models.ServiceMetadata, error)
}

// Settings controls the polling cadence and query timeout.
type Settings struct {
	PollInterval time.Duration
	HTTPTimeout  time.Duration
}

// Aggregator polls metrics endpoints and computes derived statistics.
type Aggregator struct {
	settings   Settings
	discoverer Discoverer
	logger     *logrus.Logger
	httpClient *http.Client

	mu      sync.RWMutex
	metrics map[string][]models.EndpointMetrics

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewAggregator constructs a stopped aggregator.
func NewAggregator(settings Settings, discoverer Discoverer, logger *logrus.Logger) *Aggregator {
	if logger == nil {
		logger = logrus.New()
	}
	timeout := settings.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Aggregator{
		settings:   settings,
		discoverer: discoverer,
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    make(map[string][]models.EndpointMetrics),
	}
}

// Start launches the polling loop, idempotently.
func (a *Aggregator) Start() {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.pollLoop(ctx)
}

// Stop cancels the polling loop and waits for it to exit.
func (a *Aggregator) Stop() {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
	a.cancel = nil
	a.done = nil
}

// Latest returns a copy of the per-service metrics lists.
func (a *Aggregator) Latest() map[string][]models.EndpointMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string][]models.EndpointMetrics, len(a.metrics))
	for service, metrics := range a.metrics {
		out[service] = append([]models.EndpointMetrics(nil), metrics...)
	}
	return out
}

func (a *Aggregator) pollLoop(ctx context.Context) {
	defer close(a.done)

	for {
		a.sweep(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.settings.PollInterval):
		}
	}
}

// serviceResult is the per-service tagged union gathered from the fan-out.
type serviceResult struct {
	service string
	metrics []models.EndpointMetrics
	err     error
}

// sweep queries all services concurrently. Each service's result list
// replaces the prior one atomically; a failed service keeps its previous
// metrics and is logged.
func (a *Aggregator) sweep(ctx context.Context) {
	services, err := a.discoverer.DiscoveredServices(ctx, false)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if diag := diagnostics.As(err); diag != nil {
			a.logger.WithFields(diag.Fields()).Error("metrics sweep skipped")
		} else {
			a.logger.WithError(err).Error("metrics sweep skipped")
		}
		return
	}

	results := make([]serviceResult, len(services))
	var wg sync.WaitGroup
	for i, service := range services {
		wg.Add(1)
		go func(i int, service models.ServiceMetadata) {
			defer wg.Done()
			metrics, fetchErr := a.fetchServiceMetrics(ctx, service)
			results[i] = serviceResult{service: service.Name, metrics: metrics, err: fetchErr}
		}(i, service)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}

	a.mu.Lock()
	for _, result := range results {
		if result.err != nil {
			a.logger.WithError(result.err).WithField("service", result.service).Warn("metrics probe failed")
			continue
		}
		a.metrics[result.service] = result.metrics
	}
	a.mu.Unlock()
}

// fetchServiceMetrics tries each metrics URL in order and extracts
// endpoint statistics from the first one that answers.
func (a *Aggregator) fetchServiceMetrics(ctx context.Context, service models.ServiceMetadata) ([]models.EndpointMetrics, error) {
	var reasons []string
	for _, metricsURL := range service.MetricsURLs {
		payload, err := a.getMetrics(ctx, metricsURL, nil)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", metricsURL, err))
			continue
		}
		return a.extractEndpointMetrics(ctx, metricsURL, service.Name, payload), nil
	}
	if len(reasons) == 0 {
		return nil, fmt.Errorf("metrics endpoint unavailable")
	}
	return nil, fmt.Errorf("%s", strings.Join(reasons, "; "))
}

// extractEndpointMetrics fans the per-(uri, method) queries out
// sequentially against one base URL. Services without both the uri and
// method tag dimensions are not instrumented as expected and yield an
// empty list.
func (a *Aggregator) extractEndpointMetrics(ctx context.Context, baseURL, serviceName string, payload *actuatorResponse) []models.EndpointMetrics {
	uris := payload.tagValues("uri")
	methods := payload.tagValues("method")
	if len(uris) == 0 || len(methods) == 0 {
		return []models.EndpointMetrics{}
	}

	if len(uris) > maxEndpointsPerService {
		uris = uris[:maxEndpointsPerService]
	}

	metrics := []models.EndpointMetrics{}
	for _, uri := range uris {
		if uri == "UNKNOWN" || uri == "root" || uri == "/*" || strings.HasPrefix(uri, "/actuator") {
			continue
		}
		for _, method := range methods {
			datapoint := a.queryEndpointMetrics(ctx, baseURL, serviceName, method, uri)
			if datapoint != nil {
				metrics = append(metrics, *datapoint)
			}
		}
	}
	return metrics
}

// queryEndpointMetrics issues the percentile query plus the two outcome
// count queries for one (uri, method) pair. A failure yields no datapoint
// and never aborts the sweep.
func (a *Aggregator) queryEndpointMetrics(ctx context.Context, baseURL, serviceName, method, uri string) *models.EndpointMetrics {
	params := url.Values{}
	params.Add("tag", "uri:"+uri)
	params.Add("tag", "method:"+method)
	for _, pct := range []string{"0.5", "0.9", "0.99"} {
		params.Add("percentile", pct)
	}

	payload, err := a.getMetrics(ctx, baseURL, params)
	if err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"service": serviceName,
			"uri":     uri,
			"method":  method,
		}).Debug("metrics query failed")
		return nil
	}

	count := payload.statistic("COUNT")
	percentiles := extractPercentiles(payload)

	successCount := a.queryOutcomeCount(ctx, baseURL, method, uri, "SUCCESS")
	errorCount := a.queryOutcomeCount(ctx, baseURL, method, uri, "SERVER_ERROR")

	var errorRate *float64
	total := float64(valueOrZero(successCount) + valueOrZero(errorCount))
	if total == 0 && count != nil {
		total = *count
	}
	if total > 0 {
		rate := float64(valueOrZero(errorCount)) / total
		errorRate = &rate
	}

	var sampleSize *int
	if count != nil {
		n := int(*count)
		sampleSize = &n
	}

	return &models.EndpointMetrics{
		ServiceName: serviceName,
		Method:      method,
		Path:        uri,
		P50MS:       secondsToMS(percentiles["0.5"]),
		P90MS:       secondsToMS(percentiles["0.9"]),
		P99MS:       secondsToMS(percentiles["0.99"]),
		ErrorRate:   errorRate,
		SampleSize:  sampleSize,
	}
}

// queryOutcomeCount reads the COUNT statistic for one outcome tag,
// returning nil when the query fails or no numeric COUNT exists.
func (a *Aggregator) queryOutcomeCount(ctx context.Context, baseURL, method, uri, outcome string) *int {
	params := url.Values{}
	params.Add("tag", "uri:"+uri)
	params.Add("tag", "method:"+method)
	params.Add("tag", "outcome:"+outcome)

	payload, err := a.getMetrics(ctx, baseURL, params)
	if err != nil {
		return nil
	}
	count := payload.statistic("COUNT")
	if count == nil {
		return nil
	}
	n := int(*count)
	return &n
}

// getMetrics performs one GET against the metrics endpoint and decodes
// the Actuator response shape.
func (a *Aggregator) getMetrics(ctx context.Context, baseURL string, params url.Values) (*actuatorResponse, error) {
	reqURL := baseURL
	if len(params) > 0 {
		reqURL = baseURL + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload actuatorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// actuatorResponse mirrors the metrics endpoint's response shape.
type actuatorResponse struct {
	AvailableTags []struct {
		Tag    string   `json:"tag"`
		Values []string `json:"values"`
	} `json:"availableTags"`
	Measurements []measurement `json:"measurements"`
}

type measurement struct {
	Statistic string `json:"statistic"`
	Value     float64
	// Percentile is a string in some backends and a number in others
	Percentile interface{} `json:"percentile"`
}

// UnmarshalJSON tolerates a missing or non-numeric value field.
func (m *measurement) UnmarshalJSON(data []byte) error {
	var raw struct {
		Statistic  string      `json:"statistic"`
		Value      interface{} `json:"value"`
		Percentile interface{} `json:"percentile"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Statistic = raw.Statistic
	m.Percentile = raw.Percentile
	if v, ok := raw.Value.(float64); ok {
		m.Value = v
	}
	return nil
}

func (r *actuatorResponse) tagValues(tagName string) []string {
	for _, tag := range r.AvailableTags {
		if tag.Tag == tagName {
			return tag.Values
		}
	}
	return nil
}

// statistic returns the value of the first measurement with the given
// statistic name, or nil when absent.
func (r *actuatorResponse) statistic(name string) *float64 {
	for _, m := range r.Measurements {
		if m.Statistic == name {
			v := m.Value
			return &v
		}
	}
	return nil
}

// extractPercentiles normalizes both response shapes into a canonical
// quantile-key map ("0.5", "0.9", "0.99"). Backends report either a VALUE
// measurement annotated with an explicit percentile, or a statistic named
// PERCENTILE_<n> with the underscore standing in for the decimal point;
// whole-number forms like PERCENTILE_50 mean the 50th percentile.
func extractPercentiles(payload *actuatorResponse) map[string]*float64 {
	out := make(map[string]*float64)
	for _, m := range payload.Measurements {
		switch {
		case m.Statistic == "VALUE" && m.Percentile != nil:
			if key := canonicalQuantile(percentileString(m.Percentile)); key != "" {
				v := m.Value
				out[key] = &v
			}
		case strings.HasPrefix(m.Statistic, "PERCENTILE_"):
			raw := strings.ReplaceAll(strings.TrimPrefix(m.Statistic, "PERCENTILE_"), "_", ".")
			if key := canonicalQuantile(raw); key != "" {
				v := m.Value
				out[key] = &v
			}
		}
	}
	return out
}

func percentileString(v interface{}) string {
	switch p := v.(type) {
	case string:
		return p
	case float64:
		return strconv.FormatFloat(p, 'f', -1, 64)
	default:
		return ""
	}
}

// canonicalQuantile maps "0.5", "50", "0.99", "99" and friends onto the
// fractional form used as the lookup key.
func canonicalQuantile(raw string) string {
	q, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return ""
	}
	if q >= 1 {
		q = q / 100.0
	}
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func secondsToMS(v *float64) *float64 {
	if v == nil {
		return nil
	}
	ms := *v * 1000.0
	return &ms
}

func valueOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
