// Package tracing fetches distributed traces from a Jaeger-compatible
// backend and summarizes them. When no trace provider is configured, or the
// provider is unreachable, it degrades to correlating the trace identifier
// against recent container logs.
package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dockhand/dockhand/internal/models"
)

// defaultProviderTimeout bounds each request to the trace backend when no
// timeout is configured.
const defaultProviderTimeout = 10 * time.Second

// LogCorrelator is the slice of the compose façade the fallback path needs.
type LogCorrelator interface {
	LogsForTrace(ctx context.Context, traceID string, tailLines int) ([]string, error)
}

// Settings configures the trace provider and the log fallback depth.
type Settings struct {
	ProviderURL string
	HTTPTimeout time.Duration
	TailLines   int
}

// Service retrieves traces and builds TraceResponse payloads.
type Service struct {
	settings   Settings
	correlator LogCorrelator
	logger     *logrus.Logger

	clientMu sync.Mutex
	client   *http.Client
}

// NewService constructs a trace service. The HTTP client is created lazily
// on the first provider request.
func NewService(settings Settings, correlator LogCorrelator, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		settings:   settings,
		correlator: correlator,
		logger:     logger,
	}
}

// Close releases the shared HTTP client, if one was ever created.
func (s *Service) Close() {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()

	if s.client != nil {
		s.client.CloseIdleConnections()
		s.client = nil
	}
}

func (s *Service) clientInstance() *http.Client {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()

	if s.client == nil {
		timeout := s.settings.HTTPTimeout
		if timeout <= 0 {
			timeout = defaultProviderTimeout
		}
		s.client = &http.Client{Timeout: timeout}
	}
	return s.client
}

// FetchTrace returns a summarized trace, or a log correlation payload when
// no provider is configured or the provider request fails.
func (s *Service) FetchTrace(ctx context.Context, traceID string) (*models.TraceResponse, error) {
	if s.settings.ProviderURL == "" {
		return s.correlate(ctx, traceID)
	}

	url := fmt.Sprintf("%s/api/traces/%s", s.settings.ProviderURL, traceID)
	payload, err := s.fetchProviderTrace(ctx, url)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"trace_id": traceID,
			"url":      url,
		}).Warn("trace provider request failed")
		return s.correlate(ctx, traceID)
	}

	summary := summarizeTrace(payload, traceID)
	return &models.TraceResponse{
		Mode:                 "trace",
		TraceID:              summary.TraceID,
		DurationMS:           summary.DurationMS,
		CriticalPathServices: summary.CriticalPathServices,
		Spans:                summary.Spans,
	}, nil
}

func (s *Service) correlate(ctx context.Context, traceID string) (*models.TraceResponse, error) {
	lines, err := s.correlator.LogsForTrace(ctx, traceID, s.settings.TailLines)
	if err != nil {
		return nil, err
	}
	return &models.TraceResponse{
		Mode:    "logs",
		TraceID: traceID,
		Lines:   lines,
	}, nil
}

func (s *Service) fetchProviderTrace(ctx context.Context, url string) (*providerTrace, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.clientInstance().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload providerTrace
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// providerTrace mirrors the Jaeger HTTP API response shape. Durations and
// start times arrive in microseconds.
type providerTrace struct {
	Data []providerTraceData `json:"data"`
}

type providerTraceData struct {
	Processes map[string]providerProcess `json:"processes"`
	Spans     []providerSpan             `json:"spans"`
}

type providerProcess struct {
	ServiceName string `json:"serviceName"`
}

type providerSpan struct {
	ProcessID     string        `json:"processID"`
	OperationName string        `json:"operationName"`
	Duration      int64         `json:"duration"`
	StartTime     int64         `json:"startTime"`
	Tags          []providerTag `json:"tags"`
}

type providerTag struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// summarizeTrace normalizes the first trace in the payload. The critical
// path is the top three services ranked by summed span duration, ties
// broken by first appearance in span order.
func summarizeTrace(payload *providerTrace, traceID string) models.TraceSummary {
	if payload == nil || len(payload.Data) == 0 {
		return models.TraceSummary{
			TraceID:              traceID,
			CriticalPathServices: []string{},
			Spans:                []models.TraceSpan{},
		}
	}

	trace := payload.Data[0]
	processes := make(map[string]string, len(trace.Processes))
	for pid, proc := range trace.Processes {
		processes[pid] = proc.ServiceName
	}

	spans := make([]models.TraceSpan, 0, len(trace.Spans))
	serviceDurations := make(map[string]float64)
	serviceOrder := make(map[string]int)
	for _, raw := range trace.Spans {
		service, ok := processes[raw.ProcessID]
		if !ok || service == "" {
			service = "unknown"
		}
		operation := raw.OperationName
		if operation == "" {
			operation = "unknown"
		}
		durationMS := float64(raw.Duration) / 1000.0
		tags := make(map[string]interface{}, len(raw.Tags))
		for _, tag := range raw.Tags {
			tags[tag.Key] = tag.Value
		}
		spans = append(spans, models.TraceSpan{
			Service:     service,
			Operation:   operation,
			DurationMS:  durationMS,
			StartTimeMS: raw.StartTime / 1000,
			Tags:        tags,
		})
		if _, seen := serviceDurations[service]; !seen {
			serviceOrder[service] = len(serviceOrder)
		}
		serviceDurations[service] += durationMS
	}

	// Ties broken by first appearance in span order.
	names := make([]string, len(serviceOrder))
	for service, idx := range serviceOrder {
		names[idx] = service
	}
	sort.SliceStable(names, func(i, j int) bool {
		return serviceDurations[names[i]] > serviceDurations[names[j]]
	})
	if len(names) > 3 {
		names = names[:3]
	}

	var durationMS float64
	if len(spans) > 0 {
		startMin := spans[0].StartTimeMS
		endMax := float64(spans[0].StartTimeMS) + spans[0].DurationMS
		for _, span := range spans[1:] {
			if span.StartTimeMS < startMin {
				startMin = span.StartTimeMS
			}
			if end := float64(span.StartTimeMS) + span.DurationMS; end > endMax {
				endMax = end
			}
		}
		durationMS = endMax - float64(startMin)
	}

	return models.TraceSummary{
		TraceID:              traceID,
		DurationMS:           durationMS,
		CriticalPathServices: names,
		Spans:                spans,
	}
}
