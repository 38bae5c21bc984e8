package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dockhand/dockhand/internal/logstream"
	"github.com/dockhand/dockhand/internal/models"
)

// MockCompose mocks the compose façade surface.
type MockCompose struct {
	mock.Mock
}

func (m *MockCompose) DiscoveredServices(ctx context.Context, includeStatus bool) ([]models.ServiceMetadata, error) {
	args := m.Called(ctx, includeStatus)
	services, _ := args.Get(0).([]models.ServiceMetadata)
	return services, args.Error(1)
}

func (m *MockCompose) URLIndex(ctx context.Context) ([]models.ServiceURLs, error) {
	args := m.Called(ctx)
	index, _ := args.Get(0).([]models.ServiceURLs)
	return index, args.Error(1)
}

func (m *MockCompose) DependencyGraph(ctx context.Context) (*models.DependencyGraph, error) {
	args := m.Called(ctx)
	graph, _ := args.Get(0).(*models.DependencyGraph)
	return graph, args.Error(1)
}

func (m *MockCompose) StartServices(ctx context.Context, services []string) error {
	return m.Called(ctx, services).Error(0)
}

func (m *MockCompose) StopServices(ctx context.Context, services []string) error {
	return m.Called(ctx, services).Error(0)
}

func (m *MockCompose) RestartServices(ctx context.Context, services []string) error {
	return m.Called(ctx, services).Error(0)
}

// MockTraces mocks trace retrieval.
type MockTraces struct {
	mock.Mock
}

func (m *MockTraces) FetchTrace(ctx context.Context, traceID string) (*models.TraceResponse, error) {
	args := m.Called(ctx, traceID)
	resp, _ := args.Get(0).(*models.TraceResponse)
	return resp, args.Error(1)
}

// stubHealth and stubTelemetry return canned snapshots.
type stubHealth struct {
	snapshots map[string]models.HealthSnapshot
}

func (s stubHealth) Latest() map[string]models.HealthSnapshot { return s.snapshots }

type stubTelemetry struct {
	metrics map[string][]models.EndpointMetrics
}

func (s stubTelemetry) Latest() map[string][]models.EndpointMetrics { return s.metrics }

// stubStreamer replays canned log lines.
type stubStreamer struct {
	lines []logstream.Line
	err   error
}

func (s stubStreamer) StreamServiceLogs(_ context.Context, _ string, _ int) (<-chan logstream.Line, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan logstream.Line, len(s.lines))
	for _, line := range s.lines {
		ch <- line
	}
	close(ch)
	return ch, nil
}
