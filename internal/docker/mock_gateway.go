package docker

import (
	"context"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/stretchr/testify/mock"

	"github.com/dockhand/dockhand/internal/models"
)

// MockGateway is a testify mock implementing Gateway for tests.
type MockGateway struct {
	mock.Mock
}

// ListByService mocks the ListByService method
func (m *MockGateway) ListByService(ctx context.Context, service string, all bool) ([]types.Container, error) {
	args := m.Called(ctx, service, all)
	var containers []types.Container
	if args.Get(0) != nil {
		containers = args.Get(0).([]types.Container)
	}
	return containers, args.Error(1)
}

// ContainerLogs mocks the ContainerLogs method
func (m *MockGateway) ContainerLogs(ctx context.Context, containerID string, tail int) ([]string, error) {
	args := m.Called(ctx, containerID, tail)
	var lines []string
	if args.Get(0) != nil {
		lines = args.Get(0).([]string)
	}
	return lines, args.Error(1)
}

// FollowLogs mocks the FollowLogs method
func (m *MockGateway) FollowLogs(ctx context.Context, containerID string, tail string, timestamps bool) (io.ReadCloser, error) {
	args := m.Called(ctx, containerID, tail, timestamps)
	var rc io.ReadCloser
	if args.Get(0) != nil {
		rc = args.Get(0).(io.ReadCloser)
	}
	return rc, args.Error(1)
}

// Stats mocks the Stats method
func (m *MockGateway) Stats(ctx context.Context, containerID string) (models.ContainerStats, error) {
	args := m.Called(ctx, containerID)
	return args.Get(0).(models.ContainerStats), args.Error(1)
}

// Ping mocks the Ping method
func (m *MockGateway) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Close mocks the Close method
func (m *MockGateway) Close() error {
	args := m.Called()
	return args.Error(0)
}
