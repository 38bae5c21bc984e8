// Package docker wraps the Docker Engine API behind a small gateway. It
// owns a single lazily-created client handle shared by every component;
// the handle is created on first use, verified with a ping, and reused
// until Close.
package docker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"

	"github.com/dockhand/dockhand/internal/diagnostics"
	"github.com/dockhand/dockhand/internal/models"
)

// ComposeServiceLabel is the label Compose stamps on every container it
// creates, keyed by service name.
const ComposeServiceLabel = "com.docker.compose.service"

// ErrGatewayClosed indicates the gateway has been closed
var ErrGatewayClosed = errors.New("docker gateway has been closed")

const pingTimeout = 5 * time.Second

// Gateway is the runtime gateway interface consumed by the façade and the
// log-streaming layer.
type Gateway interface {
	// ListByService returns containers labeled with the given Compose
	// service name. When all is true, stopped containers are included.
	ListByService(ctx context.Context, service string, all bool) ([]types.Container, error)

	// ContainerLogs returns up to tail lines from a container's log tail,
	// demultiplexed into plain text lines.
	ContainerLogs(ctx context.Context, containerID string, tail int) ([]string, error)

	// FollowLogs returns a streaming reader over a container's logs,
	// replaying tail recent lines before following.
	// The caller owns the reader and must close it.
	FollowLogs(ctx context.Context, containerID string, tail string, timestamps bool) (io.ReadCloser, error)

	// Stats returns a one-shot resource snapshot for a container.
	Stats(ctx context.Context, containerID string) (models.ContainerStats, error)

	// Ping verifies connectivity with the Docker daemon.
	Ping(ctx context.Context) error

	// Close releases the client handle.
	Close() error
}

// ClientGateway implements Gateway against a real Docker Engine.
type ClientGateway struct {
	host   string
	logger *logrus.Logger

	mu     sync.Mutex
	client *client.Client
	closed bool
}

// NewGateway creates a gateway for the given Docker host. The underlying
// client is not created until first use so construction never fails.
func NewGateway(host string, logger *logrus.Logger) *ClientGateway {
	if logger == nil {
		logger = logrus.New()
	}
	return &ClientGateway{host: host, logger: logger}
}

// getClient returns the shared client handle, creating and pinging it on
// first use. Connect failures surface as a DockerUnavailable diagnostic.
func (g *ClientGateway) getClient(ctx context.Context) (*client.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrGatewayClosed
	}
	if g.client != nil {
		return g.client, nil
	}

	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if g.host != "" {
		opts = append(opts, client.WithHost(g.host))
	} else {
		opts = append(opts, client.FromEnv)
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, diagnostics.NewWithDetail(
			diagnostics.CodeDockerUnavailable,
			"Failed to connect to the Docker Engine. Ensure Docker Desktop or dockerd is running.",
			err.Error(),
		)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, diagnostics.NewWithDetail(
			diagnostics.CodeDockerUnavailable,
			"Failed to connect to the Docker Engine. Ensure Docker Desktop or dockerd is running.",
			err.Error(),
		)
	}

	g.logger.WithField("host", g.host).Debug("Docker client created and ping successful")
	g.client = cli
	return g.client, nil
}

// ListByService lists containers carrying the Compose service label.
func (g *ClientGateway) ListByService(ctx context.Context, service string, all bool) ([]types.Container, error) {
	cli, err := g.getClient(ctx)
	if err != nil {
		return nil, err
	}

	args := filters.NewArgs()
	args.Add("label", fmt.Sprintf("%s=%s", ComposeServiceLabel, service))

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     all,
		Filters: args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers for service %q: %w", service, err)
	}
	return containers, nil
}

// ContainerLogs reads a container's log tail and returns it as lines. The
// engine multiplexes stdout/stderr for non-TTY containers; both streams
// are folded into one line sequence in arrival order.
func (g *ClientGateway) ContainerLogs(ctx context.Context, containerID string, tail int) ([]string, error) {
	cli, err := g.getClient(ctx)
	if err != nil {
		return nil, err
	}

	rc, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tail),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read logs for container %s: %w", containerID, err)
	}
	defer rc.Close()

	lines, err := decodeLogLines(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read log stream for container %s: %w", containerID, err)
	}
	return lines, nil
}

// decodeLogLines splits a log stream into lines, stripping the engine's
// stdout/stderr framing when present. The raw stream is buffered once so
// the TTY fallback rereads it from the start, not from wherever a failed
// demux stopped.
func decodeLogLines(r io.Reader) ([]string, error) {
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, r); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	var demuxed bytes.Buffer
	text := raw.Bytes()
	if _, err := stdcopy.StdCopy(&demuxed, &demuxed, bytes.NewReader(text)); err == nil {
		text = demuxed.Bytes()
	}
	// On demux failure the container runs with a TTY and the stream has
	// no stdcopy framing; keep the raw bytes.

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, nil
}

// FollowLogs opens a streaming log reader replaying tail recent lines
// first. The engine's stdout/stderr multiplexing is stripped, so callers
// read plain text. Used by the SSE and websocket log endpoints; polling
// paths use ContainerLogs instead.
func (g *ClientGateway) FollowLogs(ctx context.Context, containerID string, tail string, timestamps bool) (io.ReadCloser, error) {
	cli, err := g.getClient(ctx)
	if err != nil {
		return nil, err
	}

	rc, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: timestamps,
		Tail:       tail,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to follow logs for container %s: %w", containerID, err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer rc.Close()
		_, copyErr := stdcopy.StdCopy(pw, pw, rc)
		pw.CloseWithError(copyErr) //nolint:errcheck
	}()
	return pr, nil
}

// Stats reads a single stats sample for the container and derives CPU and
// memory percentages from it.
func (g *ClientGateway) Stats(ctx context.Context, containerID string) (models.ContainerStats, error) {
	cli, err := g.getClient(ctx)
	if err != nil {
		return models.ContainerStats{}, err
	}

	resp, err := cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return models.ContainerStats{}, fmt.Errorf("failed to get stats for container %s: %w", containerID, err)
	}
	defer resp.Body.Close()

	var stats container.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return models.ContainerStats{}, fmt.Errorf("failed to decode stats for container %s: %w", containerID, err)
	}

	return models.ContainerStats{
		ContainerID:   containerID,
		Name:          strings.TrimPrefix(stats.Name, "/"),
		CPUPercent:    calculateCPUPercent(&stats),
		MemoryUsage:   stats.MemoryStats.Usage,
		MemoryLimit:   stats.MemoryStats.Limit,
		MemoryPercent: calculateMemoryPercent(&stats),
	}, nil
}

// Ping verifies daemon connectivity, surfacing DockerUnavailable when the
// engine cannot be reached.
func (g *ClientGateway) Ping(ctx context.Context) error {
	cli, err := g.getClient(ctx)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		return diagnostics.NewWithDetail(
			diagnostics.CodeDockerUnavailable,
			"Docker daemon ping failed.",
			err.Error(),
		)
	}
	return nil
}

// Close releases the client handle and marks the gateway closed.
func (g *ClientGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true

	if g.client != nil {
		err := g.client.Close()
		g.client = nil
		if err != nil {
			return fmt.Errorf("failed to close Docker client: %w", err)
		}
	}
	return nil
}

// ShortID returns the docker-style 12 character container id.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// calculateCPUPercent derives a CPU percentage from one stats sample using
// the delta between the sample's cpu and precpu readings.
func calculateCPUPercent(stats *container.Stats) float64 {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)
	if systemDelta <= 0 || cpuDelta < 0 {
		return 0
	}
	onlineCPUs := float64(stats.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if onlineCPUs == 0 {
		onlineCPUs = 1
	}
	return (cpuDelta / systemDelta) * onlineCPUs * 100.0
}

func calculateMemoryPercent(stats *container.Stats) float64 {
	if stats.MemoryStats.Limit == 0 {
		return 0
	}
	return float64(stats.MemoryStats.Usage) / float64(stats.MemoryStats.Limit) * 100.0
}
