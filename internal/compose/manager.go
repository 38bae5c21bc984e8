// Package compose resolves the stack's merged service configuration,
// derives per-service metadata, enriches it with live container status,
// and executes Compose lifecycle commands. Every other component depends
// on this façade.
//
// Compose graph resolution shells out to the Compose CLI because it
// faithfully applies overrides and profiles just like developers expect.
// Resolved configurations are cached briefly so the polling loops avoid
// expensive recomputation while still picking up file edits quickly.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dockhand/dockhand/internal/diagnostics"
	"github.com/dockhand/dockhand/internal/docker"
	"github.com/dockhand/dockhand/internal/models"
)

// Settings controls discovery and command execution.
type Settings struct {
	// ComposeBinary is the command used to invoke Compose; it may carry
	// arguments, e.g. "docker compose"
	ComposeBinary string

	// DiscoveryRoots are directories scanned for stack configuration
	DiscoveryRoots []string

	// ConfigCacheTTL bounds reuse of a resolved merged configuration
	ConfigCacheTTL time.Duration

	// DefaultInternalPort is the port guess for services declaring no ports
	DefaultInternalPort int
}

// Manager is the discovery and command-execution façade.
type Manager struct {
	settings Settings
	gateway  docker.Gateway
	runner   CommandRunner
	logger   *logrus.Logger

	// cacheMu guards the check-then-fill of configCache; holding it across
	// the subprocess run means concurrent discovery calls never issue
	// duplicate resolution subprocesses for the same root
	cacheMu     sync.Mutex
	configCache map[string]cacheEntry
}

type cacheEntry struct {
	timestamp time.Time
	config    composeConfig
}

// NewManager constructs the façade. A nil runner defaults to os/exec.
func NewManager(settings Settings, gateway docker.Gateway, runner CommandRunner, logger *logrus.Logger) *Manager {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if settings.DefaultInternalPort == 0 {
		settings.DefaultInternalPort = DefaultInternalPort
	}
	return &Manager{
		settings:    settings,
		gateway:     gateway,
		runner:      runner,
		logger:      logger,
		configCache: make(map[string]cacheEntry),
	}
}

// Close releases the underlying runtime gateway.
func (m *Manager) Close() error {
	return m.gateway.Close()
}

// DiscoveredServices returns metadata for every service declared across
// the configured discovery roots. Status enrichment is optional so the
// background pollers can reuse the discovery graph without triggering
// Docker lookups.
func (m *Manager) DiscoveredServices(ctx context.Context, includeStatus bool) ([]models.ServiceMetadata, error) {
	binary, baseArgs, err := m.composeCommand()
	if err != nil {
		return nil, err
	}

	var services []models.ServiceMetadata
	for _, root := range m.settings.DiscoveryRoots {
		if _, statErr := os.Stat(root); statErr != nil {
			continue
		}

		config, loadErr := m.loadComposeConfig(ctx, root, binary, baseArgs)
		if loadErr != nil {
			return nil, loadErr
		}

		names := make([]string, 0, len(config.Services))
		for name := range config.Services {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			metadata := buildMetadata(name, config.Services[name], config.Name, m.settings.DefaultInternalPort)
			if includeStatus {
				if statusErr := m.ServiceStatus(ctx, &metadata); statusErr != nil {
					return nil, statusErr
				}
			}
			services = append(services, metadata)
		}
	}
	return services, nil
}

// ServiceStatus enriches the metadata with live container status: stopped
// when no labeled container is running, otherwise the status with the
// highest occurrence count among matching containers.
func (m *Manager) ServiceStatus(ctx context.Context, service *models.ServiceMetadata) error {
	containers, err := m.gateway.ListByService(ctx, service.Name, false)
	if err != nil {
		return err
	}
	if len(containers) == 0 {
		service.MarkStatus("stopped")
		return nil
	}

	statusCounts := make(map[string]int)
	for _, c := range containers {
		statusCounts[c.State]++
	}

	// Majority vote; lexicographic tiebreak keeps the result deterministic
	dominant := ""
	for status, count := range statusCounts {
		if dominant == "" || count > statusCounts[dominant] || (count == statusCounts[dominant] && status < dominant) {
			dominant = status
		}
	}
	service.MarkStatus(dominant)
	return nil
}

// DependencyGraph returns forward depends_on edges, per-node summaries,
// and the reverse adjacency with sorted dependent lists.
func (m *Manager) DependencyGraph(ctx context.Context) (*models.DependencyGraph, error) {
	services, err := m.DiscoveredServices(ctx, false)
	if err != nil {
		return nil, err
	}

	graph := &models.DependencyGraph{
		Nodes:   make(map[string]models.DependencyNode, len(services)),
		Edges:   []models.DependencyEdge{},
		Reverse: make(map[string][]string),
	}
	for _, service := range services {
		graph.Nodes[service.Name] = models.DependencyNode{
			DependsOn: append([]string(nil), service.DependsOn...),
			Profiles:  append([]string(nil), service.Profiles...),
			Status:    service.Status,
		}
		for _, dependency := range service.DependsOn {
			graph.Edges = append(graph.Edges, models.DependencyEdge{From: service.Name, To: dependency})
			graph.Reverse[dependency] = append(graph.Reverse[dependency], service.Name)
		}
	}
	for dependency := range graph.Reverse {
		sort.Strings(graph.Reverse[dependency])
	}
	return graph, nil
}

// URLIndex returns the best-guess base, health, and docs URL per service.
func (m *Manager) URLIndex(ctx context.Context) ([]models.ServiceURLs, error) {
	services, err := m.DiscoveredServices(ctx, false)
	if err != nil {
		return nil, err
	}

	index := make([]models.ServiceURLs, 0, len(services))
	for _, service := range services {
		index = append(index, models.ServiceURLs{
			Service:   service.Name,
			BaseURL:   firstOrNil(service.BaseURLs),
			HealthURL: firstOrNil(service.HealthURLs),
			DocsURL:   firstOrNil(service.DocsURLs),
		})
	}
	return index, nil
}

// LogsForTrace scans up to tailLines of every container's log tail for the
// trace identifier, returning matches annotated with the owning service
// and short container id.
func (m *Manager) LogsForTrace(ctx context.Context, traceID string, tailLines int) ([]string, error) {
	services, err := m.DiscoveredServices(ctx, false)
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, service := range services {
		containers, listErr := m.gateway.ListByService(ctx, service.Name, true)
		if listErr != nil {
			return nil, listErr
		}
		for _, c := range containers {
			lines, logErr := m.gateway.ContainerLogs(ctx, c.ID, tailLines)
			if logErr != nil {
				m.logger.WithError(logErr).WithFields(logrus.Fields{
					"service":   service.Name,
					"container": docker.ShortID(c.ID),
				}).Warn("failed to read container logs for trace correlation")
				continue
			}
			for _, line := range lines {
				if strings.Contains(line, traceID) {
					matches = append(matches, fmt.Sprintf("%s|%s: %s", service.Name, docker.ShortID(c.ID), strings.TrimSpace(line)))
				}
			}
		}
	}
	return matches, nil
}

// StartServices starts the requested services respecting dependency order.
func (m *Manager) StartServices(ctx context.Context, services []string) error {
	return m.runComposeCommand(ctx, append([]string{"up", "--detach"}, services...))
}

// StopServices stops the requested services.
func (m *Manager) StopServices(ctx context.Context, services []string) error {
	return m.runComposeCommand(ctx, append([]string{"stop"}, services...))
}

// RestartServices restarts the requested services.
func (m *Manager) RestartServices(ctx context.Context, services []string) error {
	return m.runComposeCommand(ctx, append([]string{"restart"}, services...))
}

// composeCommand validates preconditions shared by every operation and
// splits the configured Compose invocation into binary and base args.
func (m *Manager) composeCommand() (string, []string, error) {
	if len(m.settings.DiscoveryRoots) == 0 {
		return "", nil, diagnostics.New(
			diagnostics.CodeComposeDiscoveryRootsMissing,
			"No discovery roots configured; set DOCKHAND_DOCKER_DISCOVERY_ROOTS.",
		)
	}

	parts := strings.Fields(m.settings.ComposeBinary)
	if len(parts) == 0 {
		return "", nil, diagnostics.New(
			diagnostics.CodeComposeBinaryMissing,
			"Compose binary not configured. Install Docker Compose v2 or adjust DOCKHAND_DOCKER_COMPOSE_BINARY.",
		)
	}
	if err := m.runner.LookPath(parts[0]); err != nil {
		return "", nil, diagnostics.New(
			diagnostics.CodeComposeBinaryMissing,
			fmt.Sprintf("Compose binary %q not found. Install Docker Compose v2 or adjust DOCKHAND_DOCKER_COMPOSE_BINARY.", parts[0]),
		)
	}
	return parts[0], parts[1:], nil
}

// loadComposeConfig returns the cached merged configuration for root, or
// resolves it via `compose config --format json` when stale.
func (m *Manager) loadComposeConfig(ctx context.Context, root, binary string, baseArgs []string) (composeConfig, error) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	if cached, ok := m.configCache[root]; ok && time.Since(cached.timestamp) < m.settings.ConfigCacheTTL {
		return cached.config, nil
	}

	args := append(append([]string(nil), baseArgs...), "config", "--format", "json")
	stdout, stderr, err := m.runner.Run(ctx, root, binary, args...)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"root":   root,
			"stderr": string(stderr),
		}).Error("compose config failed")
		return composeConfig{}, diagnostics.NewWithDetail(
			diagnostics.CodeComposeConfigFailed,
			fmt.Sprintf("Compose failed to resolve in %s. Inspect stderr for hints.", root),
			string(stderr),
		)
	}

	var config composeConfig
	if err := json.Unmarshal(stdout, &config); err != nil {
		return composeConfig{}, diagnostics.NewWithDetail(
			diagnostics.CodeComposeConfigFailed,
			fmt.Sprintf("Compose produced unparsable JSON in %s.", root),
			err.Error(),
		)
	}

	m.configCache[root] = cacheEntry{timestamp: time.Now(), config: config}
	return config, nil
}

// runComposeCommand runs a lifecycle command in the first discovery root.
func (m *Manager) runComposeCommand(ctx context.Context, args []string) error {
	binary, baseArgs, err := m.composeCommand()
	if err != nil {
		return err
	}

	fullArgs := append(append([]string(nil), baseArgs...), args...)
	stdout, stderr, runErr := m.runner.Run(ctx, m.settings.DiscoveryRoots[0], binary, fullArgs...)
	if runErr != nil {
		m.logger.WithFields(logrus.Fields{
			"args":   args,
			"stdout": string(stdout),
			"stderr": string(stderr),
		}).WithError(errors.Cause(runErr)).Error("compose command failed")
		return diagnostics.NewWithDetail(
			diagnostics.CodeComposeCommandFailed,
			"Compose command failed. Review stdout/stderr for diagnostics.",
			string(stderr),
		)
	}
	return nil
}

func firstOrNil(urls []string) *string {
	if len(urls) == 0 {
		return nil
	}
	url := urls[0]
	return &url
}
