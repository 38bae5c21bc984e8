// Package health polls every discovered service's health endpoints on a
// fixed cadence and caches the latest snapshot per service. Reads never
// touch the network; they are plain map copies.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dockhand/dockhand/internal/diagnostics"
	"github.com/dockhand/dockhand/internal/models"
)

const defaultPortGuess = 8080

// defaultProbeTimeout bounds health probes when no timeout is configured.
const defaultProbeTimeout = 5 * time.Second

// Discoverer is the slice of the compose façade the monitor needs.
type Discoverer interface {
	DiscoveredServices(ctx context.Context, includeStatus bool) ([]models.ServiceMetadata, error)
}

// Settings controls the polling cadence and probe timeout.
type Settings struct {
	PollInterval time.Duration
	HTTPTimeout  time.Duration
}

// Monitor periodically probes service health endpoints.
type Monitor struct {
	settings   Settings
	discoverer Discoverer
	logger     *logrus.Logger
	httpClient *http.Client

	mu        sync.RWMutex
	snapshots map[string]models.HealthSnapshot

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewMonitor constructs a stopped monitor.
func NewMonitor(settings Settings, discoverer Discoverer, logger *logrus.Logger) *Monitor {
	if logger == nil {
		logger = logrus.New()
	}
	timeout := settings.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Monitor{
		settings:   settings,
		discoverer: discoverer,
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
		snapshots:  make(map[string]models.HealthSnapshot),
	}
}

// Start launches the polling loop. Calling Start on a running monitor is a
// no-op; a second loop is never spawned.
func (m *Monitor) Start() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.pollLoop(ctx)
}

// Stop cancels the polling loop and waits for it to exit. In-flight probes
// of the cancelled sweep are abandoned, not drained.
func (m *Monitor) Stop() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
}

// Latest returns a copy of the most recent snapshots keyed by service name.
func (m *Monitor) Latest() map[string]models.HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]models.HealthSnapshot, len(m.snapshots))
	for name, snapshot := range m.snapshots {
		out[name] = snapshot
	}
	return out
}

// pollLoop sweeps until the context is cancelled. A failed sweep is logged
// and skipped; the loop itself never terminates on error.
func (m *Monitor) pollLoop(ctx context.Context) {
	defer close(m.done)

	for {
		m.sweep(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.settings.PollInterval):
		}
	}
}

// sweep probes all services concurrently and publishes the results as one
// batch after every probe has resolved.
func (m *Monitor) sweep(ctx context.Context) {
	services, err := m.discoverer.DiscoveredServices(ctx, false)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if diag := diagnostics.As(err); diag != nil {
			m.logger.WithFields(diag.Fields()).Error("health sweep skipped")
		} else {
			m.logger.WithError(err).Error("health sweep skipped")
		}
		return
	}

	results := make([]models.HealthSnapshot, len(services))
	var wg sync.WaitGroup
	for i, service := range services {
		wg.Add(1)
		go func(i int, service models.ServiceMetadata) {
			defer wg.Done()
			results[i] = m.probeService(ctx, service)
		}(i, service)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	for _, snapshot := range results {
		m.snapshots[snapshot.ServiceName] = snapshot
	}
	m.mu.Unlock()
}

// probeService tries each health URL in order and returns a healthy
// snapshot for the first 2xx response with a parseable JSON body. When
// every URL fails, an unhealthy snapshot carries the per-URL reasons.
//
// Host-based URLs come first in the metadata so developers running the
// daemon on the host get fast feedback without joining the Compose network.
func (m *Monitor) probeService(ctx context.Context, service models.ServiceMetadata) models.HealthSnapshot {
	urls := service.HealthURLs
	if len(urls) == 0 {
		urls = []string{fmt.Sprintf("http://%s:%d/actuator/health", service.Name, defaultPortGuess)}
	}

	var probeErrors []interface{}
	for _, url := range urls {
		snapshot, reason := m.probeURL(ctx, service.Name, url)
		if snapshot != nil {
			return *snapshot
		}
		probeErrors = append(probeErrors, reason)
	}

	return models.HealthSnapshot{
		ServiceName: service.Name,
		Healthy:     false,
		URL:         urls[0],
		TakenAt:     time.Now().UTC(),
		Details:     map[string]interface{}{"errors": probeErrors},
	}
}

// probeURL performs one GET. It returns a snapshot on success, or a nil
// snapshot and a failure reason string.
func (m *Monitor) probeURL(ctx context.Context, serviceName, url string) (*models.HealthSnapshot, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Sprintf("%s: %v", url, err)
	}

	started := time.Now()
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Sprintf("%s: %v", url, err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(started)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, url + ": " + strconv.Itoa(resp.StatusCode)
	}

	var details map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Sprintf("%s: unparseable body: %v", url, err)
	}

	statusCode := resp.StatusCode
	return &models.HealthSnapshot{
		ServiceName: serviceName,
		Healthy:     true,
		LatencyMS:   float64(elapsed.Microseconds()) / 1000.0,
		StatusCode:  &statusCode,
		URL:         url,
		TakenAt:     time.Now().UTC(),
		Details:     details,
	}, ""
}
