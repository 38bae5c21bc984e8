// Package models defines the domain records shared across the discovery,
// health, telemetry, and tracing services.
package models

import (
	"time"
)

// ServiceMetadata captures everything we derive about one declared Compose
// service: its configuration-level identity, published ports, dependency
// edges, and the URL lists other components probe. Instances are rebuilt on
// every discovery sweep and never persisted.
type ServiceMetadata struct {
	// Name is the Compose service name and the unique key for all caches
	Name string `json:"name"`

	// Status is the free-form runtime status string (running/stopped/unknown)
	Status string `json:"status"`

	// LastStateChange is when Status last changed
	LastStateChange time.Time `json:"last_state_change"`

	// ComposeProject is the owning project name, when the merged config names one
	ComposeProject string `json:"compose_project,omitempty"`

	// Ports maps published host port to container port
	Ports map[int]int `json:"ports"`

	// Tags come from the x-dev extension block
	Tags []string `json:"tags,omitempty"`

	// DependsOn lists dependency service names, sorted
	DependsOn []string `json:"depends_on,omitempty"`

	// Profiles lists Compose profiles the service belongs to, sorted
	Profiles []string `json:"profiles,omitempty"`

	// BaseURLs are candidate base URLs ordered by specificity: published
	// localhost URLs first, then the inferred internal-DNS URL
	BaseURLs []string `json:"base_urls"`

	// HealthURLs are candidate health endpoints, same ordering
	HealthURLs []string `json:"health_urls"`

	// DocsURLs are documentation endpoints, present only when x-dev.docs is set
	DocsURLs []string `json:"docs_urls,omitempty"`

	// MetricsURLs are candidate metrics endpoints
	MetricsURLs []string `json:"metrics_urls"`
}

// MarkStatus updates the status and state-change timestamp together.
func (s *ServiceMetadata) MarkStatus(status string) {
	s.Status = status
	s.LastStateChange = time.Now().UTC()
}

// HealthSnapshot is the most recent liveness probe result for one service.
// Snapshots are replaced wholesale on each poll, never merged.
type HealthSnapshot struct {
	ServiceName string                 `json:"service_name"`
	Healthy     bool                   `json:"healthy"`
	LatencyMS   float64                `json:"latency_ms"`
	StatusCode  *int                   `json:"status_code,omitempty"`
	URL         string                 `json:"url,omitempty"`
	TakenAt     time.Time              `json:"taken_at"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// EndpointMetrics holds derived statistics for one (service, method, path)
// triple discovered from a metrics endpoint in a single sweep. Percentiles
// are nil when the backend did not report them; ErrorRate is nil whenever
// no outcome samples exist so we never divide by zero.
type EndpointMetrics struct {
	ServiceName string   `json:"service_name"`
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	P50MS       *float64 `json:"p50_ms"`
	P90MS       *float64 `json:"p90_ms"`
	P99MS       *float64 `json:"p99_ms"`
	RPS         *float64 `json:"rps"`
	ErrorRate   *float64 `json:"error_rate"`
	SampleSize  *int     `json:"sample_size"`
}

// TraceSpan is one normalized span from the trace backend. Durations and
// start times are converted from microseconds to milliseconds at parse time.
type TraceSpan struct {
	Service     string                 `json:"service"`
	Operation   string                 `json:"operation"`
	DurationMS  float64                `json:"duration_ms"`
	StartTimeMS int64                  `json:"start_time_ms"`
	Tags        map[string]interface{} `json:"tags"`
}

// TraceSummary is a parsed trace: its overall duration spans min-start to
// max-end across all spans, and CriticalPathServices ranks the top three
// services by summed span duration.
type TraceSummary struct {
	TraceID              string      `json:"trace_id"`
	DurationMS           float64     `json:"duration_ms"`
	CriticalPathServices []string    `json:"critical_path_services"`
	Spans                []TraceSpan `json:"spans"`
}

// TraceLogCorrelation is the degraded trace result built by scanning recent
// container logs for the trace identifier.
type TraceLogCorrelation struct {
	TraceID string   `json:"trace_id"`
	Lines   []string `json:"lines"`
}

// DependencyEdge is one forward depends_on edge.
type DependencyEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// DependencyNode summarizes one service in the dependency graph.
type DependencyNode struct {
	DependsOn []string `json:"depends_on"`
	Profiles  []string `json:"profiles"`
	Status    string   `json:"status"`
}

// DependencyGraph captures forward edges, per-node summaries, and the
// reverse adjacency (dependency name to sorted dependent names).
type DependencyGraph struct {
	Nodes   map[string]DependencyNode `json:"nodes"`
	Edges   []DependencyEdge          `json:"edges"`
	Reverse map[string][]string       `json:"reverse"`
}

// ServiceURLs is the best-guess URL index entry for one service. Nil
// pointers mean no URL of that kind could be derived.
type ServiceURLs struct {
	Service   string  `json:"service"`
	BaseURL   *string `json:"baseUrl"`
	HealthURL *string `json:"healthUrl"`
	DocsURL   *string `json:"docsUrl"`
}

// ContainerStats is a one-shot resource snapshot for a container.
type ContainerStats struct {
	ContainerID   string  `json:"container_id"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsage   uint64  `json:"memory_usage"`
	MemoryLimit   uint64  `json:"memory_limit"`
	MemoryPercent float64 `json:"memory_percent"`
}
