package compose

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawPorts(t *testing.T, entries ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		out = append(out, json.RawMessage(e))
	}
	return out
}

// TestParsePorts tests short and long port syntax handling
func TestParsePorts(t *testing.T) {
	testCases := []struct {
		name              string
		entries           []json.RawMessage
		expectedPublished map[int]int
		expectedContainer []int
	}{
		{
			name:              "short container only",
			entries:           rawPorts(t, `"8080"`),
			expectedPublished: map[int]int{},
			expectedContainer: []int{8080},
		},
		{
			name:              "short host and container",
			entries:           rawPorts(t, `"8080:80"`),
			expectedPublished: map[int]int{8080: 80},
			expectedContainer: []int{80},
		},
		{
			name:              "short with bind address",
			entries:           rawPorts(t, `"127.0.0.1:8080:80"`),
			expectedPublished: map[int]int{8080: 80},
			expectedContainer: []int{80},
		},
		{
			name:              "long syntax numeric",
			entries:           rawPorts(t, `{"published":8080,"target":80}`),
			expectedPublished: map[int]int{8080: 80},
			expectedContainer: []int{80},
		},
		{
			name:              "long syntax string published",
			entries:           rawPorts(t, `{"published":"8080","target":80}`),
			expectedPublished: map[int]int{8080: 80},
			expectedContainer: []int{80},
		},
		{
			name:              "long syntax target only",
			entries:           rawPorts(t, `{"target":9090}`),
			expectedPublished: map[int]int{},
			expectedContainer: []int{9090},
		},
		{
			name:              "unparsable entries dropped",
			entries:           rawPorts(t, `"not-a-port"`, `{"published":"x"}`, `42.5`, `"8080:80"`),
			expectedPublished: map[int]int{8080: 80},
			expectedContainer: []int{80},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			published, containerPorts := parsePorts(tc.entries)
			assert.Equal(t, tc.expectedPublished, published)
			assert.Equal(t, tc.expectedContainer, containerPorts)
		})
	}
}

// TestBuildMetadata_BaseURLs tests URL derivation order and content
func TestBuildMetadata_BaseURLs(t *testing.T) {
	raw := rawService{Ports: rawPorts(t, `"8080:8080"`)}
	meta := buildMetadata("web", raw, "demo", DefaultInternalPort)

	assert.Equal(t, []string{"http://localhost:8080", "http://web:8080"}, meta.BaseURLs)
	assert.Equal(t, "demo", meta.ComposeProject)
	assert.Equal(t, "unknown", meta.Status)
}

// TestBuildMetadata_XDevPortOnly tests the x-dev.port override with no ports
func TestBuildMetadata_XDevPortOnly(t *testing.T) {
	raw := rawService{XDev: map[string]interface{}{"port": float64(9000)}}
	meta := buildMetadata("web", raw, "", DefaultInternalPort)

	assert.Equal(t, []string{"http://web:9000"}, meta.BaseURLs)
}

// TestBuildMetadata_DefaultPortFallback tests the configured default guess
func TestBuildMetadata_DefaultPortFallback(t *testing.T) {
	meta := buildMetadata("worker", rawService{}, "", 8080)
	assert.Equal(t, []string{"http://worker:8080"}, meta.BaseURLs)

	overridden := buildMetadata("worker", rawService{}, "", 3000)
	assert.Equal(t, []string{"http://worker:3000"}, overridden.BaseURLs)
}

// TestBuildMetadata_URLDedup tests that derived lists never repeat a URL
func TestBuildMetadata_URLDedup(t *testing.T) {
	// Published host port equals the internal port, so both derivations
	// would produce http://localhost:8080 twice without deduplication.
	raw := rawService{Ports: rawPorts(t, `"8080:8080"`, `{"published":8080,"target":8080}`)}
	meta := buildMetadata("api", raw, "", DefaultInternalPort)

	seen := map[string]int{}
	for _, url := range meta.BaseURLs {
		seen[url]++
	}
	for url, count := range seen {
		assert.Equal(t, 1, count, "duplicate URL %s", url)
	}
	for _, url := range meta.HealthURLs {
		assert.Contains(t, url, "/actuator/health")
	}
}

// TestBuildMetadata_HealthURLs tests health path joining and synthesis
func TestBuildMetadata_HealthURLs(t *testing.T) {
	raw := rawService{
		Ports: rawPorts(t, `"8080:80"`),
		XDev:  map[string]interface{}{"health": "/healthz"},
	}
	meta := buildMetadata("api", raw, "", DefaultInternalPort)
	assert.Equal(t, []string{"http://localhost:8080/healthz", "http://api:80/healthz"}, meta.HealthURLs)
}

// TestBuildMetadata_DocsURLs tests docs URLs appear only with x-dev.docs
func TestBuildMetadata_DocsURLs(t *testing.T) {
	plain := buildMetadata("api", rawService{Ports: rawPorts(t, `"8080:80"`)}, "", DefaultInternalPort)
	assert.Empty(t, plain.DocsURLs)

	withDocs := buildMetadata("api", rawService{
		Ports: rawPorts(t, `"8080:80"`),
		XDev:  map[string]interface{}{"docs": "swagger-ui.html"},
	}, "", DefaultInternalPort)
	assert.Equal(t, []string{
		"http://localhost:8080/swagger-ui.html",
		"http://api:80/swagger-ui.html",
	}, withDocs.DocsURLs)
}

// TestBuildMetadata_MetricsURLs tests the fixed metrics path and fallback
func TestBuildMetadata_MetricsURLs(t *testing.T) {
	withPorts := buildMetadata("api", rawService{Ports: rawPorts(t, `"8080:80"`)}, "", DefaultInternalPort)
	assert.Equal(t, []string{
		"http://localhost:8080/actuator/metrics/http.server.requests",
		"http://api:80/actuator/metrics/http.server.requests",
	}, withPorts.MetricsURLs)

	noPorts := buildMetadata("api", rawService{}, "", DefaultInternalPort)
	assert.Equal(t, []string{"http://api:8080/actuator/metrics/http.server.requests"}, noPorts.MetricsURLs)
}

// TestCoerceDependsOn tests both mapping and list depends_on forms
func TestCoerceDependsOn(t *testing.T) {
	fromMap := coerceDependsOn(json.RawMessage(`{"db":{"condition":"service_healthy"},"cache":{}}`))
	assert.ElementsMatch(t, []string{"db", "cache"}, fromMap)

	fromList := coerceDependsOn(json.RawMessage(`["db","cache"]`))
	assert.Equal(t, []string{"db", "cache"}, fromList)

	assert.Nil(t, coerceDependsOn(nil))
	assert.Nil(t, coerceDependsOn(json.RawMessage(`42`)))
}

// TestBuildMetadata_SortsDependenciesAndProfiles tests deterministic ordering
func TestBuildMetadata_SortsDependenciesAndProfiles(t *testing.T) {
	raw := rawService{
		DependsOn: json.RawMessage(`["zeta","alpha"]`),
		Profiles:  []string{"obs", "core"},
		XDev:      map[string]interface{}{"tags": []interface{}{"backend", "java"}},
	}
	meta := buildMetadata("api", raw, "", DefaultInternalPort)

	assert.Equal(t, []string{"alpha", "zeta"}, meta.DependsOn)
	assert.Equal(t, []string{"core", "obs"}, meta.Profiles)
	assert.Equal(t, []string{"backend", "java"}, meta.Tags)
}

// TestRawServiceDecoding tests defensive decoding of a full config block
func TestRawServiceDecoding(t *testing.T) {
	payload := `{
		"name": "demo",
		"services": {
			"api": {
				"image": "demo/api:latest",
				"ports": [{"published": 8080, "target": 8080, "protocol": "tcp"}],
				"depends_on": {"db": {"condition": "service_started"}},
				"profiles": ["core"],
				"x-dev": {"port": 8080, "health": "/actuator/health", "tags": ["spring"]}
			},
			"db": {
				"image": "postgres:16"
			}
		}
	}`

	var config composeConfig
	require.NoError(t, json.Unmarshal([]byte(payload), &config))
	assert.Equal(t, "demo", config.Name)
	require.Len(t, config.Services, 2)

	meta := buildMetadata("api", config.Services["api"], config.Name, DefaultInternalPort)
	assert.Equal(t, map[int]int{8080: 8080}, meta.Ports)
	assert.Equal(t, []string{"db"}, meta.DependsOn)
	assert.Equal(t, []string{"spring"}, meta.Tags)
}
