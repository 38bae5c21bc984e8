package compose

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/dockhand/dockhand/internal/models"
)

const (
	// DefaultInternalPort is the port guess used when a service declares
	// no ports and no x-dev.port override. Overridable via configuration.
	DefaultInternalPort = 8080

	defaultHealthPath = "/actuator/health"
	metricsPath       = "actuator/metrics/http.server.requests"
)

// composeConfig mirrors the JSON emitted by `compose config --format json`.
type composeConfig struct {
	Name     string                `json:"name"`
	Services map[string]rawService `json:"services"`
}

// rawService is the typed intermediate for one service's config block. The
// loosely-typed fields (ports, depends_on, x-dev) are decoded defensively:
// anything unparsable is dropped rather than rejected.
type rawService struct {
	Ports     []json.RawMessage      `json:"ports"`
	DependsOn json.RawMessage        `json:"depends_on"`
	Profiles  []string               `json:"profiles"`
	XDev      map[string]interface{} `json:"x-dev"`
}

// longPort is the long-syntax port mapping shape. Both compose field names
// and the host/container aliases the original tolerated are accepted.
type longPort struct {
	Published interface{} `json:"published"`
	Target    interface{} `json:"target"`
	Host      interface{} `json:"host"`
	Container interface{} `json:"container"`
}

// buildMetadata derives ServiceMetadata from one raw service block. Pure:
// no I/O, deterministic output for a given input.
func buildMetadata(serviceName string, raw rawService, projectName string, defaultPort int) models.ServiceMetadata {
	published, containerPorts := parsePorts(raw.Ports)
	xdev := raw.XDev
	if xdev == nil {
		xdev = map[string]interface{}{}
	}

	dependsOn := coerceDependsOn(raw.DependsOn)
	sort.Strings(dependsOn)
	profiles := append([]string(nil), raw.Profiles...)
	sort.Strings(profiles)

	baseURLs := deriveBaseURLs(serviceName, published, containerPorts, xdev, defaultPort)
	meta := models.ServiceMetadata{
		Name:           serviceName,
		Status:         "unknown",
		ComposeProject: projectName,
		Ports:          published,
		Tags:           xDevTags(xdev),
		DependsOn:      dependsOn,
		Profiles:       profiles,
		BaseURLs:       baseURLs,
		HealthURLs:     deriveHealthURLs(baseURLs, serviceName, containerPorts, xdev, defaultPort),
		DocsURLs:       deriveDocsURLs(baseURLs, xdev),
		MetricsURLs:    deriveMetricsURLs(baseURLs, serviceName, containerPorts, xdev, defaultPort),
	}
	return meta
}

// parsePorts accepts both short ("8080", "8080:80", "127.0.0.1:8080:80")
// and long ({published, target}) syntax. Unparsable entries are dropped
// silently. Returns the published host->container mapping and the ordered
// container ports encountered.
func parsePorts(entries []json.RawMessage) (map[int]int, []int) {
	published := make(map[int]int)
	var containerPorts []int

	for _, entry := range entries {
		var hostPort, containerPort *int

		var short string
		if err := json.Unmarshal(entry, &short); err == nil {
			parts := strings.Split(short, ":")
			if len(parts) == 1 {
				containerPort = safeInt(parts[0])
			} else {
				hostPort = safeInt(parts[len(parts)-2])
				containerPort = safeInt(parts[len(parts)-1])
			}
		} else {
			var long longPort
			if err := json.Unmarshal(entry, &long); err != nil {
				continue
			}
			hostPort = safeInt(firstNonNil(long.Published, long.Host))
			containerPort = safeInt(firstNonNil(long.Target, long.Container))
		}

		if containerPort == nil {
			continue
		}
		containerPorts = append(containerPorts, *containerPort)
		if hostPort != nil {
			published[*hostPort] = *containerPort
		}
	}
	return published, containerPorts
}

// safeInt coerces strings, numbers, and json numbers to int, returning nil
// for anything else. Port ranges and protocol suffixes ("80/tcp") fail the
// conversion and are dropped, matching the tolerant original behavior.
func safeInt(value interface{}) *int {
	switch v := value.(type) {
	case nil:
		return nil
	case int:
		return &v
	case float64:
		n := int(v)
		return &n
	case json.Number:
		if n, err := v.Int64(); err == nil {
			i := int(n)
			return &i
		}
		return nil
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return &n
		}
		return nil
	default:
		return nil
	}
}

func firstNonNil(values ...interface{}) interface{} {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// coerceDependsOn accepts both the mapping form (dependency name ->
// condition block) and the plain list form.
func coerceDependsOn(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err == nil {
		names := make([]string, 0, len(asMap))
		for name := range asMap {
			names = append(names, name)
		}
		return names
	}

	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList
	}
	return nil
}

// deriveBaseURLs lists http://localhost:<hostPort> for every published port
// in ascending host-port order, then one internal-DNS URL using the x-dev
// override port, else the first container port, else the default guess.
// The result is deduplicated preserving first-seen order.
func deriveBaseURLs(serviceName string, published map[int]int, containerPorts []int, xdev map[string]interface{}, defaultPort int) []string {
	hostPorts := make([]int, 0, len(published))
	for hostPort := range published {
		hostPorts = append(hostPorts, hostPort)
	}
	sort.Ints(hostPorts)

	urls := make([]string, 0, len(hostPorts)+1)
	for _, hostPort := range hostPorts {
		urls = append(urls, "http://localhost:"+strconv.Itoa(hostPort))
	}
	urls = append(urls, "http://"+serviceName+":"+strconv.Itoa(internalPort(containerPorts, xdev, defaultPort)))
	return dedupe(urls)
}

func deriveHealthURLs(baseURLs []string, serviceName string, containerPorts []int, xdev map[string]interface{}, defaultPort int) []string {
	healthPath := defaultHealthPath
	if v, ok := xdev["health"].(string); ok && v != "" {
		healthPath = v
	}

	urls := make([]string, 0, len(baseURLs)+1)
	for _, base := range baseURLs {
		urls = append(urls, joinURL(base, healthPath))
	}
	if len(baseURLs) == 0 {
		port := internalPort(containerPorts, xdev, defaultPort)
		urls = append(urls, "http://"+serviceName+":"+strconv.Itoa(port)+ensureLeadingSlash(healthPath))
	}
	return dedupe(urls)
}

func deriveDocsURLs(baseURLs []string, xdev map[string]interface{}) []string {
	docsPath, ok := xdev["docs"].(string)
	if !ok || docsPath == "" {
		return nil
	}
	urls := make([]string, 0, len(baseURLs))
	for _, base := range baseURLs {
		urls = append(urls, joinURL(base, docsPath))
	}
	return dedupe(urls)
}

func deriveMetricsURLs(baseURLs []string, serviceName string, containerPorts []int, xdev map[string]interface{}, defaultPort int) []string {
	if len(baseURLs) > 0 {
		urls := make([]string, 0, len(baseURLs))
		for _, base := range baseURLs {
			urls = append(urls, joinURL(base, metricsPath))
		}
		return dedupe(urls)
	}
	port := internalPort(containerPorts, xdev, defaultPort)
	return []string{"http://" + serviceName + ":" + strconv.Itoa(port) + "/" + metricsPath}
}

// internalPort picks the container port for the internal-DNS URL:
// x-dev.port override wins, then the first declared container port, then
// the configured default guess.
func internalPort(containerPorts []int, xdev map[string]interface{}, defaultPort int) int {
	if preferred := safeInt(xdev["port"]); preferred != nil {
		return *preferred
	}
	if len(containerPorts) > 0 {
		return containerPorts[0]
	}
	if defaultPort > 0 {
		return defaultPort
	}
	return DefaultInternalPort
}

func xDevTags(xdev map[string]interface{}) []string {
	rawTags, ok := xdev["tags"].([]interface{})
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(rawTags))
	for _, tag := range rawTags {
		if s, ok := tag.(string); ok {
			tags = append(tags, s)
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + ensureLeadingSlash(path)
}

func ensureLeadingSlash(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		out = append(out, url)
	}
	return out
}
