package api

import (
	"fmt"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// traceIDPattern keeps arbitrary caller input out of the provider URL and
// the container log scan.
var traceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ObservabilityController serves the cached health and telemetry views
// plus trace lookup.
type ObservabilityController struct {
	health    HealthSource
	telemetry TelemetrySource
	traces    TraceFetcher
	logger    *logrus.Logger
}

// NewObservabilityController creates an observability controller.
func NewObservabilityController(health HealthSource, telemetry TelemetrySource, traces TraceFetcher, logger *logrus.Logger) *ObservabilityController {
	return &ObservabilityController{
		health:    health,
		telemetry: telemetry,
		traces:    traces,
		logger:    logger,
	}
}

// Health handles GET /api/health/services. It serves the monitor's cached
// snapshots and never probes inline.
func (ctl *ObservabilityController) Health(c *gin.Context) {
	respondOK(c, gin.H{"services": ctl.health.Latest()})
}

// Telemetry handles GET /api/telemetry/services.
func (ctl *ObservabilityController) Telemetry(c *gin.Context) {
	respondOK(c, gin.H{"services": ctl.telemetry.Latest()})
}

// Trace handles GET /api/traces/:traceID.
func (ctl *ObservabilityController) Trace(c *gin.Context) {
	traceID := c.Param("traceID")
	if !traceIDPattern.MatchString(traceID) {
		respondBadRequest(c, fmt.Errorf("invalid trace id"))
		return
	}

	trace, err := ctl.traces.FetchTrace(c.Request.Context(), traceID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, trace)
}
