package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dockhand/dockhand/internal/models"
)

// ServicesController serves discovery, topology and lifecycle endpoints.
type ServicesController struct {
	compose ComposeService
	logger  *logrus.Logger
}

// NewServicesController creates a services controller.
func NewServicesController(compose ComposeService, logger *logrus.Logger) *ServicesController {
	return &ServicesController{compose: compose, logger: logger}
}

// List handles GET /api/services. The include_status query flag controls
// whether container state is resolved for each service.
func (ctl *ServicesController) List(c *gin.Context) {
	includeStatus := true
	if raw := c.Query("include_status"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			respondBadRequest(c, err)
			return
		}
		includeStatus = parsed
	}

	services, err := ctl.compose.DiscoveredServices(c.Request.Context(), includeStatus)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"services": services})
}

// URLs handles GET /api/services/urls.
func (ctl *ServicesController) URLs(c *gin.Context) {
	index, err := ctl.compose.URLIndex(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"services": index})
}

// Topology handles GET /api/topology.
func (ctl *ServicesController) Topology(c *gin.Context) {
	graph, err := ctl.compose.DependencyGraph(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, graph)
}

// Lifecycle handles POST /api/services/lifecycle.
func (ctl *ServicesController) Lifecycle(c *gin.Context) {
	var req models.LifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	var err error
	switch req.Action {
	case "start":
		err = ctl.compose.StartServices(ctx, req.Services)
	case "stop":
		err = ctl.compose.StopServices(ctx, req.Services)
	case "restart":
		err = ctl.compose.RestartServices(ctx, req.Services)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	ctl.logger.WithFields(logrus.Fields{
		"action":   req.Action,
		"services": req.Services,
	}).Info("lifecycle command completed")

	respondAccepted(c, req.Action+" completed")
}
