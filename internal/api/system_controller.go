package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dockhand/dockhand/internal/docker"
	"github.com/dockhand/dockhand/internal/models"
)

// SystemController serves engine diagnostics and per-service container
// resource snapshots straight from the Docker gateway.
type SystemController struct {
	gateway docker.Gateway
	logger  *logrus.Logger
}

// NewSystemController creates a system controller.
func NewSystemController(gateway docker.Gateway, logger *logrus.Logger) *SystemController {
	return &SystemController{gateway: gateway, logger: logger}
}

// Diagnostics handles GET /api/diagnostics. It reports whether the Docker
// engine answers, without touching the compose cache.
func (ctl *SystemController) Diagnostics(c *gin.Context) {
	dockerStatus := "ok"
	var dockerError string
	if err := ctl.gateway.Ping(c.Request.Context()); err != nil {
		dockerStatus = "unavailable"
		dockerError = err.Error()
	}

	respondOK(c, gin.H{
		"docker":       dockerStatus,
		"docker_error": dockerError,
	})
}

// ServiceStats handles GET /api/services/:service/stats with a one-shot
// resource snapshot per running container of the service.
func (ctl *SystemController) ServiceStats(c *gin.Context) {
	service := c.Param("service")
	if !serviceNamePattern.MatchString(service) {
		respondBadRequest(c, fmt.Errorf("invalid service name"))
		return
	}

	ctx := c.Request.Context()
	containers, err := ctl.gateway.ListByService(ctx, service, false)
	if err != nil {
		respondError(c, err)
		return
	}

	stats := make([]models.ContainerStats, 0, len(containers))
	for _, ctr := range containers {
		snapshot, statErr := ctl.gateway.Stats(ctx, ctr.ID)
		if statErr != nil {
			ctl.logger.WithError(statErr).WithFields(logrus.Fields{
				"service":   service,
				"container": docker.ShortID(ctr.ID),
			}).Warn("stats read failed")
			continue
		}
		stats = append(stats, snapshot)
	}

	respondOK(c, gin.H{"service": service, "containers": stats})
}
