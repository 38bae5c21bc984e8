package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dockhand/dockhand/internal/diagnostics"
	"github.com/dockhand/dockhand/internal/middleware"
	"github.com/dockhand/dockhand/internal/models"
)

func meta(c *gin.Context) models.MetadataResponse {
	return models.MetadataResponse{
		Timestamp: time.Now().UTC(),
		RequestID: c.GetString(middleware.RequestIDKey),
	}
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    data,
		Meta:    meta(c),
	})
}

func respondAccepted(c *gin.Context, message string) {
	c.JSON(http.StatusAccepted, models.SuccessResponse{
		Success: true,
		Message: message,
		Meta:    meta(c),
	})
}

func respondBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Success: false,
		Error: models.ErrorInfo{
			Code:    "InvalidRequest",
			Message: err.Error(),
		},
		Meta: meta(c),
	})
}

// respondError maps façade diagnostics onto HTTP statuses. Unrecognized
// errors become a plain 500 without leaking internals.
func respondError(c *gin.Context, err error) {
	if diag := diagnostics.As(err); diag != nil {
		c.JSON(statusForCode(diag.Code), models.ErrorResponse{
			Success: false,
			Error: models.ErrorInfo{
				Code:    string(diag.Code),
				Message: diag.Message,
				Details: diag.Detail,
			},
			Meta: meta(c),
		})
		return
	}

	c.Error(err) //nolint:errcheck

	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Success: false,
		Error: models.ErrorInfo{
			Code:    "InternalError",
			Message: "internal server error",
		},
		Meta: meta(c),
	})
}

func statusForCode(code diagnostics.Code) int {
	switch code {
	case diagnostics.CodeDockerUnavailable, diagnostics.CodeComposeBinaryMissing:
		return http.StatusServiceUnavailable
	case diagnostics.CodeComposeDiscoveryRootsMissing:
		return http.StatusPreconditionFailed
	case diagnostics.CodeComposeConfigFailed, diagnostics.CodeComposeCommandFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
