package models

import (
	"time"
)

// --- Standard API Response Structures ---

// SuccessResponse represents a standard successful API response structure.
type SuccessResponse struct {
	Success bool             `json:"success" example:"true"`
	Data    interface{}      `json:"data,omitempty"`
	Message string           `json:"message,omitempty"`
	Meta    MetadataResponse `json:"meta"`
}

// ErrorInfo represents the details of an API error. Code preserves the
// diagnostic code raised by the façade so clients can branch on it.
type ErrorInfo struct {
	Code    string      `json:"code" example:"ComposeConfigFailed"`
	Message string      `json:"message" example:"Compose failed to resolve in /srv/stack."`
	Details interface{} `json:"details,omitempty"`
}

// ErrorResponse represents a standard error API response structure.
type ErrorResponse struct {
	Success bool             `json:"success" example:"false"`
	Error   ErrorInfo        `json:"error"`
	Meta    MetadataResponse `json:"meta"`
}

// MetadataResponse represents common metadata for API responses
type MetadataResponse struct {
	Timestamp time.Time `json:"timestamp" example:"2026-08-30T10:30:00Z"`
	RequestID string    `json:"request_id,omitempty" example:"req-12345"`
}

// --- Request Structures ---

// LifecycleRequest asks the façade to run a Compose lifecycle command
// against the named services.
type LifecycleRequest struct {
	Action   string   `json:"action" binding:"required,oneof=start stop restart"`
	Services []string `json:"services" binding:"required,min=1,dive,servicename"`
}

// --- Specific Response Data Structures ---

// TraceResponse is the tagged union returned by the trace endpoint: Mode is
// "trace" when the backend answered and "logs" when we fell back to log
// correlation.
type TraceResponse struct {
	Mode                 string      `json:"mode"`
	TraceID              string      `json:"trace_id"`
	DurationMS           float64     `json:"duration_ms,omitempty"`
	CriticalPathServices []string    `json:"critical_path_services,omitempty"`
	Spans                []TraceSpan `json:"spans,omitempty"`
	Lines                []string    `json:"lines,omitempty"`
}
