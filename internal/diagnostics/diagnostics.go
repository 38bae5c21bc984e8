// Package diagnostics defines the typed error taxonomy shared by all
// components. A Diagnostic carries a machine-readable code alongside a
// human-friendly message so the API layer can surface actionable failures
// to clients instead of opaque internal errors.
package diagnostics

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Code identifies a class of caller-actionable failure.
type Code string

const (
	// CodeDockerUnavailable indicates the Docker Engine could not be reached
	CodeDockerUnavailable Code = "DockerUnavailable"

	// CodeComposeDiscoveryRootsMissing indicates no discovery roots are configured
	CodeComposeDiscoveryRootsMissing Code = "ComposeDiscoveryRootsMissing"

	// CodeComposeBinaryMissing indicates the Compose executable is not on PATH
	CodeComposeBinaryMissing Code = "ComposeBinaryMissing"

	// CodeComposeConfigFailed indicates `compose config` exited non-zero
	CodeComposeConfigFailed Code = "ComposeConfigFailed"

	// CodeComposeCommandFailed indicates a Compose lifecycle command exited non-zero
	CodeComposeCommandFailed Code = "ComposeCommandFailed"
)

// Diagnostic is an error with a stable code, a human message, and optional
// detail (typically captured stderr). It is fatal to the call that raised
// it, never to the process.
type Diagnostic struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// New creates a Diagnostic without detail.
func New(code Code, message string) *Diagnostic {
	return &Diagnostic{Code: code, Message: message}
}

// NewWithDetail creates a Diagnostic carrying supporting detail such as
// captured subprocess stderr.
func NewWithDetail(code Code, message, detail string) *Diagnostic {
	return &Diagnostic{Code: code, Message: message, Detail: detail}
}

// Error implements the error interface.
func (d *Diagnostic) Error() string {
	if d.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", d.Code, d.Message, d.Detail)
	}
	return fmt.Sprintf("%s: %s", d.Code, d.Message)
}

// Fields returns logrus fields for log enrichment.
func (d *Diagnostic) Fields() logrus.Fields {
	fields := logrus.Fields{
		"code":    string(d.Code),
		"message": d.Message,
	}
	if d.Detail != "" {
		fields["detail"] = d.Detail
	}
	return fields
}

// As extracts a Diagnostic from an error chain, returning nil when the
// chain contains none.
func As(err error) *Diagnostic {
	var diag *Diagnostic
	if errors.As(err, &diag) {
		return diag
	}
	return nil
}
