package entities

import (
	"errors"
	"fmt"
)

var (
	ErrChannelNotFound      = errors.New("channel not found")
	ErrNoInstanceConfigured = errors.New("no instance configured for channel")
	ErrInstanceUnreachable  = errors.New("instance unreachable")
	ErrGatewayRejected      = errors.New("gateway rejected request")
	ErrPersistenceFailed    = errors.New("persistence failed")
	ErrConfigurationDrift   = errors.New("webhook configuration drift")
	ErrInvalidContent       = errors.New("invalid content")
	ErrRateLimited          = errors.New("send rate limit exceeded")
	ErrInstanceNotFound     = errors.New("instance not found")
)

// Error codes returned to the console. Stable strings, the UI switches on them.
const (
	CodeChannelNotFound      = "channel_not_found"
	CodeNoInstanceConfigured = "no_instance_configured"
	CodeInstanceUnreachable  = "instance_unreachable"
	CodeGatewayRejected      = "gateway_rejected"
	CodePersistenceFailed    = "persistence_failed"
	CodeConfigurationDrift   = "configuration_drift"
	CodeInvalidContent       = "invalid_content"
	CodeRateLimited          = "rate_limited"
	CodeInstanceNotFound     = "instance_not_found"
	CodeInternal             = "internal"
)

// GatewayError is a non-2xx answer from the gateway or relay.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error {
	return ErrGatewayRejected
}

// NewGatewayError truncates the body so a misbehaving gateway can't flood logs.
func NewGatewayError(status int, body []byte) *GatewayError {
	const max = 512
	if len(body) > max {
		body = body[:max]
	}
	return &GatewayError{StatusCode: status, Body: string(body)}
}

// ErrorCode maps an error onto the nearest taxonomy code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrChannelNotFound):
		return CodeChannelNotFound
	case errors.Is(err, ErrNoInstanceConfigured):
		return CodeNoInstanceConfigured
	case errors.Is(err, ErrInstanceNotFound):
		return CodeInstanceNotFound
	case errors.Is(err, ErrInstanceUnreachable):
		return CodeInstanceUnreachable
	case errors.Is(err, ErrGatewayRejected):
		return CodeGatewayRejected
	case errors.Is(err, ErrPersistenceFailed):
		return CodePersistenceFailed
	case errors.Is(err, ErrConfigurationDrift):
		return CodeConfigurationDrift
	case errors.Is(err, ErrInvalidContent):
		return CodeInvalidContent
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}
