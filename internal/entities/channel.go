package entities

import (
	"strings"
	"time"
)

// Channel is a logical conversation bucket (one per store or role)
type Channel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Aliases   []string  `json:"aliases"`
	IsActive  bool      `json:"is_active"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tokens returns every string the channel can be addressed by, canonical id first.
func (c Channel) Tokens() []string {
	tokens := []string{c.ID}
	for _, t := range append([]string{c.Name, c.Slug}, c.Aliases...) {
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// Instance is a messaging-gateway session and its credentials
type Instance struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Endpoint  string    `json:"endpoint"`
	APIKey    string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// InstanceMapping binds one channel to one gateway instance. Name, endpoint and
// key are snapshotted from the instance at upsert time.
type InstanceMapping struct {
	ID              string          `json:"id"`
	ChannelID       string          `json:"channel_id"`
	ChannelName     string          `json:"channel_name"`
	InstanceID      string          `json:"instance_id"`
	InstanceName    string          `json:"instance_name"`
	Endpoint        string          `json:"endpoint"`
	APIKey          string          `json:"-"`
	IsActive        bool            `json:"is_active"`
	ConnectionState ConnectionState `json:"connection_state"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Ref returns the credentials needed to address the mapped instance.
func (m InstanceMapping) Ref() InstanceRef {
	return InstanceRef{Name: m.InstanceName, Endpoint: m.Endpoint, APIKey: m.APIKey}
}

// InstanceRef is what a gateway call needs: where, which session, which key.
type InstanceRef struct {
	Name     string
	Endpoint string
	APIKey   string
}

// BaseURL returns the endpoint without a trailing slash.
func (r InstanceRef) BaseURL() string {
	return strings.TrimRight(r.Endpoint, "/")
}

// ConnectionState is the per-instance session state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// ParseGatewayState maps a gateway `instance.state` value onto ConnectionState.
func ParseGatewayState(raw string) ConnectionState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "connected":
		return StateConnected
	case "connecting", "qrcode", "pairing":
		return StateConnecting
	default:
		return StateDisconnected
	}
}

// PairingHandle is what the gateway hands back for a connect request.
type PairingHandle struct {
	State       ConnectionState `json:"state"`
	QRCode      string          `json:"qr_code,omitempty"` // data:image/png;base64,...
	Code        string          `json:"code,omitempty"`    // raw QR payload
	PairingCode string          `json:"pairing_code,omitempty"`
}

// WebhookConfig is the gateway-side webhook registration for an instance.
type WebhookConfig struct {
	Enabled bool     `json:"enabled"`
	URL     string   `json:"url"`
	Events  []string `json:"events"`
}

// MaskSecret keeps the last four characters of a secret for logs.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
