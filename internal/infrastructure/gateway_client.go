package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"project_atendimento/internal/entities"
)

// GatewayClient talks to the HTTP messaging gateway (Evolution-style API).
// Every request carries the instance apikey and is bounded by the client timeout.
type GatewayClient struct {
	http   *http.Client
	logger *slog.Logger
}

func NewGatewayClient(timeout time.Duration, logger *slog.Logger) *GatewayClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayClient{
		http:   &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "gateway_client")),
	}
}

type stateResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

type connectResponse struct {
	PairingCode string `json:"pairingCode"`
	Code        string `json:"code"`
	Base64      string `json:"base64"`
	Instance    *struct {
		State string `json:"state"`
	} `json:"instance"`
}

type webhookBody struct {
	Webhook webhookPayload `json:"webhook"`
}

type webhookPayload struct {
	Enabled  bool     `json:"enabled"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	ByEvents bool     `json:"byEvents"`
	Base64   bool     `json:"base64"`
}

func (c *GatewayClient) ConnectionState(ctx context.Context, ref entities.InstanceRef) (entities.ConnectionState, error) {
	var resp stateResponse
	if err := c.do(ctx, http.MethodGet, ref, "instance/connectionState", nil, &resp); err != nil {
		return entities.StateDisconnected, err
	}
	if resp.Instance.State == "" {
		return entities.StateDisconnected, fmt.Errorf("malformed connection state response for %s", ref.Name)
	}
	return entities.ParseGatewayState(resp.Instance.State), nil
}

func (c *GatewayClient) Connect(ctx context.Context, ref entities.InstanceRef) (*entities.PairingHandle, error) {
	var resp connectResponse
	if err := c.do(ctx, http.MethodGet, ref, "instance/connect", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Instance != nil && resp.Instance.State != "" {
		return &entities.PairingHandle{State: entities.ParseGatewayState(resp.Instance.State)}, nil
	}
	return &entities.PairingHandle{
		State:       entities.StateConnecting,
		QRCode:      resp.Base64,
		Code:        resp.Code,
		PairingCode: resp.PairingCode,
	}, nil
}

func (c *GatewayClient) Restart(ctx context.Context, ref entities.InstanceRef) error {
	return c.do(ctx, http.MethodPut, ref, "instance/restart", nil, nil)
}

func (c *GatewayClient) Logout(ctx context.Context, ref entities.InstanceRef) error {
	return c.do(ctx, http.MethodDelete, ref, "instance/logout", nil, nil)
}

func (c *GatewayClient) DeleteInstance(ctx context.Context, ref entities.InstanceRef) error {
	return c.do(ctx, http.MethodDelete, ref, "instance/delete", nil, nil)
}

func (c *GatewayClient) SetWebhook(ctx context.Context, ref entities.InstanceRef, cfg entities.WebhookConfig) error {
	body := webhookBody{Webhook: webhookPayload{
		Enabled: cfg.Enabled,
		URL:     cfg.URL,
		Events:  cfg.Events,
		Base64:  true,
	}}
	return c.do(ctx, http.MethodPost, ref, "webhook/set", body, nil)
}

func (c *GatewayClient) FindWebhook(ctx context.Context, ref entities.InstanceRef) (*entities.WebhookConfig, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, ref, "webhook/find", nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	// Older gateway versions wrap the registration in a "webhook" object.
	var wrapped webhookBody
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Webhook.URL != "" {
		return &entities.WebhookConfig{Enabled: wrapped.Webhook.Enabled, URL: wrapped.Webhook.URL, Events: wrapped.Webhook.Events}, nil
	}
	var flat webhookPayload
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("malformed webhook response for %s: %w", ref.Name, err)
	}
	if flat.URL == "" {
		return nil, nil
	}
	return &entities.WebhookConfig{Enabled: flat.Enabled, URL: flat.URL, Events: flat.Events}, nil
}

func (c *GatewayClient) SendText(ctx context.Context, ref entities.InstanceRef, number, text string) error {
	return c.do(ctx, http.MethodPost, ref, "message/sendText", map[string]string{
		"number": number,
		"text":   text,
	}, nil)
}

// SendMedia posts a binary (pure base64) or URL payload. Audio goes through
// the voice-note endpoint.
func (c *GatewayClient) SendMedia(ctx context.Context, ref entities.InstanceRef, number string, req entities.OutboundRequest) error {
	media := req.FileData
	if media == "" {
		media = req.Content
	}
	if media == "" {
		return fmt.Errorf("%w: empty media payload", entities.ErrInvalidContent)
	}

	if req.MessageType == entities.KindAudio {
		return c.do(ctx, http.MethodPost, ref, "message/sendWhatsAppAudio", map[string]string{
			"number": number,
			"audio":  media,
		}, nil)
	}

	caption := req.Caption
	if caption == "" && req.FileData != "" {
		caption = req.Content
	}
	return c.do(ctx, http.MethodPost, ref, "message/sendMedia", map[string]string{
		"number":    number,
		"mediatype": gatewayMediaType(req.MessageType),
		"mimetype":  req.MimeType,
		"caption":   caption,
		"media":     media,
		"fileName":  req.FileName,
	}, nil)
}

func gatewayMediaType(kind entities.ContentKind) string {
	switch kind {
	case entities.KindImage, entities.KindSticker:
		return "image"
	case entities.KindVideo:
		return "video"
	default:
		return "document"
	}
}

func (c *GatewayClient) do(ctx context.Context, method string, ref entities.InstanceRef, action string, body, out any) error {
	endpoint := fmt.Sprintf("%s/%s/%s", ref.BaseURL(), action, url.PathEscape(ref.Name))

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", action, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("apikey", ref.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("gateway request failed",
			slog.String("action", action),
			slog.String("instance", ref.Name),
			slog.String("endpoint", ref.BaseURL()),
			slog.String("api_key", entities.MaskSecret(ref.APIKey)),
			slog.Any("error", err))
		return fmt.Errorf("%w: %s %s: %v", entities.ErrInstanceUnreachable, method, action, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", entities.ErrInstanceUnreachable, action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("gateway rejected request",
			slog.String("action", action),
			slog.String("instance", ref.Name),
			slog.Int("status", resp.StatusCode))
		return entities.NewGatewayError(resp.StatusCode, payload)
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("malformed %s response: %w", action, err)
	}
	return nil
}
