package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"project_atendimento/internal/entities"
	"project_atendimento/internal/interfaces"
)

// DirectDispatcher sends through the gateway API using the mapping's credentials.
type DirectDispatcher struct {
	gateway interfaces.Gateway
}

func NewDirectDispatcher(gateway interfaces.Gateway) *DirectDispatcher {
	return &DirectDispatcher{gateway: gateway}
}

func (d *DirectDispatcher) Dispatch(ctx context.Context, req entities.OutboundRequest) error {
	if req.MessageType.IsMedia() {
		return d.gateway.SendMedia(ctx, req.Instance, req.PhoneNumber, req)
	}
	return d.gateway.SendText(ctx, req.Instance, req.PhoneNumber, req.Content)
}

// RelayPayload is the body posted to the workflow webhook and published to
// the broker. Binary payloads are pure base64.
type RelayPayload struct {
	Channel      string `json:"channel"`
	ChannelName  string `json:"channelName,omitempty"`
	InstanceName string `json:"instanceName"`
	PhoneNumber  string `json:"phoneNumber"`
	Content      string `json:"content"`
	MessageType  string `json:"messageType"`
	FileData     string `json:"fileData,omitempty"`
	FileName     string `json:"fileName,omitempty"`
	FileFormat   string `json:"fileFormat,omitempty"`
	MimeType     string `json:"mimeType,omitempty"`
	Timestamp    string `json:"timestamp"`
}

func NewRelayPayload(req entities.OutboundRequest) RelayPayload {
	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return RelayPayload{
		Channel:      req.ChannelID,
		ChannelName:  req.ChannelName,
		InstanceName: req.Instance.Name,
		PhoneNumber:  req.PhoneNumber,
		Content:      req.Content,
		MessageType:  string(req.MessageType),
		FileData:     req.FileData,
		FileName:     req.FileName,
		FileFormat:   req.FileFormat,
		MimeType:     req.MimeType,
		Timestamp:    ts.UTC().Format(time.RFC3339),
	}
}

// WebhookRelay posts every outbound message to a single workflow endpoint.
type WebhookRelay struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

func NewWebhookRelay(url string, timeout time.Duration, logger *slog.Logger) *WebhookRelay {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookRelay{
		url:    url,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("component", "webhook_relay")),
	}
}

func (w *WebhookRelay) Dispatch(ctx context.Context, req entities.OutboundRequest) error {
	data, err := json.Marshal(NewRelayPayload(req))
	if err != nil {
		return fmt.Errorf("encode relay payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(httpReq)
	if err != nil {
		w.logger.Warn("relay unreachable", slog.String("channel", req.ChannelID), slog.String("instance", req.Instance.Name), slog.Any("error", err))
		return fmt.Errorf("%w: relay: %v", entities.ErrInstanceUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return entities.NewGatewayError(resp.StatusCode, body)
	}
	w.logger.Debug("relayed", slog.String("channel", req.ChannelID), slog.String("instance", req.Instance.Name))
	return nil
}
