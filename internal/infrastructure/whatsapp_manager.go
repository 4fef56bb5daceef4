package infrastructure

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"project_atendimento/internal/entities"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow/types/events"
)

var unsafeInstanceChars = regexp.MustCompile("[^a-zA-Z0-9_-]+")

// InboundFunc receives messages that arrive on an embedded session.
type InboundFunc func(ctx context.Context, instance string, msg entities.Message)

// StateFunc receives connection changes of an embedded session.
type StateFunc func(ctx context.Context, instance, state string)

// WhatsAppManager runs embedded WhatsApp sessions keyed by instance name and
// exposes them through the same Gateway contract as the HTTP gateway.
type WhatsAppManager struct {
	clients map[string]*WhatsAppClient
	mu      sync.RWMutex
	baseDir string
	logger  *slog.Logger
	fetch   *http.Client

	hookMu   sync.RWMutex
	webhooks map[string]entities.WebhookConfig

	OnMessage InboundFunc
	OnState   StateFunc
}

// NewWhatsAppManager creates a manager storing device databases under baseDir.
func NewWhatsAppManager(baseDir string, timeout time.Duration, logger *slog.Logger) *WhatsAppManager {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		logger.Warn("could not create devices directory", slog.String("dir", baseDir), slog.Any("error", err))
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WhatsAppManager{
		clients:  make(map[string]*WhatsAppClient),
		baseDir:  baseDir,
		logger:   logger.With(slog.String("component", "whatsapp_manager")),
		fetch:    &http.Client{Timeout: timeout},
		webhooks: make(map[string]entities.WebhookConfig),
	}
}

func (m *WhatsAppManager) dbPath(instance string) string {
	return filepath.Join(m.baseDir, "instance_"+unsafeInstanceChars.ReplaceAllString(instance, "_")+".db")
}

// GetClient returns the session for instance, or nil.
func (m *WhatsAppManager) GetClient(instance string) *WhatsAppClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[instance]
}

// GetOrCreateClient opens (or reuses) the session of instance.
func (m *WhatsAppManager) GetOrCreateClient(instance string) (*WhatsAppClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[instance]; ok {
		return client, nil
	}
	client, err := NewWhatsAppClient(m.dbPath(instance), instance, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create WhatsApp client for %s: %w", instance, err)
	}
	client.AddHandler(m.eventHandler(client))
	m.clients[instance] = client
	return client, nil
}

func (m *WhatsAppManager) eventHandler(client *WhatsAppClient) func(interface{}) {
	return func(evt interface{}) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		switch v := evt.(type) {
		case *events.Message:
			if m.OnMessage == nil {
				return
			}
			if msg, ok := client.ParseMessage(ctx, v); ok {
				m.OnMessage(ctx, client.Instance, msg)
			}
		case *events.Connected:
			m.emitState(ctx, client.Instance, "open")
		case *events.LoggedOut:
			m.emitState(ctx, client.Instance, "close")
		case *events.Disconnected:
			m.emitState(ctx, client.Instance, "close")
		}
	}
}

func (m *WhatsAppManager) emitState(ctx context.Context, instance, state string) {
	m.logger.Info("session state", slog.String("instance", instance), slog.String("state", state))
	if m.OnState != nil {
		m.OnState(ctx, instance, state)
	}
}

func (m *WhatsAppManager) ConnectionState(ctx context.Context, ref entities.InstanceRef) (entities.ConnectionState, error) {
	client := m.GetClient(ref.Name)
	if client == nil {
		return entities.StateDisconnected, nil
	}
	return client.State(), nil
}

// Connect opens the session and waits briefly for the first QR code.
func (m *WhatsAppManager) Connect(ctx context.Context, ref entities.InstanceRef) (*entities.PairingHandle, error) {
	client, err := m.GetOrCreateClient(ref.Name)
	if err != nil {
		return nil, err
	}
	if client.State() == entities.StateConnected {
		return &entities.PairingHandle{State: entities.StateConnected}, nil
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrInstanceUnreachable, err)
	}
	if client.IsLoggedIn() {
		return &entities.PairingHandle{State: client.State()}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	code, err := client.WaitQR(waitCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: no qr code issued: %v", entities.ErrInstanceUnreachable, err)
	}
	png, err := RenderQR(code)
	if err != nil {
		return nil, err
	}
	return &entities.PairingHandle{State: entities.StateConnecting, Code: code, QRCode: png}, nil
}

// RenderQR encodes a pairing payload as a PNG data URI.
func RenderQR(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("render qr: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

func (m *WhatsAppManager) Restart(ctx context.Context, ref entities.InstanceRef) error {
	client := m.GetClient(ref.Name)
	if client == nil {
		_, err := m.Connect(ctx, ref)
		return err
	}
	client.Disconnect()
	if err := client.Connect(); err != nil {
		return fmt.Errorf("%w: %v", entities.ErrInstanceUnreachable, err)
	}
	return nil
}

// Logout ends the session and drops the client. A missing client is already
// logged out.
func (m *WhatsAppManager) Logout(ctx context.Context, ref entities.InstanceRef) error {
	m.mu.Lock()
	client, ok := m.clients[ref.Name]
	delete(m.clients, ref.Name)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	err := client.Logout(ctx)
	client.Disconnect()
	return err
}

// DeleteInstance logs out and removes the device database.
func (m *WhatsAppManager) DeleteInstance(ctx context.Context, ref entities.InstanceRef) error {
	if err := m.Logout(ctx, ref); err != nil {
		m.logger.Warn("logout before delete failed", slog.String("instance", ref.Name), slog.Any("error", err))
	}
	m.hookMu.Lock()
	delete(m.webhooks, ref.Name)
	m.hookMu.Unlock()
	if err := os.Remove(m.dbPath(ref.Name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SetWebhook records the registration. Embedded sessions deliver inbound
// messages in-process, so the configuration is informational.
func (m *WhatsAppManager) SetWebhook(ctx context.Context, ref entities.InstanceRef, cfg entities.WebhookConfig) error {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.webhooks[ref.Name] = cfg
	return nil
}

func (m *WhatsAppManager) FindWebhook(ctx context.Context, ref entities.InstanceRef) (*entities.WebhookConfig, error) {
	m.hookMu.RLock()
	defer m.hookMu.RUnlock()
	cfg, ok := m.webhooks[ref.Name]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (m *WhatsAppManager) connected(ref entities.InstanceRef) (*WhatsAppClient, error) {
	client := m.GetClient(ref.Name)
	if client == nil || client.State() != entities.StateConnected {
		return nil, fmt.Errorf("%w: session %s is not connected", entities.ErrInstanceUnreachable, ref.Name)
	}
	return client, nil
}

func (m *WhatsAppManager) SendText(ctx context.Context, ref entities.InstanceRef, number, text string) error {
	client, err := m.connected(ref)
	if err != nil {
		return err
	}
	return client.SendText(ctx, number, text)
}

func (m *WhatsAppManager) SendMedia(ctx context.Context, ref entities.InstanceRef, number string, req entities.OutboundRequest) error {
	client, err := m.connected(ref)
	if err != nil {
		return err
	}
	data, err := m.mediaBytes(ctx, req)
	if err != nil {
		return err
	}
	return client.SendMedia(ctx, number, data, req)
}

func (m *WhatsAppManager) mediaBytes(ctx context.Context, req entities.OutboundRequest) ([]byte, error) {
	if req.FileData != "" {
		data, err := base64.StdEncoding.DecodeString(req.FileData)
		if err != nil {
			return nil, fmt.Errorf("%w: bad base64 payload: %v", entities.ErrInvalidContent, err)
		}
		return data, nil
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.Content, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrInvalidContent, err)
	}
	resp, err := m.fetch.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: media url returned %d", entities.ErrInvalidContent, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64<<20))
}

// Resume reconnects every instance that already has a device database.
func (m *WhatsAppManager) Resume(instances []string) {
	for _, name := range instances {
		if _, err := os.Stat(m.dbPath(name)); err != nil {
			continue
		}
		client, err := m.GetOrCreateClient(name)
		if err != nil {
			m.logger.Warn("resume failed", slog.String("instance", name), slog.Any("error", err))
			continue
		}
		if !client.IsLoggedIn() {
			continue
		}
		if err := client.Connect(); err != nil {
			m.logger.Warn("resume failed", slog.String("instance", name), slog.Any("error", err))
		}
	}
}

// DisconnectAll disconnects all clients (for graceful shutdown)
func (m *WhatsAppManager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, client := range m.clients {
		client.Disconnect()
	}
	m.clients = make(map[string]*WhatsAppClient)
}
