package interfaces

import (
	"context"

	"project_atendimento/internal/entities"
)

// Gateway is the messaging-gateway API as seen by the core. Both the HTTP
// gateway client and the embedded WhatsApp manager implement it.
type Gateway interface {
	ConnectionState(ctx context.Context, ref entities.InstanceRef) (entities.ConnectionState, error)
	Connect(ctx context.Context, ref entities.InstanceRef) (*entities.PairingHandle, error)
	Restart(ctx context.Context, ref entities.InstanceRef) error
	Logout(ctx context.Context, ref entities.InstanceRef) error
	DeleteInstance(ctx context.Context, ref entities.InstanceRef) error
	SetWebhook(ctx context.Context, ref entities.InstanceRef, cfg entities.WebhookConfig) error
	FindWebhook(ctx context.Context, ref entities.InstanceRef) (*entities.WebhookConfig, error)
	SendText(ctx context.Context, ref entities.InstanceRef, number, text string) error
	SendMedia(ctx context.Context, ref entities.InstanceRef, number string, req entities.OutboundRequest) error
}

// Dispatcher delivers an outbound message. Direct gateway calls and relays
// sit behind it so callers never know which path was taken.
type Dispatcher interface {
	Dispatch(ctx context.Context, req entities.OutboundRequest) error
}

type ChannelStore interface {
	ListChannels(ctx context.Context) ([]entities.Channel, error)
	GetChannel(ctx context.Context, id string) (*entities.Channel, error)
}

type InstanceStore interface {
	GetInstance(ctx context.Context, id string) (*entities.Instance, error)
}

// MappingStore persists channel ↔ instance bindings. UpsertMapping must be a
// single conditional insert-or-update keyed by channel id.
type MappingStore interface {
	UpsertMapping(ctx context.Context, m entities.InstanceMapping) (*entities.InstanceMapping, error)
	GetMappingByChannel(ctx context.Context, channelID string) (*entities.InstanceMapping, error)
	ListMappings(ctx context.Context) ([]entities.InstanceMapping, error)
	DeactivateMapping(ctx context.Context, channelID string) error
	UpdateConnectionState(ctx context.Context, instanceName string, state entities.ConnectionState) error
}

// MessageWriter reads and writes rows of a per-channel conversation table.
type MessageWriter interface {
	WriteMessage(ctx context.Context, table string, msg entities.Message) (int64, error)
	ListMessages(ctx context.Context, table, sessionID string, limit int) ([]entities.Message, error)
	MarkRead(ctx context.Context, table, sessionID string) (int64, error)
	ListInlineMedia(ctx context.Context, table string, limit int) ([]entities.Message, error)
	ReplaceBody(ctx context.Context, table string, id int64, body string) error
}

// TableRegistry lists the channel id → conversation table bindings.
type TableRegistry interface {
	ListChannelTables(ctx context.Context) (map[string]string, error)
	EnsureChannelTable(ctx context.Context, channelID, tableName string) (string, error)
}

// ObjectStorage stores migrated media and returns its public URL.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte, mimeType string) (string, error)
}

// SendLimiter throttles outbound sends per channel.
type SendLimiter interface {
	Allow(channelID string) bool
}

// Notifier sends operational alerts.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
