package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"project_atendimento/internal/entities"
	"project_atendimento/internal/interfaces"
)

// TableSuffix is appended to a channel slug to name its conversation table.
const TableSuffix = "_conversas"

var unsafeTableChars = regexp.MustCompile("[^a-z0-9_]+")

// DefaultTableName derives a conversation table name from the channel slug
// (or name when the slug is empty).
func DefaultTableName(ch entities.Channel) string {
	base := ch.Slug
	if base == "" {
		base = ch.Name
	}
	base = strings.Trim(unsafeTableChars.ReplaceAllString(strings.ToLower(base), "_"), "_")
	if base == "" {
		id := unsafeTableChars.ReplaceAllString(strings.ToLower(ch.ID), "")
		if len(id) > 8 {
			id = id[:8]
		}
		base = "channel_" + id
	}
	return base + TableSuffix
}

// TableDirectory is the channel id -> conversation table lookup. It is loaded
// from the registry once and reloaded when the registry changes.
type TableDirectory struct {
	registry interfaces.TableRegistry
	channels interfaces.ChannelStore
	logger   *slog.Logger

	mu     sync.RWMutex
	tables map[string]string
}

func NewTableDirectory(registry interfaces.TableRegistry, channels interfaces.ChannelStore, logger *slog.Logger) *TableDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &TableDirectory{
		registry: registry,
		channels: channels,
		logger:   logger.With(slog.String("component", "table_directory")),
		tables:   make(map[string]string),
	}
}

// Reload replaces the in-memory map with the registry contents.
func (d *TableDirectory) Reload(ctx context.Context) error {
	tables, err := d.registry.ListChannelTables(ctx)
	if err != nil {
		return fmt.Errorf("failed to load channel tables: %w", err)
	}
	d.mu.Lock()
	d.tables = tables
	d.mu.Unlock()
	d.logger.Info("channel tables loaded", slog.Int("count", len(tables)))
	return nil
}

// TableFor returns the table bound to channelID, if any.
func (d *TableDirectory) TableFor(channelID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tables[channelID]
	return t, ok
}

// All returns a copy of the channel id -> table map.
func (d *TableDirectory) All() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.tables))
	for k, v := range d.tables {
		out[k] = v
	}
	return out
}

// Register binds channelID to tableName, creating the table when needed.
func (d *TableDirectory) Register(ctx context.Context, channelID, tableName string) (string, error) {
	table, err := d.registry.EnsureChannelTable(ctx, channelID, tableName)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	d.tables[channelID] = table
	d.mu.Unlock()
	d.logger.Info("channel table registered", slog.String("channel", channelID), slog.String("table", table))
	return table, nil
}

// Resolve returns the channel's table, registering the default one on first use.
func (d *TableDirectory) Resolve(ctx context.Context, channelID string) (string, error) {
	if t, ok := d.TableFor(channelID); ok {
		return t, nil
	}
	ch, err := d.channels.GetChannel(ctx, channelID)
	if err != nil {
		return "", err
	}
	if ch == nil {
		return "", fmt.Errorf("%w: %s", entities.ErrChannelNotFound, channelID)
	}
	return d.Register(ctx, channelID, DefaultTableName(*ch))
}
