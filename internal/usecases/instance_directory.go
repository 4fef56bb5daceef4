package usecases

import (
	"context"
	"fmt"
	"log/slog"

	"project_atendimento/internal/entities"
	"project_atendimento/internal/interfaces"
)

// InstanceDirectory owns the channel -> gateway instance bindings.
type InstanceDirectory struct {
	channels  interfaces.ChannelStore
	instances interfaces.InstanceStore
	mappings  interfaces.MappingStore
	lifecycle *ConnectionLifecycle
	logger    *slog.Logger
}

func NewInstanceDirectory(channels interfaces.ChannelStore, instances interfaces.InstanceStore, mappings interfaces.MappingStore, lifecycle *ConnectionLifecycle, logger *slog.Logger) *InstanceDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstanceDirectory{
		channels:  channels,
		instances: instances,
		mappings:  mappings,
		lifecycle: lifecycle,
		logger:    logger.With(slog.String("component", "instance_directory")),
	}
}

// Upsert binds channelID to instanceID, replacing any previous binding for
// the channel, then (re)configures the gateway webhook. A webhook failure is
// logged and does not fail the upsert.
func (d *InstanceDirectory) Upsert(ctx context.Context, channelID, instanceID string) (*entities.InstanceMapping, error) {
	ch, err := d.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, fmt.Errorf("%w: %s", entities.ErrChannelNotFound, channelID)
	}
	inst, err := d.instances.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: %s", entities.ErrInstanceNotFound, instanceID)
	}

	mapping, err := d.mappings.UpsertMapping(ctx, entities.InstanceMapping{
		ChannelID:       ch.ID,
		ChannelName:     ch.Name,
		InstanceID:      inst.ID,
		InstanceName:    inst.Name,
		Endpoint:        inst.Endpoint,
		APIKey:          inst.APIKey,
		IsActive:        true,
		ConnectionState: entities.StateDisconnected,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert mapping for channel %s: %w", ch.ID, err)
	}

	d.logger.Info("instance mapping saved",
		slog.String("channel", ch.ID),
		slog.String("instance", inst.Name),
		slog.String("endpoint", inst.Endpoint),
		slog.String("api_key", entities.MaskSecret(inst.APIKey)))

	if d.lifecycle != nil {
		if err := d.lifecycle.SetWebhook(ctx, mapping.Ref(), d.lifecycle.ExpectedWebhook(ch.ID)); err != nil {
			d.logger.Warn("webhook configuration failed after upsert",
				slog.String("channel", ch.ID),
				slog.String("instance", inst.Name),
				slog.Any("error", err))
		}
	}
	return mapping, nil
}

// GetForChannel returns the active mapping for channelID, or nil.
func (d *InstanceDirectory) GetForChannel(ctx context.Context, channelID string) (*entities.InstanceMapping, error) {
	m, err := d.mappings.GetMappingByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.IsActive {
		return nil, nil
	}
	return m, nil
}

// Require is GetForChannel with absence turned into ErrNoInstanceConfigured.
func (d *InstanceDirectory) Require(ctx context.Context, channelID string) (*entities.InstanceMapping, error) {
	m, err := d.GetForChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: channel %s", entities.ErrNoInstanceConfigured, channelID)
	}
	return m, nil
}

// Delete deactivates the mapping. The gateway-side instance is left alone.
func (d *InstanceDirectory) Delete(ctx context.Context, channelID string) error {
	if err := d.mappings.DeactivateMapping(ctx, channelID); err != nil {
		return err
	}
	d.logger.Info("instance mapping deactivated", slog.String("channel", channelID))
	return nil
}

func (d *InstanceDirectory) List(ctx context.Context) ([]entities.InstanceMapping, error) {
	return d.mappings.ListMappings(ctx)
}

// TestConnection probes the gateway for a fresh state. It always answers.
func (d *InstanceDirectory) TestConnection(ctx context.Context, m entities.InstanceMapping) entities.ConnectionState {
	if d.lifecycle == nil {
		return entities.StateDisconnected
	}
	return d.lifecycle.Probe(ctx, m.Ref())
}
