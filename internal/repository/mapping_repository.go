package repository

import (
	"context"
	"errors"
	"fmt"

	"project_atendimento/internal/entities"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MappingRepository struct {
	db *pgxpool.Pool
}

func NewMappingRepository(db *pgxpool.Pool) *MappingRepository {
	return &MappingRepository{db: db}
}

const mappingColumns = `id, channel_id, channel_name, instance_id, instance_name, endpoint, api_key,
	is_active, connection_state, created_at, updated_at`

func scanMapping(row pgx.Row) (*entities.InstanceMapping, error) {
	var m entities.InstanceMapping
	var id, channelID, instanceID uuid.UUID
	var state string
	err := row.Scan(&id, &channelID, &m.ChannelName, &instanceID, &m.InstanceName, &m.Endpoint, &m.APIKey,
		&m.IsActive, &state, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.ID = id.String()
	m.ChannelID = channelID.String()
	m.InstanceID = instanceID.String()
	m.ConnectionState = entities.ConnectionState(state)
	return &m, nil
}

// UpsertMapping inserts or replaces the mapping of a channel in one statement,
// so concurrent edits of the same channel never produce two rows.
func (r *MappingRepository) UpsertMapping(ctx context.Context, m entities.InstanceMapping) (*entities.InstanceMapping, error) {
	state := m.ConnectionState
	if state == "" {
		state = entities.StateDisconnected
	}
	return scanMapping(r.db.QueryRow(ctx, `
		INSERT INTO instance_mappings
			(id, channel_id, channel_name, instance_id, instance_name, endpoint, api_key, is_active, connection_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (channel_id) DO UPDATE SET
			channel_name=EXCLUDED.channel_name,
			instance_id=EXCLUDED.instance_id,
			instance_name=EXCLUDED.instance_name,
			endpoint=EXCLUDED.endpoint,
			api_key=EXCLUDED.api_key,
			is_active=EXCLUDED.is_active,
			connection_state=EXCLUDED.connection_state,
			updated_at=NOW()
		RETURNING `+mappingColumns,
		uuid.New(), m.ChannelID, m.ChannelName, m.InstanceID, m.InstanceName, m.Endpoint, m.APIKey, m.IsActive, string(state)))
}

// GetMappingByChannel returns nil when the channel has no mapping row
func (r *MappingRepository) GetMappingByChannel(ctx context.Context, channelID string) (*entities.InstanceMapping, error) {
	if _, err := uuid.Parse(channelID); err != nil {
		return nil, nil
	}
	m, err := scanMapping(r.db.QueryRow(ctx, "SELECT "+mappingColumns+" FROM instance_mappings WHERE channel_id=$1", channelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (r *MappingRepository) ListMappings(ctx context.Context) ([]entities.InstanceMapping, error) {
	rows, err := r.db.Query(ctx, "SELECT "+mappingColumns+" FROM instance_mappings ORDER BY channel_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entities.InstanceMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// DeactivateMapping soft-deletes the channel's mapping
func (r *MappingRepository) DeactivateMapping(ctx context.Context, channelID string) error {
	tag, err := r.db.Exec(ctx, "UPDATE instance_mappings SET is_active=FALSE, updated_at=NOW() WHERE channel_id=$1 AND is_active", channelID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: channel %s", entities.ErrNoInstanceConfigured, channelID)
	}
	return nil
}

// UpdateConnectionState records the last known state of an instance on every
// mapping that uses it
func (r *MappingRepository) UpdateConnectionState(ctx context.Context, instanceName string, state entities.ConnectionState) error {
	_, err := r.db.Exec(ctx, "UPDATE instance_mappings SET connection_state=$2, updated_at=NOW() WHERE instance_name=$1", instanceName, string(state))
	return err
}

// FindByInstanceName returns the active mapping that uses instance, or nil
func (r *MappingRepository) FindByInstanceName(ctx context.Context, instance string) (*entities.InstanceMapping, error) {
	m, err := scanMapping(r.db.QueryRow(ctx, "SELECT "+mappingColumns+" FROM instance_mappings WHERE instance_name=$1 AND is_active LIMIT 1", instance))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return m, err
}
