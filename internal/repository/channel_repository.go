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

type ChannelRepository struct {
	db *pgxpool.Pool
}

func NewChannelRepository(db *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{db: db}
}

const channelColumns = "id, name, slug, aliases, is_active, is_default, created_at, updated_at"

func scanChannel(row pgx.Row) (*entities.Channel, error) {
	var ch entities.Channel
	var id uuid.UUID
	if err := row.Scan(&id, &ch.Name, &ch.Slug, &ch.Aliases, &ch.IsActive, &ch.IsDefault, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
		return nil, err
	}
	ch.ID = id.String()
	return &ch, nil
}

// ListChannels returns every channel, default first
func (r *ChannelRepository) ListChannels(ctx context.Context) ([]entities.Channel, error) {
	rows, err := r.db.Query(ctx, "SELECT "+channelColumns+" FROM channels ORDER BY is_default DESC, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []entities.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

// GetChannel returns nil when no channel has that id
func (r *ChannelRepository) GetChannel(ctx context.Context, id string) (*entities.Channel, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}
	ch, err := scanChannel(r.db.QueryRow(ctx, "SELECT "+channelColumns+" FROM channels WHERE id=$1", parsed))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return ch, err
}

// CreateChannel inserts a channel with a fresh canonical id
func (r *ChannelRepository) CreateChannel(ctx context.Context, ch entities.Channel) (*entities.Channel, error) {
	if ch.Aliases == nil {
		ch.Aliases = []string{}
	}
	return scanChannel(r.db.QueryRow(ctx, `
		INSERT INTO channels (id, name, slug, aliases, is_active, is_default)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+channelColumns,
		uuid.New(), ch.Name, ch.Slug, ch.Aliases, ch.IsActive, ch.IsDefault))
}

// UpdateChannel renames a channel or changes its aliases and flags
func (r *ChannelRepository) UpdateChannel(ctx context.Context, ch entities.Channel) (*entities.Channel, error) {
	if ch.Aliases == nil {
		ch.Aliases = []string{}
	}
	updated, err := scanChannel(r.db.QueryRow(ctx, `
		UPDATE channels SET name=$2, slug=$3, aliases=$4, is_active=$5, is_default=$6, updated_at=NOW()
		WHERE id=$1
		RETURNING `+channelColumns,
		ch.ID, ch.Name, ch.Slug, ch.Aliases, ch.IsActive, ch.IsDefault))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", entities.ErrChannelNotFound, ch.ID)
	}
	return updated, err
}

func (r *ChannelRepository) DeleteChannel(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM channels WHERE id=$1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", entities.ErrChannelNotFound, id)
	}
	return nil
}
