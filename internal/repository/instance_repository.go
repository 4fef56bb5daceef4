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

type InstanceRepository struct {
	db *pgxpool.Pool
}

func NewInstanceRepository(db *pgxpool.Pool) *InstanceRepository {
	return &InstanceRepository{db: db}
}

func scanInstance(row pgx.Row) (*entities.Instance, error) {
	var inst entities.Instance
	var id uuid.UUID
	if err := row.Scan(&id, &inst.Name, &inst.Endpoint, &inst.APIKey, &inst.CreatedAt); err != nil {
		return nil, err
	}
	inst.ID = id.String()
	return &inst, nil
}

func (r *InstanceRepository) ListInstances(ctx context.Context) ([]entities.Instance, error) {
	rows, err := r.db.Query(ctx, "SELECT id, name, endpoint, api_key, created_at FROM instances ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entities.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

// GetInstance returns nil when the id is unknown
func (r *InstanceRepository) GetInstance(ctx context.Context, id string) (*entities.Instance, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}
	inst, err := scanInstance(r.db.QueryRow(ctx, "SELECT id, name, endpoint, api_key, created_at FROM instances WHERE id=$1", parsed))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inst, err
}

// CreateInstance stores gateway credentials; name is unique
func (r *InstanceRepository) CreateInstance(ctx context.Context, inst entities.Instance) (*entities.Instance, error) {
	return scanInstance(r.db.QueryRow(ctx, `
		INSERT INTO instances (id, name, endpoint, api_key)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, endpoint, api_key, created_at`,
		uuid.New(), inst.Name, inst.Endpoint, inst.APIKey))
}

func (r *InstanceRepository) DeleteInstance(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM instances WHERE id=$1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", entities.ErrInstanceNotFound, id)
	}
	return nil
}
