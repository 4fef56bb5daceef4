package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"project_atendimento/internal/entities"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	validTableName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)
	unsafeChars    = regexp.MustCompile("[^a-zA-Z0-9_]+")
)

// reservedTables can never be used as conversation tables
var reservedTables = map[string]bool{
	"channels":          true,
	"instances":         true,
	"instance_mappings": true,
	"channel_tables":    true,
}

// TableManager owns the per-channel conversation tables and their registry.
// Dynamic table names only reach SQL after passing the registry check.
type TableManager struct {
	db *pgxpool.Pool

	mu    sync.RWMutex
	known map[string]bool
}

func NewTableManager(db *pgxpool.Pool) *TableManager {
	return &TableManager{db: db, known: make(map[string]bool)}
}

// sanitizeTableName cleans strings to be safe for SQL table names (alphanumeric + underscore)
func sanitizeTableName(name string) string {
	return strings.Trim(strings.ToLower(unsafeChars.ReplaceAllString(name, "_")), "_")
}

// ValidateTableName sanitizes name and rejects anything unusable as a table.
func ValidateTableName(name string) (string, error) {
	clean := sanitizeTableName(name)
	if !validTableName.MatchString(clean) || reservedTables[clean] {
		return "", fmt.Errorf("%w: invalid table name %q", entities.ErrInvalidContent, name)
	}
	return clean, nil
}

// ListChannelTables returns the channel id -> table registry
func (m *TableManager) ListChannelTables(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.Query(ctx, "SELECT channel_id::text, table_name FROM channel_tables")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	m.mu.Lock()
	defer m.mu.Unlock()
	for rows.Next() {
		var channelID, table string
		if err := rows.Scan(&channelID, &table); err != nil {
			return nil, err
		}
		out[channelID] = table
		m.known[table] = true
	}
	return out, rows.Err()
}

// EnsureChannelTable creates the conversation table and binds it to the
// channel in one transaction. Rebinding a channel keeps the old table.
func (m *TableManager) EnsureChannelTable(ctx context.Context, channelID, tableName string) (string, error) {
	table, err := ValidateTableName(tableName)
	if err != nil {
		return "", err
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL,
			message TEXT NOT NULL,
			message_type VARCHAR(20) NOT NULL DEFAULT 'text',
			sender_role VARCHAR(20) NOT NULL DEFAULT 'contact',
			file_name TEXT,
			mime_type VARCHAR(255),
			read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, table)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return "", fmt.Errorf("failed to create table %s: %w", table, err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_session_idx ON %s (session_id, created_at)", table, table)); err != nil {
		return "", fmt.Errorf("failed to index table %s: %w", table, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO channel_tables (channel_id, table_name) VALUES ($1, $2)
		ON CONFLICT (channel_id) DO UPDATE SET table_name=EXCLUDED.table_name`, channelID, table)
	if err != nil {
		return "", fmt.Errorf("failed to register table: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	m.mu.Lock()
	m.known[table] = true
	m.mu.Unlock()
	return table, nil
}

// authorize checks table against the registry (cached) to keep arbitrary
// names out of dynamic SQL.
func (m *TableManager) authorize(ctx context.Context, table string) error {
	m.mu.RLock()
	ok := m.known[table]
	m.mu.RUnlock()
	if ok {
		return nil
	}
	var exists bool
	err := m.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM channel_tables WHERE table_name=$1)", table).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("table %s not registered", table)
	}
	m.mu.Lock()
	m.known[table] = true
	m.mu.Unlock()
	return nil
}

func (m *TableManager) WriteMessage(ctx context.Context, table string, msg entities.Message) (int64, error) {
	if err := m.authorize(ctx, table); err != nil {
		return 0, err
	}
	kind := msg.Kind
	if kind == "" {
		kind = entities.KindText
	}
	var id int64
	err := m.db.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (session_id, message, message_type, sender_role, file_name, mime_type, read, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)
		RETURNING id`, table),
		msg.SessionID, msg.Body, string(kind), string(msg.Role), msg.FileName, msg.MimeType, msg.Read, msg.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return id, nil
}

func scanMessages(rows pgx.Rows) ([]entities.Message, error) {
	defer rows.Close()
	var out []entities.Message
	for rows.Next() {
		var msg entities.Message
		var kind, role string
		var fileName, mimeType *string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Body, &kind, &role, &fileName, &mimeType, &msg.Read, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Kind = entities.ContentKind(kind)
		msg.Role = entities.SenderRole(role)
		if fileName != nil {
			msg.FileName = *fileName
		}
		if mimeType != nil {
			msg.MimeType = *mimeType
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

const messageColumns = "id, session_id, message, message_type, sender_role, file_name, mime_type, read, created_at"

// ListMessages returns the latest limit messages of a session, oldest first
func (m *TableManager) ListMessages(ctx context.Context, table, sessionID string, limit int) ([]entities.Message, error) {
	if err := m.authorize(ctx, table); err != nil {
		return nil, err
	}
	rows, err := m.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM (
			SELECT %s FROM %s WHERE session_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2
		) latest ORDER BY created_at, id`, messageColumns, messageColumns, table), sessionID, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func (m *TableManager) MarkRead(ctx context.Context, table, sessionID string) (int64, error) {
	if err := m.authorize(ctx, table); err != nil {
		return 0, err
	}
	tag, err := m.db.Exec(ctx, fmt.Sprintf("UPDATE %s SET read=TRUE WHERE session_id=$1 AND NOT read", table), sessionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListInlineMedia returns rows whose body still carries an inline data: payload
func (m *TableManager) ListInlineMedia(ctx context.Context, table string, limit int) ([]entities.Message, error) {
	if err := m.authorize(ctx, table); err != nil {
		return nil, err
	}
	rows, err := m.db.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE message LIKE 'data:%%' ORDER BY id LIMIT $1", messageColumns, table), limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// ReplaceBody swaps an inline payload for its stored-object reference
func (m *TableManager) ReplaceBody(ctx context.Context, table string, id int64, body string) error {
	if err := m.authorize(ctx, table); err != nil {
		return err
	}
	tag, err := m.db.Exec(ctx, fmt.Sprintf("UPDATE %s SET message=$2 WHERE id=$1 AND message LIKE 'data:%%'", table), id, body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("row already migrated or missing")
	}
	return nil
}
