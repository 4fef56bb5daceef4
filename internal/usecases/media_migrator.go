package usecases

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"project_atendimento/internal/entities"
	"project_atendimento/internal/interfaces"

	"github.com/robfig/cron/v3"
)

// storageFolderFor is the object-storage folder a kind is migrated into. The
// names are also recognised by the classifier's storage-prefix rule.
var storageFolderFor = map[entities.ContentKind]string{
	entities.KindImage:    "images",
	entities.KindAudio:    "audios",
	entities.KindVideo:    "videos",
	entities.KindDocument: "documents",
	entities.KindSticker:  "stickers",
}

// MediaMigrator moves inline data: payloads out of conversation tables into
// object storage and replaces the row body with the stored object's URL.
type MediaMigrator struct {
	tables  *TableDirectory
	writer  interfaces.MessageWriter
	storage interfaces.ObjectStorage
	batch   int
	logger  *slog.Logger

	cron *cron.Cron
	mu   sync.Mutex // one run at a time
}

func NewMediaMigrator(tables *TableDirectory, writer interfaces.MessageWriter, storage interfaces.ObjectStorage, batch int, logger *slog.Logger) *MediaMigrator {
	if batch <= 0 {
		batch = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaMigrator{
		tables:  tables,
		writer:  writer,
		storage: storage,
		batch:   batch,
		logger:  logger.With(slog.String("component", "media_migrator")),
	}
}

// Start schedules RunOnce with a standard five-field cron expression.
func (m *MediaMigrator) Start(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid media migration schedule %q: %w", schedule, err)
	}
	m.cron = cron.New()
	if _, err := m.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := m.RunOnce(ctx); err != nil {
			m.logger.Error("media migration failed", slog.Any("error", err))
		}
	}); err != nil {
		return err
	}
	m.cron.Start()
	m.logger.Info("media migration scheduled", slog.String("schedule", schedule))
	return nil
}

// Stop halts the schedule and waits for a running migration.
func (m *MediaMigrator) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
}

// RunOnce migrates up to one batch per channel table and returns how many
// rows were rewritten.
func (m *MediaMigrator) RunOnce(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	migrated := 0
	for channelID, table := range m.tables.All() {
		rows, err := m.writer.ListInlineMedia(ctx, table, m.batch)
		if err != nil {
			return migrated, fmt.Errorf("list inline media in %s: %w", table, err)
		}
		for _, row := range rows {
			if err := m.migrateRow(ctx, table, row); err != nil {
				m.logger.Warn("skipping media row",
					slog.String("channel", channelID),
					slog.String("table", table),
					slog.Int64("id", row.ID),
					slog.Any("error", err))
				continue
			}
			migrated++
		}
	}
	if migrated > 0 {
		m.logger.Info("media migrated", slog.Int("rows", migrated))
	}
	return migrated, nil
}

func (m *MediaMigrator) migrateRow(ctx context.Context, table string, row entities.Message) error {
	mime, payload, ok := ParseDataURI(row.Body)
	if !ok {
		return fmt.Errorf("%w: body is not inline data", entities.ErrInvalidContent)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", entities.ErrInvalidContent, err)
	}

	kind := row.Kind
	if !kind.IsMedia() {
		kind = KindForMIME(mime)
	}
	folder, ok := storageFolderFor[kind]
	if !ok {
		folder = "files"
	}
	key := fmt.Sprintf("%s/%s/%d.%s", folder, table, row.ID, ExtensionForMIME(mime))

	url, err := m.storage.Put(ctx, key, data, mime)
	if err != nil {
		return err
	}
	return m.writer.ReplaceBody(ctx, table, row.ID, url)
}
