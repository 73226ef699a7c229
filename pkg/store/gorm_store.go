package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"digestly/pkg/domain"
)

const migrateLockID int64 = 84518451

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so replicas starting in parallel don't race the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&ContentModel{}, &ModerationFlagModel{}, &UsageCounterModel{}, &SummaryModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateContent inserts a new content row.
func (s *GormStore) CreateContent(c domain.Content) error {
	model := contentToModel(c)
	return s.db.Create(&model).Error
}

// GetContent retrieves a content row by ID.
func (s *GormStore) GetContent(id string) (domain.Content, bool, error) {
	var model ContentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Content{}, false, nil
		}
		return domain.Content{}, false, err
	}
	return contentFromModel(model), true, nil
}

// GetContentByOwnerURL finds the newest content row for an (owner, url) pair.
func (s *GormStore) GetContentByOwnerURL(ownerID, url string) (domain.Content, bool, error) {
	var model ContentModel
	err := s.db.Where("owner_account_id = ? AND url = ?", ownerID, url).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Content{}, false, nil
		}
		return domain.Content{}, false, err
	}
	return contentFromModel(model), true, nil
}

// GetContentByTranscriptID resolves the vendor correlation ID to a row.
func (s *GormStore) GetContentByTranscriptID(transcriptID string) (domain.Content, bool, error) {
	var model ContentModel
	if err := s.db.Where("transcript_id = ?", transcriptID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Content{}, false, nil
		}
		return domain.Content{}, false, err
	}
	return contentFromModel(model), true, nil
}

// SetContentStatus updates processing status and error code.
func (s *GormStore) SetContentStatus(id string, status domain.ContentStatus, code domain.ErrorCode) error {
	return s.updateContent(id, map[string]any{
		"status":     string(status),
		"error_code": string(code),
	})
}

// SetContentTranscriptRef records the vendor correlation ID.
func (s *GormStore) SetContentTranscriptRef(id, transcriptID string) error {
	return s.updateContent(id, map[string]any{"transcript_id": transcriptID})
}

// SetContentText stores raw text (or a failure marker) on the row.
func (s *GormStore) SetContentText(id, text string) error {
	return s.updateContent(id, map[string]any{"raw_text": text})
}

// SetContentTranscript stores normalized transcript text plus derived metrics.
func (s *GormStore) SetContentTranscript(id, text string, durationSeconds, speakerCount int) error {
	return s.updateContent(id, map[string]any{
		"raw_text":         text,
		"duration_seconds": durationSeconds,
		"speaker_count":    speakerCount,
	})
}

func (s *GormStore) updateContent(id string, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	res := s.db.Model(&ContentModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveModerationFlag persists a detection event. Flags are append-only from
// this core; review status transitions happen in the review interface.
func (s *GormStore) SaveModerationFlag(f domain.ModerationFlag) error {
	model := flagToModel(f)
	return s.db.Create(&model).Error
}

// ListFlagsByContent returns flags for a content row, oldest first.
func (s *GormStore) ListFlagsByContent(contentID string) ([]domain.ModerationFlag, error) {
	var models []ModerationFlagModel
	if err := s.db.Where("content_id = ?", contentID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	flags := make([]domain.ModerationFlag, 0, len(models))
	for _, m := range models {
		flags = append(flags, flagFromModel(m))
	}
	return flags, nil
}

// GetUsage returns the current count for a usage key, zero when absent.
func (s *GormStore) GetUsage(accountID, period, field string) (int, error) {
	var model UsageCounterModel
	err := s.db.Where("account_id = ? AND period = ? AND field = ?", accountID, period, field).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, err
	}
	return model.Count, nil
}

// IncrementUsage bumps a usage counter by one. The increment is a single
// upsert so concurrent submissions from the same account never lose updates.
func (s *GormStore) IncrementUsage(accountID, period, field string) error {
	model := UsageCounterModel{
		AccountID: accountID,
		Period:    period,
		Field:     field,
		Count:     1,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "period"}, {Name: "field"}},
		DoUpdates: clause.Assignments(map[string]any{
			"count":      gorm.Expr("usage_counters.count + 1"),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&model).Error
}

// UpsertSummary writes the terminal summary row keyed by (content, language).
func (s *GormStore) UpsertSummary(sum domain.Summary) error {
	now := time.Now().UTC()
	model := SummaryModel{
		ContentID:   sum.ContentID,
		Language:    sum.Language,
		SummaryText: sum.SummaryText,
		Status:      string(sum.Status),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "content_id"}, {Name: "language"}},
		DoUpdates: clause.Assignments(map[string]any{
			"summary_text": sum.SummaryText,
			"status":       string(sum.Status),
			"updated_at":   now,
		}),
	}).Create(&model).Error
}

// GetSummary returns one summary row.
func (s *GormStore) GetSummary(contentID, language string) (domain.Summary, bool, error) {
	var model SummaryModel
	err := s.db.Where("content_id = ? AND language = ?", contentID, language).First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Summary{}, false, nil
		}
		return domain.Summary{}, false, err
	}
	return domain.Summary{
		ContentID:   model.ContentID,
		Language:    model.Language,
		SummaryText: model.SummaryText,
		Status:      domain.SummaryStatus(model.Status),
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}, true, nil
}

func contentToModel(c domain.Content) ContentModel {
	model := ContentModel{
		ID:        c.ID,
		URL:       c.URL,
		Type:      string(c.Type),
		Title:     c.Title,
		Status:    string(c.Status),
		ErrorCode: string(c.ErrorCode),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.OwnerAccountID != "" {
		owner := c.OwnerAccountID
		model.OwnerAccountID = &owner
	}
	if c.RawText != "" {
		text := c.RawText
		model.RawText = &text
	}
	if c.TranscriptID != "" {
		tid := c.TranscriptID
		model.TranscriptID = &tid
	}
	if c.DurationSeconds > 0 {
		d := c.DurationSeconds
		model.DurationSeconds = &d
	}
	if c.SpeakerCount > 0 {
		n := c.SpeakerCount
		model.SpeakerCount = &n
	}
	return model
}

func contentFromModel(m ContentModel) domain.Content {
	c := domain.Content{
		ID:        m.ID,
		URL:       m.URL,
		Type:      domain.ContentType(m.Type),
		Title:     m.Title,
		Status:    domain.ContentStatus(m.Status),
		ErrorCode: domain.ErrorCode(m.ErrorCode),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.OwnerAccountID != nil {
		c.OwnerAccountID = *m.OwnerAccountID
	}
	if m.RawText != nil {
		c.RawText = *m.RawText
	}
	if m.TranscriptID != nil {
		c.TranscriptID = *m.TranscriptID
	}
	if m.DurationSeconds != nil {
		c.DurationSeconds = *m.DurationSeconds
	}
	if m.SpeakerCount != nil {
		c.SpeakerCount = *m.SpeakerCount
	}
	return c
}

func flagToModel(f domain.ModerationFlag) ModerationFlagModel {
	categories, _ := json.Marshal(f.Categories)
	model := ModerationFlagModel{
		ID:           f.ID,
		Source:       string(f.Source),
		Severity:     string(f.Severity),
		Categories:   categories,
		Reason:       f.Reason,
		ContentHash:  f.ContentHash,
		TextPreview:  f.TextPreview,
		ReviewStatus: string(f.ReviewStatus),
		CreatedAt:    f.CreatedAt,
	}
	if f.ContentID != "" {
		cid := f.ContentID
		model.ContentID = &cid
	}
	return model
}

func flagFromModel(m ModerationFlagModel) domain.ModerationFlag {
	var categories []domain.FlagCategory
	if len(m.Categories) > 0 {
		_ = json.Unmarshal(m.Categories, &categories)
	}
	flag := domain.ModerationFlag{
		ID:           m.ID,
		Source:       domain.FlagSource(m.Source),
		Severity:     domain.FlagSeverity(m.Severity),
		Categories:   categories,
		Reason:       m.Reason,
		ContentHash:  m.ContentHash,
		TextPreview:  m.TextPreview,
		ReviewStatus: domain.ReviewStatus(m.ReviewStatus),
		CreatedAt:    m.CreatedAt,
	}
	if m.ContentID != nil {
		flag.ContentID = *m.ContentID
	}
	return flag
}
