package services

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"enom_tracker/models"
)

// DefaultImportTTL срок жизни неподтвержденной загрузки
const DefaultImportTTL = 30 * time.Minute

// ImportService двухшаговая загрузка аварий: разбор файла и подтверждение по токену
type ImportService struct {
	*Base
	Alarms *AlarmService
	TTL    time.Duration
}

func NewImportService(base *Base, alarms *AlarmService, ttl time.Duration) *ImportService {
	if ttl <= 0 {
		ttl = DefaultImportTTL
	}
	return &ImportService{Base: base, Alarms: alarms, TTL: ttl}
}

// StagedImport ответ на загрузку файла
type StagedImport struct {
	Token      string               `json:"token"`
	Category   models.AlarmCategory `json:"category"`
	SourceFile string               `json:"source_file"`
	RowCount   int                  `json:"row_count"`
	Skipped    int                  `json:"skipped"`
	ExpiresAt  time.Time            `json:"expires_at"`
	Preview    []AlarmDraft         `json:"preview"`
}

// StageImport разбирает файл и сохраняет результат до подтверждения.
// Структурная ошибка файла возвращается до любой записи в базу.
func (s *ImportService) StageImport(r io.Reader, filename, category string, actor Actor) (*StagedImport, error) {
	if !actor.IsDispatcher() {
		return nil, PermissionDeniedf("загружать аварии может только диспетчер")
	}
	cat, ok := models.ParseAlarmCategory(category)
	if !ok {
		return nil, Validationf("неизвестная категория аварии %q", category)
	}

	if _, err := s.PurgeExpired(); err != nil {
		s.Logger.Warn("failed to purge expired imports", zap.Error(err))
	}

	parsed, err := ParseAlarmFile(r, filename, false)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(parsed.Drafts)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации загрузки: %w", err)
	}

	now := s.now()
	pending := models.PendingImport{
		Token:        uuid.NewString(),
		Category:     cat,
		SourceFile:   filename,
		UploadedByID: actor.ID,
		Payload:      string(payload),
		RowCount:     len(parsed.Drafts),
		SkippedCount: parsed.Skipped,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.TTL),
	}
	if err := s.DB.Create(&pending).Error; err != nil {
		return nil, fmt.Errorf("ошибка сохранения загрузки: %w", err)
	}

	s.Logger.Info("alarm import staged",
		zap.String("token", pending.Token),
		zap.String("file", filename),
		zap.Int("rows", pending.RowCount),
		zap.Int("skipped", pending.SkippedCount))

	return stagedFrom(&pending, parsed.Drafts), nil
}

// GetImport предпросмотр ранее разобранной загрузки
func (s *ImportService) GetImport(token string, actor Actor) (*StagedImport, error) {
	pending, err := s.loadPending(s.DB, token, actor)
	if err != nil {
		return nil, err
	}
	drafts, err := decodeDrafts(pending)
	if err != nil {
		return nil, err
	}
	return stagedFrom(pending, drafts), nil
}

// CommitImport создает аварии из загрузки и удаляет ее в одной транзакции
func (s *ImportService) CommitImport(token string, actor Actor) (*IngestResult, error) {
	if !actor.IsDispatcher() {
		return nil, PermissionDeniedf("загружать аварии может только диспетчер")
	}
	pending, err := s.loadPending(s.DB, token, actor)
	if err != nil {
		return nil, err
	}
	drafts, err := decodeDrafts(pending)
	if err != nil {
		return nil, err
	}

	result, err := s.Alarms.ingest(drafts, pending.Category, pending.SourceFile, pending.SkippedCount, actor, func(tx *gorm.DB) error {
		res := tx.Where("id = ?", pending.ID).Delete(&models.PendingImport{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return Conflictf("загрузка %s уже подтверждена", token)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DiscardImport отменяет загрузку
func (s *ImportService) DiscardImport(token string, actor Actor) error {
	pending, err := s.loadPending(s.DB, token, actor)
	if err != nil {
		return err
	}
	return s.DB.Delete(pending).Error
}

// PurgeExpired удаляет просроченные загрузки
func (s *ImportService) PurgeExpired() (int64, error) {
	res := s.DB.Where("expires_at <= ?", s.now()).Delete(&models.PendingImport{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.Logger.Info("expired imports purged", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func (s *ImportService) loadPending(tx *gorm.DB, token string, actor Actor) (*models.PendingImport, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, NotFoundf("загрузка %s не найдена", token)
	}
	var pending models.PendingImport
	if err := tx.Where("token = ?", token).First(&pending).Error; err != nil {
		if isNotFound(err) {
			return nil, NotFoundf("загрузка %s не найдена", token)
		}
		return nil, err
	}
	if pending.UploadedByID != actor.ID {
		return nil, PermissionDeniedf("загрузка принадлежит другому пользователю")
	}
	if pending.IsExpired(s.now()) {
		return nil, NotFoundf("срок действия загрузки %s истек", token)
	}
	return &pending, nil
}

func decodeDrafts(pending *models.PendingImport) ([]AlarmDraft, error) {
	var drafts []AlarmDraft
	if err := json.Unmarshal([]byte(pending.Payload), &drafts); err != nil {
		return nil, fmt.Errorf("поврежденные данные загрузки %s: %w", pending.Token, err)
	}
	return drafts, nil
}

func stagedFrom(p *models.PendingImport, drafts []AlarmDraft) *StagedImport {
	preview := drafts
	if len(preview) > PreviewLimit {
		preview = preview[:PreviewLimit]
	}
	return &StagedImport{
		Token:      p.Token,
		Category:   p.Category,
		SourceFile: p.SourceFile,
		RowCount:   p.RowCount,
		Skipped:    p.SkippedCount,
		ExpiresAt:  p.ExpiresAt,
		Preview:    preview,
	}
}
