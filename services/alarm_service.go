package services

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"enom_tracker/models"
)

// AlarmService загрузка аварий и их жизненный цикл
type AlarmService struct {
	*Base
	Priority *PriorityService
	Notifier Notifier
}

// NewAlarmService создает новый экземпляр AlarmService
func NewAlarmService(base *Base, priority *PriorityService, notifier Notifier) *AlarmService {
	return &AlarmService{Base: base, Priority: priority, Notifier: notifier}
}

// AlarmDraft нормализованная строка загрузки
type AlarmDraft struct {
	SiteID      string `json:"site_id"`
	Description string `json:"description"`
}

// IngestResult итог загрузки пакета аварий
type IngestResult struct {
	Processed int          `json:"processed"`
	Skipped   int          `json:"skipped"`
	Scores    map[uint]int `json:"-"`
}

// RemarkInput план реагирования на аварию
type RemarkInput struct {
	PlannedVisitAt             *time.Time `json:"planned_visit_at"`
	InitialFindings            string     `json:"initial_findings" validate:"required,max=4000"`
	PlannedActions             string     `json:"planned_actions" validate:"required,max=4000"`
	Assignee                   string     `json:"assignee" validate:"max=80"`
	EstimatedResolutionMinutes int        `json:"estimated_resolution_minutes" validate:"gte=0"`
}

// AlarmFilter фильтры списка аварий
type AlarmFilter struct {
	Category string
	Status   string
	Search   string
}

// AlarmStats сводка по авариям
type AlarmStats struct {
	StatusCounts   map[models.AlarmStatus]int64   `json:"status_counts"`
	CategoryCounts map[models.AlarmCategory]int64 `json:"category_counts"`
	TopSites       []SiteCount                    `json:"top_sites"`
}

// SiteCount количество записей по сайту
type SiteCount struct {
	SiteCode string `json:"site_id"`
	Name     string `json:"name"`
	Count    int64  `json:"count" gorm:"column:total"`
}

// IngestAlarmBatch создает аварии в статусе OPEN и пересчитывает приоритет затронутых сайтов.
// Неизвестные сайты и некорректные идентификаторы пропускаются. Все в одной транзакции.
func (s *AlarmService) IngestAlarmBatch(drafts []AlarmDraft, category, sourceFile string, actor Actor) (*IngestResult, error) {
	if !actor.IsDispatcher() {
		return nil, PermissionDeniedf("загружать аварии может только диспетчер")
	}
	cat, ok := models.ParseAlarmCategory(category)
	if !ok {
		return nil, Validationf("неизвестная категория аварии %q", category)
	}

	return s.ingest(drafts, cat, sourceFile, 0, actor, nil)
}

// ingest создает аварии в транзакции; afterInsert выполняется в той же транзакции.
// baseSkipped строки, отброшенные еще при разборе файла.
func (s *AlarmService) ingest(drafts []AlarmDraft, cat models.AlarmCategory, sourceFile string, baseSkipped int, actor Actor, afterInsert func(tx *gorm.DB) error) (*IngestResult, error) {
	result := &IngestResult{}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		r, err := s.ingestTx(tx, drafts, cat, sourceFile, actor)
		if err != nil {
			return err
		}
		*result = *r
		if afterInsert != nil {
			return afterInsert(tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Skipped += baseSkipped

	s.Metrics.ObserveIngest(result.Processed, result.Skipped)
	s.Logger.Info("alarm batch ingested",
		zap.String("category", string(cat)),
		zap.String("source_file", sourceFile),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("sites", len(result.Scores)),
		zap.String("actor", actor.Username))
	if s.Notifier != nil {
		s.Notifier.AlarmsIngested(result, cat, actor.Username)
	}
	return result, nil
}

// ingestTx загрузка внутри уже открытой транзакции
func (s *AlarmService) ingestTx(tx *gorm.DB, drafts []AlarmDraft, cat models.AlarmCategory, sourceFile string, actor Actor) (*IngestResult, error) {
	result := &IngestResult{}

	codes := make([]string, 0, len(drafts))
	for _, d := range drafts {
		codes = append(codes, strings.TrimSpace(d.SiteID))
	}
	var sites []models.Site
	if len(codes) > 0 {
		if err := tx.Where("site_code IN ?", codes).Find(&sites).Error; err != nil {
			return nil, fmt.Errorf("ошибка поиска сайтов: %w", err)
		}
	}
	siteByCode := make(map[string]uint, len(sites))
	for _, site := range sites {
		siteByCode[site.SiteCode] = site.ID
	}

	now := s.now()
	records := make([]models.AlarmRecord, 0, len(drafts))
	touched := make([]uint, 0, len(drafts))
	for _, d := range drafts {
		code := strings.TrimSpace(d.SiteID)
		siteID, found := siteByCode[code]
		if !found || !models.IsValidSiteCode(code) {
			result.Skipped++
			continue
		}
		records = append(records, models.AlarmRecord{
			SiteID:             siteID,
			Category:           cat,
			Description:        strings.TrimSpace(d.Description),
			SourceFile:         sourceFile,
			Status:             models.AlarmOpen,
			UploadedByID:       actor.ID,
			UploadedByUsername: actor.Username,
			CreatedAt:          now,
			UpdatedAt:          now,
			Version:            1,
		})
		touched = append(touched, siteID)
	}

	if len(records) > 0 {
		if err := tx.Omit(clause.Associations).CreateInBatches(&records, 200).Error; err != nil {
			return nil, fmt.Errorf("ошибка сохранения аварий: %w", err)
		}
	}
	result.Processed = len(records)

	scores, err := s.Priority.RecomputeSites(tx, touched)
	if err != nil {
		return nil, err
	}
	result.Scores = scores
	return result, nil
}

// Acknowledge подтверждает получение аварии (OPEN -> ACKNOWLEDGED)
func (s *AlarmService) Acknowledge(alarmID uint, actor Actor) (*models.AlarmRecord, error) {
	if !actor.IsDispatcher() && !actor.IsTechnician() {
		return nil, PermissionDeniedf("недостаточно прав для работы с авариями")
	}
	var alarm models.AlarmRecord
	var from models.AlarmStatus
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&alarm, alarmID).Error; err != nil {
			return notFoundOr(err, "авария", alarmID)
		}
		from = alarm.Status
		if !alarm.Status.CanTransitionTo(models.AlarmAcknowledged) {
			return InvalidTransitionf("переход %s -> %s недопустим", alarm.Status, models.AlarmAcknowledged)
		}
		return s.applyAlarmStatus(tx, &alarm, models.AlarmAcknowledged, nil)
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.ObserveTransition("alarm", string(from), string(alarm.Status))
	return &alarm, nil
}

// AddRemark добавляет план реагирования. Авария в OPEN или ACKNOWLEDGED переходит в SCHEDULED,
// в более поздних статусах статус не меняется.
func (s *AlarmService) AddRemark(alarmID uint, input RemarkInput, actor Actor) (*models.AlarmRemark, error) {
	if !actor.IsDispatcher() && !actor.IsTechnician() {
		return nil, PermissionDeniedf("недостаточно прав для работы с авариями")
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	var remark models.AlarmRemark
	var from, to models.AlarmStatus
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var alarm models.AlarmRecord
		if err := tx.First(&alarm, alarmID).Error; err != nil {
			return notFoundOr(err, "авария", alarmID)
		}
		from, to = alarm.Status, alarm.Status
		if alarm.Status == models.AlarmClosed {
			return InvalidTransitionf("авария закрыта")
		}

		now := s.now()
		var visitAt *time.Time
		if input.PlannedVisitAt != nil {
			visitAt = timePtr(input.PlannedVisitAt.UTC())
		}
		remark = models.AlarmRemark{
			AlarmID:                    alarm.ID,
			PlannedVisitAt:             visitAt,
			InitialFindings:            strings.TrimSpace(input.InitialFindings),
			PlannedActions:             strings.TrimSpace(input.PlannedActions),
			AssigneeLabel:              strings.TrimSpace(input.Assignee),
			EstimatedResolutionMinutes: input.EstimatedResolutionMinutes,
			AuthorID:                   actor.ID,
			AuthorUsername:             actor.Username,
			CreatedAt:                  now,
		}
		if err := tx.Create(&remark).Error; err != nil {
			return fmt.Errorf("ошибка сохранения ремарки: %w", err)
		}

		if alarm.Status.CanTransitionTo(models.AlarmScheduled) {
			to = models.AlarmScheduled
			return s.applyAlarmStatus(tx, &alarm, models.AlarmScheduled, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if from != to {
		s.Metrics.ObserveTransition("alarm", string(from), string(to))
	}
	return &remark, nil
}

// Resolve отмечает аварию решенной; непустая заметка сохраняется как итоговая ремарка
func (s *AlarmService) Resolve(alarmID uint, note string, actor Actor) (*models.AlarmRecord, error) {
	if !actor.IsDispatcher() && !actor.IsTechnician() {
		return nil, PermissionDeniedf("недостаточно прав для решения аварии")
	}

	var alarm models.AlarmRecord
	var from models.AlarmStatus
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&alarm, alarmID).Error; err != nil {
			return notFoundOr(err, "авария", alarmID)
		}
		from = alarm.Status
		if !alarm.Status.CanTransitionTo(models.AlarmResolved) {
			return InvalidTransitionf("переход %s -> %s недопустим", alarm.Status, models.AlarmResolved)
		}

		now := s.now()
		if note = strings.TrimSpace(note); note != "" {
			remark := models.AlarmRemark{
				AlarmID:         alarm.ID,
				PlannedVisitAt:  timePtr(now),
				InitialFindings: "Resolved",
				PlannedActions:  note,
				AssigneeLabel:   actor.Username,
				AuthorID:        actor.ID,
				AuthorUsername:  actor.Username,
				CreatedAt:       now,
			}
			if err := tx.Create(&remark).Error; err != nil {
				return fmt.Errorf("ошибка сохранения ремарки: %w", err)
			}
		}
		return s.applyAlarmStatus(tx, &alarm, models.AlarmResolved, map[string]interface{}{"resolved_at": now})
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.ObserveTransition("alarm", string(from), string(alarm.Status))
	return &alarm, nil
}

// Close закрывает решенную аварию (диспетчер)
func (s *AlarmService) Close(alarmID uint, actor Actor) (*models.AlarmRecord, error) {
	if !actor.IsDispatcher() {
		return nil, PermissionDeniedf("закрыть аварию может только диспетчер")
	}

	var alarm models.AlarmRecord
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&alarm, alarmID).Error; err != nil {
			return notFoundOr(err, "авария", alarmID)
		}
		if alarm.Status != models.AlarmResolved {
			return InvalidTransitionf("аварию можно закрыть только после статуса RESOLVED (текущий %s)", alarm.Status)
		}
		return s.applyAlarmStatus(tx, &alarm, models.AlarmClosed, map[string]interface{}{"closed_at": s.now()})
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.ObserveTransition("alarm", string(models.AlarmResolved), string(models.AlarmClosed))
	return &alarm, nil
}

// SoftDelete скрывает аварию из всех выборок (диспетчер)
func (s *AlarmService) SoftDelete(alarmID uint, actor Actor) error {
	if !actor.IsDispatcher() {
		return PermissionDeniedf("удалить аварию может только диспетчер")
	}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var alarm models.AlarmRecord
		if err := tx.First(&alarm, alarmID).Error; err != nil {
			return notFoundOr(err, "авария", alarmID)
		}
		if err := tx.Where("alarm_id = ?", alarm.ID).Delete(&models.AlarmRemark{}).Error; err != nil {
			return err
		}
		return tx.Delete(&alarm).Error
	})
	if err != nil {
		return err
	}
	s.Logger.Info("alarm soft-deleted", zap.Uint("alarm_id", alarmID), zap.String("actor", actor.Username))
	return nil
}

// applyAlarmStatus записывает новый статус с проверкой версии.
// Первая смена статуса фиксирует время первой реакции.
func (s *AlarmService) applyAlarmStatus(tx *gorm.DB, alarm *models.AlarmRecord, next models.AlarmStatus, extra map[string]interface{}) error {
	now := s.now()
	fields := map[string]interface{}{
		"status":     next,
		"updated_at": now,
	}
	for k, v := range extra {
		fields[k] = v
	}
	if alarm.FirstResponseAt == nil {
		fields["first_response_at"] = now
		alarm.FirstResponseAt = timePtr(now)
	}

	updated, err := updateVersioned(tx, &models.AlarmRecord{}, alarm.ID, alarm.Version, fields)
	if err != nil {
		return fmt.Errorf("ошибка обновления аварии: %w", err)
	}
	if !updated {
		return staleVersion("авария", alarm.ID)
	}

	switch next {
	case models.AlarmResolved:
		alarm.ResolvedAt = timePtr(now)
	case models.AlarmClosed:
		alarm.ClosedAt = timePtr(now)
	case models.AlarmOpen, models.AlarmAcknowledged, models.AlarmScheduled:
	}
	alarm.Status = next
	alarm.UpdatedAt = now
	alarm.Version++
	return nil
}

// GetAlarm авария с сайтом и актуальными ремарками (от новых к старым)
func (s *AlarmService) GetAlarm(alarmID uint) (*models.AlarmRecord, error) {
	var alarm models.AlarmRecord
	err := s.DB.Preload("Site").
		Preload("Remarks", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC, id DESC")
		}).
		First(&alarm, alarmID).Error
	if err != nil {
		return nil, notFoundOr(err, "авария", alarmID)
	}
	return &alarm, nil
}

// ListAlarms список аварий по убыванию приоритета, затем по новизне
func (s *AlarmService) ListAlarms(filter AlarmFilter) ([]models.AlarmRecord, error) {
	query := s.DB.Model(&models.AlarmRecord{}).Preload("Site")
	if filter.Category != "" {
		cat, ok := models.ParseAlarmCategory(filter.Category)
		if !ok {
			return nil, Validationf("неизвестная категория аварии %q", filter.Category)
		}
		query = query.Where("alarm_records.category = ?", cat)
	}
	if filter.Status != "" {
		status, ok := models.ParseAlarmStatus(filter.Status)
		if !ok {
			return nil, Validationf("неизвестный статус аварии %q", filter.Status)
		}
		query = query.Where("alarm_records.status = ?", status)
	}
	if filter.Search != "" {
		like := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Joins("JOIN sites ON sites.id = alarm_records.site_id").
			Where("LOWER(sites.site_code) LIKE ? OR LOWER(sites.name) LIKE ?", like, like)
	}

	var alarms []models.AlarmRecord
	err := query.Order("alarm_records.priority_score DESC, alarm_records.created_at DESC, alarm_records.id DESC").
		Find(&alarms).Error
	return alarms, err
}

// Stats количество аварий по статусам, категориям и пять сайтов с наибольшим числом аварий
func (s *AlarmService) Stats() (*AlarmStats, error) {
	stats := &AlarmStats{
		StatusCounts:   make(map[models.AlarmStatus]int64, len(models.AlarmStatuses)),
		CategoryCounts: make(map[models.AlarmCategory]int64, len(models.AlarmCategories)),
	}
	for _, st := range models.AlarmStatuses {
		stats.StatusCounts[st] = 0
	}
	for _, c := range models.AlarmCategories {
		stats.CategoryCounts[c] = 0
	}

	type group struct {
		Label string
		Total int64
	}
	var byStatus []group
	if err := s.DB.Model(&models.AlarmRecord{}).
		Select("status AS label, COUNT(*) AS total").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, g := range byStatus {
		stats.StatusCounts[models.AlarmStatus(g.Label)] = g.Total
	}

	var byCategory []group
	if err := s.DB.Model(&models.AlarmRecord{}).
		Select("category AS label, COUNT(*) AS total").Group("category").Scan(&byCategory).Error; err != nil {
		return nil, err
	}
	for _, g := range byCategory {
		stats.CategoryCounts[models.AlarmCategory(g.Label)] = g.Total
	}

	var top []SiteCount
	if err := s.DB.Model(&models.AlarmRecord{}).
		Select("sites.site_code AS site_code, sites.name AS name, COUNT(alarm_records.id) AS total").
		Joins("JOIN sites ON sites.id = alarm_records.site_id").
		Group("sites.site_code, sites.name").
		Order("total DESC, sites.site_code ASC").
		Limit(5).
		Scan(&top).Error; err != nil {
		return nil, err
	}
	stats.TopSites = top
	return stats, nil
}

// SiteAlarms аварии конкретного сайта, от новых к старым
func (s *AlarmService) SiteAlarms(siteCode string) (*models.Site, []models.AlarmRecord, error) {
	site, err := loadSiteByCode(s.DB, siteCode)
	if err != nil {
		return nil, nil, err
	}
	var alarms []models.AlarmRecord
	if err := s.DB.Where("site_id = ?", site.ID).
		Order("created_at DESC, id DESC").
		Find(&alarms).Error; err != nil {
		return nil, nil, err
	}
	return site, alarms, nil
}
