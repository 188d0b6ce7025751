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

// PlanService дневные планы выездов инженеров
type PlanService struct {
	*Base
	Notifier Notifier
}

// NewPlanService создает новый экземпляр PlanService
func NewPlanService(base *Base, notifier Notifier) *PlanService {
	return &PlanService{Base: base, Notifier: notifier}
}

// PlannedSiteInput сайт в плане
type PlannedSiteInput struct {
	SiteCode          string `json:"site_id" validate:"required"`
	PlannedActions    string `json:"planned_actions" validate:"required,max=4000"`
	EstimatedDuration int    `json:"estimated_duration" validate:"gte=0,lte=1440"`
	Assignee          string `json:"assignee" validate:"max=80"`
	UpdatedActions    string `json:"updated_actions" validate:"max=4000"`
}

// CreatePlanInput новый план на дату
type CreatePlanInput struct {
	PlanDate string             `json:"plan_date" validate:"required"`
	Sites    []PlannedSiteInput `json:"sites" validate:"required,min=1,dive"`
}

// UpdatePlanInput новая редакция списка сайтов плана
type UpdatePlanInput struct {
	Sites   []PlannedSiteInput `json:"sites" validate:"required,min=1,dive"`
	Version int                `json:"version"`
}

// PlanFilter фильтры списка планов
type PlanFilter struct {
	Date   string
	Status string
}

// CreatePlan создает план инженера в статусе DRAFT.
// Второй план того же владельца на ту же дату отклоняется с ConflictError.
func (s *PlanService) CreatePlan(input CreatePlanInput, actor Actor) (*models.DailyPlan, error) {
	if !actor.IsTechnician() {
		return nil, PermissionDeniedf("создавать планы может только инженер")
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	planDate, err := ParseCivilDate(input.PlanDate)
	if err != nil {
		return nil, err
	}

	var plan models.DailyPlan
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.DailyPlan{}).
			Where("owner_id = ? AND plan_date = ?", actor.ID, planDate).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return Conflictf("план на %s уже существует", planDate.Format("2006-01-02"))
		}

		now := s.now()
		plan = models.DailyPlan{
			OwnerID:   actor.ID,
			PlanDate:  planDate,
			Status:    models.PlanDraft,
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		}
		if err := tx.Omit(clause.Associations).Create(&plan).Error; err != nil {
			if isUniqueViolation(err) {
				return Conflictf("план на %s уже существует", planDate.Format("2006-01-02"))
			}
			return fmt.Errorf("ошибка при создании плана: %w", err)
		}

		sites, err := s.buildPlannedSites(tx, plan.ID, input.Sites, models.PlanDraft, now)
		if err != nil {
			return err
		}
		plan.PlannedSites = sites
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("plan created",
		zap.Uint("plan_id", plan.ID),
		zap.String("plan_date", plan.PlanDate.Format("2006-01-02")),
		zap.Int("sites", len(plan.PlannedSites)),
		zap.String("owner", actor.Username))
	return &plan, nil
}

// buildPlannedSites сохраняет сайты плана по порядку визита.
// В черновике фактические работы сбрасываются, в остальных статусах обязательны.
func (s *PlanService) buildPlannedSites(tx *gorm.DB, planID uint, inputs []PlannedSiteInput, status models.PlanStatus, now time.Time) ([]models.PlannedSite, error) {
	sites := make([]models.PlannedSite, 0, len(inputs))
	for i, in := range inputs {
		site, err := loadSiteByCode(tx, strings.TrimSpace(in.SiteCode))
		if err != nil {
			return nil, err
		}

		duration := in.EstimatedDuration
		if duration == 0 {
			duration = models.DefaultVisitDurationMinutes
		}

		updatedActions := models.NotYetPerformed
		if status != models.PlanDraft {
			updatedActions = strings.TrimSpace(in.UpdatedActions)
			if updatedActions == "" {
				return nil, Validationf("для сайта %s нужно указать выполненные работы", site.SiteCode)
			}
		}

		sites = append(sites, models.PlannedSite{
			PlanID:            planID,
			SiteID:            site.ID,
			PlannedActions:    strings.TrimSpace(in.PlannedActions),
			VisitOrder:        i + 1,
			EstimatedDuration: duration,
			AssigneeLabel:     strings.TrimSpace(in.Assignee),
			UpdatedActions:    updatedActions,
			CreatedAt:         now,
		})
	}
	if err := tx.Omit(clause.Associations).Create(&sites).Error; err != nil {
		return nil, fmt.Errorf("ошибка сохранения сайтов плана: %w", err)
	}
	return sites, nil
}

// UpdatePlan заменяет список сайтов плана (только владелец)
func (s *PlanService) UpdatePlan(planID uint, input UpdatePlanInput, actor Actor) (*models.DailyPlan, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	var plan models.DailyPlan
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&plan, planID).Error; err != nil {
			return notFoundOr(err, "план", planID)
		}
		if !plan.IsOwnedBy(actor.ID) {
			return PermissionDeniedf("редактировать план может только его владелец")
		}
		if input.Version != 0 && input.Version != plan.Version {
			return staleVersion("план", plan.ID)
		}

		now := s.now()
		updated, err := updateVersioned(tx, &models.DailyPlan{}, plan.ID, plan.Version, map[string]interface{}{
			"updated_at": now,
		})
		if err != nil {
			return err
		}
		if !updated {
			return staleVersion("план", plan.ID)
		}
		plan.Version++
		plan.UpdatedAt = now

		if err := tx.Where("plan_id = ?", plan.ID).Delete(&models.PlannedSite{}).Error; err != nil {
			return fmt.Errorf("ошибка при обновлении сайтов плана: %w", err)
		}
		sites, err := s.buildPlannedSites(tx, plan.ID, input.Sites, plan.Status, now)
		if err != nil {
			return err
		}
		plan.PlannedSites = sites
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// SubmitPlan отправляет план на проверку (владелец; из DRAFT или REJECTED)
func (s *PlanService) SubmitPlan(planID uint, actor Actor) (*models.DailyPlan, error) {
	plan, from, err := s.transition(planID, models.PlanSubmitted, actor, func(tx *gorm.DB, plan *models.DailyPlan) error {
		if !plan.IsOwnedBy(actor.ID) {
			return PermissionDeniedf("отправить план может только его владелец")
		}
		var sites int64
		if err := tx.Model(&models.PlannedSite{}).Where("plan_id = ?", plan.ID).Count(&sites).Error; err != nil {
			return err
		}
		if sites == 0 {
			return Validationf("в плане нет ни одного сайта")
		}
		return nil
	}, func(now time.Time, plan *models.DailyPlan, fields map[string]interface{}) {
		fields["submitted_at"] = now
		plan.SubmittedAt = timePtr(now)
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.ObserveTransition("plan", string(from), string(plan.Status))
	return plan, nil
}

// ApprovePlan утверждает план (диспетчер; из SUBMITTED)
func (s *PlanService) ApprovePlan(planID uint, actor Actor) (*models.DailyPlan, error) {
	if !actor.IsDispatcher() {
		return nil, PermissionDeniedf("утверждать планы может только диспетчер")
	}
	plan, from, err := s.transition(planID, models.PlanApproved, actor, nil, s.markReviewed(actor))
	if err != nil {
		return nil, err
	}
	s.afterReview(plan, from, "")
	return plan, nil
}

// RejectPlan отклоняет план с обязательной причиной (диспетчер; из SUBMITTED).
// Причина сохраняется комментарием "Rejected: {reason}".
func (s *PlanService) RejectPlan(planID uint, reason string, actor Actor) (*models.DailyPlan, error) {
	if !actor.IsDispatcher() {
		return nil, PermissionDeniedf("отклонять планы может только диспетчер")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, Validationf("укажите причину отклонения")
	}

	plan, from, err := s.transition(planID, models.PlanRejected, actor, func(tx *gorm.DB, plan *models.DailyPlan) error {
		return tx.Create(&models.PlanComment{
			PlanID:         plan.ID,
			AuthorID:       actor.ID,
			AuthorUsername: actor.Username,
			Comment:        "Rejected: " + reason,
			CreatedAt:      s.now(),
		}).Error
	}, s.markReviewed(actor))
	if err != nil {
		return nil, err
	}
	s.afterReview(plan, from, reason)
	return plan, nil
}

func (s *PlanService) markReviewed(actor Actor) func(time.Time, *models.DailyPlan, map[string]interface{}) {
	return func(now time.Time, plan *models.DailyPlan, fields map[string]interface{}) {
		fields["reviewed_at"] = now
		fields["reviewed_by_id"] = actor.ID
		plan.ReviewedAt = timePtr(now)
		plan.ReviewedByID = &actor.ID
	}
}

func (s *PlanService) afterReview(plan *models.DailyPlan, from models.PlanStatus, reason string) {
	s.Metrics.ObserveTransition("plan", string(from), string(plan.Status))
	s.Metrics.ObservePlanReview(strings.ToLower(string(plan.Status)))
	s.Logger.Info("plan reviewed",
		zap.Uint("plan_id", plan.ID),
		zap.String("decision", string(plan.Status)))

	if s.Notifier == nil {
		return
	}
	owner, err := loadUser(s.DB, plan.OwnerID)
	if err != nil {
		s.Logger.Warn("plan owner not loaded for notification", zap.Uint("plan_id", plan.ID), zap.Error(err))
		return
	}
	s.Notifier.PlanReviewed(plan, owner, reason)
}

// transition общий переход плана: проверка графа, доп. проверки check, запись полей stamp
func (s *PlanService) transition(
	planID uint,
	next models.PlanStatus,
	actor Actor,
	check func(tx *gorm.DB, plan *models.DailyPlan) error,
	stamp func(now time.Time, plan *models.DailyPlan, fields map[string]interface{}),
) (*models.DailyPlan, models.PlanStatus, error) {
	var plan models.DailyPlan
	var from models.PlanStatus
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&plan, planID).Error; err != nil {
			return notFoundOr(err, "план", planID)
		}
		from = plan.Status
		if !plan.Status.CanTransitionTo(next) {
			return InvalidTransitionf("переход плана %s -> %s недопустим", plan.Status, next)
		}
		if check != nil {
			if err := check(tx, &plan); err != nil {
				return err
			}
		}

		now := s.now()
		fields := map[string]interface{}{
			"status":     next,
			"updated_at": now,
		}
		if stamp != nil {
			stamp(now, &plan, fields)
		}
		updated, err := updateVersioned(tx, &models.DailyPlan{}, plan.ID, plan.Version, fields)
		if err != nil {
			return fmt.Errorf("ошибка обновления плана: %w", err)
		}
		if !updated {
			return staleVersion("план", plan.ID)
		}
		plan.Status = next
		plan.UpdatedAt = now
		plan.Version++
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	s.Logger.Debug("plan status changed",
		zap.Uint("plan_id", plan.ID),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
		zap.String("actor", actor.Username))
	return &plan, from, nil
}

// AddPlanComment добавляет комментарий (владелец плана или диспетчер)
func (s *PlanService) AddPlanComment(planID uint, text string, actor Actor) (*models.PlanComment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, Validationf("комментарий не может быть пустым")
	}

	var comment models.PlanComment
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var plan models.DailyPlan
		if err := tx.First(&plan, planID).Error; err != nil {
			return notFoundOr(err, "план", planID)
		}
		if !actor.IsDispatcher() && !plan.IsOwnedBy(actor.ID) {
			return PermissionDeniedf("комментировать план может владелец или диспетчер")
		}
		comment = models.PlanComment{
			PlanID:         plan.ID,
			AuthorID:       actor.ID,
			AuthorUsername: actor.Username,
			Comment:        text,
			CreatedAt:      s.now(),
		}
		return tx.Create(&comment).Error
	})
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// DeletePlan удаляет план вместе с сайтами и комментариями (только диспетчер, в любом статусе)
func (s *PlanService) DeletePlan(planID uint, actor Actor) error {
	if !actor.IsDispatcher() {
		return PermissionDeniedf("удалять планы может только диспетчер")
	}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var plan models.DailyPlan
		if err := tx.First(&plan, planID).Error; err != nil {
			return notFoundOr(err, "план", planID)
		}
		if err := tx.Where("plan_id = ?", plan.ID).Delete(&models.PlannedSite{}).Error; err != nil {
			return err
		}
		if err := tx.Where("plan_id = ?", plan.ID).Delete(&models.PlanComment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&plan).Error
	})
	if err != nil {
		return err
	}
	s.Logger.Info("plan deleted", zap.Uint("plan_id", planID), zap.String("actor", actor.Username))
	return nil
}

// GetPlan план с сайтами (по порядку визита) и комментариями.
// Инженер видит только свои планы.
func (s *PlanService) GetPlan(planID uint, actor Actor) (*models.DailyPlan, error) {
	var plan models.DailyPlan
	err := s.DB.
		Preload("Owner").
		Preload("PlannedSites", func(db *gorm.DB) *gorm.DB { return db.Order("visit_order ASC") }).
		Preload("PlannedSites.Site").
		Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		First(&plan, planID).Error
	if err != nil {
		return nil, notFoundOr(err, "план", planID)
	}
	if !actor.IsDispatcher() && !plan.IsOwnedBy(actor.ID) {
		return nil, PermissionDeniedf("план принадлежит другому инженеру")
	}
	return &plan, nil
}

// ListPlans планы по убыванию даты; инженер видит только свои
func (s *PlanService) ListPlans(filter PlanFilter, actor Actor) ([]models.DailyPlan, error) {
	query := s.DB.Model(&models.DailyPlan{}).Preload("Owner")
	switch actor.Role {
	case models.RoleTechnician:
		query = query.Where("owner_id = ?", actor.ID)
	case models.RoleDispatcher:
	default:
		return nil, PermissionDeniedf("недостаточно прав")
	}

	if filter.Date != "" {
		date, err := ParseCivilDate(filter.Date)
		if err != nil {
			return nil, err
		}
		query = query.Where("plan_date = ?", date)
	}
	if filter.Status != "" {
		status, ok := models.ParsePlanStatus(filter.Status)
		if !ok {
			return nil, Validationf("неизвестный статус плана %q", filter.Status)
		}
		query = query.Where("status = ?", status)
	}

	var plans []models.DailyPlan
	err := query.Order("plan_date DESC, id DESC").Find(&plans).Error
	return plans, err
}
