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

// TicketService жизненный цикл тикетов
type TicketService struct {
	*Base
	Notifier Notifier
}

// NewTicketService создает новый экземпляр TicketService
func NewTicketService(base *Base, notifier Notifier) *TicketService {
	return &TicketService{Base: base, Notifier: notifier}
}

// CreateTicketInput данные нового тикета
type CreateTicketInput struct {
	SiteCode    string `json:"site_id" validate:"required"`
	Category    string `json:"category" validate:"required"`
	Description string `json:"description" validate:"required,max=4000"`
	AssigneeID  *uint  `json:"assigned_to_id"`
}

// TicketFilter фильтры списка тикетов
type TicketFilter struct {
	Status   string
	Category string
	SiteCode string
	Search   string
	Page     int
	PerPage  int
}

// CreateTicket создает тикет в статусе OPEN. Создавать тикеты может только диспетчер.
func (s *TicketService) CreateTicket(input CreateTicketInput, actor Actor) (*models.Ticket, error) {
	if !actor.IsDispatcher() {
		return nil, PermissionDeniedf("создавать тикеты может только диспетчер")
	}
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	category, ok := models.ParseTicketCategory(input.Category)
	if !ok {
		return nil, Validationf("неизвестная категория проблемы %q", input.Category)
	}

	now := s.now()
	var ticket models.Ticket
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		site, err := loadSiteByCode(tx, strings.TrimSpace(input.SiteCode))
		if err != nil {
			return err
		}

		if input.AssigneeID != nil {
			assignee, err := loadUser(tx, *input.AssigneeID)
			if err != nil {
				return err
			}
			if !assignee.IsTechnician() {
				return Validationf("пользователь %s не является инженером", assignee.Username)
			}
		}

		number, err := s.nextTicketNumber(tx, now)
		if err != nil {
			return err
		}

		ticket = models.Ticket{
			TicketNumber:      number,
			SiteID:            site.ID,
			Category:          category,
			Description:       strings.TrimSpace(input.Description),
			Status:            models.TicketOpen,
			CreatedByID:       actor.ID,
			CreatedByUsername: actor.Username,
			AssignedToID:      input.AssigneeID,
			CreatedAt:         now,
			UpdatedAt:         now,
			Version:           1,
		}
		if err := tx.Omit(clause.Associations).Create(&ticket).Error; err != nil {
			return fmt.Errorf("ошибка при создании тикета: %w", err)
		}

		return appendTicketAction(tx, ticket.ID, "Ticket created", "", actor, now)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("ticket created",
		zap.String("ticket_number", ticket.TicketNumber),
		zap.Uint("site_id", ticket.SiteID),
		zap.String("actor", actor.Username))
	return &ticket, nil
}

// nextTicketNumber номер по локальному времени создания; при совпадении секунды добавляется суффикс -N
func (s *TicketService) nextTicketNumber(tx *gorm.DB, now time.Time) (string, error) {
	base := models.TicketNumberFor(s.Zone.ToLocal(now))
	var taken []string
	if err := tx.Model(&models.Ticket{}).
		Where("ticket_number = ? OR ticket_number LIKE ?", base, base+"-%").
		Pluck("ticket_number", &taken).Error; err != nil {
		return "", err
	}
	if len(taken) == 0 {
		return base, nil
	}
	used := make(map[string]bool, len(taken))
	for _, n := range taken {
		used[n] = true
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !used[candidate] {
			return candidate, nil
		}
	}
}

// TransitionTicket переводит тикет в новый статус с записью в журнал.
// Смена статуса и запись журнала выполняются в одной транзакции.
func (s *TicketService) TransitionTicket(ticketID uint, newStatus string, actor Actor) (*models.Ticket, error) {
	next, ok := models.ParseTicketStatus(newStatus)
	if !ok {
		return nil, Validationf("неизвестный статус тикета %q", newStatus)
	}

	var ticket models.Ticket
	var from models.TicketStatus
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&ticket, ticketID).Error; err != nil {
			return notFoundOr(err, "тикет", ticketID)
		}
		from = ticket.Status

		if err := checkTicketPermission(&ticket, next, actor); err != nil {
			return err
		}
		if next == models.TicketClosed && ticket.Status != models.TicketResolved {
			return InvalidTransitionf("тикет можно закрыть только после статуса RESOLVED (текущий %s)", ticket.Status)
		}
		if !ticket.Status.CanTransitionTo(next) {
			return InvalidTransitionf("переход %s -> %s недопустим", ticket.Status, next)
		}
		if next == models.TicketAssigned && ticket.AssignedToID == nil {
			return Validationf("перед переводом в ASSIGNED назначьте исполнителя")
		}

		now := s.now()
		fields := map[string]interface{}{
			"status":     next,
			"updated_at": now,
		}
		switch next {
		case models.TicketResolved:
			fields["resolved_at"] = now
			ticket.ResolvedAt = timePtr(now)
		case models.TicketClosed:
			fields["closed_at"] = now
			ticket.ClosedAt = timePtr(now)
		case models.TicketOpen, models.TicketAssigned, models.TicketInProgress, models.TicketPending:
			// Возврат из RESOLVED в работу снимает отметку решения
			if ticket.ResolvedAt != nil {
				fields["resolved_at"] = nil
				ticket.ResolvedAt = nil
			}
		}

		updated, err := updateVersioned(tx, &models.Ticket{}, ticket.ID, ticket.Version, fields)
		if err != nil {
			return fmt.Errorf("ошибка при обновлении тикета: %w", err)
		}
		if !updated {
			return staleVersion("тикет", ticket.ID)
		}
		ticket.Status = next
		ticket.UpdatedAt = now
		ticket.Version++

		return appendTicketAction(tx, ticket.ID, models.StatusChangeText(from, next), "", actor, now)
	})
	if err != nil {
		return nil, err
	}

	s.Metrics.ObserveTransition("ticket", string(from), string(next))
	s.Logger.Info("ticket status changed",
		zap.String("ticket_number", ticket.TicketNumber),
		zap.String("from", string(from)),
		zap.String("to", string(next)),
		zap.String("actor", actor.Username))
	return &ticket, nil
}

// checkTicketPermission проверяет право роли на переход.
// ASSIGNED и CLOSED выставляет диспетчер, RESOLVED только назначенный инженер,
// промежуточные статусы диспетчер или назначенный инженер.
func checkTicketPermission(ticket *models.Ticket, next models.TicketStatus, actor Actor) error {
	switch next {
	case models.TicketAssigned, models.TicketClosed:
		if !actor.IsDispatcher() {
			return PermissionDeniedf("статус %s может выставить только диспетчер", next)
		}
	case models.TicketResolved:
		if !actor.IsTechnician() || !ticket.IsAssignedTo(actor.ID) {
			return PermissionDeniedf("решить тикет может только назначенный инженер")
		}
	case models.TicketInProgress, models.TicketPending:
		if !actor.IsDispatcher() && !ticket.IsAssignedTo(actor.ID) {
			return PermissionDeniedf("тикет назначен другому инженеру")
		}
	case models.TicketOpen:
		return InvalidTransitionf("тикет нельзя вернуть в статус OPEN")
	}
	return nil
}

// AssignTicket назначает инженера; тикет в статусе OPEN переходит в ASSIGNED
func (s *TicketService) AssignTicket(ticketID, assigneeID uint, actor Actor) (*models.Ticket, error) {
	if !actor.IsDispatcher() {
		return nil, PermissionDeniedf("назначать исполнителя может только диспетчер")
	}

	var ticket models.Ticket
	var assignee *models.User
	var from models.TicketStatus
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&ticket, ticketID).Error; err != nil {
			return notFoundOr(err, "тикет", ticketID)
		}
		from = ticket.Status
		if ticket.Status == models.TicketResolved || ticket.Status == models.TicketClosed {
			return InvalidTransitionf("нельзя переназначить тикет в статусе %s", ticket.Status)
		}

		var err error
		assignee, err = loadUser(tx, assigneeID)
		if err != nil {
			return err
		}
		if !assignee.IsTechnician() {
			return Validationf("пользователь %s не является инженером", assignee.Username)
		}

		now := s.now()
		next := ticket.Status
		if ticket.Status == models.TicketOpen {
			next = models.TicketAssigned
		}
		fields := map[string]interface{}{
			"assigned_to_id": assignee.ID,
			"status":         next,
			"updated_at":     now,
		}
		updated, err := updateVersioned(tx, &models.Ticket{}, ticket.ID, ticket.Version, fields)
		if err != nil {
			return fmt.Errorf("ошибка при назначении тикета: %w", err)
		}
		if !updated {
			return staleVersion("тикет", ticket.ID)
		}
		ticket.AssignedToID = &assignee.ID
		ticket.Status = next
		ticket.UpdatedAt = now
		ticket.Version++

		if err := appendTicketAction(tx, ticket.ID, "Assigned to "+assignee.Username, "", actor, now); err != nil {
			return err
		}
		if next != from {
			return appendTicketAction(tx, ticket.ID, models.StatusChangeText(from, next), "", actor, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if ticket.Status != from {
		s.Metrics.ObserveTransition("ticket", string(from), string(ticket.Status))
	}
	if s.Notifier != nil {
		s.Notifier.TicketAssigned(&ticket, assignee)
	}
	return &ticket, nil
}

// AddTicketActionInput запись о выполненных работах
type AddTicketActionInput struct {
	Text     string `json:"action_text" validate:"required,max=4000"`
	PhotoRef string `json:"photo_ref" validate:"max=255"`
}

// AddTicketAction добавляет запись в журнал тикета (диспетчер или назначенный инженер)
func (s *TicketService) AddTicketAction(ticketID uint, input AddTicketActionInput, actor Actor) (*models.TicketAction, error) {
	if err := validateStruct(input); err != nil {
		return nil, err
	}

	var action models.TicketAction
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var ticket models.Ticket
		if err := tx.First(&ticket, ticketID).Error; err != nil {
			return notFoundOr(err, "тикет", ticketID)
		}
		if !actor.IsDispatcher() && !ticket.IsAssignedTo(actor.ID) {
			return PermissionDeniedf("тикет назначен другому инженеру")
		}
		if ticket.Status == models.TicketClosed {
			return InvalidTransitionf("тикет закрыт")
		}
		now := s.now()
		action = models.TicketAction{
			TicketID:      ticket.ID,
			Action:        strings.TrimSpace(input.Text),
			PhotoRef:      input.PhotoRef,
			ActorID:       actor.ID,
			ActorUsername: actor.Username,
			CreatedAt:     now,
		}
		if err := tx.Create(&action).Error; err != nil {
			return fmt.Errorf("ошибка при добавлении действия: %w", err)
		}
		return tx.Model(&models.Ticket{}).Where("id = ?", ticket.ID).Update("updated_at", now).Error
	})
	if err != nil {
		return nil, err
	}
	return &action, nil
}

// UpdateDescription меняет описание тикета (диспетчер)
func (s *TicketService) UpdateDescription(ticketID uint, description string, version int, actor Actor) (*models.Ticket, error) {
	if !actor.IsDispatcher() {
		return nil, PermissionDeniedf("редактировать описание может только диспетчер")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, Validationf("описание не может быть пустым")
	}

	var ticket models.Ticket
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&ticket, ticketID).Error; err != nil {
			return notFoundOr(err, "тикет", ticketID)
		}
		if version != 0 && version != ticket.Version {
			return staleVersion("тикет", ticket.ID)
		}
		now := s.now()
		updated, err := updateVersioned(tx, &models.Ticket{}, ticket.ID, ticket.Version, map[string]interface{}{
			"description": description,
			"updated_at":  now,
		})
		if err != nil {
			return err
		}
		if !updated {
			return staleVersion("тикет", ticket.ID)
		}
		ticket.Description = description
		ticket.UpdatedAt = now
		ticket.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// DeleteTicket удаляет тикет вместе с журналом (диспетчер)
func (s *TicketService) DeleteTicket(ticketID uint, actor Actor) error {
	if !actor.IsDispatcher() {
		return PermissionDeniedf("удалять тикеты может только диспетчер")
	}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var ticket models.Ticket
		if err := tx.First(&ticket, ticketID).Error; err != nil {
			return notFoundOr(err, "тикет", ticketID)
		}
		if err := tx.Where("ticket_id = ?", ticket.ID).Delete(&models.TicketAction{}).Error; err != nil {
			return fmt.Errorf("ошибка при удалении журнала тикета: %w", err)
		}
		return tx.Delete(&ticket).Error
	})
	if err != nil {
		return err
	}
	s.Logger.Info("ticket deleted", zap.Uint("ticket_id", ticketID), zap.String("actor", actor.Username))
	return nil
}

// GetTicket возвращает тикет с сайтом, исполнителем и журналом (от новых к старым)
func (s *TicketService) GetTicket(ticketID uint) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.DB.
		Preload("Site").
		Preload("AssignedTo").
		Preload("Actions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at DESC, id DESC")
		}).
		First(&ticket, ticketID).Error
	if err != nil {
		return nil, notFoundOr(err, "тикет", ticketID)
	}
	return &ticket, nil
}

// ListTickets возвращает страницу тикетов и общее количество
func (s *TicketService) ListTickets(filter TicketFilter) ([]models.Ticket, int64, error) {
	query := s.DB.Model(&models.Ticket{})

	if filter.Status != "" {
		status, ok := models.ParseTicketStatus(filter.Status)
		if !ok {
			return nil, 0, Validationf("неизвестный статус тикета %q", filter.Status)
		}
		query = query.Where("tickets.status = ?", status)
	}
	if filter.Category != "" {
		category, ok := models.ParseTicketCategory(filter.Category)
		if !ok {
			return nil, 0, Validationf("неизвестная категория проблемы %q", filter.Category)
		}
		query = query.Where("tickets.category = ?", category)
	}
	if filter.SiteCode != "" {
		query = query.Joins("JOIN sites ON sites.id = tickets.site_id").
			Where("sites.site_code = ?", filter.SiteCode)
	}
	if filter.Search != "" {
		like := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Where("LOWER(tickets.ticket_number) LIKE ? OR LOWER(tickets.description) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, perPage := normalizePage(filter.Page, filter.PerPage)
	var tickets []models.Ticket
	err := query.Preload("Site").Preload("AssignedTo").
		Order("tickets.created_at DESC, tickets.id DESC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&tickets).Error
	if err != nil {
		return nil, 0, err
	}
	return tickets, total, nil
}

// BackfillLegacyAssignments однократно переносит метки старой схемы назначения
// в ссылку на пользователя. Метка сопоставляется с префиксом имени инженера
// (часть до первого "_" в верхнем регистре). Возвращает число обновленных тикетов.
func (s *TicketService) BackfillLegacyAssignments(actor Actor) (int, error) {
	if !actor.IsDispatcher() {
		return 0, PermissionDeniedf("сверку назначений выполняет только диспетчер")
	}

	updatedCount := 0
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var technicians []models.User
		if err := tx.Where("role = ?", models.RoleTechnician).Order("id").Find(&technicians).Error; err != nil {
			return err
		}
		byLabel := make(map[string]uint, len(technicians))
		for _, tech := range technicians {
			label := models.LegacyAssigneeLabel(tech.Username)
			if _, exists := byLabel[label]; !exists {
				byLabel[label] = tech.ID
			}
		}

		var tickets []models.Ticket
		if err := tx.Where("assigned_to_id IS NULL AND legacy_assignee <> ''").Find(&tickets).Error; err != nil {
			return err
		}
		for _, t := range tickets {
			userID, ok := byLabel[strings.ToUpper(strings.TrimSpace(t.LegacyAssignee))]
			if !ok {
				s.Logger.Warn("legacy assignee has no matching technician",
					zap.String("ticket_number", t.TicketNumber),
					zap.String("label", t.LegacyAssignee))
				continue
			}
			updated, err := updateVersioned(tx, &models.Ticket{}, t.ID, t.Version, map[string]interface{}{
				"assigned_to_id":  userID,
				"legacy_assignee": "",
			})
			if err != nil {
				return err
			}
			if !updated {
				return staleVersion("тикет", t.ID)
			}
			updatedCount++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.Logger.Info("legacy assignments reconciled", zap.Int("tickets", updatedCount))
	return updatedCount, nil
}

func appendTicketAction(tx *gorm.DB, ticketID uint, text, photoRef string, actor Actor, at time.Time) error {
	action := models.TicketAction{
		TicketID:      ticketID,
		Action:        text,
		PhotoRef:      photoRef,
		ActorID:       actor.ID,
		ActorUsername: actor.Username,
		CreatedAt:     at,
	}
	if err := tx.Create(&action).Error; err != nil {
		return fmt.Errorf("ошибка при записи журнала тикета: %w", err)
	}
	return nil
}

// normalizePage ограничивает параметры пагинации
func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}
