package models

import (
	"fmt"
	"time"
)

// Ticket представляет заявку на проблему сайта
type Ticket struct {
	ID           uint   `json:"id" gorm:"primarykey"`
	TicketNumber string `json:"ticket_number" gorm:"uniqueIndex;not null;type:varchar(40)"`

	SiteID uint  `json:"site_id" gorm:"not null;index"`
	Site   *Site `json:"site,omitempty" gorm:"foreignKey:SiteID"`

	Category    TicketCategory `json:"category" gorm:"not null;type:varchar(20)"`
	Description string         `json:"description" gorm:"type:text;not null"`
	Status      TicketStatus   `json:"status" gorm:"not null;type:varchar(20);default:'OPEN'"`

	CreatedByID       uint   `json:"created_by_id" gorm:"not null;index"`
	CreatedByUsername string `json:"created_by"`

	// Назначение: ссылка на пользователя.
	// LegacyAssignee хранит метку старой схемы до сверки BackfillLegacyAssignments.
	AssignedToID   *uint  `json:"assigned_to_id"`
	AssignedTo     *User  `json:"assigned_to,omitempty" gorm:"foreignKey:AssignedToID"`
	LegacyAssignee string `json:"-" gorm:"type:varchar(80)"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
	ClosedAt   *time.Time `json:"closed_at"`

	// Версия для оптимистичной блокировки
	Version int `json:"version" gorm:"not null;default:1"`

	Actions []TicketAction `json:"actions,omitempty" gorm:"foreignKey:TicketID"`
}

// TableName задает имя таблицы для модели Ticket
func (Ticket) TableName() string {
	return "tickets"
}

// IsAssignedTo проверяет, назначен ли тикет пользователю
func (t *Ticket) IsAssignedTo(userID uint) bool {
	return t.AssignedToID != nil && *t.AssignedToID == userID
}

// TicketNumberFor формирует номер тикета по локальному времени создания
func TicketNumberFor(localCreated time.Time) string {
	return fmt.Sprintf("TKT-%s", localCreated.Format("20060102150405"))
}

// TicketAction запись журнала действий по тикету (только добавление)
type TicketAction struct {
	ID       uint   `json:"id" gorm:"primarykey"`
	TicketID uint   `json:"ticket_id" gorm:"not null;index"`
	Action   string `json:"action" gorm:"type:text;not null"`
	PhotoRef string `json:"photo_ref,omitempty" gorm:"type:varchar(255)"`

	ActorID       uint   `json:"actor_id" gorm:"not null"`
	ActorUsername string `json:"actor"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

func (TicketAction) TableName() string {
	return "ticket_actions"
}

// StatusChangeText текст записи журнала о смене статуса
func StatusChangeText(from, to TicketStatus) string {
	return fmt.Sprintf("Status updated from %s to %s", from, to)
}
