package models

import "time"

// NotYetPerformed значение updated_actions до подтверждения работ на месте
const NotYetPerformed = "Not yet performed"

// DefaultVisitDurationMinutes длительность визита по умолчанию
const DefaultVisitDurationMinutes = 60

// DailyPlan дневной план выездов инженера.
// На одного владельца допускается один план на дату.
type DailyPlan struct {
	ID      uint  `json:"id" gorm:"primarykey"`
	OwnerID uint  `json:"owner_id" gorm:"not null;uniqueIndex:idx_daily_plans_owner_date"`
	Owner   *User `json:"owner,omitempty" gorm:"foreignKey:OwnerID"`

	// Календарная дата хранится как полночь UTC
	PlanDate time.Time  `json:"plan_date" gorm:"not null;uniqueIndex:idx_daily_plans_owner_date"`
	Status   PlanStatus `json:"status" gorm:"not null;type:varchar(20);default:'DRAFT'"`

	SubmittedAt  *time.Time `json:"submitted_at"`
	ReviewedAt   *time.Time `json:"reviewed_at"`
	ReviewedByID *uint      `json:"reviewed_by_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version" gorm:"not null;default:1"`

	PlannedSites []PlannedSite `json:"planned_sites,omitempty" gorm:"foreignKey:PlanID"`
	Comments     []PlanComment `json:"comments,omitempty" gorm:"foreignKey:PlanID"`
}

func (DailyPlan) TableName() string {
	return "daily_plans"
}

// IsOwnedBy проверяет владельца плана
func (p *DailyPlan) IsOwnedBy(userID uint) bool {
	return p.OwnerID == userID
}

// PlannedSite сайт в плане выездов
type PlannedSite struct {
	ID     uint  `json:"id" gorm:"primarykey"`
	PlanID uint  `json:"plan_id" gorm:"not null;index"`
	SiteID uint  `json:"site_id" gorm:"not null"`
	Site   *Site `json:"site,omitempty" gorm:"foreignKey:SiteID"`

	PlannedActions    string `json:"planned_actions" gorm:"type:text"`
	VisitOrder        int    `json:"visit_order" gorm:"not null"`
	EstimatedDuration int    `json:"estimated_duration" gorm:"not null;default:60"` // минуты
	AssigneeLabel     string `json:"assignee" gorm:"type:varchar(80)"`
	UpdatedActions    string `json:"updated_actions" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
}

func (PlannedSite) TableName() string {
	return "planned_sites"
}

// IsPerformed работы на сайте подтверждены инженером
func (ps *PlannedSite) IsPerformed() bool {
	return ps.UpdatedActions != "" && ps.UpdatedActions != NotYetPerformed
}

// PlanComment комментарий проверяющего к плану
type PlanComment struct {
	ID             uint      `json:"id" gorm:"primarykey"`
	PlanID         uint      `json:"plan_id" gorm:"not null;index"`
	AuthorID       uint      `json:"author_id" gorm:"not null"`
	AuthorUsername string    `json:"author"`
	Comment        string    `json:"comment" gorm:"type:text;not null"`
	CreatedAt      time.Time `json:"created_at"`
}

func (PlanComment) TableName() string {
	return "plan_comments"
}
