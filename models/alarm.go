package models

import (
	"time"

	"gorm.io/gorm"
)

// AlarmRecord авария сайта из загруженной выгрузки
type AlarmRecord struct {
	ID     uint  `json:"id" gorm:"primarykey"`
	SiteID uint  `json:"site_id" gorm:"not null;index"`
	Site   *Site `json:"site,omitempty" gorm:"foreignKey:SiteID"`

	Category    AlarmCategory `json:"category" gorm:"not null;type:varchar(30)"`
	Description string        `json:"description" gorm:"type:text"`
	SourceFile  string        `json:"source_file" gorm:"type:varchar(255)"`
	Status      AlarmStatus   `json:"status" gorm:"not null;type:varchar(20);default:'OPEN'"`

	// Приоритет пересчитывается после каждой загрузки (чем выше, тем срочнее)
	PriorityScore int `json:"priority_score" gorm:"not null;default:0"`

	UploadedByID       uint   `json:"uploaded_by_id" gorm:"not null"`
	UploadedByUsername string `json:"uploaded_by"`

	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	FirstResponseAt *time.Time `json:"first_response_at"` // первая смена статуса
	ResolvedAt      *time.Time `json:"resolved_at"`
	ClosedAt        *time.Time `json:"closed_at"`

	// Мягкое удаление: gorm исключает такие записи из всех запросов
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Version int `json:"version" gorm:"not null;default:1"`

	Remarks []AlarmRemark `json:"remarks,omitempty" gorm:"foreignKey:AlarmID"`
}

func (AlarmRecord) TableName() string {
	return "alarm_records"
}

// AlarmRemark план реагирования на аварию
type AlarmRemark struct {
	ID      uint `json:"id" gorm:"primarykey"`
	AlarmID uint `json:"alarm_id" gorm:"not null;index"`

	PlannedVisitAt             *time.Time `json:"planned_visit_at"`
	InitialFindings            string     `json:"initial_findings" gorm:"type:text"`
	PlannedActions             string     `json:"planned_actions" gorm:"type:text"`
	AssigneeLabel              string     `json:"assignee" gorm:"type:varchar(80)"`
	EstimatedResolutionMinutes int        `json:"estimated_resolution_minutes"`

	AuthorID       uint   `json:"author_id" gorm:"not null"`
	AuthorUsername string `json:"author"`

	CreatedAt time.Time      `json:"created_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (AlarmRemark) TableName() string {
	return "alarm_remarks"
}
