package models

import "time"

// PendingImport разобранная, но еще не подтвержденная загрузка аварий.
// Доступна по непрозрачному токену до ExpiresAt.
type PendingImport struct {
	ID    uint   `json:"-" gorm:"primarykey"`
	Token string `json:"token" gorm:"uniqueIndex;not null;type:varchar(36)"`

	Category     AlarmCategory `json:"category" gorm:"not null;type:varchar(30)"`
	SourceFile   string        `json:"source_file" gorm:"type:varchar(255)"`
	UploadedByID uint          `json:"uploaded_by_id" gorm:"not null;index"`

	// JSON массив черновиков {site_id, description}
	Payload      string `json:"-" gorm:"type:text;not null"`
	RowCount     int    `json:"row_count"`
	SkippedCount int    `json:"skipped_count"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index"`
}

func (PendingImport) TableName() string {
	return "pending_imports"
}

// IsExpired проверяет срок жизни загрузки
func (p *PendingImport) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// AllModels список моделей для автомиграции
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Site{},
		&Ticket{},
		&TicketAction{},
		&AlarmRecord{},
		&AlarmRemark{},
		&DailyPlan{},
		&PlannedSite{},
		&PlanComment{},
		&PendingImport{},
	}
}
