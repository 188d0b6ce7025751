package models

import (
	"regexp"
	"time"
)

// siteCodePattern формат идентификатора сайта: три заглавные буквы и четыре цифры
var siteCodePattern = regexp.MustCompile(`^[A-Z]{3}\d{4}$`)

// IsValidSiteCode проверяет формат идентификатора сайта (например, MDN1234)
func IsValidSiteCode(code string) bool {
	return siteCodePattern.MatchString(code)
}

// Site представляет базовую станцию (справочные данные)
type Site struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SiteCode   string  `json:"site_id" gorm:"uniqueIndex;not null;type:varchar(50)"` // Бизнес-ключ
	Name       string  `json:"name" gorm:"not null;type:varchar(100)"`
	TowerOwner string  `json:"tower_owner" gorm:"type:varchar(100)"`
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"long"`
	Region     string  `json:"kabupaten" gorm:"type:varchar(100)"` // Кабупатен
}

// TableName задает имя таблицы для модели Site
func (Site) TableName() string {
	return "sites"
}

// GetDisplayName возвращает отображаемое имя сайта
func (s *Site) GetDisplayName() string {
	return s.SiteCode + " - " + s.Name
}
