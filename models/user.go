package models

import (
	"strings"
	"time"
)

// Role роль пользователя в системе
type Role string

const (
	// RoleDispatcher диспетчер оператора (создает тикеты, загружает аварии, утверждает планы)
	RoleDispatcher Role = "dispatcher"
	// RoleTechnician выездной инженер ENOM
	RoleTechnician Role = "technician"
)

// ParseRole разбирает строковое значение роли
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleDispatcher:
		return RoleDispatcher, true
	case RoleTechnician:
		return RoleTechnician, true
	}
	return "", false
}

// User представляет модель пользователя в системе
type User struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Основные поля
	Username     string `json:"username" gorm:"uniqueIndex;not null;type:varchar(80)"`
	PasswordHash string `json:"-" gorm:"not null"` // Хэш пароля не возвращается в JSON
	Role         Role   `json:"role" gorm:"not null;type:varchar(20)"`

	// Блокировка после неудачных попыток входа
	LoginAttempts     int        `json:"-" gorm:"default:0"`
	LastFailedLoginAt *time.Time `json:"-"`
	PasswordChangedAt *time.Time `json:"password_changed_at"`

	// Для уведомлений
	TelegramID string `json:"telegram_id" gorm:"type:varchar(50)"`
}

// TableName задает имя таблицы для модели User
func (User) TableName() string {
	return "users"
}

// IsDispatcher проверяет, является ли пользователь диспетчером
func (u *User) IsDispatcher() bool {
	return u.Role == RoleDispatcher
}

// IsTechnician проверяет, является ли пользователь выездным инженером
func (u *User) IsTechnician() bool {
	return u.Role == RoleTechnician
}

// LegacyAssigneeLabel возвращает метку исполнителя в старой схеме назначения:
// часть имени пользователя до первого "_" в верхнем регистре (enom_rizki -> ENOM).
func LegacyAssigneeLabel(username string) string {
	prefix := username
	if idx := strings.Index(username, "_"); idx >= 0 {
		prefix = username[:idx]
	}
	return strings.ToUpper(prefix)
}
