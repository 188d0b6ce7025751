package services

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"enom_tracker/models"
)

const (
	// MaxLoginAttempts число неудачных попыток до блокировки
	MaxLoginAttempts = 5
	// LockoutDuration время блокировки входа
	LockoutDuration   = 15 * time.Minute
	minPasswordLength = 8
)

// UserService учетные записи диспетчеров и инженеров
type UserService struct {
	*Base
}

func NewUserService(base *Base) *UserService {
	return &UserService{Base: base}
}

// CreateUserInput данные новой учетной записи
type CreateUserInput struct {
	Username   string `json:"username" validate:"required,min=3,max=80"`
	Password   string `json:"password" validate:"required,min=8"`
	Role       string `json:"role" validate:"required"`
	TelegramID string `json:"telegram_id" validate:"max=50"`
}

// CreateUser создает пользователя с bcrypt-хэшем пароля
func (s *UserService) CreateUser(input CreateUserInput) (*models.User, error) {
	input.Username = strings.TrimSpace(input.Username)
	if err := validateStruct(input); err != nil {
		return nil, err
	}
	role, ok := models.ParseRole(input.Role)
	if !ok {
		return nil, Validationf("неизвестная роль %q", input.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := s.now()
	user := models.User{
		Username:          input.Username,
		PasswordHash:      string(hash),
		Role:              role,
		TelegramID:        input.TelegramID,
		PasswordChangedAt: &now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.DB.Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, Conflictf("пользователь %s уже существует", input.Username)
		}
		return nil, err
	}

	s.Logger.Info("✅ user created", zap.String("username", user.Username), zap.String("role", string(user.Role)))
	return &user, nil
}

// Authenticate проверяет пароль. После MaxLoginAttempts неудач вход блокируется на LockoutDuration.
func (s *UserService) Authenticate(username, password string) (*models.User, error) {
	var user models.User
	if err := s.DB.Where("username = ?", strings.TrimSpace(username)).First(&user).Error; err != nil {
		if isNotFound(err) {
			return nil, PermissionDeniedf("неверное имя пользователя или пароль")
		}
		return nil, err
	}

	now := s.now()
	if s.isLocked(&user, now) {
		return nil, PermissionDeniedf("учетная запись временно заблокирована")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		attempts := user.LoginAttempts + 1
		if user.LastFailedLoginAt != nil && now.Sub(*user.LastFailedLoginAt) >= LockoutDuration {
			attempts = 1
		}
		if err := s.DB.Model(&user).Updates(map[string]interface{}{
			"login_attempts":       attempts,
			"last_failed_login_at": now,
		}).Error; err != nil {
			return nil, err
		}
		s.Logger.Warn("login failed", zap.String("username", user.Username), zap.Int("attempts", attempts))
		return nil, PermissionDeniedf("неверное имя пользователя или пароль")
	}

	if user.LoginAttempts > 0 {
		if err := s.DB.Model(&user).Updates(map[string]interface{}{
			"login_attempts":       0,
			"last_failed_login_at": nil,
		}).Error; err != nil {
			return nil, err
		}
		user.LoginAttempts = 0
		user.LastFailedLoginAt = nil
	}
	return &user, nil
}

func (s *UserService) isLocked(user *models.User, now time.Time) bool {
	if user.LoginAttempts < MaxLoginAttempts || user.LastFailedLoginAt == nil {
		return false
	}
	return now.Sub(*user.LastFailedLoginAt) < LockoutDuration
}

// ChangePassword меняет пароль после проверки текущего
func (s *UserService) ChangePassword(userID uint, current, next string) error {
	if len(next) < minPasswordLength {
		return Validationf("пароль должен содержать не менее %d символов", minPasswordLength)
	}
	user, err := loadUser(s.DB, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return PermissionDeniedf("неверный текущий пароль")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.DB.Model(user).Updates(map[string]interface{}{
		"password_hash":       string(hash),
		"password_changed_at": s.now(),
	}).Error
}

// GetUser пользователь по ID
func (s *UserService) GetUser(id uint) (*models.User, error) {
	return loadUser(s.DB, id)
}

// ListTechnicians инженеры в алфавитном порядке
func (s *UserService) ListTechnicians() ([]models.User, error) {
	var users []models.User
	err := s.DB.Where("role = ?", models.RoleTechnician).Order("username").Find(&users).Error
	return users, err
}
