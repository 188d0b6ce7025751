package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// ErrorKind вид ошибки операции
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindPermissionDenied  ErrorKind = "permission_denied"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindValidation        ErrorKind = "validation"
	KindConflict          ErrorKind = "conflict"
)

// Error типизированная ошибка сервисного слоя.
// Сравнивается через errors.Is с соответствующим Err* по виду ошибки.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по виду
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "объект не найден"}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied, Message: "недостаточно прав"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "недопустимый переход статуса"}
	ErrValidation        = &Error{Kind: KindValidation, Message: "некорректные данные"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "конфликт данных"}
)

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

func PermissionDeniedf(format string, args ...interface{}) *Error {
	return newError(KindPermissionDenied, format, args...)
}

func InvalidTransitionf(format string, args ...interface{}) *Error {
	return newError(KindInvalidTransition, format, args...)
}

func Validationf(format string, args ...interface{}) *Error {
	return newError(KindValidation, format, args...)
}

func Conflictf(format string, args ...interface{}) *Error {
	return newError(KindConflict, format, args...)
}

// KindOf возвращает вид ошибки или пустую строку для внутренних ошибок
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// notFoundOr переводит gorm.ErrRecordNotFound в NotFound
func notFoundOr(err error, entity string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFoundf("%s #%d не найден", entity, id)
	}
	return fmt.Errorf("ошибка при загрузке %s #%d: %w", entity, id, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// isUniqueViolation распознает нарушение уникального индекса (postgres и sqlite)
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// staleVersion ошибка одновременного изменения одной записи
func staleVersion(entity string, id uint) error {
	return Conflictf("%s #%d был изменен другим пользователем, обновите данные", entity, id)
}

var validate = validator.New()

// validateStruct проверяет входные данные по тегам validate
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return &Error{Kind: KindValidation, Message: "некорректные поля: " + strings.Join(fields, ", "), Err: err}
	}
	return &Error{Kind: KindValidation, Message: "некорректные данные", Err: err}
}
