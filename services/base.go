package services

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"enom_tracker/metrics"
	"enom_tracker/models"
)

// Base общие зависимости сервисов: хранилище, часы, зона отображения, логгер, метрики.
// Передаются явно, глобальных подключений нет.
type Base struct {
	DB      *gorm.DB
	Clock   Clock
	Zone    *Zone
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// NewBase создает набор зависимостей, подставляя значения по умолчанию для nil
func NewBase(db *gorm.DB, clock Clock, zone *Zone, logger *zap.Logger, m *metrics.Metrics) *Base {
	if clock == nil {
		clock = SystemClock{}
	}
	if zone == nil {
		zone = MustLoadZone(DefaultZoneName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Base{DB: db, Clock: clock, Zone: zone, Logger: logger, Metrics: m}
}

// now текущее время в UTC
func (b *Base) now() time.Time {
	return b.Clock.Now()
}

// updateVersioned обновляет запись при совпадении версии и увеличивает версию.
// Возвращает false, если запись изменили параллельно.
func updateVersioned(tx *gorm.DB, model interface{}, id uint, version int, fields map[string]interface{}) (bool, error) {
	fields["version"] = version + 1
	res := tx.Model(model).Where("id = ? AND version = ?", id, version).Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// loadUser загружает пользователя внутри транзакции
func loadUser(tx *gorm.DB, id uint) (*models.User, error) {
	var user models.User
	if err := tx.First(&user, id).Error; err != nil {
		return nil, notFoundOr(err, "пользователь", id)
	}
	return &user, nil
}

// loadSiteByCode ищет сайт по бизнес-ключу
func loadSiteByCode(tx *gorm.DB, code string) (*models.Site, error) {
	var site models.Site
	err := tx.Where("site_code = ?", code).First(&site).Error
	if err != nil {
		if isNotFound(err) {
			return nil, NotFoundf("сайт %s не найден", code)
		}
		return nil, err
	}
	return &site, nil
}
