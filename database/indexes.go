package database

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DatabaseIndex представляет индекс базы данных
type DatabaseIndex struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// PerformanceIndexes индексы под запросы приоритизации и дашборда
var PerformanceIndexes = []DatabaseIndex{
	// Подсчет аварий сайта за окно и выборка открытых аварий для пересчета
	{
		Name:    "idx_alarm_records_site_created",
		Table:   "alarm_records",
		Columns: []string{"site_id", "created_at"},
	},
	{
		Name:    "idx_alarm_records_site_status",
		Table:   "alarm_records",
		Columns: []string{"site_id", "status"},
	},
	{
		Name:    "idx_alarm_records_score",
		Table:   "alarm_records",
		Columns: []string{"priority_score", "created_at"},
	},

	// Тикеты: снимок статусов, окна по дате создания, нагрузка инженеров
	{
		Name:    "idx_tickets_status",
		Table:   "tickets",
		Columns: []string{"status"},
	},
	{
		Name:    "idx_tickets_created",
		Table:   "tickets",
		Columns: []string{"created_at"},
	},
	{
		Name:    "idx_tickets_assignee_status",
		Table:   "tickets",
		Columns: []string{"assigned_to_id", "status"},
	},

	// Планы
	{
		Name:    "idx_planned_sites_site",
		Table:   "planned_sites",
		Columns: []string{"site_id", "plan_id"},
	},
	{
		Name:    "idx_daily_plans_date_status",
		Table:   "daily_plans",
		Columns: []string{"plan_date", "status"},
	},
}

// CreatePerformanceIndexes создает индексы, которые не описываются тегами моделей
func CreatePerformanceIndexes(db *gorm.DB, logger *zap.Logger) error {
	for _, index := range PerformanceIndexes {
		if err := CreateIndex(db, index); err != nil {
			return fmt.Errorf("failed to create index %s: %w", index.Name, err)
		}
		logger.Debug("index ensured", zap.String("index", index.Name))
	}
	logger.Info("performance indexes ensured", zap.Int("count", len(PerformanceIndexes)))
	return nil
}

// CreateIndex создает отдельный индекс (синтаксис общий для postgres и sqlite)
func CreateIndex(db *gorm.DB, index DatabaseIndex) error {
	uniqueStr := ""
	if index.Unique {
		uniqueStr = "UNIQUE "
	}

	sql := fmt.Sprintf(
		"CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		uniqueStr, index.Name, index.Table, strings.Join(index.Columns, ", "),
	)
	return db.Exec(sql).Error
}

// DropIndex удаляет индекс
func DropIndex(db *gorm.DB, indexName string) error {
	return db.Exec(fmt.Sprintf("DROP INDEX IF EXISTS %s", indexName)).Error
}
