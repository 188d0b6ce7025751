package testutils

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"enom_tracker/database"
	"enom_tracker/models"
)

// SetupTestDB создает тестовую базу данных SQLite во временном каталоге теста
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath+"?_busy_timeout=5000"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent), // Отключаем логи в тестах
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() { CleanupTestDB(db) })
	return db
}

// CleanupTestDB закрывает соединение с тестовой базой
func CleanupTestDB(db *gorm.DB) {
	if db != nil {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	}
}

// CreateTestSite создает сайт с координатами
func CreateTestSite(t *testing.T, db *gorm.DB, code, name string) *models.Site {
	t.Helper()
	site := &models.Site{
		SiteCode:   code,
		Name:       name,
		TowerOwner: "Protelindo",
		Latitude:   -6.2,
		Longitude:  106.8,
		Region:     "Bekasi",
	}
	if err := db.Create(site).Error; err != nil {
		t.Fatalf("Failed to create test site %s: %v", code, err)
	}
	return site
}

// CreateTestUser создает пользователя с указанной ролью
func CreateTestUser(t *testing.T, db *gorm.DB, username string, role models.Role) *models.User {
	t.Helper()
	user := &models.User{
		Username:     username,
		PasswordHash: "not-a-real-hash",
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user %s: %v", username, err)
	}
	return user
}

// Fixture стандартный набор: диспетчер, два инженера, три сайта
type Fixture struct {
	Dispatcher *models.User
	TechA      *models.User
	TechB      *models.User
	Sites      []*models.Site
}

// CreateFixture заполняет базу стандартным набором данных
func CreateFixture(t *testing.T, db *gorm.DB) *Fixture {
	t.Helper()
	return &Fixture{
		Dispatcher: CreateTestUser(t, db, "xl_dispatch", models.RoleDispatcher),
		TechA:      CreateTestUser(t, db, "enom_rizki", models.RoleTechnician),
		TechB:      CreateTestUser(t, db, "mitra_budi", models.RoleTechnician),
		Sites: []*models.Site{
			CreateTestSite(t, db, "BKS0001", "Bekasi Timur"),
			CreateTestSite(t, db, "BKS0002", "Bekasi Barat"),
			CreateTestSite(t, db, "JKT0101", "Jakarta Pusat"),
		},
	}
}
