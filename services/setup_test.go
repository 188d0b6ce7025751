package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"enom_tracker/models"
	"enom_tracker/testutils"
)

// testNow понедельник 2024-03-04 10:00 по Джакарте
var testNow = time.Date(2024, 3, 4, 3, 0, 0, 0, time.UTC)

type testEnv struct {
	DB      *gorm.DB
	Base    *Base
	Fixture *testutils.Fixture

	Dispatcher Actor
	TechA      Actor
	TechB      Actor
}

func setupServiceTest(t *testing.T) *testEnv {
	t.Helper()
	db := testutils.SetupTestDB(t)
	fx := testutils.CreateFixture(t, db)
	base := NewBase(db, FixedClock{At: testNow}, MustLoadZone(DefaultZoneName), nil, nil)
	return &testEnv{
		DB:         db,
		Base:       base,
		Fixture:    fx,
		Dispatcher: ActorFromUser(fx.Dispatcher),
		TechA:      ActorFromUser(fx.TechA),
		TechB:      ActorFromUser(fx.TechB),
	}
}

// at переводит часы сервисов на указанный момент
func (e *testEnv) at(t time.Time) {
	e.Base.Clock = FixedClock{At: t}
}

// insertAlarm создает аварию напрямую в базе
func (e *testEnv) insertAlarm(t *testing.T, site *models.Site, status models.AlarmStatus, createdAt time.Time) *models.AlarmRecord {
	t.Helper()
	alarm := &models.AlarmRecord{
		SiteID:       site.ID,
		Category:     models.AlarmCellDown,
		Description:  "cell down",
		Status:       status,
		UploadedByID: e.Fixture.Dispatcher.ID,
		CreatedAt:    createdAt.UTC(),
		UpdatedAt:    createdAt.UTC(),
		Version:      1,
	}
	if err := e.DB.Create(alarm).Error; err != nil {
		t.Fatalf("Failed to create alarm: %v", err)
	}
	return alarm
}

// insertPlan создает план с сайтами напрямую в базе
func (e *testEnv) insertPlan(t *testing.T, owner *models.User, date time.Time, status models.PlanStatus, sites ...*models.Site) *models.DailyPlan {
	t.Helper()
	plan := &models.DailyPlan{
		OwnerID:   owner.ID,
		PlanDate:  date,
		Status:    status,
		CreatedAt: testNow,
		UpdatedAt: testNow,
		Version:   1,
	}
	if err := e.DB.Omit("PlannedSites", "Comments", "Owner").Create(plan).Error; err != nil {
		t.Fatalf("Failed to create plan: %v", err)
	}
	for i, site := range sites {
		ps := &models.PlannedSite{
			PlanID:            plan.ID,
			SiteID:            site.ID,
			PlannedActions:    "check rectifier",
			VisitOrder:        i + 1,
			EstimatedDuration: 60,
			UpdatedActions:    models.NotYetPerformed,
			CreatedAt:         testNow,
		}
		if err := e.DB.Omit("Site").Create(ps).Error; err != nil {
			t.Fatalf("Failed to create planned site: %v", err)
		}
	}
	return plan
}

// bumpVersionOnLoad имитирует параллельную запись: сразу после первого чтения из table
// версия строк увеличивается в той же транзакции, как если бы другой запрос успел их изменить
func bumpVersionOnLoad(t *testing.T, db *gorm.DB, table string) {
	t.Helper()
	fired := false
	err := db.Callback().Query().After("gorm:query").Register("test:bump_version", func(tx *gorm.DB) {
		if fired || tx.Error != nil || tx.Statement.Table != table {
			return
		}
		fired = true
		tx.Session(&gorm.Session{NewDB: true}).Exec("UPDATE " + table + " SET version = version + 1")
	})
	require.NoError(t, err)
}

// recordingNotifier запоминает отправленные события
type recordingNotifier struct {
	assigned []uint
	ingested int
	skipped  int
	reviewed []models.PlanStatus
}

func (n *recordingNotifier) TicketAssigned(ticket *models.Ticket, _ *models.User) {
	n.assigned = append(n.assigned, ticket.ID)
}

func (n *recordingNotifier) AlarmsIngested(result *IngestResult, _ models.AlarmCategory, _ string) {
	n.ingested += result.Processed
	n.skipped += result.Skipped
}

func (n *recordingNotifier) PlanReviewed(plan *models.DailyPlan, _ *models.User, _ string) {
	n.reviewed = append(n.reviewed, plan.Status)
}
