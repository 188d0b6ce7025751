package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enom_tracker/models"
)

func setupDashboardServiceTest(t *testing.T) (*testEnv, *DashboardService) {
	env := setupServiceTest(t)
	svc := NewDashboardService(env.Base, NewCacheService(nil, nil), 10)
	return env, svc
}

var ticketSeq int

// insertTicket создает тикет напрямую в базе
func (e *testEnv) insertTicket(t *testing.T, site *models.Site, status models.TicketStatus, createdAt time.Time, assignee *models.User) *models.Ticket {
	t.Helper()
	ticketSeq++
	ticket := &models.Ticket{
		TicketNumber:      fmt.Sprintf("TKT-TEST-%d", ticketSeq),
		SiteID:            site.ID,
		Category:          models.CategoryTechnical,
		Description:       "test",
		Status:            status,
		CreatedByID:       e.Fixture.Dispatcher.ID,
		CreatedByUsername: e.Fixture.Dispatcher.Username,
		CreatedAt:         createdAt.UTC(),
		UpdatedAt:         createdAt.UTC(),
		Version:           1,
	}
	if assignee != nil {
		ticket.AssignedToID = &assignee.ID
	}
	if err := e.DB.Omit("Site", "AssignedTo", "Actions").Create(ticket).Error; err != nil {
		t.Fatalf("Failed to create ticket: %v", err)
	}
	return ticket
}

func TestWorkloadBalanceScore(t *testing.T) {
	assert.Equal(t, 100.0, WorkloadBalanceScore([]float64{10, 10, 10}))
	assert.InDelta(t, 0.0, WorkloadBalanceScore([]float64{0, 0, 30}), 0.001)
	assert.Equal(t, 100.0, WorkloadBalanceScore(nil))
	assert.Equal(t, 100.0, WorkloadBalanceScore([]float64{0, 0}))

	// mean 10, std 5: cv 0.5
	assert.InDelta(t, 50.0, WorkloadBalanceScore([]float64{5, 15}), 0.001)
}

func TestResponseTimeScore(t *testing.T) {
	assert.InDelta(t, 50.0, ResponseScoreForHours(24), 0.001)
	assert.Greater(t, ResponseScoreForHours(0), 90.0)
	assert.Less(t, ResponseScoreForHours(48), 10.0)
	assert.Equal(t, 50.0, ResponseTimeScore(nil))
	assert.InDelta(t, 50.0, ResponseTimeScore([]float64{12, 36}), 0.001)

	// Монотонность: быстрее реакция, выше оценка
	assert.Greater(t, ResponseScoreForHours(2), ResponseScoreForHours(20))
}

func TestWindows(t *testing.T) {
	zone := MustLoadZone("Asia/Jakarta")
	current, previous := Windows(testNow, zone)

	// Локальная полночь 2024-02-03 и 2024-03-05 по Джакарте (UTC+7)
	assert.Equal(t, time.Date(2024, 2, 2, 17, 0, 0, 0, time.UTC), current.Start)
	assert.Equal(t, time.Date(2024, 3, 4, 17, 0, 0, 0, time.UTC), current.End)
	assert.Equal(t, time.Date(2024, 1, 3, 17, 0, 0, 0, time.UTC), previous.Start)
	assert.Equal(t, current.Start, previous.End)

	assert.True(t, current.Contains(current.Start))
	assert.False(t, current.Contains(current.End))
	assert.False(t, previous.Contains(current.Start))
}

func TestDashboardService_Trend(t *testing.T) {
	env, svc := setupDashboardServiceTest(t)
	site := env.Fixture.Sites[0]

	// 2024-03-04 01:00 по Джакарте, хотя в UTC еще 3 марта
	env.insertTicket(t, site, models.TicketOpen, time.Date(2024, 3, 3, 18, 0, 0, 0, time.UTC), nil)
	// 2024-03-03 23:00 по Джакарте
	env.insertTicket(t, site, models.TicketOpen, time.Date(2024, 3, 3, 16, 0, 0, 0, time.UTC), nil)
	env.insertTicket(t, site, models.TicketOpen, time.Date(2024, 3, 3, 16, 30, 0, 0, time.UTC), nil)
	// Первый день ряда
	env.insertTicket(t, site, models.TicketOpen, time.Date(2024, 2, 26, 17, 0, 0, 0, time.UTC), nil)
	// За пределами ряда
	env.insertTicket(t, site, models.TicketOpen, time.Date(2024, 2, 26, 16, 59, 0, 0, time.UTC), nil)

	points, err := svc.Trend(testNow, env.Base.Zone)
	require.NoError(t, err)
	require.Len(t, points, TrendDays)

	assert.Equal(t, "2024-02-27", points[0].Date)
	assert.Equal(t, "2024-03-04", points[6].Date)
	assert.Equal(t, 1, points[0].Count)
	assert.Equal(t, 2, points[5].Count)
	assert.Equal(t, 1, points[6].Count)

	total := 0
	for _, p := range points {
		total += p.Count
	}
	assert.Equal(t, 4, total)

	// В UTC те же тикеты распределяются по-другому
	utcPoints, err := svc.Trend(testNow, MustLoadZone("UTC"))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-04", utcPoints[6].Date)
	assert.Equal(t, 0, utcPoints[6].Count)
	assert.Equal(t, 3, utcPoints[5].Count)
}

func TestDashboardService_WindowMetrics(t *testing.T) {
	env, svc := setupDashboardServiceTest(t)
	bks1, bks2, jkt := env.Fixture.Sites[0], env.Fixture.Sites[1], env.Fixture.Sites[2]
	current, previous := Windows(testNow, env.Base.Zone)

	day := testNow.Add(-5 * 24 * time.Hour)
	closed1 := env.insertTicket(t, bks1, models.TicketClosed, day, env.Fixture.TechA)
	closed2 := env.insertTicket(t, bks1, models.TicketClosed, day, env.Fixture.TechA)
	env.insertTicket(t, jkt, models.TicketInProgress, day, env.Fixture.TechB)
	env.insertTicket(t, bks2, models.TicketOpen, day, nil)
	require.NoError(t, env.DB.Model(closed1).Update("closed_at", day.Add(5*time.Hour)).Error)
	require.NoError(t, env.DB.Model(closed2).Update("closed_at", day.Add(10*time.Hour)).Error)
	// Предыдущее окно
	env.insertTicket(t, jkt, models.TicketOpen, testNow.Add(-40*24*time.Hour), nil)

	fast := env.insertAlarm(t, bks1, models.AlarmResolved, day)
	slow := env.insertAlarm(t, bks2, models.AlarmResolved, day)
	env.insertAlarm(t, jkt, models.AlarmOpen, day)
	require.NoError(t, env.DB.Model(fast).Updates(map[string]interface{}{
		"first_response_at": day.Add(2 * time.Hour),
		"resolved_at":       day.Add(8 * time.Hour),
	}).Error)
	require.NoError(t, env.DB.Model(slow).Updates(map[string]interface{}{
		"first_response_at": day.Add(4 * time.Hour),
		"resolved_at":       day.Add(80 * time.Hour),
	}).Error)

	today := env.Base.Zone.LocalDate(testNow)
	env.insertPlan(t, env.Fixture.TechA, today.AddDate(0, 0, -1), models.PlanApproved, bks1)
	env.insertPlan(t, env.Fixture.TechB, today.AddDate(0, 0, -1), models.PlanRejected, bks2)
	env.insertPlan(t, env.Fixture.TechA, today, models.PlanDraft, jkt)
	// Дата за пределами окна
	env.insertPlan(t, env.Fixture.TechB, today.AddDate(0, 0, 1), models.PlanApproved, jkt)

	m, err := svc.WindowMetrics(current, env.Base.Zone)
	require.NoError(t, err)

	assert.Equal(t, 4, m.TotalTickets)
	assert.Equal(t, 2, m.StatusCounts[models.TicketClosed])
	assert.Equal(t, 0, m.StatusCounts[models.TicketPending])
	assert.Equal(t, 4, m.CategoryCounts[models.CategoryTechnical])
	assert.Equal(t, 7.5, m.AvgResolutionHours)
	assert.Equal(t, 2, m.AssigneeCounts["enom_rizki"])
	assert.Equal(t, 1, m.AssigneeCounts["mitra_budi"])

	require.Len(t, m.TopSites, 3)
	assert.Equal(t, "BKS0001", m.TopSites[0].SiteCode)
	assert.Equal(t, int64(2), m.TopSites[0].Count)
	assert.Equal(t, "BKS0002", m.TopSites[1].SiteCode)
	assert.Equal(t, "JKT0101", m.TopSites[2].SiteCode)

	require.NotNil(t, m.AlarmResponseHours)
	assert.Equal(t, 3.0, *m.AlarmResponseHours)
	assert.Equal(t, 3, m.AlarmCategoryCount[models.AlarmCellDown])
	assert.Equal(t, 50.0, m.SLAResolutionRate)
	assert.Greater(t, m.AlarmResponseScore, 85.0)

	assert.Equal(t, 1, m.PlanStatusCounts[models.PlanDraft])
	assert.Equal(t, 50.0, m.PlanComplianceRate)

	prev, err := svc.WindowMetrics(previous, env.Base.Zone)
	require.NoError(t, err)
	assert.Equal(t, 1, prev.TotalTickets)
	assert.Zero(t, prev.AvgResolutionHours)
	assert.Nil(t, prev.AlarmResponseHours)
	assert.Equal(t, 50.0, prev.AlarmResponseScore)
	assert.Zero(t, prev.SLAResolutionRate)
	assert.Zero(t, prev.PlanComplianceRate)
}

func TestDashboardService_Workload(t *testing.T) {
	env, svc := setupDashboardServiceTest(t)
	today := env.Base.Zone.LocalDate(testNow)

	env.insertPlan(t, env.Fixture.TechA, today, models.PlanApproved, env.Fixture.Sites[0], env.Fixture.Sites[1])
	env.insertPlan(t, env.Fixture.TechA, today.AddDate(0, 0, WorkloadHorizonDays), models.PlanDraft, env.Fixture.Sites[2])
	env.insertPlan(t, env.Fixture.TechB, today.AddDate(0, 0, -1), models.PlanApproved, env.Fixture.Sites[2])
	env.insertTicket(t, env.Fixture.Sites[0], models.TicketInProgress, testNow, env.Fixture.TechA)
	env.insertTicket(t, env.Fixture.Sites[0], models.TicketResolved, testNow, env.Fixture.TechB)

	report, err := svc.Workload(testNow, env.Base.Zone)
	require.NoError(t, err)
	require.Len(t, report.Technicians, 2)

	a, b := report.Technicians[0], report.Technicians[1]
	assert.Equal(t, "enom_rizki", a.Username)
	assert.Equal(t, 2, a.PlannedSites)
	assert.Equal(t, 1, a.ActiveTickets)
	assert.Equal(t, 3, a.Total)
	assert.Equal(t, "mitra_budi", b.Username)
	assert.Zero(t, b.Total)

	// mean 1.5, std 1.5: cv 1
	assert.Equal(t, 0.0, report.BalanceScore)
}

func TestDashboardService_WorkloadCountsAssignedTickets(t *testing.T) {
	env, svc := setupDashboardServiceTest(t)
	tickets := NewTicketService(env.Base, nil)

	ticket, err := tickets.CreateTicket(CreateTicketInput{
		SiteCode: "BKS0002", Category: "technical", Description: "Transmission link down",
	}, env.Dispatcher)
	require.NoError(t, err)
	assigned, err := tickets.AssignTicket(ticket.ID, env.Fixture.TechA.ID, env.Dispatcher)
	require.NoError(t, err)
	require.Equal(t, models.TicketAssigned, assigned.Status)

	report, err := svc.Workload(testNow, env.Base.Zone)
	require.NoError(t, err)
	require.Len(t, report.Technicians, 2)
	assert.Equal(t, "enom_rizki", report.Technicians[0].Username)
	assert.Equal(t, 1, report.Technicians[0].ActiveTickets)
	assert.Equal(t, 1, report.Technicians[0].Total)

	markers, err := svc.SiteMarkers()
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, "BKS0002", markers[0].SiteCode)
	assert.Equal(t, models.TicketAssigned, markers[0].Status)
}

func TestDashboardService_StatusSnapshot(t *testing.T) {
	env, svc := setupDashboardServiceTest(t)
	site := env.Fixture.Sites[0]

	env.insertTicket(t, site, models.TicketOpen, testNow.Add(-90*24*time.Hour), nil)
	env.insertTicket(t, site, models.TicketInProgress, testNow, env.Fixture.TechA)
	env.insertTicket(t, site, models.TicketResolved, testNow, env.Fixture.TechA)
	env.insertTicket(t, site, models.TicketInProgress, testNow, env.Fixture.TechB)

	all, err := svc.StatusSnapshot(env.Dispatcher)
	require.NoError(t, err)
	assert.Equal(t, int64(1), all[models.TicketOpen])
	assert.Equal(t, int64(2), all[models.TicketInProgress])
	assert.Equal(t, int64(0), all[models.TicketClosed])
	assert.Len(t, all, len(models.TicketStatuses))

	mine, err := svc.StatusSnapshot(env.TechA)
	require.NoError(t, err)
	assert.Equal(t, int64(0), mine[models.TicketOpen])
	assert.Equal(t, int64(1), mine[models.TicketInProgress])
	assert.Equal(t, int64(1), mine[models.TicketResolved])
}

func TestDashboardService_SiteMarkers(t *testing.T) {
	env, svc := setupDashboardServiceTest(t)

	env.insertTicket(t, env.Fixture.Sites[2], models.TicketOpen, testNow, nil)
	env.insertTicket(t, env.Fixture.Sites[2], models.TicketPending, testNow, nil)
	env.insertTicket(t, env.Fixture.Sites[2], models.TicketPending, testNow, nil)
	env.insertTicket(t, env.Fixture.Sites[0], models.TicketOpen, testNow, nil)
	env.insertTicket(t, env.Fixture.Sites[1], models.TicketClosed, testNow, nil)

	markers, err := svc.SiteMarkers()
	require.NoError(t, err)
	require.Len(t, markers, 2)
	assert.Equal(t, "BKS0001", markers[0].SiteCode)
	assert.Equal(t, models.TicketOpen, markers[0].Status)
	assert.Equal(t, "JKT0101", markers[1].SiteCode)
	assert.Equal(t, 3, markers[1].TicketCount)
	assert.Equal(t, models.TicketPending, markers[1].Status)
}

func TestDashboardService_SummaryCached(t *testing.T) {
	env, svc := setupDashboardServiceTest(t)
	env.insertTicket(t, env.Fixture.Sites[0], models.TicketOpen, testNow, nil)
	ctx := context.Background()

	first, err := svc.Summary(ctx, testNow, "", env.Dispatcher)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", first.Zone)
	assert.Equal(t, 1, first.Current.TotalTickets)
	assert.Len(t, first.Trend, TrendDays)

	// Новый тикет не виден, пока действует кэш
	env.insertTicket(t, env.Fixture.Sites[0], models.TicketOpen, testNow, nil)
	second, err := svc.Summary(ctx, testNow.Add(10*time.Second), "", env.Dispatcher)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Current.TotalTickets)
	assert.Equal(t, int64(1), svc.Cache.Stats().Hits)

	require.NoError(t, svc.Cache.InvalidatePrefix(ctx, GenerateCacheKey("dashboard")))
	third, err := svc.Summary(ctx, testNow, "", env.Dispatcher)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Current.TotalTickets)

	utc, err := svc.Summary(ctx, testNow, "UTC", env.Dispatcher)
	require.NoError(t, err)
	assert.Equal(t, "UTC", utc.Zone)

	_, err = svc.Summary(ctx, testNow, "Mars/Olympus", env.Dispatcher)
	assert.ErrorIs(t, err, ErrValidation)
}
