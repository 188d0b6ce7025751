package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enom_tracker/models"
)

func setupAlarmServiceTest(t *testing.T) (*testEnv, *AlarmService, *recordingNotifier) {
	env := setupServiceTest(t)
	notifier := &recordingNotifier{}
	svc := NewAlarmService(env.Base, NewPriorityService(env.Base), notifier)
	return env, svc, notifier
}

func TestAlarmService_IngestAlarmBatch(t *testing.T) {
	env, svc, notifier := setupAlarmServiceTest(t)

	drafts := []AlarmDraft{
		{SiteID: "BKS0001", Description: "cell down sector 1"},
		{SiteID: "BKS0001", Description: "cell down sector 2"},
		{SiteID: " JKT0101 ", Description: "cell down"},
		{SiteID: "MDN9999", Description: "unknown site"},
		{SiteID: "bks0002", Description: "lowercase id"},
	}

	result, err := svc.IngestAlarmBatch(drafts, "cell_down", "alarms.csv", env.Dispatcher)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 4, result.Scores[env.Fixture.Sites[0].ID])
	assert.Equal(t, 2, result.Scores[env.Fixture.Sites[2].ID])
	assert.Equal(t, 3, notifier.ingested)

	alarms, err := svc.ListAlarms(AlarmFilter{})
	require.NoError(t, err)
	require.Len(t, alarms, 3)
	// Сначала сайт с наибольшим приоритетом
	assert.Equal(t, "BKS0001", alarms[0].Site.SiteCode)
	assert.Equal(t, 4, alarms[0].PriorityScore)
	for _, a := range alarms {
		assert.Equal(t, models.AlarmOpen, a.Status)
		assert.Equal(t, models.AlarmCellDown, a.Category)
		assert.Equal(t, "alarms.csv", a.SourceFile)
	}
}

func TestAlarmService_IngestValidation(t *testing.T) {
	env, svc, _ := setupAlarmServiceTest(t)

	_, err := svc.IngestAlarmBatch([]AlarmDraft{{SiteID: "BKS0001"}}, "CELL_DOWN", "a.csv", env.TechA)
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	_, err = svc.IngestAlarmBatch([]AlarmDraft{{SiteID: "BKS0001"}}, "FIRE", "a.csv", env.Dispatcher)
	assert.True(t, errors.Is(err, ErrValidation))

	var count int64
	env.DB.Model(&models.AlarmRecord{}).Count(&count)
	assert.Zero(t, count)

	// Пустой пакет допустим
	result, err := svc.IngestAlarmBatch(nil, "OTHER", "empty.csv", env.Dispatcher)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)
}

func TestAlarmService_Lifecycle(t *testing.T) {
	env, svc, _ := setupAlarmServiceTest(t)
	alarm := env.insertAlarm(t, env.Fixture.Sites[0], models.AlarmOpen, testNow)

	env.at(testNow.Add(2 * time.Hour))
	acked, err := svc.Acknowledge(alarm.ID, env.TechA)
	require.NoError(t, err)
	assert.Equal(t, models.AlarmAcknowledged, acked.Status)
	require.NotNil(t, acked.FirstResponseAt)
	assert.True(t, acked.FirstResponseAt.Equal(testNow.Add(2*time.Hour)))

	env.at(testNow.Add(3 * time.Hour))
	visit := testNow.Add(24 * time.Hour)
	remark, err := svc.AddRemark(alarm.ID, RemarkInput{
		PlannedVisitAt:  &visit,
		InitialFindings: "Rectifier module failed",
		PlannedActions:  "Replace module",
		Assignee:        "ENOM",
	}, env.TechA)
	require.NoError(t, err)
	assert.Equal(t, env.TechA.Username, remark.AuthorUsername)

	loaded, err := svc.GetAlarm(alarm.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlarmScheduled, loaded.Status)
	// Первая реакция не перезаписывается
	assert.True(t, loaded.FirstResponseAt.Equal(testNow.Add(2*time.Hour)))

	// Закрыть можно только решенную аварию
	_, err = svc.Close(alarm.ID, env.Dispatcher)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	env.at(testNow.Add(30 * time.Hour))
	resolved, err := svc.Resolve(alarm.ID, "Module replaced", env.TechA)
	require.NoError(t, err)
	assert.Equal(t, models.AlarmResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	_, err = svc.Close(alarm.ID, env.TechA)
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	closed, err := svc.Close(alarm.ID, env.Dispatcher)
	require.NoError(t, err)
	assert.Equal(t, models.AlarmClosed, closed.Status)

	loaded, err = svc.GetAlarm(alarm.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Remarks, 2)
	assert.Equal(t, "Resolved", loaded.Remarks[0].InitialFindings)
	assert.Equal(t, "Module replaced", loaded.Remarks[0].PlannedActions)

	_, err = svc.AddRemark(alarm.ID, RemarkInput{InitialFindings: "late", PlannedActions: "none"}, env.TechA)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestAlarmService_InvalidTransitions(t *testing.T) {
	env, svc, _ := setupAlarmServiceTest(t)

	scheduled := env.insertAlarm(t, env.Fixture.Sites[0], models.AlarmScheduled, testNow)
	_, err := svc.Acknowledge(scheduled.ID, env.TechA)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	// Ремарка на решенную аварию не меняет статус
	resolved := env.insertAlarm(t, env.Fixture.Sites[0], models.AlarmResolved, testNow)
	_, err = svc.AddRemark(resolved.ID, RemarkInput{InitialFindings: "follow-up", PlannedActions: "monitor"}, env.Dispatcher)
	require.NoError(t, err)
	var stored models.AlarmRecord
	require.NoError(t, env.DB.First(&stored, resolved.ID).Error)
	assert.Equal(t, models.AlarmResolved, stored.Status)

	_, err = svc.Resolve(9999, "", env.TechA)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAlarmService_SoftDelete(t *testing.T) {
	env, svc, _ := setupAlarmServiceTest(t)
	alarm := env.insertAlarm(t, env.Fixture.Sites[0], models.AlarmOpen, testNow)

	assert.True(t, errors.Is(svc.SoftDelete(alarm.ID, env.TechA), ErrPermissionDenied))
	require.NoError(t, svc.SoftDelete(alarm.ID, env.Dispatcher))

	_, err := svc.GetAlarm(alarm.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	alarms, err := svc.ListAlarms(AlarmFilter{})
	require.NoError(t, err)
	assert.Empty(t, alarms)

	var total int64
	env.DB.Unscoped().Model(&models.AlarmRecord{}).Count(&total)
	assert.Equal(t, int64(1), total)
}

func TestAlarmService_ListAndStats(t *testing.T) {
	env, svc, _ := setupAlarmServiceTest(t)
	bks1, bks2, jkt := env.Fixture.Sites[0], env.Fixture.Sites[1], env.Fixture.Sites[2]

	env.insertAlarm(t, bks1, models.AlarmOpen, testNow)
	env.insertAlarm(t, bks1, models.AlarmResolved, testNow)
	env.insertAlarm(t, bks2, models.AlarmOpen, testNow)
	env.insertAlarm(t, jkt, models.AlarmOpen, testNow)
	env.insertAlarm(t, jkt, models.AlarmClosed, testNow)

	open, err := svc.ListAlarms(AlarmFilter{Status: "open"})
	require.NoError(t, err)
	assert.Len(t, open, 3)

	search, err := svc.ListAlarms(AlarmFilter{Search: "jakarta"})
	require.NoError(t, err)
	assert.Len(t, search, 2)

	_, err = svc.ListAlarms(AlarmFilter{Category: "FLOOD"})
	assert.True(t, errors.Is(err, ErrValidation))

	stats, err := svc.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.StatusCounts[models.AlarmOpen])
	assert.Equal(t, int64(0), stats.StatusCounts[models.AlarmScheduled])
	assert.Equal(t, int64(5), stats.CategoryCounts[models.AlarmCellDown])
	require.Len(t, stats.TopSites, 3)
	// При равенстве количества порядок по коду сайта
	assert.Equal(t, "BKS0001", stats.TopSites[0].SiteCode)
	assert.Equal(t, "JKT0101", stats.TopSites[1].SiteCode)
	assert.Equal(t, int64(2), stats.TopSites[1].Count)

	site, alarms, err := svc.SiteAlarms("JKT0101")
	require.NoError(t, err)
	assert.Equal(t, "Jakarta Pusat", site.Name)
	assert.Len(t, alarms, 2)

	_, _, err = svc.SiteAlarms("XXX0000")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAlarmService_ConcurrentWriteConflict(t *testing.T) {
	env, svc, _ := setupAlarmServiceTest(t)
	alarm := env.insertAlarm(t, env.Fixture.Sites[0], models.AlarmOpen, testNow)

	bumpVersionOnLoad(t, env.DB, "alarm_records")
	_, err := svc.AddRemark(alarm.ID, RemarkInput{
		InitialFindings: "battery low",
		PlannedActions:  "replace rectifier module",
	}, env.TechA)
	assert.True(t, errors.Is(err, ErrConflict))

	// Ремарка записывается до смены статуса и откатывается вместе с ней
	var remarks int64
	require.NoError(t, env.DB.Model(&models.AlarmRemark{}).Where("alarm_id = ?", alarm.ID).Count(&remarks).Error)
	assert.Zero(t, remarks)

	var stored models.AlarmRecord
	require.NoError(t, env.DB.First(&stored, alarm.ID).Error)
	assert.Equal(t, models.AlarmOpen, stored.Status)
	assert.Nil(t, stored.FirstResponseAt)
	assert.Equal(t, 1, stored.Version)
}
