package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enom_tracker/metrics"
	"enom_tracker/models"
)

func setupImportServiceTest(t *testing.T) (*testEnv, *ImportService) {
	env := setupServiceTest(t)
	alarms := NewAlarmService(env.Base, NewPriorityService(env.Base), nil)
	return env, NewImportService(env.Base, alarms, 0)
}

const importCSV = "site_id,description\n" +
	"BKS0001,Cell down\n" +
	"BKS0002,Cell down\n" +
	"MDN0001,unknown site\n" +
	"bad-id,skipped at parse\n"

func TestImportService_StageAndCommit(t *testing.T) {
	env, svc := setupImportServiceTest(t)
	assert.Equal(t, DefaultImportTTL, svc.TTL)

	staged, err := svc.StageImport(strings.NewReader(importCSV), "alarms.csv", "cell_down", env.Dispatcher)
	require.NoError(t, err)
	assert.NotEmpty(t, staged.Token)
	assert.Equal(t, 3, staged.RowCount)
	assert.Equal(t, 1, staged.Skipped)
	assert.Len(t, staged.Preview, 3)
	assert.Equal(t, testNow.Add(DefaultImportTTL), staged.ExpiresAt)

	// До подтверждения аварии не созданы
	var count int64
	env.DB.Model(&models.AlarmRecord{}).Count(&count)
	assert.Zero(t, count)

	preview, err := svc.GetImport(staged.Token, env.Dispatcher)
	require.NoError(t, err)
	assert.Equal(t, staged.Preview, preview.Preview)

	result, err := svc.CommitImport(staged.Token, env.Dispatcher)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	// Неизвестный сайт при загрузке и строка, отброшенная при разборе
	assert.Equal(t, 2, result.Skipped)

	env.DB.Model(&models.AlarmRecord{}).Count(&count)
	assert.Equal(t, int64(2), count)

	// Повторное подтверждение невозможно
	_, err = svc.CommitImport(staged.Token, env.Dispatcher)
	assert.True(t, errors.Is(err, ErrNotFound))
	env.DB.Model(&models.PendingImport{}).Count(&count)
	assert.Zero(t, count)
}

func TestImportService_CommitReportsParseSkips(t *testing.T) {
	env := setupServiceTest(t)
	notifier := &recordingNotifier{}
	reg := metrics.New()
	env.Base.Metrics = reg
	alarms := NewAlarmService(env.Base, NewPriorityService(env.Base), notifier)
	svc := NewImportService(env.Base, alarms, 0)

	staged, err := svc.StageImport(strings.NewReader(importCSV), "alarms.csv", "CELL_DOWN", env.Dispatcher)
	require.NoError(t, err)
	_, err = svc.CommitImport(staged.Token, env.Dispatcher)
	require.NoError(t, err)

	// В уведомление попадают и строки, отброшенные при разборе
	assert.Equal(t, 2, notifier.ingested)
	assert.Equal(t, 2, notifier.skipped)

	families, err := reg.Registry().Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "enom_alarms_ingested_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			got[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2.0, got["processed"])
	assert.Equal(t, 2.0, got["skipped"])
}

func TestImportService_StructuralErrorStoresNothing(t *testing.T) {
	env, svc := setupImportServiceTest(t)

	_, err := svc.StageImport(strings.NewReader("region,alarm\nBekasi,down\n"), "alarms.csv", "CELL_DOWN", env.Dispatcher)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = svc.StageImport(strings.NewReader(importCSV), "alarms.csv", "EARTHQUAKE", env.Dispatcher)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = svc.StageImport(strings.NewReader(importCSV), "alarms.csv", "CELL_DOWN", env.TechA)
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	var count int64
	env.DB.Model(&models.PendingImport{}).Count(&count)
	assert.Zero(t, count)
}

func TestImportService_TokenRules(t *testing.T) {
	env, svc := setupImportServiceTest(t)
	other := ActorFromUser(createDispatcher(t, env, "xl_second"))

	staged, err := svc.StageImport(strings.NewReader(importCSV), "alarms.csv", "POWER_ISSUE", env.Dispatcher)
	require.NoError(t, err)

	_, err = svc.GetImport("not-a-token", env.Dispatcher)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = svc.GetImport("6f1c2d3e-0000-4000-8000-000000000000", env.Dispatcher)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = svc.CommitImport(staged.Token, other)
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	// Просроченная загрузка недоступна и удаляется очисткой
	env.at(testNow.Add(DefaultImportTTL))
	_, err = svc.CommitImport(staged.Token, env.Dispatcher)
	assert.True(t, errors.Is(err, ErrNotFound))

	purged, err := svc.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestImportService_Discard(t *testing.T) {
	env, svc := setupImportServiceTest(t)

	staged, err := svc.StageImport(strings.NewReader(importCSV), "alarms.csv", "OTHER", env.Dispatcher)
	require.NoError(t, err)

	require.NoError(t, svc.DiscardImport(staged.Token, env.Dispatcher))
	_, err = svc.GetImport(staged.Token, env.Dispatcher)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestImportService_StagePurgesExpired(t *testing.T) {
	env, svc := setupImportServiceTest(t)

	_, err := svc.StageImport(strings.NewReader(importCSV), "old.csv", "OTHER", env.Dispatcher)
	require.NoError(t, err)

	env.at(testNow.Add(time.Hour))
	_, err = svc.StageImport(strings.NewReader(importCSV), "new.csv", "OTHER", env.Dispatcher)
	require.NoError(t, err)

	var files []string
	env.DB.Model(&models.PendingImport{}).Pluck("source_file", &files)
	assert.Equal(t, []string{"new.csv"}, files)
}

func createDispatcher(t *testing.T, env *testEnv, username string) *models.User {
	t.Helper()
	user := &models.User{Username: username, PasswordHash: "x", Role: models.RoleDispatcher}
	require.NoError(t, env.DB.Create(user).Error)
	return user
}
