package services

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"enom_tracker/models"
)

const (
	// ScoreWindowDays окно истории для приоритета
	ScoreWindowDays = 30
	// AlarmWeight вес аварии относительно записи в плане
	AlarmWeight = 2
)

// PriorityService расчет приоритета сайтов и список сайтов без плана
type PriorityService struct {
	*Base
}

func NewPriorityService(base *Base) *PriorityService {
	return &PriorityService{Base: base}
}

// BacklogEntry сайт с необработанными авариями и без плана на сегодня и далее
type BacklogEntry struct {
	Site       models.Site `json:"site"`
	Score      int         `json:"priority_score"`
	OpenAlarms int64       `json:"open_alarms"`
}

// ComputeScore приоритет сайта на текущий момент:
// 2 × аварии за 30 дней + записи в планах с датой не ранее 30 дней назад
func (s *PriorityService) ComputeScore(siteID uint) (int, error) {
	return s.computeScore(s.DB, siteID, s.now())
}

func (s *PriorityService) computeScore(tx *gorm.DB, siteID uint, now time.Time) (int, error) {
	since := now.Add(-ScoreWindowDays * 24 * time.Hour)

	var alarms int64
	if err := tx.Model(&models.AlarmRecord{}).
		Where("site_id = ? AND created_at >= ?", siteID, since).
		Count(&alarms).Error; err != nil {
		return 0, fmt.Errorf("ошибка подсчета аварий сайта: %w", err)
	}

	planSince := s.Zone.LocalDate(now).AddDate(0, 0, -ScoreWindowDays)
	var planned int64
	if err := tx.Model(&models.PlannedSite{}).
		Joins("JOIN daily_plans ON daily_plans.id = planned_sites.plan_id").
		Where("planned_sites.site_id = ? AND daily_plans.plan_date >= ?", siteID, planSince).
		Count(&planned).Error; err != nil {
		return 0, fmt.Errorf("ошибка подсчета планов сайта: %w", err)
	}

	return AlarmWeight*int(alarms) + int(planned), nil
}

// RecomputeSites пересчитывает приоритет и записывает его во все открытые аварии
// указанных сайтов. Результат зависит только от текущих данных, поэтому повтор безопасен.
func (s *PriorityService) RecomputeSites(tx *gorm.DB, siteIDs []uint) (map[uint]int, error) {
	now := s.now()
	scores := make(map[uint]int, len(siteIDs))
	for _, siteID := range uniqueIDs(siteIDs) {
		score, err := s.computeScore(tx, siteID, now)
		if err != nil {
			return nil, err
		}
		if err := tx.Model(&models.AlarmRecord{}).
			Where("site_id = ? AND status = ?", siteID, models.AlarmOpen).
			Update("priority_score", score).Error; err != nil {
			return nil, fmt.Errorf("ошибка записи приоритета: %w", err)
		}
		scores[siteID] = score
	}
	s.Metrics.ObserveScoreRecompute(len(scores))
	return scores, nil
}

// RecomputeAll пересчитывает приоритет для всех сайтов с авариями (обслуживание)
func (s *PriorityService) RecomputeAll() (int, error) {
	var siteIDs []uint
	count := 0
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.AlarmRecord{}).Distinct().Pluck("site_id", &siteIDs).Error; err != nil {
			return err
		}
		scores, err := s.RecomputeSites(tx, siteIDs)
		count = len(scores)
		return err
	})
	return count, err
}

// SitesNeedingPlan сайты с авариями OPEN/ACKNOWLEDGED, которых нет ни в одном плане
// с датой от сегодняшней, по убыванию приоритета (при равенстве по коду сайта)
func (s *PriorityService) SitesNeedingPlan(limit int) ([]BacklogEntry, error) {
	now := s.now()
	today := s.Zone.LocalDate(now)

	type openCount struct {
		SiteID uint
		Total  int64
	}
	var counts []openCount
	if err := s.DB.Model(&models.AlarmRecord{}).
		Select("site_id, COUNT(*) AS total").
		Where("status IN ?", models.AlarmStatusesNeedingPlan()).
		Group("site_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return []BacklogEntry{}, nil
	}

	var plannedIDs []uint
	if err := s.DB.Model(&models.PlannedSite{}).
		Joins("JOIN daily_plans ON daily_plans.id = planned_sites.plan_id").
		Where("daily_plans.plan_date >= ?", today).
		Distinct().
		Pluck("planned_sites.site_id", &plannedIDs).Error; err != nil {
		return nil, err
	}
	planned := make(map[uint]bool, len(plannedIDs))
	for _, id := range plannedIDs {
		planned[id] = true
	}

	var siteIDs []uint
	openBySite := make(map[uint]int64)
	for _, c := range counts {
		if planned[c.SiteID] {
			continue
		}
		siteIDs = append(siteIDs, c.SiteID)
		openBySite[c.SiteID] = c.Total
	}
	if len(siteIDs) == 0 {
		return []BacklogEntry{}, nil
	}

	var sites []models.Site
	if err := s.DB.Where("id IN ?", siteIDs).Find(&sites).Error; err != nil {
		return nil, err
	}

	entries := make([]BacklogEntry, 0, len(sites))
	for _, site := range sites {
		score, err := s.computeScore(s.DB, site.ID, now)
		if err != nil {
			return nil, err
		}
		entries = append(entries, BacklogEntry{Site: site, Score: score, OpenAlarms: openBySite[site.ID]})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Site.SiteCode < entries[j].Site.SiteCode
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
