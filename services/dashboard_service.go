package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"enom_tracker/models"
)

const (
	// WindowDays длина окна отчетов
	WindowDays = 30
	// TrendDays длина ряда динамики
	TrendDays = 7
	// WorkloadHorizonDays горизонт планов при расчете нагрузки
	WorkloadHorizonDays = 7
	// TopSitesLimit число сайтов в рейтинге
	TopSitesLimit = 5
	// DefaultSLAHours норматив решения аварии
	DefaultSLAHours = 72
	// responseMidpointHours время реакции, которому соответствует оценка 50
	responseMidpointHours = 24.0
	responseSteepness     = 0.1
)

// DashboardService расчет показателей дашборда в локальной зоне
type DashboardService struct {
	*Base
	Cache    *CacheService
	SLAHours int
	CacheTTL time.Duration
}

// NewDashboardService создает сервис; cache может быть nil
func NewDashboardService(base *Base, cache *CacheService, slaHours int) *DashboardService {
	if slaHours <= 0 {
		slaHours = DefaultSLAHours
	}
	return &DashboardService{Base: base, Cache: cache, SLAHours: slaHours, CacheTTL: CacheTTLShort}
}

// Window полуоткрытый интервал [Start, End) в UTC
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Windows текущее окно (с локальной полуночи 30 дней назад) и предыдущее (дни 31-60)
func Windows(now time.Time, zone *Zone) (current, previous Window) {
	current = Window{Start: zone.DaysAgo(now, WindowDays), End: zone.DaysAgo(now, -1)}
	previous = Window{Start: zone.DaysAgo(now, 2*WindowDays), End: current.Start}
	return current, previous
}

// WindowMetrics показатели за одно окно
type WindowMetrics struct {
	Window             Window                        `json:"window"`
	TotalTickets       int                           `json:"total_tickets"`
	StatusCounts       map[models.TicketStatus]int   `json:"status_counts"`
	CategoryCounts     map[models.TicketCategory]int `json:"category_counts"`
	AvgResolutionHours float64                       `json:"avg_resolution_hours"`
	TopSites           []SiteCount                   `json:"top_sites"`
	AssigneeCounts     map[string]int                `json:"assignee_counts"`
	AlarmResponseHours *float64                      `json:"alarm_response_hours"`
	AlarmResponseScore float64                       `json:"alarm_response_score"`
	SLAResolutionRate  float64                       `json:"sla_resolution_rate"`
	PlanComplianceRate float64                       `json:"plan_compliance_rate"`
	PlanStatusCounts   map[models.PlanStatus]int     `json:"plan_status_counts"`
	AlarmCategoryCount map[models.AlarmCategory]int  `json:"alarm_category_counts"`
}

// TrendPoint количество тикетов за локальный день
type TrendPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// TechnicianLoad нагрузка инженера
type TechnicianLoad struct {
	UserID        uint   `json:"user_id"`
	Username      string `json:"username"`
	PlannedSites  int    `json:"planned_sites"`
	ActiveTickets int    `json:"active_tickets"`
	Total         int    `json:"total"`
}

// WorkloadReport распределение нагрузки и оценка равномерности 0-100
type WorkloadReport struct {
	Technicians  []TechnicianLoad `json:"technicians"`
	BalanceScore float64          `json:"balance_score"`
}

// SiteMarker сайт с активными тикетами для карты
type SiteMarker struct {
	SiteCode     string                      `json:"site_id"`
	Name         string                      `json:"name"`
	Region       string                      `json:"kabupaten"`
	Latitude     float64                     `json:"lat"`
	Longitude    float64                     `json:"long"`
	TicketCount  int                         `json:"ticket_count"`
	StatusCounts map[models.TicketStatus]int `json:"status_counts"`
	Status       models.TicketStatus         `json:"status"`
}

// DashboardSummary полный набор показателей дашборда
type DashboardSummary struct {
	GeneratedAt time.Time                     `json:"generated_at"`
	Zone        string                        `json:"zone"`
	Snapshot    map[models.TicketStatus]int64 `json:"snapshot"`
	Current     WindowMetrics                 `json:"current"`
	Previous    WindowMetrics                 `json:"previous"`
	Trend       []TrendPoint                  `json:"trend"`
	Workload    WorkloadReport                `json:"workload"`
	SiteMarkers []SiteMarker                  `json:"site_markers"`
}

// Summary собирает дашборд на момент now в зоне zoneName (пустая строка: зона сервиса).
// Для инженера снимок статусов ограничен его тикетами.
func (s *DashboardService) Summary(ctx context.Context, now time.Time, zoneName string, viewer Actor) (*DashboardSummary, error) {
	zone := s.Zone
	if zoneName != "" {
		z, err := LoadZone(zoneName)
		if err != nil {
			return nil, err
		}
		zone = z
	}
	now = now.UTC()

	cacheKey := GenerateCacheKey("dashboard", zone.Name(), string(viewer.Role),
		strconv.FormatUint(uint64(viewerScope(viewer)), 10), now.Truncate(time.Minute).Format(time.RFC3339))
	if s.Cache != nil {
		var cached DashboardSummary
		if ok, err := s.Cache.GetJSON(ctx, cacheKey, &cached); err == nil && ok {
			return &cached, nil
		} else if err != nil {
			s.Logger.Warn("dashboard cache read failed", zap.Error(err))
		}
	}

	snapshot, err := s.StatusSnapshot(viewer)
	if err != nil {
		return nil, err
	}
	current, previous := Windows(now, zone)
	cur, err := s.WindowMetrics(current, zone)
	if err != nil {
		return nil, err
	}
	prev, err := s.WindowMetrics(previous, zone)
	if err != nil {
		return nil, err
	}
	trend, err := s.Trend(now, zone)
	if err != nil {
		return nil, err
	}
	workload, err := s.Workload(now, zone)
	if err != nil {
		return nil, err
	}
	markers, err := s.SiteMarkers()
	if err != nil {
		return nil, err
	}

	summary := &DashboardSummary{
		GeneratedAt: now,
		Zone:        zone.Name(),
		Snapshot:    snapshot,
		Current:     *cur,
		Previous:    *prev,
		Trend:       trend,
		Workload:    *workload,
		SiteMarkers: markers,
	}

	if s.Cache != nil {
		if err := s.Cache.SetJSON(ctx, cacheKey, summary, s.CacheTTL); err != nil {
			s.Logger.Warn("dashboard cache write failed", zap.Error(err))
		}
	}
	return summary, nil
}

func viewerScope(viewer Actor) uint {
	if viewer.IsTechnician() {
		return viewer.ID
	}
	return 0
}

// StatusSnapshot текущее число тикетов по статусам (без окна).
// Инженер видит только назначенные ему тикеты.
func (s *DashboardService) StatusSnapshot(viewer Actor) (map[models.TicketStatus]int64, error) {
	snapshot := make(map[models.TicketStatus]int64, len(models.TicketStatuses))
	for _, st := range models.TicketStatuses {
		snapshot[st] = 0
	}

	query := s.DB.Model(&models.Ticket{})
	if viewer.IsTechnician() {
		query = query.Where("assigned_to_id = ?", viewer.ID)
	}
	type group struct {
		Label string
		Total int64
	}
	var groups []group
	if err := query.Select("status AS label, COUNT(*) AS total").Group("status").Scan(&groups).Error; err != nil {
		return nil, fmt.Errorf("ошибка расчета снимка статусов: %w", err)
	}
	for _, g := range groups {
		snapshot[models.TicketStatus(g.Label)] = g.Total
	}
	return snapshot, nil
}

// WindowMetrics показатели тикетов, аварий и планов за окно
func (s *DashboardService) WindowMetrics(w Window, zone *Zone) (*WindowMetrics, error) {
	m := &WindowMetrics{
		Window:             w,
		StatusCounts:       make(map[models.TicketStatus]int, len(models.TicketStatuses)),
		CategoryCounts:     make(map[models.TicketCategory]int, len(models.TicketCategories)),
		AssigneeCounts:     make(map[string]int),
		PlanStatusCounts:   make(map[models.PlanStatus]int, len(models.PlanStatuses)),
		AlarmCategoryCount: make(map[models.AlarmCategory]int, len(models.AlarmCategories)),
	}
	for _, st := range models.TicketStatuses {
		m.StatusCounts[st] = 0
	}
	for _, c := range models.TicketCategories {
		m.CategoryCounts[c] = 0
	}
	for _, st := range models.PlanStatuses {
		m.PlanStatusCounts[st] = 0
	}
	for _, c := range models.AlarmCategories {
		m.AlarmCategoryCount[c] = 0
	}

	var tickets []models.Ticket
	if err := s.DB.Preload("Site").Preload("AssignedTo").
		Where("created_at >= ? AND created_at < ?", w.Start, w.End).
		Find(&tickets).Error; err != nil {
		return nil, fmt.Errorf("ошибка выборки тикетов: %w", err)
	}

	var resolutionHours []float64
	siteCounts := make(map[string]*SiteCount)
	for _, t := range tickets {
		m.TotalTickets++
		m.StatusCounts[t.Status]++
		m.CategoryCounts[t.Category]++
		if t.AssignedTo != nil {
			m.AssigneeCounts[t.AssignedTo.Username]++
		}
		if t.ClosedAt != nil {
			created := zone.ToLocal(t.CreatedAt)
			closed := zone.ToLocal(*t.ClosedAt)
			resolutionHours = append(resolutionHours, closed.Sub(created).Hours())
		}
		if t.Site != nil {
			sc, ok := siteCounts[t.Site.SiteCode]
			if !ok {
				sc = &SiteCount{SiteCode: t.Site.SiteCode, Name: t.Site.Name}
				siteCounts[t.Site.SiteCode] = sc
			}
			sc.Count++
		}
	}
	m.AvgResolutionHours = round1(mean(resolutionHours))
	m.TopSites = topSites(siteCounts, TopSitesLimit)

	var alarms []models.AlarmRecord
	if err := s.DB.Where("created_at >= ? AND created_at < ?", w.Start, w.End).
		Find(&alarms).Error; err != nil {
		return nil, fmt.Errorf("ошибка выборки аварий: %w", err)
	}
	var responseHours []float64
	resolved, withinSLA := 0, 0
	sla := time.Duration(s.SLAHours) * time.Hour
	for _, a := range alarms {
		m.AlarmCategoryCount[a.Category]++
		if a.FirstResponseAt != nil {
			responseHours = append(responseHours, a.FirstResponseAt.Sub(a.CreatedAt).Hours())
		}
		if a.ResolvedAt != nil {
			resolved++
			if a.ResolvedAt.Sub(a.CreatedAt) <= sla {
				withinSLA++
			}
		}
	}
	if len(responseHours) > 0 {
		avg := round1(mean(responseHours))
		m.AlarmResponseHours = &avg
	}
	m.AlarmResponseScore = round1(ResponseTimeScore(responseHours))
	m.SLAResolutionRate = round1(percentage(withinSLA, resolved))

	// План относится к окну по своей календарной дате
	var plans []models.DailyPlan
	if err := s.DB.Where("plan_date >= ? AND plan_date < ?", zone.LocalDate(w.Start), zone.LocalDate(w.End)).
		Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("ошибка выборки планов: %w", err)
	}
	reviewed, approved := 0, 0
	for _, p := range plans {
		m.PlanStatusCounts[p.Status]++
		if p.Status.IsReviewable() {
			reviewed++
			if p.Status == models.PlanApproved {
				approved++
			}
		}
	}
	m.PlanComplianceRate = round1(percentage(approved, reviewed))

	return m, nil
}

// Trend количество созданных тикетов за каждый из 7 локальных дней, от старых к новым
func (s *DashboardService) Trend(now time.Time, zone *Zone) ([]TrendPoint, error) {
	start := zone.DaysAgo(now, TrendDays-1)
	end := zone.DaysAgo(now, -1)

	var created []time.Time
	if err := s.DB.Model(&models.Ticket{}).
		Where("created_at >= ? AND created_at < ?", start, end).
		Pluck("created_at", &created).Error; err != nil {
		return nil, fmt.Errorf("ошибка расчета динамики: %w", err)
	}

	points := make([]TrendPoint, TrendDays)
	for i := 0; i < TrendDays; i++ {
		dayStart := zone.DaysAgo(now, TrendDays-1-i)
		points[i] = TrendPoint{Date: zone.ToLocal(dayStart).Format("2006-01-02")}
	}
	for _, c := range created {
		for i := TrendDays - 1; i >= 0; i-- {
			if !c.Before(zone.DaysAgo(now, TrendDays-1-i)) {
				points[i].Count++
				break
			}
		}
	}
	return points, nil
}

// Workload нагрузка инженеров: сайты в планах на ближайшие 7 дней и активные тикеты
func (s *DashboardService) Workload(now time.Time, zone *Zone) (*WorkloadReport, error) {
	var technicians []models.User
	if err := s.DB.Where("role = ?", models.RoleTechnician).Order("username").Find(&technicians).Error; err != nil {
		return nil, err
	}

	today := zone.LocalDate(now)
	horizon := today.AddDate(0, 0, WorkloadHorizonDays)

	type countRow struct {
		UserID uint
		Total  int
	}
	var planned []countRow
	if err := s.DB.Model(&models.PlannedSite{}).
		Select("daily_plans.owner_id AS user_id, COUNT(planned_sites.id) AS total").
		Joins("JOIN daily_plans ON daily_plans.id = planned_sites.plan_id").
		Where("daily_plans.plan_date >= ? AND daily_plans.plan_date < ?", today, horizon).
		Group("daily_plans.owner_id").
		Scan(&planned).Error; err != nil {
		return nil, err
	}
	var active []countRow
	if err := s.DB.Model(&models.Ticket{}).
		Select("assigned_to_id AS user_id, COUNT(*) AS total").
		Where("assigned_to_id IS NOT NULL AND status IN ?", models.ActiveTicketStatuses()).
		Group("assigned_to_id").
		Scan(&active).Error; err != nil {
		return nil, err
	}

	plannedBy := make(map[uint]int, len(planned))
	for _, r := range planned {
		plannedBy[r.UserID] = r.Total
	}
	activeBy := make(map[uint]int, len(active))
	for _, r := range active {
		activeBy[r.UserID] = r.Total
	}

	report := &WorkloadReport{Technicians: make([]TechnicianLoad, 0, len(technicians))}
	loads := make([]float64, 0, len(technicians))
	for _, tech := range technicians {
		load := TechnicianLoad{
			UserID:        tech.ID,
			Username:      tech.Username,
			PlannedSites:  plannedBy[tech.ID],
			ActiveTickets: activeBy[tech.ID],
		}
		load.Total = load.PlannedSites + load.ActiveTickets
		report.Technicians = append(report.Technicians, load)
		loads = append(loads, float64(load.Total))
	}
	report.BalanceScore = round1(WorkloadBalanceScore(loads))
	return report, nil
}

// SiteMarkers сайты с активными тикетами и координатами
func (s *DashboardService) SiteMarkers() ([]SiteMarker, error) {
	var tickets []models.Ticket
	if err := s.DB.Preload("Site").
		Where("status IN ?", models.ActiveTicketStatuses()).
		Find(&tickets).Error; err != nil {
		return nil, err
	}

	bySite := make(map[uint]*SiteMarker)
	for _, t := range tickets {
		if t.Site == nil || (t.Site.Latitude == 0 && t.Site.Longitude == 0) {
			continue
		}
		marker, ok := bySite[t.SiteID]
		if !ok {
			marker = &SiteMarker{
				SiteCode:     t.Site.SiteCode,
				Name:         t.Site.Name,
				Region:       t.Site.Region,
				Latitude:     t.Site.Latitude,
				Longitude:    t.Site.Longitude,
				StatusCounts: map[models.TicketStatus]int{},
			}
			bySite[t.SiteID] = marker
		}
		marker.TicketCount++
		marker.StatusCounts[t.Status]++
	}

	markers := make([]SiteMarker, 0, len(bySite))
	for _, marker := range bySite {
		// Преобладающий статус; при равенстве выигрывает более ранний в цикле
		best := 0
		for _, st := range models.ActiveTicketStatuses() {
			if marker.StatusCounts[st] > best {
				best = marker.StatusCounts[st]
				marker.Status = st
			}
		}
		markers = append(markers, *marker)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].SiteCode < markers[j].SiteCode })
	return markers, nil
}

// WorkloadBalanceScore 100 × (1 − min(cv, 1)) по коэффициенту вариации генеральной совокупности.
// Без инженеров или при нулевой средней нагрузке распределение считается равномерным.
func WorkloadBalanceScore(loads []float64) float64 {
	if len(loads) == 0 {
		return 100
	}
	avg := mean(loads)
	if avg == 0 {
		return 100
	}
	var sq float64
	for _, l := range loads {
		sq += (l - avg) * (l - avg)
	}
	cv := math.Sqrt(sq/float64(len(loads))) / avg
	return 100 * (1 - math.Min(cv, 1))
}

// ResponseTimeScore логистическая оценка среднего времени реакции: 24 ч дают 50,
// быстрее ближе к 100, медленнее ближе к 0. Без данных 50.
func ResponseTimeScore(responseHours []float64) float64 {
	if len(responseHours) == 0 {
		return 50
	}
	return ResponseScoreForHours(mean(responseHours))
}

// ResponseScoreForHours значение логистической кривой для среднего времени реакции
func ResponseScoreForHours(avgHours float64) float64 {
	return 100 / (1 + math.Exp(responseSteepness*(avgHours-responseMidpointHours)))
}

func topSites(counts map[string]*SiteCount, limit int) []SiteCount {
	out := make([]SiteCount, 0, len(counts))
	for _, sc := range counts {
		out = append(out, *sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].SiteCode < out[j].SiteCode
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// round1 округление до одного знака для отображения
func round1(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(1).Float64()
	return f
}
