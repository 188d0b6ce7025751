package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"enom_tracker/services"
)

// DashboardAPI показатели, список сайтов без плана и выгрузки
type DashboardAPI struct {
	dashboard *services.DashboardService
	priority  *services.PriorityService
	exports   *services.ExportService
	cache     *services.CacheService
}

func NewDashboardAPI(dashboard *services.DashboardService, priority *services.PriorityService, exports *services.ExportService, cache *services.CacheService) *DashboardAPI {
	return &DashboardAPI{dashboard: dashboard, priority: priority, exports: exports, cache: cache}
}

// GetSummary сводка дашборда; ?tz= задает зону отображения
// GET /api/dashboard/summary
func (api *DashboardAPI) GetSummary(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	summary, err := api.dashboard.Summary(c.Request.Context(), api.dashboard.Clock.Now(), c.Query("tz"), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, summary)
}

// GetWorkload нагрузка инженеров
// GET /api/dashboard/workload
func (api *DashboardAPI) GetWorkload(c *gin.Context) {
	report, err := api.dashboard.Workload(api.dashboard.Clock.Now(), api.dashboard.Zone)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, report)
}

// GetBacklog сайты с открытыми авариями без плана
// GET /api/dashboard/backlog
func (api *DashboardAPI) GetBacklog(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := api.priority.SitesNeedingPlan(limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, entries)
}

// RecomputeScores пересчитывает приоритет всех сайтов
// POST /api/dashboard/recompute
func (api *DashboardAPI) RecomputeScores(c *gin.Context) {
	count, err := api.priority.RecomputeAll()
	if err != nil {
		respondError(c, err)
		return
	}
	if api.cache != nil {
		_ = api.cache.InvalidatePrefix(c.Request.Context(), services.GenerateCacheKey("dashboard"))
	}
	respondOK(c, gin.H{"sites": count})
}

// CacheStats статистика кэша отчетов
// GET /api/dashboard/cache
func (api *DashboardAPI) CacheStats(c *gin.Context) {
	if api.cache == nil {
		respondOK(c, gin.H{"backend": "disabled"})
		return
	}
	respondOK(c, api.cache.Stats())
}

// ExportBacklog Excel файл сайтов без плана
// GET /api/exports/backlog.xlsx
func (api *DashboardAPI) ExportBacklog(c *gin.Context) {
	var buf bytes.Buffer
	if _, err := api.exports.WriteBacklogWorkbook(&buf); err != nil {
		respondError(c, err)
		return
	}
	filename := fmt.Sprintf("backlog_%s.xlsx", api.dashboard.Zone.ToLocal(api.dashboard.Clock.Now()).Format("20060102"))
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// ExportDashboard PDF сводки дашборда
// GET /api/exports/dashboard.pdf
func (api *DashboardAPI) ExportDashboard(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	summary, err := api.dashboard.Summary(c.Request.Context(), api.dashboard.Clock.Now(), c.Query("tz"), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := api.exports.WriteDashboardPDF(summary, &buf); err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=dashboard.pdf")
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}
