package api

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"enom_tracker/services"
)

// AlarmAPI аварии, загрузка файлов и справочник сайтов
type AlarmAPI struct {
	alarms         *services.AlarmService
	imports        *services.ImportService
	sites          *services.SiteService
	maxUploadBytes int64
}

func NewAlarmAPI(alarms *services.AlarmService, imports *services.ImportService, sites *services.SiteService, maxUploadMB int) *AlarmAPI {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &AlarmAPI{alarms: alarms, imports: imports, sites: sites, maxUploadBytes: int64(maxUploadMB) << 20}
}

// ListAlarms аварии по приоритету
// GET /api/alarms
func (api *AlarmAPI) ListAlarms(c *gin.Context) {
	alarms, err := api.alarms.ListAlarms(services.AlarmFilter{
		Category: c.Query("category"),
		Status:   c.Query("status"),
		Search:   c.Query("search"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, alarms)
}

// GetAlarm авария с замечаниями
// GET /api/alarms/:id
func (api *AlarmAPI) GetAlarm(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	alarm, err := api.alarms.GetAlarm(id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, alarm)
}

// Stats сводка по авариям
// GET /api/alarms/stats
func (api *AlarmAPI) Stats(c *gin.Context) {
	stats, err := api.alarms.Stats()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, stats)
}

// Acknowledge подтверждает аварию
// POST /api/alarms/:id/acknowledge
func (api *AlarmAPI) Acknowledge(c *gin.Context) {
	api.withAlarm(c, func(id uint, actor services.Actor) (interface{}, error) {
		return api.alarms.Acknowledge(id, actor)
	})
}

// AddRemark добавляет план реагирования
// POST /api/alarms/:id/remarks
func (api *AlarmAPI) AddRemark(c *gin.Context) {
	var input services.RemarkInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Неверный формат данных: "+err.Error())
		return
	}
	api.withAlarm(c, func(id uint, actor services.Actor) (interface{}, error) {
		return api.alarms.AddRemark(id, input, actor)
	})
}

// ResolveRequest необязательная заметка о решении
type ResolveRequest struct {
	Note string `json:"note"`
}

// Resolve отмечает аварию решенной
// POST /api/alarms/:id/resolve
func (api *AlarmAPI) Resolve(c *gin.Context) {
	var req ResolveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Неверный формат данных: "+err.Error())
			return
		}
	}
	api.withAlarm(c, func(id uint, actor services.Actor) (interface{}, error) {
		return api.alarms.Resolve(id, req.Note, actor)
	})
}

// Close закрывает решенную аварию
// POST /api/alarms/:id/close
func (api *AlarmAPI) Close(c *gin.Context) {
	api.withAlarm(c, func(id uint, actor services.Actor) (interface{}, error) {
		return api.alarms.Close(id, actor)
	})
}

// DeleteAlarm удаляет аварию (мягкое удаление)
// DELETE /api/alarms/:id
func (api *AlarmAPI) DeleteAlarm(c *gin.Context) {
	api.withAlarm(c, func(id uint, actor services.Actor) (interface{}, error) {
		return gin.H{"message": "Авария удалена"}, api.alarms.SoftDelete(id, actor)
	})
}

func (api *AlarmAPI) withAlarm(c *gin.Context, op func(id uint, actor services.Actor) (interface{}, error)) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	result, err := op(id, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// UploadAlarms разбирает файл и возвращает токен загрузки с предпросмотром
// POST /api/imports (multipart: file, category)
func (api *AlarmAPI) UploadAlarms(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, api.maxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "Файл не передан или превышает допустимый размер")
		return
	}
	file, err := header.Open()
	if err != nil {
		badRequest(c, "Не удалось прочитать файл")
		return
	}
	defer file.Close()

	staged, err := api.imports.StageImport(file, filepath.Base(header.Filename), c.PostForm("category"), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, staged)
}

// GetImport предпросмотр загрузки
// GET /api/imports/:token
func (api *AlarmAPI) GetImport(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	staged, err := api.imports.GetImport(c.Param("token"), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, staged)
}

// CommitImport создает аварии из загрузки
// POST /api/imports/:token/commit
func (api *AlarmAPI) CommitImport(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	result, err := api.imports.CommitImport(c.Param("token"), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// DiscardImport отменяет загрузку
// DELETE /api/imports/:token
func (api *AlarmAPI) DiscardImport(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if err := api.imports.DiscardImport(c.Param("token"), actor); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"message": "Загрузка отменена"})
}

// ListSites справочник сайтов
// GET /api/sites
func (api *AlarmAPI) ListSites(c *gin.Context) {
	sites, err := api.sites.ListSites(c.Query("search"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, sites)
}

// UpsertSites загружает справочник сайтов
// POST /api/sites
func (api *AlarmAPI) UpsertSites(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var inputs []services.SiteInput
	if err := c.ShouldBindJSON(&inputs); err != nil {
		badRequest(c, "Неверный формат данных: "+err.Error())
		return
	}
	count, err := api.sites.UpsertSites(inputs, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"upserted": count})
}

// SiteAlarms аварии сайта
// GET /api/sites/:code/alarms
func (api *AlarmAPI) SiteAlarms(c *gin.Context) {
	site, alarms, err := api.alarms.SiteAlarms(c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"site": site, "alarms": alarms})
}
