package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"enom_tracker/services"
)

// PlanAPI ежедневные планы инженеров
type PlanAPI struct {
	plans   *services.PlanService
	exports *services.ExportService
}

func NewPlanAPI(plans *services.PlanService, exports *services.ExportService) *PlanAPI {
	return &PlanAPI{plans: plans, exports: exports}
}

// ListPlans планы (инженер видит только свои)
// GET /api/plans
func (api *PlanAPI) ListPlans(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	plans, err := api.plans.ListPlans(services.PlanFilter{
		Date:   c.Query("date"),
		Status: c.Query("status"),
	}, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, plans)
}

// GetPlan план с сайтами и комментариями
// GET /api/plans/:id
func (api *PlanAPI) GetPlan(c *gin.Context) {
	api.withPlan(c, func(id uint, actor services.Actor) (interface{}, error) {
		return api.plans.GetPlan(id, actor)
	})
}

// ExportPlan Excel файл плана с отметками о выполнении
// GET /api/plans/:id/export
func (api *PlanAPI) ExportPlan(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	plan, err := api.plans.GetPlan(id, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := api.exports.WritePlanWorkbook(plan, &buf); err != nil {
		respondError(c, err)
		return
	}
	filename := fmt.Sprintf("plan_%d_%s.xlsx", plan.ID, plan.PlanDate.Format("20060102"))
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// CreatePlan создает план
// POST /api/plans
func (api *PlanAPI) CreatePlan(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var input services.CreatePlanInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Неверный формат данных: "+err.Error())
		return
	}
	plan, err := api.plans.CreatePlan(input, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, plan)
}

// UpdatePlan заменяет список сайтов плана
// PUT /api/plans/:id
func (api *PlanAPI) UpdatePlan(c *gin.Context) {
	var input services.UpdatePlanInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Неверный формат данных: "+err.Error())
		return
	}
	api.withPlan(c, func(id uint, actor services.Actor) (interface{}, error) {
		return api.plans.UpdatePlan(id, input, actor)
	})
}

// SubmitPlan отправляет план на утверждение
// POST /api/plans/:id/submit
func (api *PlanAPI) SubmitPlan(c *gin.Context) {
	api.withPlan(c, func(id uint, actor services.Actor) (interface{}, error) {
		return api.plans.SubmitPlan(id, actor)
	})
}

// ApprovePlan утверждает план
// POST /api/plans/:id/approve
func (api *PlanAPI) ApprovePlan(c *gin.Context) {
	api.withPlan(c, func(id uint, actor services.Actor) (interface{}, error) {
		return api.plans.ApprovePlan(id, actor)
	})
}

// RejectRequest причина отклонения
type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RejectPlan отклоняет план
// POST /api/plans/:id/reject
func (api *PlanAPI) RejectPlan(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Укажите причину отклонения")
		return
	}
	api.withPlan(c, func(id uint, actor services.Actor) (interface{}, error) {
		return api.plans.RejectPlan(id, req.Reason, actor)
	})
}

// CommentRequest текст комментария
type CommentRequest struct {
	Comment string `json:"comment" binding:"required"`
}

// AddComment добавляет комментарий к плану
// POST /api/plans/:id/comments
func (api *PlanAPI) AddComment(c *gin.Context) {
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат данных: "+err.Error())
		return
	}
	api.withPlan(c, func(id uint, actor services.Actor) (interface{}, error) {
		return api.plans.AddPlanComment(id, req.Comment, actor)
	})
}

// DeletePlan удаляет план
// DELETE /api/plans/:id
func (api *PlanAPI) DeletePlan(c *gin.Context) {
	api.withPlan(c, func(id uint, actor services.Actor) (interface{}, error) {
		return gin.H{"message": "План удален"}, api.plans.DeletePlan(id, actor)
	})
}

func (api *PlanAPI) withPlan(c *gin.Context, op func(id uint, actor services.Actor) (interface{}, error)) {
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
