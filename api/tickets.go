package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"enom_tracker/services"
)

// TicketAPI тикеты полевого обслуживания
type TicketAPI struct {
	tickets *services.TicketService
}

func NewTicketAPI(tickets *services.TicketService) *TicketAPI {
	return &TicketAPI{tickets: tickets}
}

// ListTickets список тикетов с фильтрами и пагинацией
// GET /api/tickets
func (api *TicketAPI) ListTickets(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

	tickets, total, err := api.tickets.ListTickets(services.TicketFilter{
		Status:   c.Query("status"),
		Category: c.Query("category"),
		SiteCode: c.Query("site_id"),
		Search:   c.Query("search"),
		Page:     page,
		PerPage:  perPage,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{
		"items":    tickets,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// GetTicket тикет с журналом действий
// GET /api/tickets/:id
func (api *TicketAPI) GetTicket(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	ticket, err := api.tickets.GetTicket(id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, ticket)
}

// CreateTicket создает тикет
// POST /api/tickets
func (api *TicketAPI) CreateTicket(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var input services.CreateTicketInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Неверный формат данных: "+err.Error())
		return
	}
	ticket, err := api.tickets.CreateTicket(input, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, ticket)
}

// TransitionRequest запрос смены статуса
type TransitionRequest struct {
	Status string `json:"status" binding:"required"`
}

// TransitionTicket меняет статус тикета
// POST /api/tickets/:id/status
func (api *TicketAPI) TransitionTicket(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат данных: "+err.Error())
		return
	}
	ticket, err := api.tickets.TransitionTicket(id, req.Status, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, ticket)
}

// AssignRequest запрос назначения исполнителя
type AssignRequest struct {
	AssigneeID uint `json:"assigned_to_id" binding:"required"`
}

// AssignTicket назначает инженера
// POST /api/tickets/:id/assign
func (api *TicketAPI) AssignTicket(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат данных: "+err.Error())
		return
	}
	ticket, err := api.tickets.AssignTicket(id, req.AssigneeID, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, ticket)
}

// AddAction добавляет запись в журнал тикета
// POST /api/tickets/:id/actions
func (api *TicketAPI) AddAction(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var input services.AddTicketActionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Неверный формат данных: "+err.Error())
		return
	}
	action, err := api.tickets.AddTicketAction(id, input, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, action)
}

// UpdateDescriptionRequest новая редакция описания
type UpdateDescriptionRequest struct {
	Description string `json:"description" binding:"required"`
	Version     int    `json:"version" binding:"required"`
}

// UpdateDescription меняет описание тикета
// PUT /api/tickets/:id
func (api *TicketAPI) UpdateDescription(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req UpdateDescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат данных: "+err.Error())
		return
	}
	ticket, err := api.tickets.UpdateDescription(id, req.Description, req.Version, actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, ticket)
}

// DeleteTicket удаляет тикет
// DELETE /api/tickets/:id
func (api *TicketAPI) DeleteTicket(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := api.tickets.DeleteTicket(id, actor); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"message": "Тикет удален"})
}

// BackfillAssignments переносит старые назначения по меткам на пользователей
// POST /api/tickets/backfill-assignments
func (api *TicketAPI) BackfillAssignments(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	updated, err := api.tickets.BackfillLegacyAssignments(actor)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"updated": updated})
}
