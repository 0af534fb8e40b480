package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ilyes-bd/presence-api/internal/service"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
	"github.com/ilyes-bd/presence-api/pkg/response"
)

// ScheduleHandler exposes the weekly timetable endpoints.
type ScheduleHandler struct {
	service *service.ScheduleService
}

func NewScheduleHandler(service *service.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{service: service}
}

// Weekly godoc
// @Summary Weekly timetable for a level
// @Description Returns the level's slots grouped by weekday
// @Tags schedules
// @Produce json
// @Param levelId path string true "Level ID"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /schedules/{levelId} [get]
func (h *ScheduleHandler) Weekly(c *gin.Context) {
	schedule, err := h.service.WeeklyByLevel(c.Request.Context(), c.Param("levelId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schedule, nil)
}

// ByModule godoc
// @Summary Slots of a module
// @Tags schedules
// @Produce json
// @Param moduleId path string true "Module ID"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /schedules/modules/{moduleId} [get]
func (h *ScheduleHandler) ByModule(c *gin.Context) {
	slots, err := h.service.ListByModule(c.Request.Context(), c.Param("moduleId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil)
}

// Create godoc
// @Summary Create a schedule slot
// @Description Adds a weekly slot; the window must not overlap the level's slots
// @Tags schedules
// @Accept json
// @Produce json
// @Param payload body service.CreateScheduleSlotRequest true "Slot payload"
// @Security BearerAuth
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /schedules [post]
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req service.CreateScheduleSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	slot, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, slot)
}

// Delete godoc
// @Summary Delete a schedule slot
// @Tags schedules
// @Param id path string true "Slot ID"
// @Security BearerAuth
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /schedules/{id} [delete]
func (h *ScheduleHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
