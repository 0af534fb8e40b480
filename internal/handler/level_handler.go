package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ilyes-bd/presence-api/internal/models"
	"github.com/ilyes-bd/presence-api/internal/service"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
	"github.com/ilyes-bd/presence-api/pkg/response"
)

// LevelHandler exposes level CRUD endpoints.
type LevelHandler struct {
	service *service.LevelService
}

// NewLevelHandler constructs a level handler.
func NewLevelHandler(svc *service.LevelService) *LevelHandler {
	return &LevelHandler{service: svc}
}

// List godoc
// @Summary List levels
// @Tags levels
// @Produce json
// @Param year query string false "Filter by academic year"
// @Param search query string false "Search keyword"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /levels [get]
func (h *LevelHandler) List(c *gin.Context) {
	var filter models.LevelFilter
	filter.Year = c.Query("year")
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sortBy")
	filter.SortOrder = c.Query("sortOrder")

	levels, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, levels, pagination)
}

// Get godoc
// @Summary Get level detail
// @Tags levels
// @Produce json
// @Param id path string true "Level ID"
// @Success 200 {object} response.Envelope
// @Router /levels/{id} [get]
func (h *LevelHandler) Get(c *gin.Context) {
	level, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, level, nil)
}

// Create godoc
// @Summary Create level
// @Tags levels
// @Accept json
// @Produce json
// @Param payload body service.CreateLevelRequest true "Level payload"
// @Success 201 {object} response.Envelope
// @Router /levels [post]
func (h *LevelHandler) Create(c *gin.Context) {
	var req service.CreateLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	level, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, level)
}

// Update godoc
// @Summary Update level
// @Tags levels
// @Accept json
// @Produce json
// @Param id path string true "Level ID"
// @Param payload body service.UpdateLevelRequest true "Level payload"
// @Success 200 {object} response.Envelope
// @Router /levels/{id} [put]
func (h *LevelHandler) Update(c *gin.Context) {
	var req service.UpdateLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	level, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, level, nil)
}

// Delete godoc
// @Summary Delete level
// @Tags levels
// @Produce json
// @Param id path string true "Level ID"
// @Success 204
// @Router /levels/{id} [delete]
func (h *LevelHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
