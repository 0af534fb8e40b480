package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ilyes-bd/presence-api/internal/dto"
	"github.com/ilyes-bd/presence-api/internal/middleware"
	"github.com/ilyes-bd/presence-api/internal/service"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
	"github.com/ilyes-bd/presence-api/pkg/response"
)

// ExclusionHandler exposes the absence aggregation views, the sweep
// that persists verdicts and the monitoring snapshot.
type ExclusionHandler struct {
	service *service.ExclusionService
	exports *service.ExportService
}

func NewExclusionHandler(service *service.ExclusionService, exports *service.ExportService) *ExclusionHandler {
	return &ExclusionHandler{service: service, exports: exports}
}

func exclusionQuery(c *gin.Context) service.ExclusionQueryRequest {
	return service.ExclusionQueryRequest{
		Preset:     c.Query("preset"),
		From:       c.Query("from"),
		To:         c.Query("to"),
		ModuleCode: c.Query("moduleCode"),
		LevelID:    c.Query("levelId"),
	}
}

func cachedJSON(c *gin.Context, payload interface{}, cached bool) {
	middleware.SetCacheHit(c, cached)
	response.JSON(c, http.StatusOK, payload, nil, middleware.ExtractMeta(c))
}

// Rules godoc
// @Summary Active exclusion thresholds
// @Tags exclusions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /exclusions/rules [get]
func (h *ExclusionHandler) Rules(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.service.Rules(), nil)
}

// Overview godoc
// @Summary Absence aggregation overview
// @Description Classifies every tracked (student, module) pair over the resolved range
// @Tags exclusions
// @Produce json
// @Param preset query string false "today, week, month or custom"
// @Param from query string false "Custom range start (YYYY-MM-DD)"
// @Param to query string false "Custom range end (YYYY-MM-DD)"
// @Param moduleCode query string false "Scope to one module code"
// @Param levelId query string false "Scope to one level"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /exclusions/overview [get]
func (h *ExclusionHandler) Overview(c *gin.Context) {
	overview, cached, err := h.service.Overview(c.Request.Context(), exclusionQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	cachedJSON(c, dto.NewExclusionOverviewResponse(overview), cached)
}

// Excluded godoc
// @Summary Pairs over an exclusion limit
// @Tags exclusions
// @Produce json
// @Param preset query string false "today, week, month or custom"
// @Param from query string false "Custom range start (YYYY-MM-DD)"
// @Param to query string false "Custom range end (YYYY-MM-DD)"
// @Param moduleCode query string false "Scope to one module code"
// @Param levelId query string false "Scope to one level"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /exclusions/excluded [get]
func (h *ExclusionHandler) Excluded(c *gin.Context) {
	overview, cached, err := h.service.Excluded(c.Request.Context(), exclusionQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	cachedJSON(c, dto.NewExclusionOverviewResponse(overview), cached)
}

// Near godoc
// @Summary Pairs one absence short of a limit
// @Tags exclusions
// @Produce json
// @Param preset query string false "today, week, month or custom"
// @Param from query string false "Custom range start (YYYY-MM-DD)"
// @Param to query string false "Custom range end (YYYY-MM-DD)"
// @Param moduleCode query string false "Scope to one module code"
// @Param levelId query string false "Scope to one level"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /exclusions/near [get]
func (h *ExclusionHandler) Near(c *gin.Context) {
	overview, cached, err := h.service.Near(c.Request.Context(), exclusionQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	cachedJSON(c, dto.NewExclusionOverviewResponse(overview), cached)
}

// ModuleDetail godoc
// @Summary Aggregation scoped to one module
// @Tags exclusions
// @Produce json
// @Param code path string true "Module code"
// @Param preset query string false "today, week, month or custom"
// @Param from query string false "Custom range start (YYYY-MM-DD)"
// @Param to query string false "Custom range end (YYYY-MM-DD)"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exclusions/modules/{code} [get]
func (h *ExclusionHandler) ModuleDetail(c *gin.Context) {
	overview, cached, err := h.service.ModuleDetail(c.Request.Context(), c.Param("code"), exclusionQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	cachedJSON(c, dto.NewExclusionOverviewResponse(overview), cached)
}

// Apply godoc
// @Summary Persist exclusion verdicts
// @Description Flags every excluded enrollment in the range with its exclusion date
// @Tags exclusions
// @Accept json
// @Produce json
// @Param payload body dto.ApplyExclusionsRequest true "Sweep window"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /exclusions/apply [post]
func (h *ExclusionHandler) Apply(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ApplyExclusionsRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	result, err := h.service.Apply(c.Request.Context(), claims, service.ApplySweepRequest{
		Preset:     string(req.Preset),
		From:       req.From,
		To:         req.To,
		ModuleCode: req.ModuleCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewExclusionApplyResponse(result), nil)
}

// Reinstate godoc
// @Summary Reinstate an excluded student
// @Description Clears the enrollment's excluded flag as an administrative override
// @Tags exclusions
// @Accept json
// @Produce json
// @Param payload body dto.ReinstateRequest true "Student and module"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exclusions/reinstate [post]
func (h *ExclusionHandler) Reinstate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ReinstateRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	enrollment, err := h.service.Reinstate(c.Request.Context(), claims, service.ReinstateRequest{
		StudentID:  req.StudentID,
		ModuleCode: req.ModuleCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Monitor godoc
// @Summary Whole-system absence snapshot
// @Description Aggregates absences per level and module for the admin dashboard
// @Tags monitor
// @Produce json
// @Param preset query string false "today, week, month or custom"
// @Param from query string false "Custom range start (YYYY-MM-DD)"
// @Param to query string false "Custom range end (YYYY-MM-DD)"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /monitor [get]
func (h *ExclusionHandler) Monitor(c *gin.Context) {
	snapshot, cached, err := h.service.Monitor(c.Request.Context(), exclusionQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	cachedJSON(c, dto.NewMonitorResponse(snapshot), cached)
}

// ExportCSV godoc
// @Summary Export the overview as CSV
// @Tags exclusions
// @Produce text/csv
// @Param preset query string false "today, week, month or custom"
// @Param from query string false "Custom range start (YYYY-MM-DD)"
// @Param to query string false "Custom range end (YYYY-MM-DD)"
// @Param moduleCode query string false "Scope to one module code"
// @Param levelId query string false "Scope to one level"
// @Security BearerAuth
// @Success 200 {file} binary
// @Router /exclusions/export [get]
func (h *ExclusionHandler) ExportCSV(c *gin.Context) {
	payload, filename, err := h.exports.OverviewCSV(c.Request.Context(), exclusionQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv", payload)
}
