package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ilyes-bd/presence-api/internal/models"
	"github.com/ilyes-bd/presence-api/internal/service"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
	"github.com/ilyes-bd/presence-api/pkg/response"
)

// justificationFileStore reads stored attachment files.
type justificationFileStore interface {
	Resolve(filename string) (string, error)
}

// JustificationHandler exposes the absence justification workflow.
type JustificationHandler struct {
	service *service.JustificationService
	store   justificationFileStore
}

func NewJustificationHandler(service *service.JustificationService, store justificationFileStore) *JustificationHandler {
	return &JustificationHandler{service: service, store: store}
}

// Submit godoc
// @Summary Submit a justification
// @Description Files a justification for the calling student's absence, with an optional pdf/png/jpeg attachment
// @Tags justifications
// @Accept multipart/form-data
// @Produce json
// @Param absence_record_id formData string true "Absence record"
// @Param reason formData string true "Reason"
// @Param file formData file false "Supporting document"
// @Security BearerAuth
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /justifications [post]
func (h *JustificationHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.SubmitJustificationRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	var attachment *service.Attachment
	if fileHeader, err := c.FormFile("file"); err == nil {
		src, err := fileHeader.Open()
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read attachment"))
			return
		}
		defer src.Close()
		attachment = &service.Attachment{Filename: fileHeader.Filename, Reader: src}
	}

	justification, err := h.service.Submit(c.Request.Context(), claims, req, attachment)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, justification)
}

// List godoc
// @Summary List justifications
// @Tags justifications
// @Produce json
// @Param status query string false "PENDING, APPROVED or REJECTED"
// @Param studentId query string false "Filter by student"
// @Param moduleId query string false "Filter by module"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /justifications [get]
func (h *JustificationHandler) List(c *gin.Context) {
	req := service.JustificationListRequest{
		Status:    c.Query("status"),
		StudentID: c.Query("studentId"),
		ModuleID:  c.Query("moduleId"),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
	req.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	req.PageSize, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))

	justifications, pagination, err := h.service.List(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, justifications, pagination)
}

// Get godoc
// @Summary Get a justification
// @Description Students can only read their own justifications
// @Tags justifications
// @Produce json
// @Param id path string true "Justification ID"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /justifications/{id} [get]
func (h *JustificationHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	justification, err := h.service.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, justification, nil)
}

// Approve godoc
// @Summary Approve a justification
// @Description The absence re-derives as justified in every later aggregate
// @Tags justifications
// @Accept json
// @Produce json
// @Param id path string true "Justification ID"
// @Param payload body service.DecideJustificationRequest false "Optional note"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /justifications/{id}/approve [post]
func (h *JustificationHandler) Approve(c *gin.Context) {
	h.decide(c, h.service.Approve)
}

// Reject godoc
// @Summary Reject a justification
// @Description The absence stays unjustified; an optional note is sent to the student
// @Tags justifications
// @Accept json
// @Produce json
// @Param id path string true "Justification ID"
// @Param payload body service.DecideJustificationRequest false "Optional note"
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /justifications/{id}/reject [post]
func (h *JustificationHandler) Reject(c *gin.Context) {
	h.decide(c, h.service.Reject)
}

type decideFunc func(ctx context.Context, claims *models.JWTClaims, id string, req service.DecideJustificationRequest) (*models.JustificationDetail, error)

func (h *JustificationHandler) decide(c *gin.Context, fn decideFunc) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.DecideJustificationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	justification, err := fn(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, justification, nil)
}

// PendingCount godoc
// @Summary Count pending justifications
// @Tags justifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /justifications/pending/count [get]
func (h *JustificationHandler) PendingCount(c *gin.Context) {
	count, err := h.service.PendingCount(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"pending": count}, nil)
}

// File godoc
// @Summary Download a justification attachment
// @Tags justifications
// @Produce octet-stream
// @Param name path string true "Stored file name"
// @Security BearerAuth
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /files/justifications/{name} [get]
func (h *JustificationHandler) File(c *gin.Context) {
	name := c.Param("name")
	// The stored name is a generated uuid plus extension; anything with
	// path separators or dot segments is not ours.
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "file not found"))
		return
	}
	path, err := h.store.Resolve("justifications/" + name)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "file not found"))
		return
	}
	c.File(path)
}
