package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
	"github.com/ilyes-bd/presence-api/pkg/middleware/requestid"
)

// Envelope is the single wire shape every endpoint answers with. Exactly one
// of Data and Error is set; Pagination and Meta ride along when relevant.
type Envelope struct {
	Data       interface{}            `json:"data,omitempty"`
	Error      *appErrors.Error       `json:"error,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// JSON writes a success envelope. An optional meta map is merged with the
// request ID so clients can correlate responses with server logs.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination, meta ...map[string]interface{}) {
	env := Envelope{Data: data, Pagination: pagination}
	if len(meta) > 0 {
		env.Meta = meta[0]
	}
	env.Meta = withRequestID(c, env.Meta)
	write(c, status, env)
}

// Created writes data with HTTP 201.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data, nil)
}

// NoContent answers 204 with an empty body.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error maps err onto the envelope via the application error type; unknown
// errors surface as 500 INTERNAL_ERROR without leaking the cause.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	write(c, appErr.Status, Envelope{
		Error: appErr,
		Meta:  withRequestID(c, nil),
	})
}

func write(c *gin.Context, status int, env Envelope) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(status, env)
}

func withRequestID(c *gin.Context, meta map[string]interface{}) map[string]interface{} {
	id := requestid.FromContext(c)
	if id == "" {
		return meta
	}
	if meta == nil {
		meta = make(map[string]interface{}, 1)
	}
	meta["request_id"] = id
	return meta
}
