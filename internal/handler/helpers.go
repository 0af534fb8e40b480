package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ilyes-bd/presence-api/internal/middleware"
	"github.com/ilyes-bd/presence-api/internal/models"
	appErrors "github.com/ilyes-bd/presence-api/pkg/errors"
	"github.com/ilyes-bd/presence-api/pkg/response"
)

// claimsFromContext is package-local shorthand so handlers do not each
// import the middleware package for one call.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.ClaimsFromContext(c)
}

// bindJSON decodes the request body into target and writes the 400
// response itself on failure.
func bindJSON(c *gin.Context, target interface{}, message string) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}
