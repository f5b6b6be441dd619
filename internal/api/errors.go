package api

import (
	"errors"
	"net/http"

	"coursemail/internal/model"

	"github.com/gin-gonic/gin"
)

// writeError maps domain errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	var validationErr *model.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message, "field": validationErr.Field})
	case errors.Is(err, model.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "email job not found"})
	case errors.Is(err, model.ErrJobNotFailed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func userIDFrom(c *gin.Context) string {
	v, _ := c.Get("user_id")
	s, _ := v.(string)
	return s
}

func roleFrom(c *gin.Context) string {
	v, _ := c.Get("role")
	s, _ := v.(string)
	return s
}
