package response

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err})
}

// Conflict sends 409 with data describing the existing record.
func Conflict(c *gin.Context, err string, data interface{}) {
	c.JSON(http.StatusConflict, Body{Success: false, Error: err, Data: data})
}

// TooManyRequests sends 429 with a Retry-After header in whole seconds.
func TooManyRequests(c *gin.Context, err string, retryAfter time.Duration) {
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	c.JSON(http.StatusTooManyRequests, Body{Success: false, Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err})
}
