package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pollcast/backend/internal/apperr"
)

// ErrorBody is the body of every failed request.
type ErrorBody struct {
	Error string `json:"error"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, ErrorBody{Error: err})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, ErrorBody{Error: err})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, ErrorBody{Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, ErrorBody{Error: err})
}

// Error maps err through the apperr taxonomy. Internal detail never reaches the body.
func Error(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), ErrorBody{Error: apperr.Message(err)})
}

// ErrorWithStatus writes err's public message with an explicit status.
func ErrorWithStatus(c *gin.Context, status int, err error) {
	c.JSON(status, ErrorBody{Error: apperr.Message(err)})
}
