package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the unified API envelope.
type Response struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
	Meta    interface{}       `json:"meta,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Meta describes a page of a listing.
type Meta struct {
	CurrentPage int   `json:"current_page"`
	LastPage    int   `json:"last_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
}

// AppError represents a structured application error with an HTTP status.
type AppError struct {
	HTTPStatus int
	Message    string
	Fields     map[string]string
}

func (e *AppError) Error() string {
	return e.Message
}

func NewBadRequest(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusBadRequest, Message: msg}
}

func NewNotFound(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusNotFound, Message: msg}
}

// NewValidation carries per-field messages.
func NewValidation(fields map[string]string) *AppError {
	return &AppError{HTTPStatus: http.StatusUnprocessableEntity, Message: "The given data was invalid.", Fields: fields}
}

func NewServerError(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusInternalServerError, Message: msg}
}

// Success sends a 200 OK response with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// Page sends a 200 OK listing with pagination meta.
func Page(c *gin.Context, data interface{}, meta Meta) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data, Meta: meta})
}

// Message sends a 200 OK response carrying only a message.
func Message(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, Response{Success: true, Message: msg})
}

// Created sends a 201 Created response with data.
func Created(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Message: msg, Data: data})
}

// Error sends an error response. An *AppError keeps its status; anything else
// becomes a 500 whose text is not leaked to the client.
func Error(c *gin.Context, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, Response{
			Success: false,
			Message: appErr.Message,
			Errors:  appErr.Fields,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Message: "internal server error",
	})
}

func BadRequest(c *gin.Context, msg string) {
	Error(c, NewBadRequest(msg))
}

func NotFound(c *gin.Context, msg string) {
	Error(c, NewNotFound(msg))
}

func ServerError(c *gin.Context, msg string) {
	Error(c, NewServerError(msg))
}
