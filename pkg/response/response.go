package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the unified API response format.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Reason  string      `json:"reason,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Error kinds shared by every service. Reason is the machine-readable tag
// carried next to the human-readable message.
const (
	ReasonNotFound         = "NOT_FOUND"
	ReasonForbidden        = "FORBIDDEN"
	ReasonConflict         = "CONFLICT"
	ReasonRateLimited      = "RATE_LIMITED"
	ReasonValidationFailed = "VALIDATION_FAILED"
	ReasonSafetyBlocked    = "SAFETY_BLOCKED"
)

// AppError represents a structured application error with HTTP status and error code.
type AppError struct {
	HTTPStatus int         // HTTP status code (e.g. 400, 404, 500)
	Code       int         // Application-level error code
	Reason     string      // Machine-readable kind, see Reason* constants
	Message    string      // Human-readable error message
	Details    interface{} // Optional structured payload rendered as data
}

func (e *AppError) Error() string {
	return e.Message
}

// Pre-defined error constructors

func NewBadRequest(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusBadRequest, Code: 400, Message: msg}
}

func NewUnauthorized(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusUnauthorized, Code: 401, Message: msg}
}

func NewForbidden(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusForbidden, Code: 403, Reason: ReasonForbidden, Message: msg}
}

func NewNotFound(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusNotFound, Code: 404, Reason: ReasonNotFound, Message: msg}
}

func NewConflict(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusConflict, Code: 409, Reason: ReasonConflict, Message: msg}
}

// NewValidationFailed is used for unsupported playbook/issue types and malformed rule sets.
func NewValidationFailed(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusUnprocessableEntity, Code: 422, Reason: ReasonValidationFailed, Message: msg}
}

// NewTooManyRequests carries the plan, limit and current count in Details.
func NewTooManyRequests(msg string, details interface{}) *AppError {
	return &AppError{HTTPStatus: http.StatusTooManyRequests, Code: 429, Reason: ReasonRateLimited, Message: msg, Details: details}
}

// NewSafetyBlocked carries the failed safety checks in Details.
func NewSafetyBlocked(msg string, details interface{}) *AppError {
	return &AppError{HTTPStatus: http.StatusForbidden, Code: 4031, Reason: ReasonSafetyBlocked, Message: msg, Details: details}
}

func NewServerError(msg string) *AppError {
	return &AppError{HTTPStatus: http.StatusInternalServerError, Code: 500, Message: msg}
}

// IsReason reports whether err wraps an *AppError of the given reason.
func IsReason(err error, reason string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Reason == reason
}

// --- Gin response helpers ---

// Success sends a 200 OK response with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "ok",
		Data:    data,
	})
}

// Created sends a 201 Created response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "created",
		Data:    data,
	})
}

// Accepted sends a 202 Accepted response, used for queued jobs.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code:    0,
		Message: "accepted",
		Data:    data,
	})
}

// Error sends an error response. If err is (or wraps) an *AppError, its code,
// status and details are used; otherwise a generic 500 internal server error is returned.
func Error(c *gin.Context, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, Response{
			Code:    appErr.Code,
			Message: err.Error(),
			Reason:  appErr.Reason,
			Data:    appErr.Details,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, Response{
		Code:    500,
		Message: err.Error(),
	})
}

// Convenience error response functions

func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Code: 400, Message: msg})
}

func Unauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, Response{Code: 401, Message: msg})
}

func Forbidden(c *gin.Context, msg string) {
	c.JSON(http.StatusForbidden, Response{Code: 403, Reason: ReasonForbidden, Message: msg})
}

func NotFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, Response{Code: 404, Reason: ReasonNotFound, Message: msg})
}

func ServerError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, Response{Code: 500, Message: msg})
}
