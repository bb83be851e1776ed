package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Flat envelope: every reply carries "success" next to its own fields, so clients
// read result["events"] rather than result["data"]["events"].

// JSON writes fields with the success flag merged in.
func JSON(c *gin.Context, status int, success bool, fields gin.H) {
	body := gin.H{"success": success}
	for k, v := range fields {
		if k == "success" {
			continue
		}
		body[k] = v
	}
	c.JSON(status, body)
}

// OK sends 200 with fields.
func OK(c *gin.Context, fields gin.H) {
	JSON(c, http.StatusOK, true, fields)
}

// Created sends 201 with fields.
func Created(c *gin.Context, fields gin.H) {
	JSON(c, http.StatusCreated, true, fields)
}

// Accepted sends 202 with fields; used for queued work.
func Accepted(c *gin.Context, fields gin.H) {
	JSON(c, http.StatusAccepted, true, fields)
}

// Error sends a failure with the given status and message.
func Error(c *gin.Context, status int, msg string) {
	JSON(c, status, false, gin.H{"error": msg})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, msg)
}

// NotFound sends 404.
func NotFound(c *gin.Context, msg string) {
	Error(c, http.StatusNotFound, msg)
}

// MethodNotAllowed sends 405.
func MethodNotAllowed(c *gin.Context) {
	Error(c, http.StatusMethodNotAllowed, "Method not allowed")
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, msg string) {
	Error(c, http.StatusServiceUnavailable, msg)
}

// Internal sends 500 with a generic message and optional details.
func Internal(c *gin.Context, msg string, details string) {
	fields := gin.H{"error": msg}
	if details != "" {
		fields["details"] = details
	}
	JSON(c, http.StatusInternalServerError, false, fields)
}
