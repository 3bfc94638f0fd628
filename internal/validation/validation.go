// Package validation provides input validation helpers and middleware for the agentwatch API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (64KB)
const MaxRequestSize = 64 << 10

// MaxMessageLength is the maximum accepted message length in bytes.
const MaxMessageLength = 10000

// agentIDRegex validates agent identifiers (e.g. "agent_001").
var agentIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAgentID checks if a string is a well-formed agent identifier
func IsValidAgentID(id string) bool {
	return agentIDRegex.MatchString(id)
}

// SanitizeMessage removes null bytes. Surrounding whitespace is kept since
// repeat detection compares raw message text.
func SanitizeMessage(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty. Whitespace counts as content.
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// messageBody is the optional JSON body shape for message-carrying endpoints.
type messageBody struct {
	Message string `json:"message"`
}

// MessageParam reads the "message" input from the query string, falling back
// to a JSON body of the form {"message": "..."}. The second result reports
// whether a message field was supplied at all.
func MessageParam(c *gin.Context) (string, bool) {
	if msg, ok := c.GetQuery("message"); ok {
		return SanitizeMessage(msg), true
	}
	if msg, ok := c.GetPostForm("message"); ok {
		return SanitizeMessage(msg), true
	}
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return "", false
	}
	var body messageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		return "", false
	}
	return SanitizeMessage(body.Message), true
}

// ValidateMessage checks the message input and writes a 400 response when it
// is missing or too long. Returns false if the request was rejected.
func ValidateMessage(c *gin.Context, msg string) bool {
	if errs := Validate(
		Required("message", msg),
		MaxLength("message", msg, MaxMessageLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return false
	}
	return true
}
