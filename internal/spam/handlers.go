package spam

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentwatch/internal/validation"
)

// Handler provides the HTTP endpoint for spam classification.
type Handler struct {
	classifier *Classifier
}

// NewHandler creates a new spam handler
func NewHandler(classifier *Classifier) *Handler {
	return &Handler{classifier: classifier}
}

// RegisterRoutes sets up spam routes
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/detect_sms", h.DetectSMS)
}

// DetectSMS handles POST /detect_sms
func (h *Handler) DetectSMS(c *gin.Context) {
	message, _ := validation.MessageParam(c)
	if !validation.ValidateMessage(c, message) {
		return
	}

	verdict, err := h.classifier.Classify(c.Request.Context(), message)
	if err != nil {
		status, code, msg := errorResponse(err)
		c.JSON(status, gin.H{
			"error":   code,
			"message": msg,
		})
		return
	}

	c.JSON(http.StatusOK, verdict)
}

// errorResponse maps classifier errors to HTTP status, error code and message.
func errorResponse(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrMessageRequired):
		return http.StatusBadRequest, "validation_error", "message: is required"
	case errors.Is(err, ErrNotConfigured):
		return http.StatusServiceUnavailable, "classifier_not_configured", "Spam classifier credential is not configured"
	case errors.Is(err, ErrCircuitOpen):
		return http.StatusServiceUnavailable, "classifier_unavailable", "Spam classifier is temporarily unavailable"
	case errors.Is(err, ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, "classifier_timeout", "Spam classifier did not respond in time"
	case errors.Is(err, ErrMalformedResponse):
		return http.StatusBadGateway, "classifier_bad_response", "Spam classifier returned an unreadable response"
	case errors.Is(err, ErrUpstreamStatus):
		return http.StatusBadGateway, "classifier_upstream_error", "Spam classifier returned an error"
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusBadGateway, "classifier_upstream_error", "Spam classifier could not be reached"
	default:
		return http.StatusServiceUnavailable, "classifier_unavailable", "Spam classification failed"
	}
}
