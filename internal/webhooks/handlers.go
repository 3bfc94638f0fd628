package webhooks

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
)

// Handler exposes configured webhook subscriptions and their delivery status.
type Handler struct {
	store Store
}

// NewHandler creates a new webhook handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up webhook routes
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/webhooks", h.ListWebhooks)
}

// ListWebhooks handles GET /webhooks. Target URLs are reduced to scheme and
// host since hook paths often carry credentials.
func (h *Handler) ListWebhooks(c *gin.Context) {
	subs, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list webhooks",
		})
		return
	}

	for _, sub := range subs {
		sub.URL = maskURL(sub.URL)
	}
	c.JSON(http.StatusOK, gin.H{
		"webhooks": subs,
		"count":    len(subs),
	})
}

func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "invalid"
	}
	return u.Scheme + "://" + u.Host + "/..."
}
