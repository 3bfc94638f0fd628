package risk

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentwatch/internal/logging"
	"github.com/mbd888/agentwatch/internal/pagination"
	"github.com/mbd888/agentwatch/internal/validation"
)

// Handler provides HTTP endpoints for the risk engine.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new risk handler
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up risk engine routes
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/agents", h.ListAgents)
	r.GET("/incidents", h.ListIncidents)
	r.POST("/agent_message/:agent_id", h.ProcessMessage)
}

// ListAgents handles GET /agents
func (h *Handler) ListAgents(c *gin.Context) {
	agents, err := h.engine.ListAgents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read agents",
		})
		return
	}
	c.JSON(http.StatusOK, agents)
}

// ListIncidents handles GET /incidents
func (h *Handler) ListIncidents(c *gin.Context) {
	filter := IncidentFilter{
		AgentID: c.Query("agent_id"),
		Status:  Status(strings.ToUpper(c.Query("status"))),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "status must be one of SAFE, SUSPICIOUS, BLOCKED",
		})
		return
	}

	// Without paging parameters the whole log is returned as a bare array.
	paged := c.Query("limit") != "" || c.Query("cursor") != ""
	var limit int
	if paged {
		cursor, err := pagination.Decode(c.Query("cursor"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "cursor is invalid",
			})
			return
		}
		if cursor != nil {
			filter.AfterSeq = cursor.Seq
		}
		limit, err = pagination.ParseLimit(c.Query("limit"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
			return
		}
		filter.Limit = limit + 1
	}

	incidents, err := h.engine.ListIncidents(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to read incidents",
		})
		return
	}
	if !paged {
		c.JSON(http.StatusOK, incidents)
		return
	}

	page, next, more := pagination.ComputePage(incidents, limit, func(inc *Incident) int64 { return inc.Seq })
	c.JSON(http.StatusOK, gin.H{
		"incidents":   page,
		"next_cursor": next,
		"has_more":    more,
	})
}

// ProcessMessage handles POST /agent_message/:agent_id. Any id outside the
// registry, well-formed or not, is a 404.
func (h *Handler) ProcessMessage(c *gin.Context) {
	agentID := c.Param("agent_id")
	ctx := logging.WithAgentID(c.Request.Context(), agentID)

	if !h.engine.HasAgent(agentID) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "agent_not_found",
			"message": "Agent not found",
		})
		return
	}

	message, _ := validation.MessageParam(c)
	if !validation.ValidateMessage(c, message) {
		return
	}

	snap, err := h.engine.ProcessMessage(ctx, agentID, message)
	if err != nil {
		switch {
		case errors.Is(err, ErrAgentNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "agent_not_found",
				"message": "Agent not found",
			})
		case errors.Is(err, ErrMessageRequired):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "message: is required",
			})
		default:
			logging.L(ctx).Error("failed to process message", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to process message",
			})
		}
		return
	}

	c.JSON(http.StatusOK, snap)
}
