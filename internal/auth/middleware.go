package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentwatch/internal/logging"
)

const (
	// ContextKeyAPIKey is the key for storing API key in gin context
	ContextKeyAPIKey = "apiKey"
	// ContextKeyAgentID is the key for storing the agent an agent-scoped key is bound to
	ContextKeyAgentID = "authAgentID"
)

// Middleware extracts and validates the API key from a request.
// Requests with no key pass through; RequireAuth decides whether that is allowed.
// A key that is present but unknown is rejected here.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}
		if apiKey == "" {
			c.Next()
			return
		}

		key, err := m.ValidateKey(c.Request.Context(), apiKey)
		if err != nil {
			logging.L(c.Request.Context()).Info("rejected API key", "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid API key.",
			})
			return
		}
		c.Set(ContextKeyAPIKey, key)
		c.Set(ContextKeyAgentID, key.AgentID)
		c.Next()
	}
}

// RequireAuth rejects requests without a valid key. It is a no-op when no keys are configured.
func RequireAuth(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer <key>' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireScope restricts agent-scoped keys to routes whose paramName matches
// their agent. Routes without the param are operator-only. Operator keys pass.
func RequireScope(m *Manager, paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		key, ok := GetAPIKey(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}

		target := c.Param(paramName)
		if key.IsOperator() || (target != "" && key.CanAct(target)) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "This key is not authorized for this resource.",
		})
	}
}

// GetAPIKey returns the API key from context (if authenticated)
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	v, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	key, ok := v.(*APIKey)
	return key, ok
}

// GetAuthenticatedAgent returns the agent an agent-scoped key is bound to.
// Operator keys and unauthenticated requests return "".
func GetAuthenticatedAgent(c *gin.Context) string {
	return c.GetString(ContextKeyAgentID)
}
