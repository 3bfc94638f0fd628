package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestIsValidAgentID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"agent_001", true},
		{"agent-002", true},
		{"a.b.c", true},
		{strings.Repeat("a", 64), true},

		// Invalid cases
		{"", false},
		{strings.Repeat("a", 65), false},
		{"agent 001", false},
		{"agent/001", false},
		{"agent%00", false},
	}

	for _, tc := range tests {
		if got := IsValidAgentID(tc.id); got != tc.valid {
			t.Errorf("IsValidAgentID(%q) = %v, want %v", tc.id, got, tc.valid)
		}
	}
}

func TestSanitizeMessage(t *testing.T) {
	assert.Equal(t, "hello", SanitizeMessage("hel\x00lo"))
	assert.Equal(t, "  keep spaces  ", SanitizeMessage("  keep spaces  "))
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("message", ""),
		MaxLength("message", "abcdef", 3),
	)
	assert.Len(t, errs, 2)
	assert.Equal(t, "message: is required", errs.Error())

	assert.Empty(t, Validate(Required("message", "ok"), MaxLength("message", "ok", 3)))
	assert.Empty(t, Validate(Required("message", "   ")), "whitespace is a message")
	assert.Equal(t, "validation failed", ValidationErrors{}.Error())
}

func messageRouter(got *string, present *bool) *gin.Engine {
	r := gin.New()
	r.POST("/m", func(c *gin.Context) {
		*got, *present = MessageParam(c)
		c.Status(http.StatusOK)
	})
	return r
}

func TestMessageParam_Query(t *testing.T) {
	var got string
	var present bool
	r := messageRouter(&got, &present)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/m?message=send+money", nil))
	assert.True(t, present)
	assert.Equal(t, "send money", got)
}

func TestMessageParam_JSONBody(t *testing.T) {
	var got string
	var present bool
	r := messageRouter(&got, &present)

	req := httptest.NewRequest("POST", "/m", strings.NewReader(`{"message":"verify account"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, present)
	assert.Equal(t, "verify account", got)
}

func TestMessageParam_Missing(t *testing.T) {
	var got string
	var present bool
	r := messageRouter(&got, &present)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/m", nil))
	assert.False(t, present)
	assert.Empty(t, got)
}

func TestValidateMessage(t *testing.T) {
	r := gin.New()
	r.POST("/m", func(c *gin.Context) {
		msg, _ := MessageParam(c)
		if !ValidateMessage(c, msg) {
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/m", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/m?message="+strings.Repeat("x", MaxMessageLength+1), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/m?message=hi", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestSizeMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestSizeMiddleware(8))
	r.POST("/m", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("POST", "/m", strings.NewReader(`{"message":"way too long"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
