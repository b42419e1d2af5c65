package rules

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meridianpay/sentinel/internal/logging"
)

// Handler provides HTTP endpoints for rule configuration.
type Handler struct {
	store Store
}

// NewHandler creates a new rules handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up public (read-only) rule routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/rules", h.ListRules)
	r.GET("/rules/:key", h.GetRule)
}

// RegisterAdminRoutes sets up admin-only rule routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.PATCH("/rules/:key", h.UpdateRule)
}

// ListRules handles GET /v1/rules
func (h *Handler) ListRules(c *gin.Context) {
	list, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rules": list,
		"count": len(list),
	})
}

// GetRule handles GET /v1/rules/:key
func (h *Handler) GetRule(c *gin.Context) {
	key, err := ParseKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Unknown rule key",
		})
		return
	}

	rule, err := h.store.Get(c.Request.Context(), key)
	if err != nil {
		if err == ErrRuleNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Rule not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rule": rule})
}

// UpdateRule handles PATCH /v1/rules/:key
func (h *Handler) UpdateRule(c *gin.Context) {
	key, err := ParseKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Unknown rule key",
		})
		return
	}

	var u Update
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	rule, err := h.store.Update(c.Request.Context(), key, u)
	if err != nil {
		if err == ErrRuleNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Rule not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	logging.L(c.Request.Context()).Info("rule updated", "key", string(key))
	c.JSON(http.StatusOK, gin.H{"rule": rule})
}
