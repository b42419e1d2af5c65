package cases

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for case review.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new cases handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes sets up public (read-only) case routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/cases", h.ListCases)
	r.GET("/cases/:id", h.GetCase)
}

// RegisterAdminRoutes sets up admin-only case routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/cases/:id/resolve", h.ResolveCase)
}

// ListCases handles GET /v1/cases
func (h *Handler) ListCases(c *gin.Context) {
	var status Status
	switch s := c.Query("status"); s {
	case "", string(StatusOpen), string(StatusApproved), string(StatusRejected):
		status = Status(s)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "status must be OPEN, APPROVED, or REJECTED",
		})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	list, err := h.manager.List(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cases": list,
		"count": len(list),
	})
}

// GetCase handles GET /v1/cases/:id
func (h *Handler) GetCase(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "case id must be an integer",
		})
		return
	}

	cs, err := h.manager.Get(c.Request.Context(), id)
	if err != nil {
		if err == ErrCaseNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Case not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"case": cs})
}

// ResolveRequest is the request body for resolving a case.
type ResolveRequest struct {
	Decision string `json:"decision" binding:"required"`
}

// ResolveCase handles POST /v1/cases/:id/resolve
func (h *Handler) ResolveCase(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "case id must be an integer",
		})
		return
	}

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "decision is required",
		})
		return
	}
	decision := Status(req.Decision)
	if decision != StatusApproved && decision != StatusRejected {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "decision must be APPROVED or REJECTED",
		})
		return
	}

	cs, err := h.manager.Resolve(c.Request.Context(), id, decision)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch err {
		case ErrCaseNotFound:
			status = http.StatusNotFound
			code = "not_found"
		case ErrCaseAlreadyResolved:
			status = http.StatusConflict
			code = "already_resolved"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"case": cs})
}
