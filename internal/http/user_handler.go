package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"consult-room/internal/service"
)

// UserHandler administra el rol de los usuarios.
type UserHandler struct {
	logger *zap.Logger
	roles  *service.RoleService
}

func NewUserHandler(logger *zap.Logger, roles *service.RoleService) *UserHandler {
	return &UserHandler{logger: logger, roles: roles}
}

// SetAdmin maneja PUT /users/:id/admin.
func (h *UserHandler) SetAdmin(c *gin.Context) {
	var req struct {
		IsAdmin *bool `json:"is_admin" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid set admin request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.roles.SetAdmin(c.Request.Context(), c.Param("id"), *req.IsAdmin); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.logger.Error("set admin failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update role"})
		return
	}
	c.Status(http.StatusNoContent)
}
