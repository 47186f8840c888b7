package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/storepilot/backend/internal/middleware"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/pkg/response"
)

type SystemConfigHandler struct {
	configService *services.SystemConfigService
}

func NewSystemConfigHandler(configService *services.SystemConfigService) *SystemConfigHandler {
	return &SystemConfigHandler{configService: configService}
}

type updateSettingsRequest struct {
	Values map[string]string `json:"values" binding:"required"`
}

// GetGroup returns one settings group
// GET /api/system-config/:group
func (h *SystemConfigHandler) GetGroup(c *gin.Context) {
	settings, err := h.configService.GroupSettings(c.Param("group"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, settings)
}

// UpdateGroup stores new values for one settings group
// PUT /api/system-config/:group
func (h *SystemConfigHandler) UpdateGroup(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	group := c.Param("group")
	if err := h.configService.UpdateGroup(group, req.Values); err != nil {
		response.Error(c, err)
		return
	}

	uid := middleware.GetUserID(c)
	services.LogInfo("SystemConfig", "Update", "settings group "+group+" updated", &uid, c.ClientIP(), c.Request.UserAgent(), nil)

	settings, err := h.configService.GroupSettings(group)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, settings)
}
