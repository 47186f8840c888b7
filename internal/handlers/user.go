package handlers

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/storepilot/backend/internal/config"
	"github.com/storepilot/backend/internal/middleware"
	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/pkg/response"
	"gorm.io/gorm"
)

// UserHandler is the admin view of accounts, including their subscription plan.
type UserHandler struct {
	db    *gorm.DB
	plans map[string]config.PlanConfig
}

func NewUserHandler(db *gorm.DB, plans map[string]config.PlanConfig) *UserHandler {
	return &UserHandler{db: db, plans: plans}
}

type userListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Username string `form:"username"`
	Role     string `form:"role"`
	Plan     string `form:"plan"`
}

type UpdateUserRequest struct {
	Role     *string `json:"role"`
	Plan     *string `json:"plan"`
	IsActive *bool   `json:"is_active"`
	Nickname *string `json:"nickname"`
}

// List returns paginated users
// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	var req userListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		req.PageSize = 20
	}

	query := h.db.WithContext(c.Request.Context()).Model(&models.User{})
	if req.Username != "" {
		query = query.Where("username LIKE ?", "%"+req.Username+"%")
	}
	if req.Role != "" {
		query = query.Where("role = ?", req.Role)
	}
	if req.Plan != "" {
		query = query.Where("plan = ?", req.Plan)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		response.Error(c, err)
		return
	}
	var users []models.User
	if err := query.Order("id ASC").Offset((req.Page - 1) * req.PageSize).Limit(req.PageSize).Find(&users).Error; err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"items":     users,
		"total":     total,
		"page":      req.Page,
		"page_size": req.PageSize,
	})
}

// Update changes role, plan, activity or nickname of another user
// PUT /api/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id", "user id")
	if !ok {
		return
	}
	if id == middleware.GetUserID(c) {
		response.BadRequest(c, "cannot modify your own account")
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	updates := make(map[string]interface{})
	if req.Role != nil {
		if *req.Role != "admin" && *req.Role != "user" {
			response.Error(c, response.NewValidationFailed("invalid role, must be 'admin' or 'user'"))
			return
		}
		updates["role"] = *req.Role
	}
	if req.Plan != nil {
		if _, known := h.plans[*req.Plan]; !known {
			response.Error(c, response.NewValidationFailed(fmt.Sprintf("unknown plan %q", *req.Plan)))
			return
		}
		updates["plan"] = *req.Plan
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.Nickname != nil {
		updates["nickname"] = *req.Nickname
	}
	if len(updates) == 0 {
		response.BadRequest(c, "no fields to update")
		return
	}

	db := h.db.WithContext(c.Request.Context())
	var user models.User
	if err := db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		response.Error(c, err)
		return
	}
	if err := db.Model(&user).Updates(updates).Error; err != nil {
		response.Error(c, err)
		return
	}
	db.First(&user, id)
	response.Success(c, user)
}
