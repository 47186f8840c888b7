package services

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/pkg/response"
	"gorm.io/gorm"
)

// SupportedProviders lists the LLM providers MetadataAIService can call.
var SupportedProviders = []string{"openai", "azure", "anthropic", "ollama", "gemini"}

type LLMConfigService struct {
	db *gorm.DB
}

func NewLLMConfigService(db *gorm.DB) *LLMConfigService {
	return &LLMConfigService{db: db}
}

type LLMConfigListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Name     string `form:"name"`
	Provider string `form:"provider"`
	IsActive *bool  `form:"is_active"`
}

type LLMConfigListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.LLMConfig `json:"items"`
}

type CreateLLMConfigRequest struct {
	Name        string  `json:"name" binding:"required"`
	Provider    string  `json:"provider"`
	BaseURL     string  `json:"base_url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model" binding:"required"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	IsDefault   bool    `json:"is_default"`
	IsActive    *bool   `json:"is_active"`
}

type UpdateLLMConfigRequest struct {
	Name        string   `json:"name"`
	Provider    string   `json:"provider"`
	BaseURL     string   `json:"base_url"`
	APIKey      string   `json:"api_key"`
	Model       string   `json:"model"`
	MaxTokens   *int     `json:"max_tokens"`
	Temperature *float64 `json:"temperature"`
	IsDefault   *bool    `json:"is_default"`
	IsActive    *bool    `json:"is_active"`
}

func validateProvider(provider string) error {
	if !slices.Contains(SupportedProviders, provider) {
		return response.NewValidationFailed(fmt.Sprintf("unsupported LLM provider %q", provider))
	}
	return nil
}

// List returns paginated LLM configs with masked keys.
func (s *LLMConfigService) List(ctx context.Context, req *LLMConfigListRequest) (*LLMConfigListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 10
	}

	query := s.db.WithContext(ctx).Model(&models.LLMConfig{})
	if req.Name != "" {
		query = query.Where("name LIKE ? OR model LIKE ?", "%"+req.Name+"%", "%"+req.Name+"%")
	}
	if req.Provider != "" {
		query = query.Where("provider = ?", req.Provider)
	}
	if req.IsActive != nil {
		query = query.Where("is_active = ?", *req.IsActive)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var configs []models.LLMConfig
	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("is_default DESC, id ASC").Find(&configs).Error; err != nil {
		return nil, err
	}
	for i := range configs {
		configs[i].APIKeyMask = configs[i].MaskAPIKey()
	}

	return &LLMConfigListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: configs}, nil
}

func (s *LLMConfigService) GetByID(ctx context.Context, id uint) (*models.LLMConfig, error) {
	var llmConfig models.LLMConfig
	if err := s.db.WithContext(ctx).First(&llmConfig, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("llm config not found")
		}
		return nil, err
	}
	llmConfig.APIKeyMask = llmConfig.MaskAPIKey()
	return &llmConfig, nil
}

func (s *LLMConfigService) Create(ctx context.Context, req *CreateLLMConfigRequest) (*models.LLMConfig, error) {
	if req.Provider == "" {
		req.Provider = "openai"
	}
	if err := validateProvider(req.Provider); err != nil {
		return nil, err
	}
	if req.Provider != "ollama" && req.APIKey == "" {
		return nil, response.NewValidationFailed("api_key is required for provider " + req.Provider)
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 1024
	}
	if req.Temperature == 0 {
		req.Temperature = 0.3
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	llmConfig := models.LLMConfig{
		Name:        req.Name,
		Provider:    req.Provider,
		BaseURL:     req.BaseURL,
		APIKey:      req.APIKey,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		IsDefault:   req.IsDefault,
		IsActive:    isActive,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Only one default at a time
		if req.IsDefault {
			if err := tx.Model(&models.LLMConfig{}).Where("is_default = ?", true).Update("is_default", false).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(&llmConfig).Error; err != nil {
			return err
		}
		// gorm skips false on a column with a true default
		if !isActive {
			return tx.Model(&llmConfig).Update("is_active", false).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	llmConfig.APIKeyMask = llmConfig.MaskAPIKey()
	return &llmConfig, nil
}

func (s *LLMConfigService) Update(ctx context.Context, id uint, req *UpdateLLMConfigRequest) (*models.LLMConfig, error) {
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Provider != "" {
		if err := validateProvider(req.Provider); err != nil {
			return nil, err
		}
		updates["provider"] = req.Provider
	}
	if req.BaseURL != "" {
		updates["base_url"] = req.BaseURL
	}
	if req.APIKey != "" {
		updates["api_key"] = req.APIKey
	}
	if req.Model != "" {
		updates["model"] = req.Model
	}
	if req.MaxTokens != nil {
		updates["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		updates["temperature"] = *req.Temperature
	}
	if req.IsDefault != nil {
		updates["is_default"] = *req.IsDefault
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) == 0 {
		return s.GetByID(ctx, id)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.IsDefault != nil && *req.IsDefault {
			if err := tx.Model(&models.LLMConfig{}).Where("is_default = ? AND id <> ?", true, id).Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.LLMConfig{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	return s.GetByID(ctx, id)
}

func (s *LLMConfigService) Delete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.LLMConfig{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return response.NewNotFound("llm config not found")
	}
	return nil
}
