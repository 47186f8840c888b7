package services

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/storepilot/backend/internal/config"
	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/pkg/response"
	"gorm.io/gorm"
)

// SystemConfigService reads and writes runtime settings kept in the database.
// Struct conditions are used throughout because "key" and "group" are
// reserved words on some dialects.
type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *SystemConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

// GetInt parses an integer setting; missing or malformed values yield def.
func (s *SystemConfigService) GetInt(key string, def int) int {
	value, err := s.Get(key)
	if err != nil {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return n
}

func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(&models.SystemConfig{Key: key, Value: value}).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) GetByGroup(group string) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Group: group}).Order("id ASC").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// editableSettings lists, per group, the keys an admin may change and their type.
var editableSettings = map[string]map[string]string{
	models.SettingGroupSystem: {
		models.SettingLogRetentionDays:     models.SettingTypeInt,
		models.SettingAIUsageRetentionDays: models.SettingTypeInt,
	},
	models.SettingGroupLDAP: {
		"ldap_enabled":       models.SettingTypeBool,
		"ldap_host":          models.SettingTypeString,
		"ldap_port":          models.SettingTypeInt,
		"ldap_base_dn":       models.SettingTypeString,
		"ldap_bind_dn":       models.SettingTypeString,
		"ldap_bind_password": models.SettingTypeSecret,
		"ldap_user_filter":   models.SettingTypeString,
		"ldap_use_ssl":       models.SettingTypeBool,
	},
}

// GroupSettings returns the stored settings of an editable group with secrets
// masked.
func (s *SystemConfigService) GroupSettings(group string) (map[string]string, error) {
	keys, ok := editableSettings[group]
	if !ok {
		return nil, response.NewNotFound(fmt.Sprintf("unknown settings group %q", group))
	}
	out := make(map[string]string, len(keys))
	for key, typ := range keys {
		v, err := s.Get(key)
		if err != nil {
			continue
		}
		if typ == models.SettingTypeSecret && v != "" {
			v = "********"
		}
		out[key] = v
	}
	return out, nil
}

// UpdateGroup validates and stores several settings of one group. Nothing is
// written when any key or value is rejected.
func (s *SystemConfigService) UpdateGroup(group string, values map[string]string) error {
	keys, ok := editableSettings[group]
	if !ok {
		return response.NewNotFound(fmt.Sprintf("unknown settings group %q", group))
	}
	names := make([]string, 0, len(values))
	for key, value := range values {
		typ, ok := keys[key]
		if !ok {
			return response.NewValidationFailed(fmt.Sprintf("%s is not a %s setting", key, group))
		}
		switch typ {
		case models.SettingTypeInt:
			if n, err := strconv.Atoi(value); err != nil || n < 0 {
				return response.NewValidationFailed(fmt.Sprintf("%s must be a non-negative integer", key))
			}
		case models.SettingTypeBool:
			if value != "true" && value != "false" {
				return response.NewValidationFailed(fmt.Sprintf("%s must be true or false", key))
			}
		}
		names = append(names, key)
	}
	sort.Strings(names)

	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, key := range names {
			var cfg models.SystemConfig
			err := tx.Where(&models.SystemConfig{Key: key}).First(&cfg).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				typ := keys[key]
				if typ == models.SettingTypeSecret {
					typ = models.SettingTypeString
				}
				if err := tx.Create(&models.SystemConfig{Key: key, Value: values[key], Type: typ, Group: group, Label: key}).Error; err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			if err := tx.Model(&cfg).Update("value", values[key]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// LDAPSettings overlays ldap_* settings stored in the database on top of the
// file configuration.
func (s *SystemConfigService) LDAPSettings(base config.LDAPConfig) config.LDAPConfig {
	out := base
	if v, err := s.Get("ldap_enabled"); err == nil {
		out.Enabled = v == "true"
	}
	if v, err := s.Get("ldap_host"); err == nil && v != "" {
		out.Host = v
	}
	out.Port = s.GetInt("ldap_port", out.Port)
	if v, err := s.Get("ldap_base_dn"); err == nil && v != "" {
		out.BaseDN = v
	}
	if v, err := s.Get("ldap_bind_dn"); err == nil && v != "" {
		out.BindDN = v
	}
	if v, err := s.Get("ldap_bind_password"); err == nil && v != "" {
		out.BindPassword = v
	}
	if v, err := s.Get("ldap_user_filter"); err == nil && v != "" {
		out.UserFilter = v
	}
	if v, err := s.Get("ldap_use_ssl"); err == nil {
		out.UseSSL = v == "true"
	}
	return out
}
