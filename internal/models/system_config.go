package models

import "time"

// Setting groups
const (
	SettingGroupSystem = "system"
	SettingGroupLDAP   = "ldap"
)

// Setting value types. Secret values are stored as strings and masked on read.
const (
	SettingTypeString = "string"
	SettingTypeInt    = "int"
	SettingTypeBool   = "bool"
	SettingTypeSecret = "secret"
)

// Retention settings read by the cleanup scheduler.
const (
	SettingLogRetentionDays     = "log_retention_days"
	SettingAIUsageRetentionDays = "ai_usage_retention_days"
)

// SystemConfig is one runtime-editable setting.
type SystemConfig struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:key;uniqueIndex;size:100;not null" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:20;default:string" json:"type"`
	Group     string    `gorm:"column:group;size:50;index" json:"group"`
	Label     string    `gorm:"size:200" json:"label"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SystemConfig) TableName() string { return "system_configs" }
