package models

import "time"

// LockRetentionCleanup guards the daily log and AI usage cleanup.
const LockRetentionCleanup = "retention_cleanup"

// SchedulerLock lets one replica claim a scheduled run. The unique (name, key)
// pair is the claim; key is the run's UTC date.
type SchedulerLock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LockName  string    `gorm:"uniqueIndex:idx_lock_name_key;size:100;not null" json:"lock_name"`
	LockKey   string    `gorm:"uniqueIndex:idx_lock_name_key;size:100;not null" json:"lock_key"`
	LockedBy  string    `gorm:"size:100" json:"locked_by"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

func (SchedulerLock) TableName() string { return "scheduler_locks" }
