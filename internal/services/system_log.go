package services

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/pkg/logger"
	"gorm.io/gorm"
)

var globalDB *gorm.DB

func InitSystemLogger(db *gorm.DB) {
	globalDB = db
}

func LogInfo(module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	writeLog(models.LogLevelInfo, module, action, message, userID, ip, userAgent, extra)
}

func LogWarning(module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	writeLog(models.LogLevelWarning, module, action, message, userID, ip, userAgent, extra)
}

func LogError(module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	writeLog(models.LogLevelError, module, action, message, userID, ip, userAgent, extra)
}

func writeLog(level, module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	if globalDB == nil {
		return
	}

	var extraStr string
	if extra != nil {
		if b, err := json.Marshal(extra); err == nil {
			extraStr = string(b)
		}
	}

	entry := &models.SystemLog{
		Level:     level,
		Module:    module,
		Action:    action,
		Message:   message,
		UserID:    userID,
		IP:        ip,
		UserAgent: userAgent,
		Extra:     extraStr,
	}
	if err := globalDB.Create(entry).Error; err != nil {
		logger.Warnf("[SystemLog] Failed to write %s/%s: %v", module, action, err)
	}
}

type SystemLogService struct {
	db *gorm.DB
}

func NewSystemLogService(db *gorm.DB) *SystemLogService {
	return &SystemLogService{db: db}
}

type SystemLogListRequest struct {
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	Level     string `form:"level"`
	Module    string `form:"module"`
	Action    string `form:"action"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	Search    string `form:"search"`
}

type SystemLogListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.SystemLog `json:"items"`
}

func (s *SystemLogService) List(ctx context.Context, req *SystemLogListRequest) (*SystemLogListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.SystemLog{})
	if req.Level != "" {
		query = query.Where("level = ?", req.Level)
	}
	if req.Module != "" {
		query = query.Where("module = ?", req.Module)
	}
	if req.Action != "" {
		query = query.Where("action LIKE ?", "%"+req.Action+"%")
	}
	if req.StartDate != "" {
		query = query.Where("created_at >= ?", req.StartDate)
	}
	if req.EndDate != "" {
		query = query.Where("created_at <= ?", req.EndDate+" 23:59:59")
	}
	if req.Search != "" {
		query = query.Where("message LIKE ?", "%"+req.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var logs []models.SystemLog
	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("created_at DESC, id DESC").Find(&logs).Error; err != nil {
		return nil, err
	}

	return &SystemLogListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: logs}, nil
}

func (s *SystemLogService) GetModules(ctx context.Context) ([]string, error) {
	var modules []string
	if err := s.db.WithContext(ctx).Model(&models.SystemLog{}).Distinct("module").Pluck("module", &modules).Error; err != nil {
		return nil, err
	}
	return modules, nil
}

// CleanupOldLogs deletes logs older than retentionDays and returns the count.
func (s *SystemLogService) CleanupOldLogs(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.SystemLog{})
	return result.RowsAffected, result.Error
}

// RetentionScheduler prunes system logs and AI usage logs once a day. The
// scheduler lock row keyed by date keeps multiple replicas from running the
// same day's cleanup twice.
type RetentionScheduler struct {
	db       *gorm.DB
	logs     *SystemLogService
	usage    *AIUsageService
	settings *SystemConfigService
	cron     *cron.Cron
	instance string
}

func NewRetentionScheduler(db *gorm.DB) *RetentionScheduler {
	host, _ := os.Hostname()
	return &RetentionScheduler{
		db:       db,
		logs:     NewSystemLogService(db),
		usage:    NewAIUsageService(db),
		settings: NewSystemConfigService(db),
		instance: host + "-" + strconv.Itoa(os.Getpid()),
	}
}

func (r *RetentionScheduler) Start() {
	r.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := r.cron.AddFunc("@daily", func() { r.RunOnce(time.Now()) }); err != nil {
		logger.Errorf("[Retention] Failed to add cron job: %v", err)
		return
	}
	r.cron.Start()
	logger.Infof("[Retention] Scheduler started")

	// Catch up on startup; the lock makes this a no-op if today already ran.
	go r.RunOnce(time.Now())
}

func (r *RetentionScheduler) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// acquire inserts today's lock row. A unique-index conflict means another
// instance got there first.
func (r *RetentionScheduler) acquire(now time.Time) bool {
	lock := &models.SchedulerLock{
		LockName:  models.LockRetentionCleanup,
		LockKey:   now.UTC().Format("2006-01-02"),
		LockedBy:  r.instance,
		LockedAt:  now.UTC(),
		ExpiresAt: StartOfDay(now).Add(48 * time.Hour),
	}
	if err := r.db.Create(lock).Error; err != nil {
		return false
	}
	// Old lock rows are only useful for the day they guard.
	r.db.Where("lock_name = ? AND expires_at < ?", models.LockRetentionCleanup, now.UTC()).Delete(&models.SchedulerLock{})
	return true
}

// RunOnce performs one cleanup pass if this instance holds today's lock.
// It reports whether the pass ran.
func (r *RetentionScheduler) RunOnce(now time.Time) bool {
	if !r.acquire(now) {
		logger.Debug().Msg("[Retention] Cleanup already done today, skipping")
		return false
	}

	if days := r.settings.GetInt(models.SettingLogRetentionDays, 30); days > 0 {
		deleted, err := r.logs.CleanupOldLogs(days)
		if err != nil {
			logger.Errorf("[Retention] Failed to cleanup system logs: %v", err)
		} else if deleted > 0 {
			logger.Infof("[Retention] Cleaned up %d system logs older than %d days", deleted, days)
		}
	}

	if days := r.settings.GetInt(models.SettingAIUsageRetentionDays, 90); days > 0 {
		deleted, err := r.usage.CleanupBefore(now.UTC().AddDate(0, 0, -days))
		if err != nil {
			logger.Errorf("[Retention] Failed to cleanup AI usage logs: %v", err)
		} else if deleted > 0 {
			logger.Infof("[Retention] Cleaned up %d AI usage logs older than %d days", deleted, days)
		}
	}
	return true
}
