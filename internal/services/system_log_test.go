package services

import (
	"context"
	"testing"
	"time"

	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/testutil"
)

func TestSystemLog_WriteAndList(t *testing.T) {
	db := testutil.NewDB(t)
	InitSystemLogger(db)
	t.Cleanup(func() { InitSystemLogger(nil) })

	userID := uint(3)
	LogInfo("Playbook", "apply", "applied 4 records", &userID, "10.0.0.1", "curl", map[string]int{"updated": 4})
	LogWarning("Playbook", "apply_blocked", "blocked by RATE_LIMIT", &userID, "10.0.0.1", "curl", nil)
	LogError("Worker", "process", "task failed", nil, "", "", nil)

	svc := NewSystemLogService(db)
	ctx := context.Background()

	all, err := svc.List(ctx, &SystemLogListRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if all.Total != 3 {
		t.Fatalf("Total = %d, expected 3", all.Total)
	}

	playbook, _ := svc.List(ctx, &SystemLogListRequest{Module: "Playbook", Search: "blocked"})
	if playbook.Total != 1 || playbook.Items[0].Level != "warning" {
		t.Errorf("filtered = %+v", playbook.Items)
	}

	modules, err := svc.GetModules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(modules) != 2 {
		t.Errorf("modules = %v", modules)
	}
}

func TestRetentionScheduler_RunOnce(t *testing.T) {
	db := testutil.NewDB(t)
	if err := models.Seed(db); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()

	db.Create(&models.SystemLog{Level: "info", Module: "old", CreatedAt: now.AddDate(0, 0, -45)})
	db.Create(&models.SystemLog{Level: "info", Module: "new", CreatedAt: now.AddDate(0, 0, -1)})
	db.Create(&models.AIUsageLog{Action: "old", CreatedAt: now.AddDate(0, 0, -120)})
	db.Create(&models.AIUsageLog{Action: "new", CreatedAt: now.AddDate(0, 0, -10)})

	r := NewRetentionScheduler(db)
	if !r.RunOnce(now) {
		t.Fatal("first run should acquire the lock")
	}

	var logs, usage int64
	db.Model(&models.SystemLog{}).Count(&logs)
	db.Model(&models.AIUsageLog{}).Count(&usage)
	if logs != 1 || usage != 1 {
		t.Errorf("after cleanup logs=%d usage=%d, expected 1/1", logs, usage)
	}

	// A second replica on the same day must skip.
	other := NewRetentionScheduler(db)
	if other.RunOnce(now) {
		t.Error("second run on the same day should not acquire the lock")
	}
	if !other.RunOnce(now.Add(24 * time.Hour)) {
		t.Error("next day should run again")
	}
}

func TestAIUsageService_CleanupKeepsToday(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewAIUsageService(db)
	db.Create(&models.AIUsageLog{Action: "today"})

	deleted, err := svc.CleanupBefore(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 0 {
		t.Errorf("deleted %d rows from today", deleted)
	}
}
