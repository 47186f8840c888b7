package services

import (
	"testing"

	"github.com/storepilot/backend/internal/config"
	"github.com/storepilot/backend/internal/models"
	"github.com/storepilot/backend/internal/testutil"
	"github.com/storepilot/backend/pkg/response"
)

func TestSystemConfigService_GetSet(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewSystemConfigService(db)

	if got := svc.GetWithDefault("missing", "fallback"); got != "fallback" {
		t.Errorf("GetWithDefault() = %q, expected fallback", got)
	}

	if err := svc.Set("draft_note", "first"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := svc.Set("draft_note", "second"); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	if got, err := svc.Get("draft_note"); err != nil || got != "second" {
		t.Errorf("Get() = %q, %v", got, err)
	}
}

func TestSystemConfigService_GetInt(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewSystemConfigService(db)
	svc.Set("good", "14")
	svc.Set("bad", "fourteen")

	tests := []struct {
		key  string
		want int
	}{
		{"good", 14},
		{"bad", 7},
		{"absent", 7},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := svc.GetInt(tt.key, 7); got != tt.want {
				t.Errorf("GetInt(%q) = %d, expected %d", tt.key, got, tt.want)
			}
		})
	}
}

func TestSystemConfigService_SeededGroup(t *testing.T) {
	db := testutil.NewDB(t)
	if err := models.Seed(db); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	svc := NewSystemConfigService(db)

	configs, err := svc.GetByGroup("system")
	if err != nil {
		t.Fatalf("GetByGroup() error = %v", err)
	}
	if len(configs) < 2 {
		t.Errorf("seeded system configs = %d, expected retention settings", len(configs))
	}
}

func TestSystemConfigService_LDAPSettings(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewSystemConfigService(db)
	base := config.LDAPConfig{Host: "ldap.internal", Port: 389, UserFilter: "(uid=%s)"}

	got := svc.LDAPSettings(base)
	if got != base {
		t.Errorf("without overrides LDAPSettings() = %+v, expected %+v", got, base)
	}

	svc.Set("ldap_enabled", "true")
	svc.Set("ldap_port", "636")
	svc.Set("ldap_use_ssl", "true")
	svc.Set("ldap_host", "")

	got = svc.LDAPSettings(base)
	if !got.Enabled || got.Port != 636 || !got.UseSSL {
		t.Errorf("overrides not applied: %+v", got)
	}
	if got.Host != "ldap.internal" {
		t.Errorf("empty host override should keep file value, got %q", got.Host)
	}
}

func TestSystemConfigService_UpdateGroup(t *testing.T) {
	db := testutil.NewDB(t)
	if err := models.Seed(db); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	svc := NewSystemConfigService(db)

	tests := []struct {
		name   string
		group  string
		values map[string]string
		reason string
	}{
		{"unknown group", "mail", map[string]string{"x": "1"}, response.ReasonNotFound},
		{"key of another group", "system", map[string]string{"ldap_host": "x"}, response.ReasonValidationFailed},
		{"bad int", "system", map[string]string{"log_retention_days": "ten"}, response.ReasonValidationFailed},
		{"negative int", "system", map[string]string{"log_retention_days": "-1"}, response.ReasonValidationFailed},
		{"bad bool", "ldap", map[string]string{"ldap_enabled": "yes"}, response.ReasonValidationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.UpdateGroup(tt.group, tt.values); !response.IsReason(err, tt.reason) {
				t.Errorf("UpdateGroup() = %v, expected %s", err, tt.reason)
			}
		})
	}

	// A rejected batch writes nothing.
	svc.UpdateGroup("system", map[string]string{"log_retention_days": "7", "ai_usage_retention_days": "x"})
	if got := svc.GetInt("log_retention_days", 0); got != 30 {
		t.Errorf("log_retention_days = %d after rejected batch, expected 30", got)
	}

	if err := svc.UpdateGroup("system", map[string]string{"log_retention_days": "7"}); err != nil {
		t.Fatalf("UpdateGroup() error = %v", err)
	}
	if got := svc.GetInt("log_retention_days", 0); got != 7 {
		t.Errorf("log_retention_days = %d, expected 7", got)
	}

	if err := svc.UpdateGroup("ldap", map[string]string{"ldap_bind_password": "s3cret", "ldap_port": "636"}); err != nil {
		t.Fatalf("UpdateGroup(ldap) error = %v", err)
	}
	settings, err := svc.GroupSettings("ldap")
	if err != nil {
		t.Fatalf("GroupSettings() error = %v", err)
	}
	if settings["ldap_bind_password"] != "********" {
		t.Errorf("password not masked: %q", settings["ldap_bind_password"])
	}
	if settings["ldap_port"] != "636" {
		t.Errorf("ldap_port = %q", settings["ldap_port"])
	}
	if _, ok := settings["ldap_host"]; ok {
		t.Error("unset keys should be absent")
	}
}
