// Package testutil holds database fixtures shared by service and handler tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/storepilot/backend/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in-memory sqlite database with every table migrated.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Single connection keeps concurrent test goroutines off each other's locks.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// CreateUser inserts an active local user on the given plan.
func CreateUser(t testing.TB, db *gorm.DB, username, plan string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Role: "user", AuthType: "local", Plan: plan, IsActive: true}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}

// CreateProject inserts a project with no members.
func CreateProject(t testing.TB, db *gorm.DB, name string, ownerUserID *uint) *models.Project {
	t.Helper()
	project := &models.Project{Name: name, Domain: name + ".example.com", OwnerUserID: ownerUserID}
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("create project %s: %v", name, err)
	}
	return project
}

// AddMember adds userID to the project with role.
func AddMember(t testing.TB, db *gorm.DB, projectID, userID uint, role string) *models.ProjectMember {
	t.Helper()
	member := &models.ProjectMember{ProjectID: projectID, UserID: userID, Role: role}
	if err := db.Create(member).Error; err != nil {
		t.Fatalf("add member: %v", err)
	}
	return member
}

// CreateProduct inserts a product; a nil seoTitle models a never-set field.
func CreateProduct(t testing.TB, db *gorm.DB, projectID uint, externalID string, seoTitle *string) *models.TargetRecord {
	t.Helper()
	record := &models.TargetRecord{
		ProjectID:   projectID,
		AssetType:   models.AssetTypeProduct,
		ExternalID:  externalID,
		Handle:      "product-" + externalID,
		Title:       "Product " + externalID,
		Description: "Description of product " + externalID,
		SEOTitle:    seoTitle,
	}
	if err := db.Create(record).Error; err != nil {
		t.Fatalf("create product %s: %v", externalID, err)
	}
	return record
}

// Ptr returns a pointer to s.
func Ptr(s string) *string {
	return &s
}
