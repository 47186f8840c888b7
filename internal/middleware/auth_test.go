package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/storepilot/backend/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("middleware-test-secret")
}

func token(t *testing.T, userID uint, username, role string, hours int) string {
	t.Helper()
	tok, err := utils.GenerateToken(userID, username, role, hours)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

func TestAuthRequired(t *testing.T) {
	valid := token(t, 42, "merchant", "user", 1)
	expired := token(t, 42, "merchant", "user", -1)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic " + valid, http.StatusUnauthorized},
		{"bearer without token", "Bearer ", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"expired token", "Bearer " + expired, http.StatusUnauthorized},
		{"valid token", "Bearer " + valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/api/auth/me", AuthRequired(), func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "username": GetUsername(c), "role": GetRole(c)})
			})
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			var body struct {
				UserID   uint   `json:"user_id"`
				Username string `json:"username"`
				Role     string `json:"role"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.UserID != 42 || body.Username != "merchant" || body.Role != "user" {
				t.Errorf("context = %+v", body)
			}
		})
	}
}

func TestAdminRequired(t *testing.T) {
	tests := []struct {
		name   string
		role   string
		status int
	}{
		{"admin", "admin", http.StatusOK},
		{"plain user", "user", http.StatusForbidden},
		{"empty role", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/api/llm-configs", AuthRequired(), AdminRequired(), func(c *gin.Context) { c.Status(http.StatusOK) })
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/llm-configs", nil)
			req.Header.Set("Authorization", "Bearer "+token(t, 1, "ops", tt.role, 1))
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

func TestContextAccessors_WrongTypes(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if GetUserID(c) != 0 || GetUsername(c) != "" || GetRole(c) != "" {
		t.Error("accessors should return zero values on an empty context")
	}
	c.Set(ContextUserID, "42")
	c.Set(ContextUsername, 7)
	c.Set(ContextRole, true)
	if GetUserID(c) != 0 || GetUsername(c) != "" || GetRole(c) != "" {
		t.Error("accessors should ignore values of the wrong type")
	}
}
