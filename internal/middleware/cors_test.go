package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func corsRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS())
	r.GET("/api/projects/:id/work-queue", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/projects/:id/playbooks/:playbookID/apply", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestCORS_SimpleRequest(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/projects/1/work-queue", nil)
	req.Header.Set("Origin", "https://admin.example-shop.com")
	corsRouter().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Access-Control-Allow-Origin should be set")
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q, want true", got)
	}
	expose := strings.ToLower(w.Header().Get("Access-Control-Expose-Headers"))
	if !strings.Contains(expose, "x-request-id") {
		t.Errorf("request id header should be exposed, got %q", expose)
	}
}

func TestCORS_PreflightForApply(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/projects/1/playbooks/missing_seo_title/apply", nil)
	req.Header.Set("Origin", "https://admin.example-shop.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type, X-Request-ID")
	corsRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent && w.Code != http.StatusOK {
		t.Fatalf("preflight status = %d", w.Code)
	}
	allow := strings.ToLower(w.Header().Get("Access-Control-Allow-Headers"))
	for _, h := range []string{"authorization", "content-type", "x-request-id"} {
		if !strings.Contains(allow, h) {
			t.Errorf("Access-Control-Allow-Headers %q missing %s", allow, h)
		}
	}
}
