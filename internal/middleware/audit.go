package middleware

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/pkg/logger"
)

const maxAuditBody = 2000

// AuditLog records write requests (POST/PUT/PATCH/DELETE) to system_logs with
// the caller, the outcome and a masked body snippet. Domain audit events for
// applies and approvals are written by the services themselves.
func AuditLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		switch method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			c.Next()
			return
		}

		var bodySnippet string
		if c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			bodySnippet = maskSensitiveFields(string(bodyBytes))
			if len(bodySnippet) > maxAuditBody {
				bodySnippet = bodySnippet[:maxAuditBody] + "...[truncated]"
			}
		}

		c.Next()

		userID := GetUserID(c)
		status := c.Writer.Status()
		module, action := parseRouteInfo(c.FullPath(), method)

		var uid *uint
		if userID > 0 {
			uid = &userID
		}
		extra := map[string]interface{}{
			"method":     method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"body":       bodySnippet,
			"request_id": c.GetString(logger.ContextRequestID),
		}
		message := formatAuditMessage(GetUsername(c), method, c.Request.URL.Path, status)
		if status >= http.StatusInternalServerError {
			services.LogError(module, action, message, uid, c.ClientIP(), c.Request.UserAgent(), extra)
			return
		}
		services.LogInfo(module, action, message, uid, c.ClientIP(), c.Request.UserAgent(), extra)
	}
}

// parseRouteInfo derives module and action from a gin route pattern.
//
//	POST /api/projects/:id/playbooks/:playbookID/apply -> Projects, Apply
//	PUT  /api/projects/:id/members/:memberID           -> Projects, Update
//	POST /api/llm-configs                              -> LLM Configs, Create
func parseRouteInfo(fullPath, method string) (module, action string) {
	path := strings.Trim(strings.TrimPrefix(fullPath, "/api/"), "/")
	parts := strings.Split(path, "/")

	module = parts[0]
	if module == "" {
		module = "unknown"
	}
	module = titleWords(strings.ReplaceAll(module, "-", " "))

	switch method {
	case http.MethodPost:
		action = "Create"
	case http.MethodPut, http.MethodPatch:
		action = "Update"
	case http.MethodDelete:
		action = "Delete"
	default:
		action = method
	}

	// A trailing verb segment names the action better than the method.
	if method == http.MethodPost && len(parts) > 1 {
		last := parts[len(parts)-1]
		if !strings.HasPrefix(last, ":") && !isCollection(last) {
			action = titleWords(strings.ReplaceAll(last, "-", " "))
		}
	}
	return module, action
}

func isCollection(segment string) bool {
	switch segment {
	case "members", "approvals", "projects", "llm-configs", "users":
		return true
	}
	return false
}

var acronyms = map[string]string{"llm": "LLM", "ai": "AI"}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if a, ok := acronyms[strings.ToLower(w)]; ok {
			words[i] = a
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// formatAuditMessage creates a human-readable audit message.
func formatAuditMessage(username, method, path string, status int) string {
	outcome := "Failed"
	if status >= 200 && status < 300 {
		outcome = "OK"
	}
	if username == "" {
		username = "anonymous"
	}
	return "[Audit] " + username + " " + method + " " + path + " -> " + outcome
}

var sensitiveValue = regexp.MustCompile(`(?i)("(?:password|old_password|new_password|api_key|apiKey|secret|token|refresh_token|access_token|bind_password)"\s*:\s*)"(?:[^"\\]|\\.)*"`)

// maskSensitiveFields replaces the string value of every sensitive JSON key.
func maskSensitiveFields(body string) string {
	return sensitiveValue.ReplaceAllString(body, `$1"***"`)
}
