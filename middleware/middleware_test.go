package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vnkhanh/submission-ingest-backend/models"
	"github.com/vnkhanh/submission-ingest-backend/utils"
)

const secret = "test-secret"

func router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(zerolog.Nop()))
	r.GET("/me", AuthMiddleware(secret), RequireRoles(models.RoleTeacher, models.RoleStudent), func(c *gin.Context) {
		p, _ := GetPrincipal(c)
		c.String(http.StatusOK, string(p.Role))
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	teacherTok, _ := utils.GenerateToken(secret, uuid.NewString(), "teacher", time.Hour)
	adminTok, _ := utils.GenerateToken(secret, uuid.NewString(), "admin", time.Hour)
	badID, _ := utils.GenerateToken(secret, "42", "teacher", time.Hour)

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"not bearer", "Authorization", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"non uuid user", "Authorization", "Bearer " + badID, http.StatusUnauthorized},
		{"teacher", "Authorization", "Bearer " + teacherTok, http.StatusOK},
		{"fallback header", "X-Auth-Token", "Bearer " + teacherTok, http.StatusOK},
		{"admin", "Authorization", "Bearer " + adminTok, http.StatusForbidden},
	}
	r := router()
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set(tc.header, tc.value)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, w.Code, tc.want)
		}
	}
}
