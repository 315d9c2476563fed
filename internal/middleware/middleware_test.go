package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coursemart-api/internal/models"
	appErrors "github.com/noah-isme/coursemart-api/pkg/errors"
)

type stubValidator map[string]*models.JWTClaims

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

var testTokens = stubValidator{
	"student": {UserID: "u1", Role: models.RoleStudent},
	"admin":   {UserID: "a1", Role: models.RoleAdmin},
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func serve(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAndRoles(t *testing.T) {
	r := newRouter()
	r.GET("/me", JWT(testTokens), func(c *gin.Context) {
		c.String(http.StatusOK, Principal(c).UserID)
	})
	r.GET("/admin", JWT(testTokens), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := serve(r, http.MethodGet, "/me", "student")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", "forged").Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/admin", "student").Code)
	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodGet, "/admin", "admin").Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalJWT(t *testing.T) {
	r := newRouter()
	r.GET("/courses/:id", OptionalJWT(testTokens), func(c *gin.Context) {
		p := Principal(c)
		if !p.Authenticated() {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, string(p.Role))
	})

	assert.Equal(t, "anonymous", serve(r, http.MethodGet, "/courses/c1", "").Body.String())
	assert.Equal(t, "anonymous", serve(r, http.MethodGet, "/courses/c1", "forged").Body.String())
	assert.Equal(t, "student", serve(r, http.MethodGet, "/courses/c1", "student").Body.String())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RatePerMinute: 1, Burst: 2}, nil)
	defer rl.Stop()

	r := newRouter()
	r.POST("/webhooks/payments", rl.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/webhooks/payments", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/webhooks/payments", "").Code)
	w := serve(r, http.MethodPost, "/webhooks/payments", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, 1, rl.Clients())

	rl.cleanup(time.Now().Add(time.Hour))
	assert.Zero(t, rl.Clients())
}

type recordingAudit struct {
	logs []*models.AuditLog
	err  error
}

func (r *recordingAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.logs = append(r.logs, log)
	return r.err
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	writer := &recordingAudit{}
	r := newRouter()
	r.GET("/export", JWT(testTokens), Audit(writer, nil, models.AuditActionTransactionExport, "transactions"), func(c *gin.Context) {
		if c.Query("fail") != "" {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	serve(r, http.MethodGet, "/export?format=csv", "admin")
	serve(r, http.MethodGet, "/export?fail=1", "admin")

	require.Len(t, writer.logs, 1)
	assert.Equal(t, "a1", *writer.logs[0].UserID)
	assert.Contains(t, string(writer.logs[0].NewValues), "format=csv")

	writer.err = errors.New("db down")
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/export", "admin").Code)
}
