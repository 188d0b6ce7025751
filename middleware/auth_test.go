package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enom_tracker/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setupAuthRouter(ti *TokenIssuer, roles ...models.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	group := router.Group("/api", ti.RequireActor())
	if len(roles) > 0 {
		group.Use(RequireRole(roles...))
	}
	group.GET("/me", func(c *gin.Context) {
		actor, _ := ActorFrom(c)
		c.JSON(http.StatusOK, gin.H{"status": "success", "data": actor})
	})
	return router
}

func doRequest(router *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestTokenIssuer_IssueAndParse(t *testing.T) {
	ti := NewTokenIssuer(testSecret, "enom-tracker", time.Hour)
	user := &models.User{ID: 7, Username: "enom_rizki", Role: models.RoleTechnician}

	token, expires, err := ti.Issue(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	actor, err := ti.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), actor.ID)
	assert.Equal(t, "enom_rizki", actor.Username)
	assert.Equal(t, models.RoleTechnician, actor.Role)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	ti := NewTokenIssuer(testSecret, "enom-tracker", time.Hour)
	user := &models.User{ID: 7, Username: "enom_rizki", Role: models.RoleTechnician}
	token, _, err := ti.Issue(user)
	require.NoError(t, err)

	t.Run("истекший токен", func(t *testing.T) {
		late := NewTokenIssuer(testSecret, "enom-tracker", time.Hour)
		late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := late.Parse(token)
		assert.Error(t, err)
	})

	t.Run("другой издатель", func(t *testing.T) {
		_, err := NewTokenIssuer(testSecret, "someone-else", time.Hour).Parse(token)
		assert.Error(t, err)
	})

	t.Run("другой секрет", func(t *testing.T) {
		_, err := NewTokenIssuer("another-secret-another-secret-xx", "enom-tracker", time.Hour).Parse(token)
		assert.Error(t, err)
	})

	t.Run("мусор", func(t *testing.T) {
		_, err := ti.Parse("not.a.token")
		assert.Error(t, err)
	})
}

func TestRequireActor(t *testing.T) {
	ti := NewTokenIssuer(testSecret, "enom-tracker", time.Hour)
	router := setupAuthRouter(ti)

	assert.Equal(t, http.StatusUnauthorized, doRequest(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, doRequest(router, "garbage").Code)

	token, _, err := ti.Issue(&models.User{ID: 1, Username: "xl_noc", Role: models.RoleDispatcher})
	require.NoError(t, err)
	w := doRequest(router, token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"xl_noc"`)
}

func TestRequireRole(t *testing.T) {
	ti := NewTokenIssuer(testSecret, "enom-tracker", time.Hour)
	router := setupAuthRouter(ti, models.RoleDispatcher)

	dispatcher, _, err := ti.Issue(&models.User{ID: 1, Username: "xl_noc", Role: models.RoleDispatcher})
	require.NoError(t, err)
	technician, _, err := ti.Issue(&models.User{ID: 2, Username: "enom_rizki", Role: models.RoleTechnician})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, doRequest(router, dispatcher).Code)
	assert.Equal(t, http.StatusForbidden, doRequest(router, technician).Code)
}

func TestRateLimiter_MemoryBackend(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(nil)
	router := gin.New()
	router.POST("/auth/token", rl.Limit(RateLimitConfig{Requests: 2, Window: time.Minute}), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	first := send()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusOK, send().Code)

	blocked := send()
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "0", blocked.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, blocked.Body.String(), "Rate limit exceeded")
}
