package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testSecret = []byte("unit-test-secret")

func signToken(t *testing.T, secret []byte, subject, tier string) string {
	t.Helper()
	claims := Claims{
		Tier: tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return raw
}

func newAuthRouter(extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware(testSecret, zap.NewNop()))
	handlers := append(extra, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user": c.GetString("userID"),
			"tier": c.GetString("userTier"),
		})
	})
	router.GET("/whoami", handlers...)
	return router
}

func get(router *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/whoami", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestValidTokenSetsIdentity(t *testing.T) {
	router := newAuthRouter()
	w := get(router, signToken(t, testSecret, "user-42", "premium"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":"user-42"`)
	assert.Contains(t, w.Body.String(), `"tier":"premium"`)
}

func TestMissingTokenIsAnonymous(t *testing.T) {
	router := newAuthRouter()
	w := get(router, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":""`)
}

func TestBadSignatureDegradesToAnonymous(t *testing.T) {
	router := newAuthRouter()
	w := get(router, signToken(t, []byte("wrong-secret"), "user-42", "admin"))
	require.Equal(t, http.StatusOK, w.Code, "bad tokens never reject, they downgrade")
	assert.Contains(t, w.Body.String(), `"user":""`)
}

func TestExpiredTokenDegradesToAnonymous(t *testing.T) {
	claims := Claims{
		Tier: "vip",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	w := get(newAuthRouter(), raw)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":""`)
}

func TestRequireTier(t *testing.T) {
	router := newAuthRouter(RequireTier("moderator"))

	w := get(router, signToken(t, testSecret, "m1", "moderator"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(router, signToken(t, testSecret, "a1", "admin"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(router, signToken(t, testSecret, "u1", "premium"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = get(router, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}
