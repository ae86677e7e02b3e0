package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"audiod/internal/core/services"
	apperrors "audiod/pkg/errors"
	"audiod/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	for _, h := range []string{"", "Bearer", "Bearer ", "Basic abc", "Bearer a b"} {
		_, ok := BearerToken(h)
		assert.False(t, ok, h)
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := services.NewAuthService("test-secret", time.Minute)
	token, err := auth.GenerateToken("com.webos.app.settings", []string{services.ScopeControl})
	require.NoError(t, err)

	router := gin.New()
	router.Use(AuthMiddleware(auth))
	router.GET("/whoami", func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		require.True(t, ok)
		assert.True(t, claims.HasScope(services.ScopeControl))
		c.String(http.StatusOK, claims.Caller)
	})

	t.Run("valid token", func(t *testing.T) {
		w := get(router, "/whoami", map[string]string{"Authorization": "Bearer " + token})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "com.webos.app.settings", w.Body.String())
	})

	t.Run("missing header", func(t *testing.T) {
		w := get(router, "/whoami", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, float64(apperrors.ErrCodeUnauthorized), body["errorCode"])
	})

	t.Run("garbage token", func(t *testing.T) {
		w := get(router, "/whoami", map[string]string{"Authorization": "Bearer nope"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestOptionalAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := services.NewAuthService("test-secret", time.Minute)

	router := gin.New()
	router.Use(OptionalAuthMiddleware(auth))
	router.GET("/", func(c *gin.Context) {
		_, ok := ClaimsFromContext(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": ok})
	})

	w := get(router, "/", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"authenticated":false}`, w.Body.String())
}

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()), ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/app", func(c *gin.Context) {
		_ = c.Error(apperrors.NewUnknownStreamError("pfoo"))
	})
	router.GET("/plain", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := get(router, "/app", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"returnValue":false,"errorCode":19,"errorText":"Audio stream type 'pfoo' is not supported"}`, w.Body.String())

	w = get(router, "/plain", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"returnValue":false,"errorCode":16,"errorText":"Internal server error"}`, w.Body.String())

	w = get(router, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"returnValue":false,"errorCode":16,"errorText":"Internal server error"}`, w.Body.String())
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, logger.RequestID(c.Request.Context()))
	})

	w := get(router, "/", map[string]string{RequestIDHeader: "req-1"})
	assert.Equal(t, "req-1", w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get(RequestIDHeader))

	w = get(router, "/", nil)
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get(RequestIDHeader))
}
