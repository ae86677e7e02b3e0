package http

import (
	"net/http"
	"strings"
	"time"

	"audiod/internal/core/services"
	"audiod/internal/infrastructure/middleware"
	"audiod/pkg/errors"
	"audiod/pkg/validation"

	"github.com/gin-gonic/gin"
)

// AuthHandler mints caller tokens. Only holders of ScopeAdmin may use it.
type AuthHandler struct {
	authService services.AuthService
	tokenTTL    time.Duration
}

func NewAuthHandler(authService services.AuthService, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokenTTL:    tokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/auth")
	api.Use(middleware.AuthMiddleware(h.authService))
	{
		api.POST("/token", h.IssueToken)
	}
}

type IssueTokenRequest struct {
	Caller string   `json:"caller" binding:"required,max=128"`
	Scopes []string `json:"scopes"`
}

var knownScopes = map[string]bool{
	services.ScopeControl: true,
	services.ScopeAdmin:   true,
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok || !claims.HasScope(services.ScopeAdmin) {
		_ = c.Error(errors.NewForbiddenError("Caller is not allowed to issue tokens"))
		return
	}

	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errors.NewInvalidParametersError("invalid request format"))
		return
	}

	req.Caller = strings.TrimSpace(req.Caller)
	if err := validation.ValidateNonEmptyString(req.Caller, "caller"); err != nil {
		_ = c.Error(errors.NewInvalidParametersError(err.Error()))
		return
	}
	for _, s := range req.Scopes {
		if !knownScopes[s] {
			_ = c.Error(errors.NewInvalidParametersError("unknown scope '" + s + "'"))
			return
		}
	}

	token, err := h.authService.GenerateToken(req.Caller, req.Scopes)
	if err != nil {
		_ = c.Error(errors.NewInternalError("failed to generate token"))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"returnValue":  true,
		"caller":       req.Caller,
		"access_token": token,
		"expires_in":   int(h.tokenTTL / time.Second),
	})
}
