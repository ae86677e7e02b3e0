package middleware

import (
	"strings"

	"audiod/internal/core/services"
	apperrors "audiod/pkg/errors"
	"audiod/pkg/logger"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value.
func BearerToken(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		token, ok := BearerToken(authHeader)
		if !ok {
			abort(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abort(c, apperrors.NewUnauthorizedError(err.Error()))
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

func OptionalAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := BearerToken(c.GetHeader("Authorization")); ok {
			if claims, err := authService.ValidateToken(token); err == nil {
				setClaims(c, claims)
			}
		}
		c.Next()
	}
}

// ClaimsFromContext returns the claims stored by AuthMiddleware.
func ClaimsFromContext(c *gin.Context) (*services.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*services.Claims)
	return claims, ok
}

func setClaims(c *gin.Context, claims *services.Claims) {
	c.Set(claimsKey, claims)
	c.Request = c.Request.WithContext(logger.WithCaller(c.Request.Context(), claims.Caller))
}

func abort(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Reply())
}
