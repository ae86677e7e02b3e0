package http

import (
	"net/http"
	"time"

	"audiod/internal/core/services"
	"audiod/internal/handlers/luna"
	"audiod/internal/infrastructure/middleware"
	"audiod/pkg/errors"
	"audiod/pkg/logger"

	"github.com/gin-gonic/gin"
)

const transportHTTP = "http"

// AudioHandler exposes the Luna method table as POST /api/v1/audio/:method.
// HTTP cannot push, so subscribe requests are answered with
// subscribed:false.
type AudioHandler struct {
	dispatcher   *luna.Dispatcher
	logger       *logger.ContextLogger
	authRequired bool
}

func NewAudioHandler(dispatcher *luna.Dispatcher, logger *logger.ContextLogger, authRequired bool) *AudioHandler {
	return &AudioHandler{
		dispatcher:   dispatcher,
		logger:       logger,
		authRequired: authRequired,
	}
}

func (h *AudioHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/audio")
	{
		api.GET("/methods", h.ListMethods)
		api.POST("/:method", h.Call)
	}
}

func (h *AudioHandler) ListMethods(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"returnValue": true,
		"methods":     h.dispatcher.Methods(),
	})
}

func (h *AudioHandler) Call(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()
	method := c.Param("method")

	reply, appErr := h.call(c, method)
	code := 0
	if appErr != nil {
		code = int(appErr.Code)
		_ = c.Error(appErr)
	} else {
		c.JSON(http.StatusOK, reply)
	}

	h.logger.LogCall(ctx, transportHTTP, method, code, time.Since(start).Milliseconds())
}

func (h *AudioHandler) call(c *gin.Context, method string) (luna.Reply, *errors.AppError) {
	if h.dispatcher.IsWrite(method) {
		claims, ok := middleware.ClaimsFromContext(c)
		switch {
		case ok && !claims.HasScope(services.ScopeControl):
			return nil, errors.NewForbiddenError("Caller is not allowed to change audio state")
		case !ok && h.authRequired:
			return nil, errors.NewUnauthorizedError("authorization required")
		}
	}

	body, err := c.GetRawData()
	if err != nil {
		return nil, errors.NewInvalidParametersError("Unable to read request body")
	}

	reply, _, appErr := h.dispatcher.Invoke(c.Request.Context(), luna.Call{
		Transport: transportHTTP,
		Method:    method,
		Params:    body,
	})
	return reply, appErr
}
