package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"audiod/internal/core/services"
	"audiod/internal/handlers/luna"
	"audiod/internal/infrastructure/middleware"
	"audiod/pkg/config"
	apperrors "audiod/pkg/errors"
	"audiod/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const transportWebSocket = "ws"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Request is one call frame sent by a client. Method "cancel" ends the
// subscription opened under the same token.
type Request struct {
	Token   int64           `json:"token"`
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response carries the reply to a call and every later push for a
// subscription, tagged with the token of the call.
type Response struct {
	Token   int64      `json:"token"`
	Payload luna.Reply `json:"payload"`
}

type WebSocketServer struct {
	dispatcher *luna.Dispatcher
	hub        *Hub
	auth       services.AuthService

	pingInterval   time.Duration
	pongTimeout    time.Duration
	writeTimeout   time.Duration
	sendBuffer     int
	maxMessageSize int64
	messageRate    rate.Limit
	messageBurst   int
	maxConns       int64
	conns          atomic.Int64

	logger  *zap.SugaredLogger
	callLog *logger.ContextLogger
}

// NewWebSocketServer builds the subscription endpoint. auth may be nil, in
// which case every connection may call every method.
func NewWebSocketServer(
	dispatcher *luna.Dispatcher,
	hub *Hub,
	auth services.AuthService,
	cfg *config.Config,
	log *zap.Logger,
) *WebSocketServer {
	ws := cfg.RateLimiting.WebSocket
	s := &WebSocketServer{
		dispatcher:     dispatcher,
		hub:            hub,
		auth:           auth,
		pingInterval:   cfg.Bus.PingInterval,
		pongTimeout:    cfg.Bus.PongTimeout,
		writeTimeout:   cfg.Bus.WriteTimeout,
		sendBuffer:     cfg.Bus.SendBuffer,
		maxMessageSize: ws.MaxMessageSizeBytes,
		messageRate:    rate.Inf,
		logger:         log.Sugar(),
		callLog:        logger.NewContextLogger(log),
	}
	if cfg.RateLimiting.Enabled {
		s.messageRate = rate.Limit(ws.MessagesPerSecond)
		s.messageBurst = ws.Burst
		s.maxConns = int64(ws.MaxConcurrent)
	}
	if s.sendBuffer <= 0 {
		s.sendBuffer = 64
	}
	if s.pingInterval <= 0 {
		s.pingInterval = 30 * time.Second
	}
	if s.pongTimeout <= 0 {
		s.pongTimeout = 2 * s.pingInterval
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = 10 * time.Second
	}
	return s
}

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan Response
	done    chan struct{}
	claims  *services.Claims
	limiter *rate.Limiter
}

// push queues a frame without blocking. A full queue means the client is
// not reading and the frame is refused.
func (c *client) push(token int64, reply luna.Reply) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- Response{Token: token, Payload: reply}:
		return true
	default:
		return false
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, appErr := s.authenticate(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}

	if s.maxConns > 0 {
		if s.conns.Add(1) > s.maxConns {
			s.conns.Add(-1)
			writeError(w, apperrors.NewRateLimitError())
			return
		}
	} else {
		s.conns.Add(1)
	}
	defer s.conns.Add(-1)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan Response, s.sendBuffer),
		done:    make(chan struct{}),
		claims:  claims,
		limiter: rate.NewLimiter(s.messageRate, s.messageBurst),
	}
	ctx := logger.WithRequestID(r.Context(), c.id)
	if claims != nil {
		ctx = logger.WithCaller(ctx, claims.Caller)
	}

	s.logger.Infow("client connected", "connection_id", c.id, "remote_addr", middleware.ClientIP(r))

	if s.maxMessageSize > 0 {
		conn.SetReadLimit(s.maxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(c)
	}()

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message from client", "connection_id", c.id, "error", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		s.handleRequest(ctx, c, req)
	}

	close(c.done)
	<-writerDone
	dropped := s.hub.Drop(c.id)
	s.logger.Infow("client disconnected", "connection_id", c.id, "subscriptions", dropped)
}

func (s *WebSocketServer) writeLoop(c *client) {
	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-c.done:
			return
		case resp := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteJSON(resp); err != nil {
				s.logger.Infow("error writing to client", "connection_id", c.id, "error", err)
				c.conn.Close()
				return
			}
		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "connection_id", c.id, "error", err)
				c.conn.Close()
				return
			}
		}
	}
}

func (s *WebSocketServer) handleRequest(ctx context.Context, c *client, req Request) {
	start := time.Now()

	// The slot is reserved before the call reads state so that nothing
	// raised between the reply snapshot and activation is lost.
	var slot string
	if req.Method != "cancel" {
		slot = s.hub.Reserve(c.id, req.Token)
	}

	reply, watcher, appErr := s.call(ctx, c, req)
	code := 0
	if appErr != nil {
		code = int(appErr.Code)
		reply = appErr.Reply()
	}
	if !c.push(req.Token, reply) {
		s.logger.Warnw("reply dropped, client send queue full", "connection_id", c.id, "token", req.Token)
		if slot != "" {
			s.hub.Release(slot)
		}
		return
	}
	switch {
	case watcher != nil:
		s.hub.Activate(slot, watcher, c.push)
	case slot != "":
		s.hub.Release(slot)
	}

	if req.Method != "cancel" {
		s.callLog.LogCall(ctx, transportWebSocket, req.Method, code, time.Since(start).Milliseconds())
	}
}

func (s *WebSocketServer) call(ctx context.Context, c *client, req Request) (luna.Reply, *luna.Watcher, *apperrors.AppError) {
	if !c.limiter.Allow() {
		return nil, nil, apperrors.NewRateLimitError()
	}

	if req.Method == "cancel" {
		if !s.hub.Cancel(c.id, req.Token) {
			return nil, nil, apperrors.NewInvalidParametersError("No subscription for this token")
		}
		return luna.Reply{"returnValue": true}, nil, nil
	}

	if s.dispatcher.IsWrite(req.Method) && c.claims != nil && !c.claims.HasScope(services.ScopeControl) {
		return nil, nil, apperrors.NewForbiddenError("Caller is not allowed to change audio state")
	}

	return s.dispatcher.Invoke(ctx, luna.Call{
		Transport:    transportWebSocket,
		Method:       req.Method,
		Params:       req.Payload,
		CanSubscribe: true,
	})
}

func (s *WebSocketServer) authenticate(r *http.Request) (*services.Claims, *apperrors.AppError) {
	if s.auth == nil {
		return nil, nil
	}
	token, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		return nil, apperrors.NewUnauthorizedError("authorization required")
	}
	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		return nil, apperrors.NewUnauthorizedError(err.Error())
	}
	return claims, nil
}

// Connections reports the number of open websocket connections.
func (s *WebSocketServer) Connections() int64 {
	return s.conns.Load()
}

func writeError(w http.ResponseWriter, appErr *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(appErr.Reply())
}
