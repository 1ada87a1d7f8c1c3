// Package stubserver is a self-contained development backend for the chat
// client: REST catalog endpoints, a login endpoint that mints portal-shaped
// JWTs, and the realtime websocket surface. It keeps everything in memory
// and seeds a small fixture of users and channels.
package stubserver

import (
	"encoding/json"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Gamage-Recruiters/ems-chat/internal/proto"
)

const contextKeyClaims = "claims"

// ErrorResponse is the REST error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server bundles the stub backend's state, hub and HTTP surface.
type Server struct {
	log    *zerolog.Logger
	state  *state
	hub    *hub
	jwt    *JWTConfig
	engine *gin.Engine
}

// NewServer builds a seeded stub backend. The returned server serves both the
// REST routes and /ws from one handler, so it drops straight into httptest.
func NewServer(logger *zerolog.Logger) (*Server, error) {
	st := newState()
	if err := st.seed(); err != nil {
		return nil, fmt.Errorf("seed state: %w", err)
	}

	s := &Server{
		log:   logger,
		state: st,
		hub:   newHub(logger),
		jwt: &JWTConfig{
			Secret: []byte("ems-chat-dev-secret"),
			Issuer: "ems-portal",
			TTL:    24 * time.Hour,
		},
	}
	s.engine = s.routes()
	return s, nil
}

// Handler exposes the full HTTP surface, REST and websocket.
func (s *Server) Handler() stdhttp.Handler { return s.engine }

// HTTPServer wraps the handler in a listening server.
func (s *Server) HTTPServer(addr string) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggerMiddleware(s.log))

	engine.GET("/health", func(c *gin.Context) { c.String(stdhttp.StatusOK, "ok") })
	engine.POST("/auth/login", s.handleLogin)
	engine.GET("/ws", gin.WrapF(s.handleWS))

	authed := engine.Group("/chat")
	authed.Use(authMiddleware(s.jwt, s.log))
	authed.GET("/channels", s.handleListChannels)
	authed.POST("/channels", s.handleCreateChannel)
	authed.PUT("/channels/:id", s.handleUpdateChannel)
	authed.DELETE("/channels/:id", s.handleDeleteChannel)
	authed.GET("/channels/:id/messages", s.handleChannelMessages)
	authed.GET("/employees", s.handleListEmployees)
	return engine
}

// LoginRequest is the login request body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the minted portal credential.
type LoginResponse struct {
	Token string `json:"token"`
}

// POST /auth/login
func (s *Server) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	u, ok := s.state.userByUsername(req.Username)
	if !ok || comparePassword(u.passwordHash, req.Password) != nil {
		c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		return
	}

	token, err := GenerateToken(s.jwt, u)
	if err != nil {
		s.log.Error().Err(err).Str("username", req.Username).Msg("failed to mint token")
		c.JSON(stdhttp.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	s.log.Info().Str("username", req.Username).Msg("user logged in")
	c.JSON(stdhttp.StatusOK, LoginResponse{Token: token})
}

// GET /chat/channels
func (s *Server) handleListChannels(c *gin.Context) {
	claims := mustClaims(c)
	channels := s.state.listChannels(claims.UserID)
	if channels == nil {
		channels = []proto.Channel{}
	}
	c.JSON(stdhttp.StatusOK, channels)
}

// CreateChannelRequest is the channel creation body.
type CreateChannelRequest struct {
	Name      string            `json:"name" binding:"required"`
	Kind      proto.ChannelKind `json:"type" binding:"required"`
	MemberIDs []string          `json:"member_ids"`
}

// POST /chat/channels
func (s *Server) handleCreateChannel(c *gin.Context) {
	claims := mustClaims(c)
	if !elevatedRole(claims.Role) {
		c.JSON(stdhttp.StatusForbidden, ErrorResponse{Error: "channel administration is restricted"})
		return
	}

	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Kind != proto.ChannelRegular && req.Kind != proto.ChannelNotice {
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "type must be regular or notice"})
		return
	}
	if req.Kind == proto.ChannelRegular && len(req.MemberIDs) == 0 {
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "regular channels need members"})
		return
	}

	ch := s.state.createChannel(req.Name, req.Kind, req.MemberIDs)
	s.announceChannel(ch)
	c.JSON(stdhttp.StatusCreated, ch)
}

// UpdateChannelRequest is the channel patch body.
type UpdateChannelRequest struct {
	Name      *string  `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

// PUT /chat/channels/:id
func (s *Server) handleUpdateChannel(c *gin.Context) {
	claims := mustClaims(c)
	if !elevatedRole(claims.Role) {
		c.JSON(stdhttp.StatusForbidden, ErrorResponse{Error: "channel administration is restricted"})
		return
	}

	var req UpdateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ch, ok := s.state.updateChannel(c.Param("id"), req.Name, req.MemberIDs)
	if !ok {
		c.JSON(stdhttp.StatusNotFound, ErrorResponse{Error: "channel not found"})
		return
	}
	c.JSON(stdhttp.StatusOK, ch)
}

// DELETE /chat/channels/:id
func (s *Server) handleDeleteChannel(c *gin.Context) {
	claims := mustClaims(c)
	if !elevatedRole(claims.Role) {
		c.JSON(stdhttp.StatusForbidden, ErrorResponse{Error: "channel administration is restricted"})
		return
	}

	if !s.state.deleteChannel(c.Param("id")) {
		c.JSON(stdhttp.StatusNotFound, ErrorResponse{Error: "channel not found"})
		return
	}
	c.Status(stdhttp.StatusNoContent)
}

// GET /chat/channels/:id/messages
func (s *Server) handleChannelMessages(c *gin.Context) {
	claims := mustClaims(c)

	ch, ok := s.state.channel(c.Param("id"))
	if !ok {
		c.JSON(stdhttp.StatusNotFound, ErrorResponse{Error: "channel not found"})
		return
	}
	if ch.Kind != proto.ChannelNotice && !memberOf(&ch, claims.UserID) {
		c.JSON(stdhttp.StatusForbidden, ErrorResponse{Error: "not a channel member"})
		return
	}

	limit := intQuery(c, "limit", 50)
	skip := intQuery(c, "skip", 0)
	msgs := s.state.page(ch.ID, limit, skip)
	if msgs == nil {
		msgs = []proto.Message{}
	}
	c.JSON(stdhttp.StatusOK, msgs)
}

// GET /chat/employees
func (s *Server) handleListEmployees(c *gin.Context) {
	employees := s.state.employees()
	if employees == nil {
		employees = []proto.Employee{}
	}
	c.JSON(stdhttp.StatusOK, employees)
}

// announceChannel pushes channel:new to connections that should see the new
// channel: its members, or everyone for a notice board.
func (s *Server) announceChannel(ch proto.Channel) {
	payload, err := json.Marshal(ch)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal channel:new")
		return
	}
	frame := proto.Frame{Type: proto.TypeChannelNew, Data: payload}

	if ch.Kind == proto.ChannelNotice {
		var everyone []string
		for _, e := range s.state.employees() {
			everyone = append(everyone, e.ID)
		}
		s.hub.notifyUsers(frame, everyone...)
		return
	}
	s.hub.notifyUsers(frame, ch.MemberIDs...)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n < 0 {
		return fallback
	}
	return n
}
