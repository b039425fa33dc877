// Package httpapi exposes the same domain operations as internal/server's
// TCP protocol over a conventional JSON REST surface, for callers that
// would rather not speak the binary frame protocol. It is a thin Echo
// adapter over the same auth/room/messaging services; all real behavior
// (validation, rate limiting, fan-out) lives in those packages, matching
// how the teacher's api.go sits alongside its websocket room rather than
// reimplementing room logic itself.
package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"chatcore/internal/auth"
	"chatcore/internal/messaging"
	"chatcore/internal/protocol"
	"chatcore/internal/room"
	"chatcore/internal/store"
)

// Server is the Echo application backing the REST adapter.
type Server struct {
	echo    *echo.Echo
	store   store.Store
	authSvc *auth.Service
	roomSvc *room.Service
	msgSvc  *messaging.Service
}

// New constructs an Echo app wired to the given services.
func New(st store.Store, authSvc *auth.Service, roomSvc *room.Service, msgSvc *messaging.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[api] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{echo: e, store: st, authSvc: authSvc, roomSvc: roomSvc, msgSvc: msgSvc}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	s.echo.POST("/api/v1/auth/register", s.handleRegister)
	s.echo.POST("/api/v1/auth/login", s.handleLogin)

	authed := s.echo.Group("", s.requireSession)
	authed.GET("/api/v1/rooms", s.handleListRooms)
	authed.POST("/api/v1/rooms", s.handleCreateRoom)
	authed.POST("/api/v1/rooms/:name/join", s.handleJoinRoom)
	authed.POST("/api/v1/messages", s.handlePostMessage)
	authed.GET("/api/v1/messages", s.handleGetMessages)
}

// Run starts Echo and blocks until ctx cancellation or startup failure,
// the same shutdown idiom as the teacher's APIServer.Run.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutCtx); err != nil {
			log.Printf("[api] shutdown: %v", err)
		}
		return nil
	}
}

// sessionKey is the echo.Context key holding the validated store.Session.
const sessionKey = "chatcore_session"

// requireSession validates the bearer session token and stashes the
// resolved session on the context for downstream handlers.
func (s *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authz := c.Request().Header.Get("Authorization")
		token := strings.TrimPrefix(authz, "Bearer ")
		if token == "" || token == authz {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer session token")
		}
		sess, err := s.authSvc.ValidateSession(c.Request().Context(), token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired session")
		}
		if sess.ID != token {
			// The session fell within its renewal window and was reissued;
			// hand the new token back so the client can keep using it.
			c.Response().Header().Set("X-Session-Token", sess.ID)
		}
		c.Set(sessionKey, sess)
		return next(c)
	}
}

func sessionFrom(c echo.Context) store.Session {
	sess, _ := c.Get(sessionKey).(store.Session)
	return sess
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, err := s.authSvc.Register(c.Request().Context(), req.Username, req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, userResponse{ID: u.ID.String(), Username: u.Username, Role: string(u.Role)})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	SessionToken string       `json:"session_token"`
	User         userResponse `json:"user"`
}

func (s *Server) handleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u, sess, err := s.authSvc.Login(c.Request().Context(), req.Identifier, req.Password, c.RealIP())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loginResponse{
		SessionToken: sess.ID,
		User:         userResponse{ID: u.ID.String(), Username: u.Username, Role: string(u.Role)},
	})
}

type roomResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MembersCount int    `json:"members_count"`
	Topic        string `json:"topic,omitempty"`
}

func (s *Server) handleListRooms(c echo.Context) error {
	rooms, err := s.roomSvc.ListRooms(c.Request().Context())
	if err != nil {
		return err
	}
	resp := make([]roomResponse, 0, len(rooms))
	for _, r := range rooms {
		members, err := s.store.ListMembers(c.Request().Context(), r.ID)
		if err != nil {
			return err
		}
		resp = append(resp, roomResponse{ID: r.ID.String(), Name: r.Name, MembersCount: len(members), Topic: r.Topic})
	}
	return c.JSON(http.StatusOK, resp)
}

type createRoomRequest struct {
	Name       string `json:"name"`
	Topic      string `json:"topic"`
	Private    bool   `json:"private"`
	MaxMembers *int   `json:"max_members"`
}

func (s *Server) handleCreateRoom(c echo.Context) error {
	var req createRoomRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess := sessionFrom(c)
	r, err := s.roomSvc.CreateRoom(c.Request().Context(), req.Name, req.Topic, sess.UserID, req.Private, req.MaxMembers)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, roomResponse{ID: r.ID.String(), Name: r.Name, MembersCount: 1, Topic: r.Topic})
}

func (s *Server) handleJoinRoom(c echo.Context) error {
	sess := sessionFrom(c)
	result, err := s.roomSvc.JoinRoom(c.Request().Context(), c.Param("name"), sess.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, roomResponse{ID: result.Room.ID.String(), Name: result.Room.Name, MembersCount: len(result.Members), Topic: result.Room.Topic})
}

type postMessageRequest struct {
	Target protocol.Target `json:"target"`
	Body   string          `json:"body"`
}

type messageResponse struct {
	ID        uint64 `json:"id"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"`
}

func (s *Server) handlePostMessage(c echo.Context) error {
	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess := sessionFrom(c)
	author, err := s.store.GetUserByID(c.Request().Context(), sess.UserID)
	if err != nil {
		return err
	}

	if req.Target.Kind == protocol.TargetDirect {
		result, err := s.msgSvc.PublishDirect(c.Request().Context(), sess.UserID, author.Username, req.Target.Name, req.Body, 0)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, messageResponse{ID: result.Message.ID, Author: author.Username, Body: result.Message.Body, CreatedAt: result.Message.CreatedAt.UnixMicro()})
	}

	r, err := s.store.GetRoomByName(c.Request().Context(), req.Target.Name)
	if err != nil {
		return err
	}
	result, err := s.msgSvc.PublishRoomMessage(c.Request().Context(), r.ID, r.Name, sess.UserID, author.Username, req.Body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, messageResponse{ID: result.Message.ID, Author: author.Username, Body: result.Message.Body, CreatedAt: result.Message.CreatedAt.UnixMicro()})
}

type historyResponse struct {
	Messages []messageResponse `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

// handleGetMessages parses ?target=room:<name>|direct:<username>&before=<id>&limit=<n>.
func (s *Server) handleGetMessages(c echo.Context) error {
	sess := sessionFrom(c)
	target, err := parseTargetQuery(c.Request().Context(), s.store, sess.UserID, c.QueryParam("target"))
	if err != nil {
		return err
	}
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	var before *uint64
	if b := c.QueryParam("before"); b != "" {
		n, err := strconv.ParseUint(b, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "before must be a message id")
		}
		before = &n
	}

	page, err := s.msgSvc.FetchHistory(c.Request().Context(), target, before, limit)
	if err != nil {
		return err
	}
	resp := historyResponse{Messages: make([]messageResponse, 0, len(page.Messages)), HasMore: page.HasMore}
	for _, m := range page.Messages {
		author, err := s.store.GetUserByID(c.Request().Context(), m.AuthorID)
		if err != nil {
			return err
		}
		resp.Messages = append(resp.Messages, messageResponse{ID: m.ID, Author: author.Username, Body: m.Body, CreatedAt: m.CreatedAt.UnixMicro()})
	}
	return c.JSON(http.StatusOK, resp)
}

// parseTargetQuery decodes "room:<name>" or "direct:<username>" into a
// store.MessageTarget, resolving a direct peer's username to their id.
func parseTargetQuery(ctx context.Context, st store.Store, selfID uuid.UUID, raw string) (store.MessageTarget, error) {
	kind, name, ok := strings.Cut(raw, ":")
	if !ok || name == "" {
		return store.MessageTarget{}, echo.NewHTTPError(http.StatusBadRequest, `target must be "room:<name>" or "direct:<username>"`)
	}
	switch kind {
	case "room":
		r, err := st.GetRoomByName(ctx, name)
		if err != nil {
			return store.MessageTarget{}, err
		}
		return store.RoomTarget(r.ID), nil
	case "direct":
		peer, err := st.GetUserByUsername(ctx, name)
		if err != nil {
			return store.MessageTarget{}, err
		}
		return store.DirectTarget(selfID, peer.ID), nil
	default:
		return store.MessageTarget{}, echo.NewHTTPError(http.StatusBadRequest, `target kind must be "room" or "direct"`)
	}
}

// jsonErrorHandler ensures every error response carries a consistent JSON
// body and the status code the domain error taxonomy maps to, mirroring
// the teacher's own jsonErrorHandler in api.go.
func jsonErrorHandler(err error, c echo.Context) {
	code, msg := statusFor(err)
	if !c.Response().Committed {
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
		} else {
			_ = c.JSON(code, map[string]string{"error": msg})
		}
	}
}

func statusFor(err error) (int, string) {
	if he, ok := err.(*echo.HTTPError); ok {
		if m, ok := he.Message.(string); ok {
			return he.Code, m
		}
		return he.Code, http.StatusText(he.Code)
	}

	var rl *auth.RateLimitedError
	if errors.As(err, &rl) {
		return http.StatusTooManyRequests, rl.Error()
	}
	var ae *auth.Error
	if errors.As(err, &ae) {
		return statusForCode(ae.Code), ae.Message
	}
	var re *room.Error
	if errors.As(err, &re) {
		return statusForCode(re.Code), re.Message
	}
	var me *messaging.Error
	if errors.As(err, &me) {
		return statusForCode(me.Code), me.Message
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "not found"
	}
	if errors.Is(err, store.ErrAlreadyExists) {
		return http.StatusConflict, "already exists"
	}
	return http.StatusInternalServerError, "internal server error"
}

func statusForCode(code string) int {
	switch code {
	case protocol.CodeBadRequest, protocol.CodeInvalidInput:
		return http.StatusBadRequest
	case protocol.CodeUnauthenticated, protocol.CodeInvalidCredentials:
		return http.StatusUnauthorized
	case protocol.CodeForbidden:
		return http.StatusForbidden
	case protocol.CodeNotFound:
		return http.StatusNotFound
	case protocol.CodeConflict, protocol.CodeUsernameTaken:
		return http.StatusConflict
	case protocol.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
