package gateway

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/memorialsite/agentgw/internal/bus"
	"github.com/memorialsite/agentgw/internal/session"
	"github.com/memorialsite/agentgw/internal/timeline"
	"github.com/memorialsite/agentgw/internal/tools"
	"github.com/memorialsite/agentgw/internal/worker"
)

// Error codes carried in failed responses.
const (
	CodeInvalidRequest = "invalid_request"
	CodeAgentFailed    = "agent_execution_failed"
	CodeUnauthorized   = "unauthorized"
	CodeNotFound       = "not_found"
	CodeNotDurable     = "not_durable"
	CodeInternal       = "internal_error"
)

// ServerOptions configures the HTTP surface.
type ServerOptions struct {
	Service *Service
	Store   session.Store
	// Registry and Timeline are optional dashboard sources.
	Registry *tools.Registry
	Timeline *timeline.TimelineService
	// AuthToken guards /agent/* when set.
	AuthToken      string
	AllowedOrigins []string
}

// Server routes HTTP and WebSocket traffic to a Service.
type Server struct {
	svc      *Service
	lister   session.Lister
	registry *tools.Registry
	timeline *timeline.TimelineService
	token    string
	upgrader websocket.Upgrader
	maxMsg   int
}

// NewServer creates a Server.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		svc:      opts.Service,
		registry: opts.Registry,
		timeline: opts.Timeline,
		token:    opts.AuthToken,
		maxMsg:   opts.Service.maxMessage,
	}
	if l, err := session.AsLister(opts.Store); err == nil {
		s.lister = l
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	e := echo.New()
	e.Use(middleware.Recover())

	e.GET("/healthz", s.handleHealth)

	g := e.Group("/agent", s.requireToken)
	g.POST("/chat", s.handleChat)
	g.GET("/ws", s.handleWebSocket)
	g.DELETE("/session/:id", s.handleResetSession)
	g.GET("/sessions", s.handleListSessions)
	g.GET("/sessions/:id/history", s.handleSessionHistory)
	g.DELETE("/sessions/:id", s.handleDeleteSession)
	g.GET("/tools", s.handleListTools)
	g.GET("/timeline", s.handleTimeline)
	return e
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type chatResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func fail(c *echo.Context, status int, code string, err error) error {
	return c.JSON(status, errorResponse{Error: err.Error(), Code: code})
}

// Messages shown to clients for failed turns. Details stay in the logs.
const (
	msgAgentFailed = "the assistant could not complete this request, please try again"
	msgInternal    = "internal error"
)

// chatFailure maps a Chat error to its HTTP status, code and client message.
// Only validation errors are echoed back verbatim.
func chatFailure(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest, err.Error()
	case errors.Is(err, worker.ErrAgentExecution):
		return http.StatusInternalServerError, CodeAgentFailed, msgAgentFailed
	default:
		return http.StatusInternalServerError, CodeInternal, msgInternal
	}
}

func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if s.token == "" {
			return next(c)
		}
		r := c.Request()
		given := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if given == "" {
			// Browsers cannot set headers on a WebSocket upgrade.
			given = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(given), []byte(s.token)) != 1 {
			return fail(c, http.StatusUnauthorized, CodeUnauthorized, errors.New("unauthorized"))
		}
		return next(c)
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(c *echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, errors.New("request body must be a JSON object"))
	}
	reply, err := s.svc.Chat(c.Request().Context(), bus.TransportHTTP, req.SessionID, req.Message)
	if err != nil {
		status, code, msg := chatFailure(err)
		return c.JSON(status, errorResponse{Error: msg, Code: code})
	}
	return c.JSON(http.StatusOK, chatResponse{Success: true, Message: reply.Message, SessionID: reply.SessionID})
}

func (s *Server) handleResetSession(c *echo.Context) error {
	if err := s.svc.ResetSession(c.Request().Context(), c.Param("id")); err != nil {
		return fail(c, http.StatusInternalServerError, CodeInternal, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListSessions(c *echo.Context) error {
	if s.lister == nil {
		return fail(c, http.StatusNotImplemented, CodeNotDurable, session.ErrNotDurable)
	}
	infos, err := s.lister.List(c.Request().Context())
	if err != nil {
		return fail(c, http.StatusInternalServerError, CodeInternal, err)
	}
	if infos == nil {
		infos = []session.Info{}
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "sessions": infos})
}

func (s *Server) handleSessionHistory(c *echo.Context) error {
	if s.lister == nil {
		return fail(c, http.StatusNotImplemented, CodeNotDurable, session.ErrNotDurable)
	}
	turns, err := s.lister.History(c.Request().Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		return fail(c, http.StatusNotFound, CodeNotFound, err)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, CodeInternal, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "sessionId": c.Param("id"), "turns": turns})
}

func (s *Server) handleDeleteSession(c *echo.Context) error {
	if s.lister == nil {
		return fail(c, http.StatusNotImplemented, CodeNotDurable, session.ErrNotDurable)
	}
	return s.handleResetSession(c)
}

func (s *Server) handleListTools(c *echo.Context) error {
	defs := []tools.Definition{}
	if s.registry != nil {
		defs = s.registry.Definitions()
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "tools": defs})
}

func (s *Server) handleTimeline(c *echo.Context) error {
	if s.timeline == nil {
		return fail(c, http.StatusNotImplemented, CodeNotDurable, errors.New("timeline is disabled"))
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	events, err := s.timeline.Recent(limit)
	if err != nil {
		return fail(c, http.StatusInternalServerError, CodeInternal, err)
	}
	if events == nil {
		events = []timeline.TimelineEvent{}
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "events": events})
}
