package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/pkg/config"
	"github.com/xhad/becabot/pkg/logger"
	"github.com/xhad/becabot/pkg/rag"
)

// Service is the chatbot surface the HTTP layer drives.
type Service interface {
	AnswerStream(ctx context.Context, question, session string, onChunk func(string)) (rag.Reply, error)
	History(ctx context.Context, session string) ([]models.ConversationTurn, error)
	ClearSession(ctx context.Context, session string) (int64, error)
	Regenerate(ctx context.Context) (rag.BuildReport, error)
	RefreshCorpus(ctx context.Context) (rag.RefreshReport, error)
	Status(ctx context.Context) rag.Status
}

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Session string      `json:"session,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type chatRequest struct {
	Message string `json:"message"`
	Session string `json:"session"`
}

type chatResponse struct {
	Success  bool             `json:"success"`
	Response string           `json:"response"`
	Sources  models.Citations `json:"sources"`
	Degraded bool             `json:"degraded,omitempty"`
	Session  string           `json:"session"`
}

type Server struct {
	svc      Service
	cfg      config.ServerConfig
	log      *logger.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

func New(svc Service, cfg config.ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		svc: svc,
		cfg: cfg,
		log: log.With("component", "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Be careful with this in production
			},
		},
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/ws", s.handleWebSocket)

	api := r.Group("/api")
	api.POST("/chat", s.handleChat)
	api.GET("/chat/history", s.handleHistory)
	api.POST("/chat/clear", s.handleClear)
	api.POST("/index/rebuild", s.handleRebuild)
	api.POST("/corpus/refresh", s.handleRefresh)

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func sessionOrNew(session string) string {
	if session = strings.TrimSpace(session); session != "" {
		return session
	}
	return uuid.NewString()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": s.svc.Status(c.Request.Context())})
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		fail(c, http.StatusBadRequest, rag.ErrEmptyQuestion)
		return
	}
	session := sessionOrNew(req.Session)

	reply, err := s.svc.AnswerStream(c.Request.Context(), req.Message, session, nil)
	if err != nil {
		s.log.Error("chat failed", "session_id", session, "error", err)
		fail(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse{
		Success:  true,
		Response: reply.Text,
		Sources:  reply.Citations,
		Degraded: reply.Degraded,
		Session:  session,
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	session := strings.TrimSpace(c.Query("session"))
	if session == "" {
		fail(c, http.StatusBadRequest, errors.New("session is required"))
		return
	}
	turns, err := s.svc.History(c.Request.Context(), session)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	if turns == nil {
		turns = []models.ConversationTurn{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": session, "history": turns})
}

func (s *Server) handleClear(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Session) == "" {
		fail(c, http.StatusBadRequest, errors.New("session is required"))
		return
	}
	deleted, err := s.svc.ClearSession(c.Request.Context(), req.Session)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted})
}

func (s *Server) handleRebuild(c *gin.Context) {
	report, err := s.svc.Regenerate(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, rag.ErrNothingToIndex) {
			status = http.StatusBadRequest
		}
		fail(c, status, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

func (s *Server) handleRefresh(c *gin.Context) {
	report, err := s.svc.RefreshCorpus(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, rag.ErrNoScraper) || errors.Is(err, rag.ErrNothingToIndex) {
			status = http.StatusBadRequest
		}
		fail(c, status, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Messages without a session continue the connection's conversation.
	connSession := uuid.NewString()
	ctx := c.Request.Context()
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read ended", "error", err)
			}
			return
		}

		if strings.TrimSpace(msg.Session) == "" {
			msg.Session = connSession
		}
		// Messages on one connection are answered in order.
		s.handleMessage(ctx, conn, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) {
	session := msg.Session
	if msg.Type != "question" {
		s.sendMessage(conn, Message{Type: "error", Content: "unsupported message type: " + msg.Type, Session: session})
		return
	}
	if strings.TrimSpace(msg.Content) == "" {
		s.sendMessage(conn, Message{Type: "error", Content: rag.ErrEmptyQuestion.Error(), Session: session})
		return
	}

	reply, err := s.svc.AnswerStream(ctx, msg.Content, session, func(chunk string) {
		s.sendMessage(conn, Message{Type: "stream", Content: chunk, Session: session})
	})
	if err != nil {
		s.log.Error("chat failed", "session_id", session, "error", err)
		s.sendMessage(conn, Message{Type: "error", Content: err.Error(), Session: session})
		return
	}

	s.sendMessage(conn, Message{
		Type:    "response",
		Content: reply.Text,
		Session: session,
		Data:    gin.H{"sources": reply.Citations, "degraded": reply.Degraded},
	})
}

func (s *Server) sendMessage(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		s.log.Warn("error sending message", "error", err)
	}
}
