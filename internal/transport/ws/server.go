// Package ws exposes the screening orchestrator over a WebSocket
// endpoint. One connection may carry several conversations; frames are
// JSON objects tagged by type.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driverline/screener/internal/screening"
	"github.com/driverline/screener/internal/storage"
)

const (
	frameStart   = "start"
	frameMessage = "message"

	frameChunk    = "message_chunk"
	frameComplete = "message_complete"
	frameError    = "error"
)

const writeTimeout = 10 * time.Second

type inboundFrame struct {
	Type           string `json:"type"`
	ApplicationID  string `json:"application_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
}

type outboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
	Status         string `json:"status,omitempty"`
	Decision       string `json:"decision,omitempty"`
	Done           bool   `json:"done,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Server serves the screening WebSocket endpoint at /ws.
type Server struct {
	orchestrator *screening.Orchestrator
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

// NewServer returns a Server backed by orchestrator.
func NewServer(orchestrator *screening.Orchestrator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		orchestrator: orchestrator,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The endpoint carries no cookies or ambient credentials,
			// so cross-origin dials are fine.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving the endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	session := &session{conn: conn, server: s, logger: s.logger.With(zap.String("remote", conn.RemoteAddr().String()))}
	session.logger.Info("websocket connected")
	session.run(r.Context())
	session.logger.Info("websocket disconnected")
}

// session is one WebSocket connection. Gorilla allows a single
// concurrent writer, so all writes go through writeMu.
type session struct {
	conn    *websocket.Conn
	server  *Server
	logger  *zap.Logger
	writeMu sync.Mutex
}

func (s *session) run(ctx context.Context) {
	for {
		var frame inboundFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		s.dispatch(ctx, frame)
	}
}

func (s *session) dispatch(ctx context.Context, frame inboundFrame) {
	switch frame.Type {
	case frameStart:
		s.handleStart(ctx, frame)
	case frameMessage:
		s.handleMessage(ctx, frame)
	default:
		s.sendError("", fmt.Sprintf("unknown frame type %q", frame.Type))
	}
}

func (s *session) handleStart(ctx context.Context, frame inboundFrame) {
	applicationID, err := uuid.Parse(frame.ApplicationID)
	if err != nil {
		s.sendError("", "invalid application_id")
		return
	}

	// Greeting chunks carry no conversation_id; the client learns the
	// id from the completion frame.
	result, err := s.server.orchestrator.StartConversation(ctx, applicationID, func(chunk string) error {
		return s.send(outboundFrame{Type: frameChunk, Content: chunk})
	})
	if err != nil {
		s.logger.Error("start conversation failed", zap.Error(err))
		s.sendError("", userFacing(err))
		return
	}
	s.sendComplete(result)
}

func (s *session) handleMessage(ctx context.Context, frame inboundFrame) {
	conversationID, err := uuid.Parse(frame.ConversationID)
	if err != nil {
		s.sendError(frame.ConversationID, "invalid conversation_id")
		return
	}
	if frame.Content == "" {
		s.sendError(frame.ConversationID, "empty message")
		return
	}

	result, err := s.server.orchestrator.HandleTurn(ctx, conversationID, frame.Content, func(chunk string) error {
		return s.send(outboundFrame{Type: frameChunk, ConversationID: frame.ConversationID, Content: chunk})
	})
	if err != nil {
		s.logger.Error("turn failed",
			zap.String("conversation_id", frame.ConversationID),
			zap.Error(err),
		)
		s.sendError(frame.ConversationID, userFacing(err))
		return
	}
	s.sendComplete(result)
}

func (s *session) sendComplete(result *screening.Result) {
	s.send(outboundFrame{
		Type:           frameComplete,
		ConversationID: result.ConversationID.String(),
		Content:        result.Reply,
		Status:         string(result.Status),
		Decision:       string(result.Decision),
		Done:           result.Done,
	})
}

func (s *session) sendError(conversationID, message string) {
	s.send(outboundFrame{Type: frameError, ConversationID: conversationID, Error: message})
}

func (s *session) send(frame outboundFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(frame); err != nil {
		s.logger.Warn("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}

// userFacing maps internal errors to messages safe to put on the wire.
func userFacing(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "not found"
	case errors.Is(err, screening.ErrConversationClosed):
		return "this conversation has ended"
	case errors.Is(err, screening.ErrNoRequirements):
		return "this job is not configured for screening"
	case errors.Is(err, screening.ErrEvaluationUnavailable):
		return "we couldn't process that just now, please resend your answer"
	default:
		return "internal error"
	}
}
