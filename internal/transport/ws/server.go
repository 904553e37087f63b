// Package ws provides the WebSocket server for operator clients: state and
// frame subscriptions plus the trigger, replay and advance commands.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/heyglassy/flyspace/internal/bus"
	"github.com/heyglassy/flyspace/internal/domain"
	"github.com/heyglassy/flyspace/internal/interceptor"
	"github.com/heyglassy/flyspace/internal/service"
)

// Config holds the connection timeouts.
type Config struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// Server handles WebSocket connections.
type Server struct {
	cfg      Config
	hub      *Hub
	service  *service.Service
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg Config, h *Hub, svc *service.Service) *Server {
	return &Server{
		cfg:     cfg,
		hub:     h,
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The engine is a local development tool.
				return true
			},
		},
	}
}

// Run fans state changes and frames out to subscribed connections until ctx
// ends.
func (s *Server) Run(ctx context.Context) {
	events := s.service.Events(ctx, bus.KindStateChanged, bus.KindFrameRelayed)
	for ev := range events {
		switch e := ev.(type) {
		case bus.StateChanged:
			s.hub.BroadcastJSON(TopicState, stateMessage(e.Snapshot))
		case bus.FrameRelayed:
			s.hub.BroadcastJSON(TopicFrames, FrameMessage{
				BaseMessage: BaseMessage{Type: TypeFrame, Ts: time.Now().UnixMilli()},
				Frame:       e.Frame,
			})
		}
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	// Create and register connection
	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	// Start reader and writer goroutines
	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *Connection, data []byte) {
	var baseMsg BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch baseMsg.Type {
	case TypeSubscribe, TypeUnsubscribe:
		s.handleSubscription(conn, data)
	case TypeTrigger:
		s.handleTrigger(conn, data)
	case TypeNewEval:
		s.handleNewEval(conn, data)
	case TypeCompleteStep:
		s.handleCompleteStep(conn, baseMsg)
	default:
		s.sendError(conn, baseMsg.RequestID, ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleSubscription handles subscribe and unsubscribe messages. A new state
// subscriber receives the current state right away.
func (s *Server) handleSubscription(conn *Connection, data []byte) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid subscription message")
		return
	}
	if msg.Topic != TopicState && msg.Topic != TopicFrames {
		s.sendError(conn, msg.RequestID, ErrorCodeUnknownTopic, "unknown topic: "+msg.Topic)
		return
	}

	if msg.Type == TypeUnsubscribe {
		s.hub.Unsubscribe(conn, msg.Topic)
		s.sendAck(conn, msg.RequestID, msg.Type, nil)
		return
	}

	s.hub.Subscribe(conn, msg.Topic)
	s.sendAck(conn, msg.RequestID, msg.Type, nil)
	if msg.Topic == TopicState {
		s.hub.SendJSONToConnection(conn, stateMessage(s.service.State()))
	}
}

// handleTrigger handles trigger commands.
func (s *Server) handleTrigger(conn *Connection, data []byte) {
	var msg TriggerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid trigger message")
		return
	}

	resp, err := s.service.Trigger(conn.ctx, domain.TriggerRequest{File: msg.File, ExportName: msg.ExportName})
	if err != nil {
		s.sendCommandError(conn, msg.RequestID, err)
		return
	}
	log.Printf("Triggered %s#%s", resp.File, resp.ExportName)
	s.sendAck(conn, msg.RequestID, msg.Type, resp)
}

// handleNewEval handles replay commands. The replay runs off the read loop
// because it lasts as long as the capability call.
func (s *Server) handleNewEval(conn *Connection, data []byte) {
	var msg NewEvalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid new_eval message")
		return
	}

	go func() {
		if err := s.service.NewEval(conn.ctx, domain.NewEvalRequest{Prompt: msg.Prompt}); err != nil {
			s.sendCommandError(conn, msg.RequestID, err)
			return
		}
		s.sendAck(conn, msg.RequestID, msg.Type, nil)
	}()
}

// handleCompleteStep handles advance commands.
func (s *Server) handleCompleteStep(conn *Connection, msg BaseMessage) {
	go func() {
		if err := s.service.CompleteStep(conn.ctx); err != nil {
			s.sendCommandError(conn, msg.RequestID, err)
			return
		}
		s.sendAck(conn, msg.RequestID, msg.Type, nil)
	}()
}

func (s *Server) sendAck(conn *Connection, requestID, command string, trigger *domain.TriggerResponse) {
	s.hub.SendJSONToConnection(conn, AckMessage{
		BaseMessage: BaseMessage{Type: TypeAck, Ts: time.Now().UnixMilli(), RequestID: requestID},
		Command:     command,
		Trigger:     trigger,
	})
}

func (s *Server) sendCommandError(conn *Connection, requestID string, err error) {
	s.sendError(conn, requestID, errorCode(err), err.Error())
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *Connection, requestID, code, message string) {
	errMsg := ErrorMessage{
		BaseMessage: BaseMessage{
			Type:      TypeError,
			Ts:        time.Now().UnixMilli(),
			RequestID: requestID,
		},
		Code:    code,
		Message: message,
	}
	s.hub.SendJSONToConnection(conn, errMsg)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return ErrorCodeInvalidMessage
	case errors.Is(err, service.ErrUnknownEntryPoint):
		return ErrorCodeNotFound
	case errors.Is(err, service.ErrRunInProgress):
		return ErrorCodeRunInProgress
	case errors.Is(err, service.ErrNoPendingStep), errors.Is(err, interceptor.ErrStepBusy):
		return ErrorCodeNoPendingStep
	default:
		return ErrorCodeInternalError
	}
}

func stateMessage(snap domain.Snapshot) StateMessage {
	return StateMessage{
		BaseMessage: BaseMessage{Type: TypeState, Ts: time.Now().UnixMilli()},
		State:       snap,
	}
}
