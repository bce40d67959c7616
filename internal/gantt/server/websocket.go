package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	gsync "github.com/MattDClarke/gantt-sync/internal/gantt/sync"
)

// MessageType names a websocket request.
type MessageType string

const (
	// MessageTypeLoad asks for the full dataset.
	MessageTypeLoad MessageType = "load"

	// MessageTypeSync carries a sync request in the same frame.
	MessageTypeSync MessageType = "sync"
)

// Fixed websocket error messages.
const (
	UnknownMessageType = "Unknown message type"
	InvalidMessage     = "Invalid message"
)

// LoadReply answers a load frame.
type LoadReply struct {
	Type MessageType `json:"type"`
	*gsync.LoadResponse
}

// SyncReply answers a sync frame.
type SyncReply struct {
	Type MessageType `json:"type"`
	*gsync.Response
}

// ErrorReply answers a frame that could not be handled.
type ErrorReply struct {
	Type    MessageType `json:"type"`
	Success bool        `json:"success"`
	Message string      `json:"message"`
}

type envelope struct {
	Type MessageType `json:"type"`
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxBodyBytes)

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	s.wg.Add(1)
	go s.readLoop(conn)
}

// readLoop answers each frame in order until the client goes away.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()
	defer s.removeClient(conn)

	for {
		typ, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		reply, err := json.Marshal(s.handleFrame(s.ctx, data))
		if err != nil {
			s.logger.Printf("Failed to marshal reply: %v", err)
			continue
		}

		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		err = conn.Write(ctx, websocket.MessageText, reply)
		cancel()
		if err != nil {
			s.logger.Printf("Failed to send to client: %v", err)
			return
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, data []byte) any {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &ErrorReply{Success: false, Message: InvalidMessage}
	}

	switch env.Type {
	case MessageTypeLoad:
		return &LoadReply{Type: env.Type, LoadResponse: s.loader.Respond(ctx)}

	case MessageTypeSync:
		req, err := gsync.DecodeRequestBytes(data)
		if err != nil {
			s.logger.Printf("Rejected sync frame: %v", err)
			return &ErrorReply{Type: env.Type, Success: false, Message: InvalidRequestMessage}
		}
		return &SyncReply{Type: env.Type, Response: s.reconciler.Sync(ctx, req)}

	default:
		return &ErrorReply{Type: env.Type, Success: false, Message: UnknownMessageType}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}
