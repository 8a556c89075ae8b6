package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Websocket method names.
const (
	MethodSaveSummary     = "summary.save"
	MethodRecentSummaries = "summary.recent"
	MethodSearchSummaries = "summary.search"
	MethodSummaryText     = "summary.text"
	MethodGeneratePrompts = "prompts.generate"
)

const (
	maxWSMessageSize = 512 * 1024
	wsReadTimeout    = 60 * time.Second
	wsWriteTimeout   = 10 * time.Second
	wsPingInterval   = 30 * time.Second
)

// rpcRequest is one client frame. Params use the JSON shape of the
// matching HTTP request body.
type rpcRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// rpcResponse answers the request with the same ID.
type rpcResponse struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Status int    `json:"status,omitempty"`
}

// wsConn is a single websocket client. Frames are handled in order; writes
// go through send so only writePump touches the connection for writing.
type wsConn struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan []byte
	done   chan struct{} // closed when writePump exits
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[SERVER] Websocket upgrade failed: %v", err)
		return
	}

	c := &wsConn{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	log.Printf("[SERVER] Websocket client %s connected", c.id)

	go c.writePump()
	c.readPump(context.WithoutCancel(r.Context()))
	log.Printf("[SERVER] Websocket client %s disconnected", c.id)
}

func (c *wsConn) readPump(ctx context.Context) {
	defer close(c.send)

	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[SERVER] Websocket read error from %s: %v", c.id, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		c.reply(c.handleFrame(ctx, data))
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) reply(resp rpcResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("[SERVER] Failed to encode websocket response: %v", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

// handleFrame decodes one request and runs the matching operation.
func (c *wsConn) handleFrame(ctx context.Context, data []byte) rpcResponse {
	var req rpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return failure("", badRequest("malformed request: "+err.Error()))
	}

	result, err := c.dispatch(ctx, req)
	if err != nil {
		return failure(req.ID, err)
	}
	return rpcResponse{ID: req.ID, OK: true, Result: result}
}

func (c *wsConn) dispatch(ctx context.Context, req rpcRequest) (any, error) {
	s := c.server
	switch req.Method {
	case MethodSaveSummary:
		var p saveRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.saveSummary(ctx, p)

	case MethodRecentSummaries:
		var p recentRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.recentSummaries(ctx, p)

	case MethodSearchSummaries:
		var p searchRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.searchSummaries(ctx, p)

	case MethodSummaryText:
		var p textRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.summaryText(p), nil

	case MethodGeneratePrompts:
		var p promptsRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return s.generatePrompts(ctx, p)

	default:
		return nil, badRequest(fmt.Sprintf("unknown method %q", req.Method))
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return badRequest("invalid params: " + err.Error())
	}
	return nil
}

func failure(id string, err error) rpcResponse {
	return rpcResponse{ID: id, OK: false, Error: err.Error(), Status: statusOf(err)}
}
