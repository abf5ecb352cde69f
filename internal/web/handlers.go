package web

import (
	"bufio"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/cjeanneret/WinkGo/internal/debug"
	"github.com/cjeanneret/WinkGo/internal/transport"
)

const (
	maxCommandBytes = 4096

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The service sits on a private vehicle network.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handlers turn HTTP requests into command lines for the control loop.
type Handlers struct {
	hub     *transport.Hub
	logs    *LogBroadcaster
	timeout time.Duration
}

func NewHandlers(hub *transport.Hub, logs *LogBroadcaster, timeout time.Duration) *Handlers {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Handlers{hub: hub, logs: logs, timeout: timeout}
}

// roundTrip submits one line and waits for the loop's reply.
func (h *Handlers) roundTrip(c *gin.Context, line string) {
	reply := transport.NewReply()
	if !h.hub.Submit(transport.Request{Line: line, Source: "http:" + c.ClientIP(), Reply: reply}) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"type": "error", "message": "command queue full"})
		return
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()
	select {
	case resp := <-reply:
		c.Data(http.StatusOK, "application/json", []byte(resp+"\n"))
	case <-timer.C:
		c.JSON(http.StatusGatewayTimeout, gin.H{"type": "error", "message": "controller did not answer"})
	case <-c.Request.Context().Done():
	}
}

// HandleCommand handles POST /command. The body is one command line,
// JSON object or bare keyword.
func (h *Handlers) HandleCommand(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCommandBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"type": "error", "message": "cannot read body"})
		return
	}
	if len(body) > maxCommandBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"type": "error", "message": "command too large"})
		return
	}
	line := strings.TrimSpace(string(body))
	if line == "" {
		c.JSON(http.StatusBadRequest, gin.H{"type": "error", "message": "empty command"})
		return
	}
	h.roundTrip(c, line)
}

func (h *Handlers) HandleStatus(c *gin.Context) {
	h.roundTrip(c, `{"action":"status"}`)
}

func (h *Handlers) HandleConfig(c *gin.Context) {
	h.roundTrip(c, `{"action":"config_get"}`)
}

func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": h.hub.Clients()})
}

// HandleStatusStream handles GET /status/stream for SSE. Status and
// notification lines from the loop and log lines are interleaved.
func (h *Handlers) HandleStatusStream(c *gin.Context) {
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	_, lines, unsubHub := h.hub.Subscribe("sse")
	defer unsubHub()
	var logs <-chan string
	if h.logs != nil {
		ch, unsubLogs := h.logs.Subscribe()
		defer unsubLogs()
		logs = ch
	}

	_, _ = w.WriteString(": connected\n\n")
	w.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-lines:
			if !ok {
				return
			}
			_, _ = w.WriteString("data: " + msg + "\n\n")
			w.Flush()

		case msg, ok := <-logs:
			if !ok {
				return
			}
			_, _ = w.WriteString("event: log\ndata: " + msg + "\n\n")
			w.Flush()

		case <-ticker.C:
			_, _ = w.WriteString(": heartbeat\n\n")
			w.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

// HandleWebSocket handles GET /ws. Every text message is split into
// command lines; replies and broadcasts go back as text messages.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		debug.Warn("WebSocket upgrade: %v", err)
		return
	}

	id, broadcasts, unsub := h.hub.Subscribe("ws")
	send := make(chan string, 64)
	done := make(chan struct{})

	go h.writePump(conn, broadcasts, send, done)
	h.readPump(conn, id, send)

	close(done)
	unsub()
}

func (h *Handlers) readPump(conn *websocket.Conn, id string, send chan<- string) {
	defer conn.Close()
	conn.SetReadLimit(maxCommandBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				debug.Warn("WebSocket %s read: %v", id, err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		sc := bufio.NewScanner(strings.NewReader(string(data)))
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			reply := transport.NewReply()
			if !h.hub.Submit(transport.Request{Line: line, Source: id, Reply: reply}) {
				continue
			}
			go func() {
				select {
				case resp := <-reply:
					select {
					case send <- resp:
					default:
					}
				case <-time.After(h.timeout):
				}
			}()
		}
	}
}

func (h *Handlers) writePump(conn *websocket.Conn, broadcasts <-chan string, send <-chan string, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	write := func(msg string) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, []byte(msg)) == nil
	}

	for {
		select {
		case msg, ok := <-broadcasts:
			if !ok || !write(msg) {
				return
			}
		case msg := <-send:
			if !write(msg) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
