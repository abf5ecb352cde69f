package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// LogEvent is one log line forwarded to SSE clients.
type LogEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// LogBroadcaster fans log lines out to the SSE clients. It is fed by
// debug.SetOutput through Writer.
type LogBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	now     func() time.Time
}

func NewLogBroadcaster() *LogBroadcaster {
	return &LogBroadcaster{
		clients: make(map[chan string]struct{}),
		now:     time.Now,
	}
}

// Subscribe returns a channel of encoded LogEvents and a cleanup
// function to call on disconnect.
func (b *LogBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast sends one event to every client; slow clients drop it.
func (b *LogBroadcaster) Broadcast(level, msg string) {
	data, err := json.Marshal(LogEvent{
		Time:  b.now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	})
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Writer adapts the broadcaster to io.Writer so it can be teed into the
// logger output.
func (b *LogBroadcaster) Writer() *LogWriter {
	return &LogWriter{b: b}
}

// LogWriter splits zap console lines (time, level, logger, message,
// tab-separated) into LogEvents.
type LogWriter struct {
	b *LogBroadcaster
}

func (w *LogWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		level, msg := "info", line
		if parts := strings.Split(line, "\t"); len(parts) >= 4 {
			level = strings.ToLower(parts[1])
			msg = strings.Join(parts[3:], " ")
		}
		w.b.Broadcast(level, msg)
	}
	return len(p), nil
}
