package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Client represents a connected WebSocket client
type Client struct {
	id       string
	conn     *websocket.Conn
	settings Settings
	send     chan Message
	done     chan struct{}

	// At most one audit runs per connection
	mu          sync.Mutex
	auditCancel context.CancelFunc
}

func newClient(conn *websocket.Conn, settings Settings) *Client {
	return &Client{
		id:       uuid.New().String(),
		conn:     conn,
		settings: settings,
		send:     make(chan Message, 256),
		done:     make(chan struct{}),
	}
}

func (c *Client) SendMessage(msg Message) {
	select {
	case c.send <- msg:
	default:
		// Channel full, drop message
		log.Printf("[WARN] [%s] message channel full, dropping %s message", c.id, msg.Type)
	}
}

func (c *Client) SendLog(message, level string) {
	c.SendMessage(NewLogMessage(message, level))
}

func (c *Client) SendProgress(done, total int, message string) {
	c.SendMessage(NewProgressMessage(done, total, message))
}

func (c *Client) SendError(message string, err error) {
	c.SendMessage(NewErrorMessage(message, err))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Printf("[ERROR] [%s] error writing message: %v", c.id, err)
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		// Cancel any running audit
		c.mu.Lock()
		if c.auditCancel != nil {
			c.auditCancel()
		}
		c.mu.Unlock()
		close(c.done)
		c.conn.Close()
	}()

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.SendError("Invalid message", err)
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ERROR] [%s] WebSocket error: %v", c.id, err)
			}
			return
		}

		switch msg.Type {
		case TypeAudit:
			c.handleAudit(msg)
		case TypePing:
			c.SendMessage(Message{Type: TypePong})
		default:
			c.SendError(fmt.Sprintf("Unknown message type: %s", msg.Type), nil)
		}
	}
}

// handleAudit starts an audit in the background so the read loop keeps
// answering pings and notices disconnects.
func (c *Client) handleAudit(msg Message) {
	payload, err := ParseAuditPayload(msg)
	if err != nil {
		c.SendError("Failed to parse audit request", err)
		return
	}

	c.mu.Lock()
	if c.auditCancel != nil {
		c.mu.Unlock()
		c.SendError("Audit already in progress", nil)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.auditCancel = cancel
	c.mu.Unlock()

	go func() {
		defer cancel()

		runID := uuid.New().String()
		pipeline := NewPipeline(c.settings, runID, c)

		doc, err := pipeline.Run(ctx, payload)
		cancelled := errors.Is(ctx.Err(), context.Canceled)

		// Free the slot before replying so the next audit is accepted
		c.mu.Lock()
		c.auditCancel = nil
		c.mu.Unlock()

		if err != nil {
			if cancelled {
				log.Printf("[WARN] [%s] audit %s cancelled", c.id, runID)
			} else {
				c.SendError("Audit failed", err)
			}
			return
		}

		c.SendMessage(NewCompleteMessage(doc))
	}()
}

func serveWs(settings Settings, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ERROR] Failed to upgrade connection: %v", err)
		return
	}

	client := newClient(conn, settings)
	log.Printf("[INFO] [%s] client connected from %s", client.id, r.RemoteAddr)

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()
}

// NewHandler returns the HTTP handler serving /health and /ws
func NewHandler(settings Settings) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(settings, w, r)
	})

	return mux
}
