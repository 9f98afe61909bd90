package chathub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"betweenus/backend/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	sendBuffer    = 64
	commandBuffer = 16
)

// WebSocketClient implements Client over a gorilla/websocket connection.
type WebSocketClient struct {
	// ID tells apart several connections of the same user in logs.
	ID     string
	UserID uint
	RoomID string
	Conn   *websocket.Conn
	Hub    *ManagerService
	Send   chan *models.LoungeEvent

	handler  CommandHandler
	commands chan models.LoungeCommand
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
}

func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, userID uint, roomID string, handler CommandHandler) *WebSocketClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketClient{
		ID:       uuid.NewString(),
		UserID:   userID,
		RoomID:   roomID,
		Conn:     conn,
		Hub:      hub,
		Send:     make(chan *models.LoungeEvent, sendBuffer),
		handler:  handler,
		commands: make(chan models.LoungeCommand, commandBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *WebSocketClient) GetUserID() uint                              { return c.UserID }
func (c *WebSocketClient) GetRoomID() string                            { return c.RoomID }
func (c *WebSocketClient) GetSendChannel() chan<- *models.LoungeEvent { return c.Send }

// Run starts the pumps and the command worker.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
	go c.work()
}

// Close stops the writer. Only the hub sends on Send, and it calls Close
// after removing the client from its room.
func (c *WebSocketClient) Close() {
	c.once.Do(func() {
		c.cancel()
		close(c.Send)
	})
}

// work runs commands one at a time so a long AI call does not stall reads.
func (c *WebSocketClient) work() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case cmd := <-c.commands:
			if c.handler != nil {
				c.handler(c.ctx, c, cmd)
			}
		}
	}
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.cancel()
		select {
		case c.Hub.UnregisterCh <- c:
		case <-c.Hub.Done():
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ERROR: Reading lounge frame from user %d (%s): %v", c.UserID, c.ID, err)
			}
			return
		}

		var cmd models.LoungeCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			log.Printf("ERROR: Decoding lounge frame from user %d: %v", c.UserID, err)
			continue
		}

		select {
		case c.commands <- cmd:
		default:
			log.Printf("WARNING: Lounge command queue full for user %d, dropping %q", c.UserID, cmd.Event)
		}
	}
}

// writePump writes every event as its own text frame and keeps the
// connection alive with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(event); err != nil {
				log.Printf("ERROR: Writing lounge event to user %d (%s): %v", c.UserID, c.ID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
