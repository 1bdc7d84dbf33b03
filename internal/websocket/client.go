package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Client commands are small JSON objects
	maxMessageSize = 1024

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Updates are public aggregates; any origin may read them.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection and the channels it follows
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// NewClient wraps conn with a fresh client id
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
	}
}

// readPump reads client commands until the connection fails, then detaches
// the client from the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		err := c.conn.ReadJSON(&msg)
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case err == nil:
			c.handleMessage(&msg)
		case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
			c.logger.Debug("invalid client message", "client_id", c.id, "error", err)
			c.sendError("invalid message format")
		default:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

// handleMessage applies one client command
func (c *Client) handleMessage(msg *ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if !validChannel(msg.Channel) {
			c.sendError("unknown channel: expected \"leaderboard\" or \"player:<id>\"")
			return
		}
		c.hub.Subscribe(c, msg.Channel)
		c.sendAck(MessageTypeSubscribed, msg.Channel)

	case MessageTypeUnsubscribe:
		if msg.Channel == "" {
			c.sendError("channel is required")
			return
		}
		c.hub.Unsubscribe(c, msg.Channel)
		c.sendAck(MessageTypeUnsubscribed, msg.Channel)

	case MessageTypePing:
		c.sendPong()

	default:
		c.sendError("unknown message type")
	}
}

// writePump writes one frame per queued message and keeps the connection
// alive with pings. It exits when the hub closes the send channel.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", "client_id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues msg for this client only, dropping it when the buffer is full
func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal reply", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(errMsg string) {
	c.reply(Message{Type: MessageTypeError, Data: map[string]string{"error": errMsg}})
}

func (c *Client) sendAck(action, channel string) {
	c.reply(Message{Type: action, Channel: channel, Data: map[string]string{"status": "ok"}})
}

func (c *Client) sendPong() {
	c.reply(Message{Type: MessageTypePong})
}

// ServeWs upgrades the request and attaches the connection to hub. The
// client starts subscribed to channels.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request, channels ...string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)
	for _, channel := range channels {
		hub.Subscribe(client, channel)
	}

	go client.writePump()
	go client.readPump()

	logger.Debug("new websocket connection", "client_id", client.id, "channels", channels)
}
