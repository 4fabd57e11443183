package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	// maxSubscriptions bounds how many channels one connection may join.
	maxSubscriptions = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one WebSocket connection following ladder channels.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	// joined is only touched by the read loop
	joined map[string]bool
}

// ClientMessage is a request sent by a connected client
type ClientMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// NewClient creates a client for an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: logger.With("client_id", id),
		joined: make(map[string]bool),
	}
}

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
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.replyError("invalid message format")
			continue
		}
		c.handleMessage(&msg)
	}
}

// handleMessage applies one client request and replies with an ack or an error.
func (c *Client) handleMessage(msg *ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if err := c.join(msg.Channel); err != nil {
			c.replyError(err.Error())
			return
		}
		c.reply(Message{Type: "subscribed", Channel: msg.Channel, Data: map[string]string{"status": "ok"}})

	case MessageTypeUnsubscribe:
		if !c.joined[msg.Channel] {
			c.replyError(fmt.Sprintf("not subscribed to %q", msg.Channel))
			return
		}
		delete(c.joined, msg.Channel)
		c.hub.Unsubscribe(c, msg.Channel)
		c.reply(Message{Type: "unsubscribed", Channel: msg.Channel, Data: map[string]string{"status": "ok"}})

	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})

	default:
		c.replyError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// join subscribes the client to channel. Joining a channel twice is a no-op.
func (c *Client) join(channel string) error {
	if !validChannel(channel) {
		return fmt.Errorf("channel must be %q or \"player:<id>\"", LadderChannel)
	}
	if c.joined[channel] {
		return nil
	}
	if len(c.joined) >= maxSubscriptions {
		return fmt.Errorf("at most %d subscriptions per connection", maxSubscriptions)
	}
	if c.joined == nil {
		c.joined = make(map[string]bool)
	}
	c.joined[channel] = true
	c.hub.Subscribe(c, channel)
	return nil
}

func validChannel(channel string) bool {
	if channel == LadderChannel {
		return true
	}
	id, ok := strings.CutPrefix(channel, PlayerChannel(""))
	return ok && id != "" && !strings.ContainsAny(id, " \t\n")
}

// writePump writes each queued message as its own text frame so clients can
// decode every frame as one JSON document.
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
				c.logger.Debug("websocket write failed", "error", err)
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

func (c *Client) replyError(reason string) {
	c.reply(Message{Type: MessageTypeError, Data: map[string]string{"error": reason}})
}

// reply queues msg for the client, dropping it when the send buffer is full.
func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("encoding reply", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client send buffer full, dropping reply", "type", msg.Type)
	}
}

// ServeWs upgrades the request and starts the client's read and write loops.
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)

	go client.writePump()
	go client.readPump()

	client.logger.Debug("new websocket connection")
}
