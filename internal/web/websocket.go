package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kibitzerlive/kibitzer/internal/notify"
)

// WebSocket upgrader with reasonable settings
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now, tighten in production
		return true
	},
}

var errClientBacklogged = errors.New("web: client send buffer full")

// Client is one viewer connection. It implements notify.Subscriber: the
// notifier queues frames into send, writePump drains them.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Send queues a frame for the viewer. A full buffer means the viewer
// cannot keep up; the error makes the notifier drop the subscription.
func (c *Client) Send(f notify.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errClientBacklogged
	}
}

// watchRequest is what a viewer sends: the game it is looking at and,
// while inspecting a position, the ply.
type watchRequest struct {
	GameID *int64 `json:"gameId"`
	Ply    *int   `json:"ply"`
}

// WebSocketHandler upgrades the connection and registers the viewer.
func (s *Service) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
	}

	go client.writePump()
	s.sup.Welcome(client)
	go s.readPump(client)
}

// readPump handles incoming watch requests. A malformed message closes
// the connection.
func (s *Service) readPump(c *Client) {
	defer func() {
		s.sup.Goodbye(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("WebSocket error")
			}
			return
		}

		var req watchRequest
		if err := json.Unmarshal(message, &req); err != nil {
			log.Debug().Err(err).Msg("malformed watch request, closing connection")
			return
		}
		s.sup.Watch(c, req.GameID, req.Ply)
	}
}

// writePump sends queued frames and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
