package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/travel-chat/internal/chat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

type Connection struct {
	id      string
	ws      *websocket.Conn
	send    chan chat.Event
	done    chan struct{}
	once    sync.Once
	session *chat.Session
	log     *zap.SugaredLogger
}

func newConnection(id string, conn *websocket.Conn, log *zap.SugaredLogger) *Connection {
	return &Connection{
		id:   id,
		ws:   conn,
		send: make(chan chat.Event, sendBuffer),
		done: make(chan struct{}),
		log:  log,
	}
}

// emit queues an event for the client. A client that stops reading loses
// events; the next snapshot brings it back in sync.
func (c *Connection) emit(ev chat.Event) {
	select {
	case <-c.done:
	case c.send <- ev:
	default:
		c.log.Warnw("send buffer full, dropping event", "conn", c.id, "type", ev.Type)
	}
}

func (c *Connection) stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *Connection) readPump(ctx context.Context, readLimit int64) {
	defer func() {
		c.stop()
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debugw("read failed", "conn", c.id, "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if mt == websocket.BinaryMessage {
			_ = c.session.RecordChunk(data)
			continue
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.emit(chat.Event{Type: chat.EventError, Code: chat.CodeValidation, Error: "malformed frame"})
			continue
		}
		if err := dispatch(ctx, c.session, env, c.emit); err != nil {
			c.log.Debugw("frame failed", "conn", c.id, "type", env.Type, "err", err)
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second))
			return
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				c.stop()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
				c.stop()
				return
			}
		}
	}
}
