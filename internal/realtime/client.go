package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"chat_service/internal/domain"
	"chat_service/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 64 * 1024

	// После стольких неразобранных кадров подряд соединение закрывается.
	maxMalformedFrames = 5
)

// Client: подключение поверх gorilla/websocket. Исходящие кадры идут
// через буферизованный канал, пишет в сокет только writeLoop.
type Client struct {
	id     uuid.UUID
	userID uuid.UUID
	ws     *websocket.Conn
	hub    *Hub
	log    logger.Logger

	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewClient(ws *websocket.Conn, userID uuid.UUID, hub *Hub, sendBuffer int, log logger.Logger) *Client {
	id := uuid.New()
	return &Client{
		id:     id,
		userID: userID,
		ws:     ws,
		hub:    hub,
		log:    log.With("connection_id", id, "user_id", userID),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() uuid.UUID     { return c.id }
func (c *Client) UserID() uuid.UUID { return c.userID }

func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// Serve регистрирует подключение в хабе и блокируется до его закрытия.
func (c *Client) Serve(ctx context.Context) {
	go c.writeLoop()
	c.hub.Register(ctx, c)
	defer func() {
		c.hub.Unregister(context.WithoutCancel(ctx), c)
		c.Close()
	}()
	c.readLoop(ctx)
}

func (c *Client) readLoop(ctx context.Context) {
	c.ws.SetReadLimit(maxFrameSize)

	malformed := 0
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("WebSocket read failed", "error", err)
			}
			return
		}

		var frame domain.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("malformed frame")
		} else if !knownClientFrame(frame.Type) {
			c.sendError("unknown frame type: " + frame.Type)
		} else {
			malformed = 0
			c.handleFrame(ctx, frame)
			continue
		}

		malformed++
		if malformed >= maxMalformedFrames {
			c.log.Warn("Closing connection after repeated malformed frames", "count", malformed)
			return
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, frame domain.ClientFrame) {
	switch frame.Type {
	case domain.ClientPing:
		c.hub.Heartbeat(ctx, c)
	case domain.ClientSubscribe, domain.ClientUnsubscribe:
		// Адресация идет по участию в диалоге, подписки ни на что не влияют.
		c.log.Debug("Subscription frame ignored", "type", frame.Type, "dialog_id", frame.DialogID)
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

func (c *Client) sendError(message string) {
	frame, err := json.Marshal(domain.Event{Type: domain.EventError, Payload: domain.ErrorPayload{Message: message}})
	if err != nil {
		return
	}
	c.Send(frame)
}

func knownClientFrame(t string) bool {
	switch t {
	case domain.ClientPing, domain.ClientSubscribe, domain.ClientUnsubscribe:
		return true
	}
	return false
}
