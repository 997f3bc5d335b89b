package bus

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/teslashibe/go-facenode/pkg/protocol"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds a single message; raw 1080p bgr8 frames are ~8MB
	// before base64
	maxMessageSize = 16 * 1024 * 1024
)

// remoteSubscriber is a websocket consumer of one topic.
type remoteSubscriber struct {
	id    string
	topic string
	conn  *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue queues data without blocking. It reports false if the queue is full.
func (r *remoteSubscriber) enqueue(data []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return true
	}
	select {
	case r.send <- data:
		return true
	default:
		return false
	}
}

func (r *remoteSubscriber) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.send)
	}
}

// RegisterRoutes registers the bus WebSocket routes on a Fiber app.
//
//	GET /ws/publish/<topic>    every text frame received is published to <topic>
//	GET /ws/subscribe/<topic>  every message on <topic> is written to the socket
func (b *Broker) RegisterRoutes(app fiber.Router) {
	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/publish/*", topicLocal, websocket.New(b.handlePublisher))
	app.Get("/ws/subscribe/*", topicLocal, websocket.New(b.handleSubscriber))
}

// topicLocal resolves the wildcard topic before the upgrade, since the
// websocket handler only sees locals.
func topicLocal(c *fiber.Ctx) error {
	topic := normalizeTopic(c.Params("*"))
	if topic == "" {
		return fiber.NewError(fiber.StatusBadRequest, "topic required")
	}
	c.Locals("topic", topic)
	return c.Next()
}

// handlePublisher reads messages from a producer socket and publishes them.
func (b *Broker) handlePublisher(c *websocket.Conn) {
	topic, _ := c.Locals("topic").(string)
	id := uuid.NewString()

	b.remotePublishers.Add(1)
	b.logger.Info("publisher connected", "topic", topic, "id", id)
	defer func() {
		b.remotePublishers.Add(-1)
		c.Close()
		b.logger.Info("publisher disconnected", "topic", topic, "id", id)
	}()

	c.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug("publisher read error", "topic", topic, "error", err)
			}
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			b.logger.Debug("parse error", "topic", topic, "error", err)
			b.replyError(c, err)
			continue
		}

		if msg.Type == protocol.TypePing {
			pong, err := protocol.NewPongMessage(pingID(msg), msg.Timestamp, time.Now().UnixMilli())
			if err == nil {
				b.reply(c, pong)
			}
			continue
		}

		if err := b.Publish(topic, msg); err != nil {
			b.replyError(c, err)
			return
		}
	}
}

func pingID(msg *protocol.Message) string {
	ping, err := msg.GetPingData()
	if err != nil {
		return ""
	}
	return ping.ID
}

func (b *Broker) replyError(c *websocket.Conn, cause error) {
	msg, err := protocol.NewErrorMessage(cause.Error())
	if err != nil {
		return
	}
	b.reply(c, msg)
}

// reply writes a control message back to a publisher socket. Only the
// publisher's handler goroutine writes to its socket.
func (b *Broker) reply(c *websocket.Conn, msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		return
	}
	c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		b.logger.Debug("reply failed", "error", err)
	}
}

// handleSubscriber streams a topic to a consumer socket.
func (b *Broker) handleSubscriber(c *websocket.Conn) {
	topic, _ := c.Locals("topic").(string)
	r := &remoteSubscriber{
		id:    uuid.NewString(),
		topic: topic,
		conn:  c,
		send:  make(chan []byte, b.queueSize),
	}
	if err := b.addRemote(r); err != nil {
		c.Close()
		return
	}
	b.logger.Info("subscriber connected", "topic", topic, "id", r.id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.writePump(r)
	}()
	b.readPump(r) // Blocks until the connection closes
	<-done
	b.logger.Info("subscriber disconnected", "topic", topic, "id", r.id)
}

// readPump drains the subscriber socket to detect disconnection and
// receive pong responses.
func (b *Broker) readPump(r *remoteSubscriber) {
	defer b.removeRemote(r)

	r.conn.SetReadLimit(4096)
	r.conn.SetReadDeadline(time.Now().Add(pongWait))
	r.conn.SetPongHandler(func(string) error {
		r.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := r.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only goroutine that writes to a subscriber socket.
func (b *Broker) writePump(r *remoteSubscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		r.conn.Close()
	}()

	for {
		select {
		case data, ok := <-r.send:
			r.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Broker closed the queue - send close frame
				r.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := r.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.removeRemote(r)
				return
			}

		case <-ticker.C:
			r.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := r.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.removeRemote(r)
				return
			}
		}
	}
}

// RegisterAPIRoutes registers bus inspection routes.
func (b *Broker) RegisterAPIRoutes(api fiber.Router) {
	g := api.Group("/bus")

	// List topics
	g.Get("/topics", func(c *fiber.Ctx) error {
		topics := b.Topics()
		return c.JSON(fiber.Map{
			"topics": topics,
			"count":  len(topics),
		})
	})

	// Get bus stats
	g.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(b.Stats())
	})
}
