package bus

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-facenode/pkg/protocol"
)

// Client is a remote endpoint of a Broker: either a publisher or a
// subscriber socket for a single topic.
type Client struct {
	topic  string
	logger *slog.Logger

	ws   *websocket.Conn
	wsMu sync.Mutex

	msgs   chan *protocol.Message
	done   chan struct{}
	closed atomic.Bool

	// Stats
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	messagesDropped  atomic.Int64
}

// DialPublisher connects a publisher socket for topic.
// baseURL is the server root, e.g. "ws://localhost:8080".
func DialPublisher(ctx context.Context, baseURL, topic string, logger *slog.Logger) (*Client, error) {
	return dial(ctx, baseURL, "publish", topic, 16, logger)
}

// DialSubscriber connects a subscriber socket for topic. Up to buffer
// messages are queued for Messages; older ones are dropped when the reader
// falls behind.
func DialSubscriber(ctx context.Context, baseURL, topic string, buffer int, logger *slog.Logger) (*Client, error) {
	return dial(ctx, baseURL, "subscribe", topic, buffer, logger)
}

func endpointURL(baseURL, direction, topic string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid bus url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid bus url scheme %q", u.Scheme)
	}
	topic = normalizeTopic(topic)
	if topic == "" {
		return "", fmt.Errorf("topic required")
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + direction + topic
	return u.String(), nil
}

func dial(ctx context.Context, baseURL, direction, topic string, buffer int, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 16
	}
	u, err := endpointURL(baseURL, direction, topic)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u, err)
	}
	ws.SetReadLimit(maxMessageSize)

	c := &Client{
		topic:  normalizeTopic(topic),
		logger: logger,
		ws:     ws,
		msgs:   make(chan *protocol.Message, buffer),
		done:   make(chan struct{}),
	}

	// Answer server pings under the write lock
	ws.SetPingHandler(func(appData string) error {
		c.wsMu.Lock()
		defer c.wsMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	go c.readLoop()

	logger.Debug("bus client connected", "url", u)
	return c, nil
}

// Topic returns the topic this client is bound to.
func (c *Client) Topic() string {
	return c.topic
}

// Publish sends msg to the topic. Only valid on publisher clients.
func (c *Client) Publish(msg *protocol.Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", c.topic, err)
	}
	c.messagesSent.Add(1)
	return nil
}

// Messages returns a channel that receives messages from the server.
// For subscribers these are topic messages; for publishers, pong and
// error replies. It is closed when the connection ends.
func (c *Client) Messages() <-chan *protocol.Message {
	return c.msgs
}

// Read returns the next message, blocking if necessary.
func (c *Client) Read(ctx context.Context) (*protocol.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-c.msgs:
		if !ok {
			return nil, ErrClosed
		}
		return msg, nil
	}
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readLoop() {
	defer func() {
		close(c.msgs)
		close(c.done)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Debug("bus client read error", "topic", c.topic, "error", err)
			}
			return
		}

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Debug("failed to parse bus message", "error", err)
			continue
		}
		c.messagesReceived.Add(1)

		select {
		case c.msgs <- msg:
		default:
			// Buffer full, drop oldest
			c.messagesDropped.Add(1)
			select {
			case <-c.msgs:
			default:
			}
			select {
			case c.msgs <- msg:
			default:
			}
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.wsMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wsMu.Unlock()

	err := c.ws.Close()
	<-c.done
	return err
}

// ClientStats contains client statistics.
type ClientStats struct {
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	MessagesDropped  int64 `json:"messages_dropped"`
}

// Stats returns client statistics.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		MessagesDropped:  c.messagesDropped.Load(),
	}
}
