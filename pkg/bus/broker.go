// Package bus is a topic-based publish/subscribe message bus.
//
// Processes in the same binary publish and subscribe through a Broker
// directly. Other processes reach the same broker over websockets: one
// socket per topic and direction, see RegisterRoutes and Client.
package bus

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/teslashibe/go-facenode/pkg/protocol"
)

// ErrClosed is returned when publishing to a closed broker or client.
var ErrClosed = errors.New("bus closed")

// Handler receives messages for a topic. Handlers run on the publisher's
// goroutine and must not block for long.
type Handler func(msg *protocol.Message)

type topicState struct {
	local     map[string]Handler
	remote    map[*remoteSubscriber]struct{}
	published atomic.Uint64
}

// Broker fans published messages out to subscribers.
type Broker struct {
	logger *slog.Logger

	mu     sync.RWMutex
	topics map[string]*topicState
	closed bool

	// Buffer size of each remote subscriber's send queue
	queueSize int

	// Stats
	messagesPublished atomic.Uint64
	messagesDelivered atomic.Uint64
	slowDropped       atomic.Uint64
	remotePublishers  atomic.Int64
}

// Option configures a Broker.
type Option func(*Broker)

// WithQueueSize sets the per remote subscriber send queue length.
func WithQueueSize(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger, opts ...Option) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		logger:    logger,
		topics:    make(map[string]*topicState),
		queueSize: 64,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// topic returns the state for name, creating it. Callers hold b.mu.
func (b *Broker) topic(name string) *topicState {
	ts, ok := b.topics[name]
	if !ok {
		ts = &topicState{
			local:  make(map[string]Handler),
			remote: make(map[*remoteSubscriber]struct{}),
		}
		b.topics[name] = ts
	}
	return ts
}

// Publish delivers msg to every subscriber of topic. The message is stamped
// with the topic; msg itself is not modified.
func (b *Broker) Publish(topic string, msg *protocol.Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	ts := b.topic(topic)
	handlers := make([]Handler, 0, len(ts.local))
	for _, h := range ts.local {
		handlers = append(handlers, h)
	}
	remotes := make([]*remoteSubscriber, 0, len(ts.remote))
	for r := range ts.remote {
		remotes = append(remotes, r)
	}
	b.mu.Unlock()

	ts.published.Add(1)
	b.messagesPublished.Add(1)

	addressed := msg.WithTopic(topic)
	for _, h := range handlers {
		h(addressed)
		b.messagesDelivered.Add(1)
	}

	if len(remotes) == 0 {
		return nil
	}
	data, err := addressed.Bytes()
	if err != nil {
		return err
	}
	for _, r := range remotes {
		if r.enqueue(data) {
			b.messagesDelivered.Add(1)
			continue
		}
		// Subscriber's queue is full - they're too slow
		b.slowDropped.Add(1)
		b.logger.Warn("dropped slow subscriber", "topic", topic, "subscriber", r.id)
		b.removeRemote(r)
	}
	return nil
}

// Subscribe registers h for topic and returns a function that removes it.
func (b *Broker) Subscribe(topic string, h Handler) (unsubscribe func()) {
	id := uuid.NewString()

	b.mu.Lock()
	b.topic(topic).local[id] = h
	b.mu.Unlock()

	b.logger.Debug("subscribed to topic", "topic", topic, "id", id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if ts, ok := b.topics[topic]; ok {
				delete(ts.local, id)
			}
			b.mu.Unlock()
		})
	}
}

func (b *Broker) addRemote(r *remoteSubscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.topic(r.topic).remote[r] = struct{}{}
	return nil
}

func (b *Broker) removeRemote(r *remoteSubscriber) {
	b.mu.Lock()
	if ts, ok := b.topics[r.topic]; ok {
		delete(ts.remote, r)
	}
	b.mu.Unlock()
	r.close()
}

// Close disconnects remote subscribers and rejects further publishes.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var remotes []*remoteSubscriber
	for _, ts := range b.topics {
		for r := range ts.remote {
			remotes = append(remotes, r)
		}
		ts.remote = make(map[*remoteSubscriber]struct{})
		ts.local = make(map[string]Handler)
	}
	b.mu.Unlock()

	for _, r := range remotes {
		r.close()
	}
	b.logger.Info("bus closed")
}

// TopicInfo describes one topic.
type TopicInfo struct {
	Name              string `json:"name"`
	LocalSubscribers  int    `json:"local_subscribers"`
	RemoteSubscribers int    `json:"remote_subscribers"`
	Published         uint64 `json:"published"`
}

// Topics returns every topic that has been published or subscribed to,
// sorted by name.
func (b *Broker) Topics() []TopicInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	infos := make([]TopicInfo, 0, len(b.topics))
	for name, ts := range b.topics {
		infos = append(infos, TopicInfo{
			Name:              name,
			LocalSubscribers:  len(ts.local),
			RemoteSubscribers: len(ts.remote),
			Published:         ts.published.Load(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Stats contains broker statistics
type Stats struct {
	Topics                 int    `json:"topics"`
	LocalSubscribers       int    `json:"local_subscribers"`
	RemoteSubscribers      int    `json:"remote_subscribers"`
	RemotePublishers       int64  `json:"remote_publishers"`
	MessagesPublished      uint64 `json:"messages_published"`
	MessagesDelivered      uint64 `json:"messages_delivered"`
	SlowSubscribersDropped uint64 `json:"slow_subscribers_dropped"`
}

// Stats returns broker statistics
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	s := Stats{Topics: len(b.topics)}
	for _, ts := range b.topics {
		s.LocalSubscribers += len(ts.local)
		s.RemoteSubscribers += len(ts.remote)
	}
	b.mu.RUnlock()

	s.RemotePublishers = b.remotePublishers.Load()
	s.MessagesPublished = b.messagesPublished.Load()
	s.MessagesDelivered = b.messagesDelivered.Load()
	s.SlowSubscribersDropped = b.slowDropped.Load()
	return s
}
