package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// frame is the wire envelope of every socket message, both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Event: event, Data: data})
}

// Broker maps topic identifiers to the set of subscribed sessions and
// fans published events out to them. Delivery is fire-and-forget: the
// payload is marshalled once, pushed onto each subscriber's buffered send
// channel, and dropped for subscribers whose buffer is full. Sequential
// publishes to one topic reach every subscriber in call order; there is no
// ordering across topics and no replay for late subscribers.
type Broker struct {
	mu       sync.RWMutex
	topics   map[string]map[*Session]struct{}
	sessions map[*Session]struct{}
	logger   *zap.Logger
}

// NewBroker constructs an empty broker.
func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		topics:   make(map[string]map[*Session]struct{}),
		sessions: make(map[*Session]struct{}),
		logger:   logger,
	}
}

// Register adds a connected session to the broker.
func (b *Broker) Register(session *Session) {
	b.mu.Lock()
	b.sessions[session] = struct{}{}
	b.mu.Unlock()
}

// Deregister removes the session and every subscription it holds. Called
// on disconnect; in-flight publishes simply no longer reach the session.
func (b *Broker) Deregister(session *Session) {
	b.mu.Lock()
	delete(b.sessions, session)
	for topic, subscribers := range b.topics {
		delete(subscribers, session)
		if len(subscribers) == 0 {
			delete(b.topics, topic)
		}
	}
	b.mu.Unlock()
}

// Subscribe adds the session to a topic.
func (b *Broker) Subscribe(session *Session, topic string) {
	b.mu.Lock()
	if _, ok := b.topics[topic]; !ok {
		b.topics[topic] = make(map[*Session]struct{})
	}
	b.topics[topic][session] = struct{}{}
	b.mu.Unlock()
}

// Unsubscribe removes the session from a topic.
func (b *Broker) Unsubscribe(session *Session, topic string) {
	b.mu.Lock()
	if subscribers, ok := b.topics[topic]; ok {
		delete(subscribers, session)
		if len(subscribers) == 0 {
			delete(b.topics, topic)
		}
	}
	b.mu.Unlock()
}

// Publish delivers an event to every current subscriber of the topic.
func (b *Broker) Publish(topic, event string, payload any) {
	b.Relay(topic, event, payload, nil)
}

// Relay delivers an event to every current subscriber of the topic except
// the excluded session. Used for ephemeral collaborative broadcasts so no
// client echoes its own edits back to itself.
func (b *Broker) Relay(topic, event string, payload any, exclude *Session) {
	encoded, err := encodeFrame(event, payload)
	if err != nil {
		b.logger.Error("event encoding failed", zap.String("event", event), zap.Error(err))
		return
	}

	b.mu.RLock()
	subscribers := b.topics[topic]
	targets := make([]*Session, 0, len(subscribers))
	for subscriber := range subscribers {
		if subscriber == exclude {
			continue
		}
		targets = append(targets, subscriber)
	}
	b.mu.RUnlock()

	for _, target := range targets {
		if !target.enqueue(encoded) {
			b.logger.Debug("dropped event for slow session",
				zap.String("event", event),
				zap.String("session_id", target.ID))
		}
	}
}

// Broadcast delivers an event to every registered session regardless of
// topic. Used for the global room-list-changed notification.
func (b *Broker) Broadcast(event string, payload any) {
	encoded, err := encodeFrame(event, payload)
	if err != nil {
		b.logger.Error("event encoding failed", zap.String("event", event), zap.Error(err))
		return
	}

	b.mu.RLock()
	targets := make([]*Session, 0, len(b.sessions))
	for session := range b.sessions {
		targets = append(targets, session)
	}
	b.mu.RUnlock()

	for _, target := range targets {
		if !target.enqueue(encoded) {
			b.logger.Debug("dropped broadcast for slow session",
				zap.String("event", event),
				zap.String("session_id", target.ID))
		}
	}
}

// Send delivers an event directly to one session, bypassing topics. Used
// for the push-snapshot-on-join mechanism.
func (b *Broker) Send(session *Session, event string, payload any) {
	encoded, err := encodeFrame(event, payload)
	if err != nil {
		b.logger.Error("event encoding failed", zap.String("event", event), zap.Error(err))
		return
	}
	if !session.enqueue(encoded) {
		b.logger.Debug("dropped direct event for slow session",
			zap.String("event", event),
			zap.String("session_id", session.ID))
	}
}
