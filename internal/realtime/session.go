package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to the peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size. Content-change relays carry full task
	// text, so this is generous.
	maxMessageSize = 64 << 10

	sendBufferSize = 64
)

// Session is the runtime state of one live connection: its websocket, its
// outbound queue and its current topic subscriptions. Never persisted;
// created on connect and discarded on disconnect.
type Session struct {
	ID string

	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger *zap.Logger

	closeOnce sync.Once

	// Mutated only by the session's own read loop.
	userID    string
	roomTopic string
	taskTopic string
}

func newSession(id string, conn *websocket.Conn, logger *zap.Logger) *Session {
	return &Session{
		ID:     id,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// enqueue offers a pre-encoded frame to the outbound queue without
// blocking. Returns false when the session is too slow to keep up.
func (s *Session) enqueue(encoded []byte) bool {
	select {
	case s.send <- encoded:
		return true
	default:
		return false
	}
}

// close signals the write pump to shut down. The send channel is never
// closed: a publisher may have snapshotted this session from a topic just
// before deregistration and still be enqueueing, so the channel stays open
// until the garbage collector reclaims it.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// readPump pumps inbound frames from the websocket to the handler. It runs
// in the connection's own goroutine and owns all reads.
func (s *Session) readPump(handle func(*Session, string, json.RawMessage), done func()) {
	defer func() {
		done()
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}

		var incoming frame
		if err := json.Unmarshal(raw, &incoming); err != nil {
			s.logger.Debug("malformed frame", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		handle(s, incoming.Event, incoming.Data)
	}
}

// writePump pumps queued frames to the websocket and keeps the connection
// alive with periodic pings. It runs in its own goroutine and owns all
// writes.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case encoded := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, encoded); err != nil {
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
