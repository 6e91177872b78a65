package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/collabroom/backend/internal/rooms"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client-to-server event names.
const (
	eventJoinRoom          = "join-room"
	eventRequestRoomUpdate = "request-room-update"
	eventJoinTask          = "join-task"
	eventLeaveTask         = "leave-task"
	eventTaskContentChange = "task-content-change"
	eventCursorPosition    = "cursor-position"
	eventTaskDelete        = "task-delete"
)

// Server-to-client event names owned by the hub. Durable-mutation events
// (task-created, new-message, ...) are published by their services.
const (
	EventUserJoinedTask = "user-joined-task"
	EventUserLeftTask   = "user-left-task"
)

var (
	errMissingBroker    = errors.New("realtime: broker is required")
	errMissingRoomStore = errors.New("realtime: room source is required")
	errMissingTaskStore = errors.New("realtime: task deleter is required")
)

// RoomSource loads full room snapshots for the push-on-subscribe path.
type RoomSource interface {
	Snapshot(ctx context.Context, code string) (rooms.RoomView, error)
}

// TaskDeleter applies the durable half of a task-delete socket event.
type TaskDeleter interface {
	Delete(ctx context.Context, taskID string) error
}

// HubConfig describes the dependencies of the connection hub.
type HubConfig struct {
	Broker *Broker
	Rooms  RoomSource
	Tasks  TaskDeleter
	Logger *zap.Logger
}

// Hub upgrades connections, runs the per-session pumps and dispatches
// inbound events. Relay handlers swallow internal errors (log only): there
// is no request/response channel to report back through.
type Hub struct {
	broker   *Broker
	rooms    RoomSource
	tasks    TaskDeleter
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHub constructs the hub.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Broker == nil {
		return nil, errMissingBroker
	}
	if cfg.Rooms == nil {
		return nil, errMissingRoomStore
	}
	if cfg.Tasks == nil {
		return nil, errMissingTaskStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		broker: cfg.Broker,
		rooms:  cfg.Rooms,
		tasks:  cfg.Tasks,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// HandleConnection is the gin handler for the websocket endpoint.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session := newSession(uuid.NewString(), conn, h.logger)
	h.broker.Register(session)
	h.logger.Debug("session connected", zap.String("session_id", session.ID))

	go session.writePump()
	session.readPump(h.handleEvent, func() {
		// A session that drops while inside a task session never sent
		// leave-task; announce the departure so peers clear its presence.
		if session.taskTopic != "" && session.userID != "" {
			h.broker.Relay(session.taskTopic, EventUserLeftTask, gin.H{"userId": session.userID}, session)
		}
		h.broker.Deregister(session)
		session.close()
		h.logger.Debug("session disconnected", zap.String("session_id", session.ID))
	})
}

type joinRoomPayload struct {
	RoomCode string `json:"roomCode"`
}

type joinTaskPayload struct {
	TaskID string `json:"taskId"`
	User   struct {
		ID   string `json:"_id"`
		Name string `json:"name"`
	} `json:"user"`
}

type leaveTaskPayload struct {
	TaskID string `json:"taskId"`
	UserID string `json:"userId"`
}

type contentChangePayload struct {
	TaskID  string `json:"taskId"`
	Content string `json:"content"`
	UserID  string `json:"userId"`
}

type cursorPositionPayload struct {
	TaskID   string `json:"taskId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Position int    `json:"position"`
}

type taskDeletePayload struct {
	TaskID string `json:"taskId"`
}

func (h *Hub) handleEvent(session *Session, event string, data json.RawMessage) {
	ctx := context.Background()

	switch event {
	case eventJoinRoom:
		var payload joinRoomPayload
		if !h.decode(session, event, data, &payload) {
			return
		}
		h.joinRoom(ctx, session, payload.RoomCode)

	case eventRequestRoomUpdate:
		var payload joinRoomPayload
		if !h.decode(session, event, data, &payload) {
			return
		}
		h.pushSnapshot(ctx, session, payload.RoomCode)

	case eventJoinTask:
		var payload joinTaskPayload
		if !h.decode(session, event, data, &payload) {
			return
		}
		h.joinTask(session, payload)

	case eventLeaveTask:
		var payload leaveTaskPayload
		if !h.decode(session, event, data, &payload) {
			return
		}
		h.leaveTask(session, payload)

	case eventTaskContentChange:
		var payload contentChangePayload
		if !h.decode(session, event, data, &payload) {
			return
		}
		h.broker.Relay(taskTopic(payload.TaskID), eventTaskContentChange, gin.H{
			"content": payload.Content,
			"userId":  payload.UserID,
		}, session)

	case eventCursorPosition:
		var payload cursorPositionPayload
		if !h.decode(session, event, data, &payload) {
			return
		}
		h.broker.Relay(taskTopic(payload.TaskID), eventCursorPosition, gin.H{
			"userId":   payload.UserID,
			"userName": payload.UserName,
			"position": payload.Position,
		}, session)

	case eventTaskDelete:
		var payload taskDeletePayload
		if !h.decode(session, event, data, &payload) {
			return
		}
		if err := h.tasks.Delete(ctx, payload.TaskID); err != nil {
			h.logger.Warn("task delete via socket failed",
				zap.String("task_id", payload.TaskID),
				zap.Error(err))
		}

	default:
		h.logger.Debug("unknown event",
			zap.String("session_id", session.ID),
			zap.String("event", event))
	}
}

// joinRoom subscribes the session to a room topic (leaving any previous
// one) and pushes the current full room snapshot directly to it, so a
// fresh subscriber does not wait for another member's action to see state.
func (h *Hub) joinRoom(ctx context.Context, session *Session, roomCode string) {
	topic := rooms.TopicForCode(roomCode)
	if session.roomTopic != "" && session.roomTopic != topic {
		h.broker.Unsubscribe(session, session.roomTopic)
	}
	h.broker.Subscribe(session, topic)
	session.roomTopic = topic
	h.pushSnapshot(ctx, session, roomCode)
}

func (h *Hub) pushSnapshot(ctx context.Context, session *Session, roomCode string) {
	snapshot, err := h.rooms.Snapshot(ctx, roomCode)
	if err != nil {
		h.logger.Warn("room snapshot failed", zap.String("room_code", roomCode), zap.Error(err))
		return
	}
	h.broker.Send(session, rooms.EventRoomUpdate, snapshot)
}

// joinTask enters a task's collaborative sub-room: subscribe (leaving any
// previous task topic) and announce presence to the existing subscribers
// only.
func (h *Hub) joinTask(session *Session, payload joinTaskPayload) {
	topic := taskTopic(payload.TaskID)
	if session.taskTopic != "" && session.taskTopic != topic {
		h.broker.Unsubscribe(session, session.taskTopic)
	}
	h.broker.Subscribe(session, topic)
	session.taskTopic = topic
	if session.userID == "" {
		session.userID = payload.User.ID
	}
	h.broker.Relay(topic, EventUserJoinedTask, gin.H{
		"userId":   payload.User.ID,
		"userName": payload.User.Name,
	}, session)
}

func (h *Hub) leaveTask(session *Session, payload leaveTaskPayload) {
	topic := taskTopic(payload.TaskID)
	h.broker.Unsubscribe(session, topic)
	if session.taskTopic == topic {
		session.taskTopic = ""
	}
	h.broker.Relay(topic, EventUserLeftTask, gin.H{"userId": payload.UserID}, session)
}

func (h *Hub) decode(session *Session, event string, data json.RawMessage, target any) bool {
	if err := json.Unmarshal(data, target); err != nil {
		h.logger.Debug("malformed event payload",
			zap.String("session_id", session.ID),
			zap.String("event", event),
			zap.Error(err))
		return false
	}
	return true
}

func taskTopic(taskID string) string {
	return "task:" + taskID
}
