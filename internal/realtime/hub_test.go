package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/collabroom/backend/internal/rooms"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type stubRoomSource struct {
	snapshot rooms.RoomView
}

func (s *stubRoomSource) Snapshot(ctx context.Context, code string) (rooms.RoomView, error) {
	if !strings.EqualFold(code, s.snapshot.Code) {
		return rooms.RoomView{}, rooms.ErrNotFound
	}
	return s.snapshot, nil
}

type recordingDeleter struct {
	mu      sync.Mutex
	deleted []string
}

func (d *recordingDeleter) Delete(ctx context.Context, taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, taskID)
	return nil
}

func (d *recordingDeleter) all() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.deleted...)
}

func newHubServer(t *testing.T, deleter TaskDeleter) (*httptest.Server, *Broker) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	broker := NewBroker(zap.NewNop())
	hub, err := NewHub(HubConfig{
		Broker: broker,
		Rooms: &stubRoomSource{snapshot: rooms.RoomView{
			ID:   "room-1",
			Code: "ABC123",
			Name: "Alpha",
		}},
		Tasks:  deleter,
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to create hub: %v", err)
	}

	router := gin.New()
	router.GET("/ws", hub.HandleConnection)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, broker
}

func dialHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	if err := conn.WriteJSON(frame{Event: event, Data: data}); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var incoming frame
	if err := conn.ReadJSON(&incoming); err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	return incoming
}

// confirmFramesHandled round-trips a request-room-update ack on conn.
// Frames on one connection are handled in order, so once the room-update
// ack arrives every frame sent earlier on conn has been processed.
func confirmFramesHandled(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendFrame(t, conn, "request-room-update", map[string]string{"roomCode": "ABC123"})
	if incoming := readFrame(t, conn); incoming.Event != rooms.EventRoomUpdate {
		t.Fatalf("expected room-update ack, got %s", incoming.Event)
	}
}

func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var incoming frame
	if err := conn.ReadJSON(&incoming); err == nil {
		t.Fatalf("expected no frame, got event %s", incoming.Event)
	}
}

func TestJoinRoomPushesSnapshot(t *testing.T) {
	server, _ := newHubServer(t, &recordingDeleter{})
	conn := dialHub(t, server)

	sendFrame(t, conn, "join-room", map[string]string{"roomCode": "ABC123"})

	incoming := readFrame(t, conn)
	if incoming.Event != rooms.EventRoomUpdate {
		t.Fatalf("expected room-update, got %s", incoming.Event)
	}
	var snapshot rooms.RoomView
	if err := json.Unmarshal(incoming.Data, &snapshot); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snapshot.Code != "ABC123" || snapshot.Name != "Alpha" {
		t.Fatalf("unexpected snapshot %#v", snapshot)
	}
}

func TestJoinRoomUnknownCodeSendsNothing(t *testing.T) {
	server, _ := newHubServer(t, &recordingDeleter{})
	conn := dialHub(t, server)

	sendFrame(t, conn, "join-room", map[string]string{"roomCode": "ZZZZZZ"})
	expectNoFrame(t, conn)
}

func TestContentChangeRelayedToPeerNotSender(t *testing.T) {
	server, _ := newHubServer(t, &recordingDeleter{})
	sender := dialHub(t, server)
	peer := dialHub(t, server)

	sendFrame(t, sender, "join-task", map[string]any{
		"taskId": "task-9",
		"user":   map[string]string{"_id": "user-ann", "name": "Ann"},
	})
	confirmFramesHandled(t, sender)
	sendFrame(t, peer, "join-task", map[string]any{
		"taskId": "task-9",
		"user":   map[string]string{"_id": "user-bob", "name": "Bob"},
	})

	// Ann's subscription precedes Bob's join, so she sees his arrival.
	joined := readFrame(t, sender)
	if joined.Event != EventUserJoinedTask {
		t.Fatalf("expected user-joined-task, got %s", joined.Event)
	}

	sendFrame(t, sender, "task-content-change", map[string]string{
		"taskId":  "task-9",
		"content": "revised draft",
		"userId":  "user-ann",
	})

	relayed := readFrame(t, peer)
	if relayed.Event != "task-content-change" {
		t.Fatalf("expected task-content-change, got %s", relayed.Event)
	}
	var payload map[string]string
	if err := json.Unmarshal(relayed.Data, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload["content"] != "revised draft" || payload["userId"] != "user-ann" {
		t.Fatalf("unexpected relay payload %#v", payload)
	}

	expectNoFrame(t, sender)
}

func TestCursorPositionRelayedToPeerNotSender(t *testing.T) {
	server, _ := newHubServer(t, &recordingDeleter{})
	sender := dialHub(t, server)
	peer := dialHub(t, server)

	sendFrame(t, sender, "join-task", map[string]any{
		"taskId": "task-9",
		"user":   map[string]string{"_id": "user-ann", "name": "Ann"},
	})
	confirmFramesHandled(t, sender)
	sendFrame(t, peer, "join-task", map[string]any{
		"taskId": "task-9",
		"user":   map[string]string{"_id": "user-bob", "name": "Bob"},
	})
	if incoming := readFrame(t, sender); incoming.Event != EventUserJoinedTask {
		t.Fatalf("expected user-joined-task, got %s", incoming.Event)
	}

	sendFrame(t, sender, "cursor-position", map[string]any{
		"taskId":   "task-9",
		"userId":   "user-ann",
		"userName": "Ann",
		"position": 42,
	})

	relayed := readFrame(t, peer)
	if relayed.Event != "cursor-position" {
		t.Fatalf("expected cursor-position, got %s", relayed.Event)
	}
	var payload struct {
		UserID   string `json:"userId"`
		UserName string `json:"userName"`
		Position int    `json:"position"`
	}
	if err := json.Unmarshal(relayed.Data, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload.UserID != "user-ann" || payload.UserName != "Ann" || payload.Position != 42 {
		t.Fatalf("unexpected cursor payload %#v", payload)
	}

	expectNoFrame(t, sender)
}

func TestLeaveTaskAnnouncesDeparture(t *testing.T) {
	server, _ := newHubServer(t, &recordingDeleter{})
	leaving := dialHub(t, server)
	staying := dialHub(t, server)

	sendFrame(t, leaving, "join-task", map[string]any{
		"taskId": "task-9",
		"user":   map[string]string{"_id": "user-ann", "name": "Ann"},
	})
	confirmFramesHandled(t, leaving)
	sendFrame(t, staying, "join-task", map[string]any{
		"taskId": "task-9",
		"user":   map[string]string{"_id": "user-bob", "name": "Bob"},
	})
	if incoming := readFrame(t, leaving); incoming.Event != EventUserJoinedTask {
		t.Fatalf("expected user-joined-task, got %s", incoming.Event)
	}

	sendFrame(t, leaving, "leave-task", map[string]string{
		"taskId": "task-9",
		"userId": "user-ann",
	})

	departed := readFrame(t, staying)
	if departed.Event != EventUserLeftTask {
		t.Fatalf("expected user-left-task, got %s", departed.Event)
	}
	var payload map[string]string
	if err := json.Unmarshal(departed.Data, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload["userId"] != "user-ann" {
		t.Fatalf("unexpected departure payload %#v", payload)
	}
}

func TestDisconnectAnnouncesTaskDeparture(t *testing.T) {
	server, _ := newHubServer(t, &recordingDeleter{})
	dropping := dialHub(t, server)
	staying := dialHub(t, server)

	sendFrame(t, dropping, "join-task", map[string]any{
		"taskId": "task-9",
		"user":   map[string]string{"_id": "user-ann", "name": "Ann"},
	})
	confirmFramesHandled(t, dropping)
	sendFrame(t, staying, "join-task", map[string]any{
		"taskId": "task-9",
		"user":   map[string]string{"_id": "user-bob", "name": "Bob"},
	})
	if incoming := readFrame(t, dropping); incoming.Event != EventUserJoinedTask {
		t.Fatalf("expected user-joined-task, got %s", incoming.Event)
	}

	// Dropping the connection without leave-task still announces the
	// departure so peers clear Ann's presence.
	_ = dropping.Close()

	departed := readFrame(t, staying)
	if departed.Event != EventUserLeftTask {
		t.Fatalf("expected user-left-task, got %s", departed.Event)
	}
	var payload map[string]string
	if err := json.Unmarshal(departed.Data, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload["userId"] != "user-ann" {
		t.Fatalf("unexpected departure payload %#v", payload)
	}
}

func TestTaskDeleteInvokesDeleter(t *testing.T) {
	deleter := &recordingDeleter{}
	server, _ := newHubServer(t, deleter)
	conn := dialHub(t, server)

	sendFrame(t, conn, "task-delete", map[string]string{"taskId": "task-9"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(deleter.all()) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	deleted := deleter.all()
	if len(deleted) != 1 || deleted[0] != "task-9" {
		t.Fatalf("expected deleter called with task-9, got %#v", deleted)
	}
}

func TestDisconnectRemovesSubscriptions(t *testing.T) {
	server, broker := newHubServer(t, &recordingDeleter{})
	conn := dialHub(t, server)

	sendFrame(t, conn, "join-room", map[string]string{"roomCode": "ABC123"})
	readFrame(t, conn) // snapshot push confirms the subscription landed

	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		broker.mu.RLock()
		remaining := len(broker.sessions)
		broker.mu.RUnlock()
		if remaining == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session still registered after disconnect")
}

func TestMalformedFrameIsIgnored(t *testing.T) {
	server, _ := newHubServer(t, &recordingDeleter{})
	conn := dialHub(t, server)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("failed to write raw message: %v", err)
	}

	// The connection survives garbage input and keeps serving events.
	sendFrame(t, conn, "join-room", map[string]string{"roomCode": "ABC123"})
	if incoming := readFrame(t, conn); incoming.Event != rooms.EventRoomUpdate {
		t.Fatalf("expected room-update after malformed frame, got %s", incoming.Event)
	}
}
