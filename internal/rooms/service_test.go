package rooms

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/collabroom/backend/internal/ident"
	"github.com/collabroom/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

type capturedEvent struct {
	Topic string
	Event string
}

type captureBroadcaster struct {
	mu         sync.Mutex
	published  []capturedEvent
	broadcasts []string
}

func (b *captureBroadcaster) Publish(topic, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, capturedEvent{Topic: topic, Event: event})
}

func (b *captureBroadcaster) Broadcast(event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts = append(b.broadcasts, event)
}

func (b *captureBroadcaster) events() []capturedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]capturedEvent(nil), b.published...)
}

func newTestService(t *testing.T) (*Service, *captureBroadcaster) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&users.User{}, &Room{}, &Member{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	idProvider := ident.NewUUIDProvider()
	identity, err := users.NewService(users.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		t.Fatalf("failed to create identity service: %v", err)
	}

	broadcaster := &captureBroadcaster{}
	service, err := NewService(ServiceConfig{
		Database:    db,
		Identity:    identity,
		Broadcaster: broadcaster,
		IDProvider:  idProvider,
	})
	if err != nil {
		t.Fatalf("failed to create room service: %v", err)
	}
	return service, broadcaster
}

func TestCreateIssuesSixCharUppercaseCode(t *testing.T) {
	service, broadcaster := newTestService(t)
	ctx := context.Background()

	result, err := service.Create(ctx, "Alpha", "Ann")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !codePattern.MatchString(result.Room.Code) {
		t.Fatalf("unexpected code format %q", result.Room.Code)
	}
	if len(result.Room.Members) != 1 {
		t.Fatalf("expected one member, got %d", len(result.Room.Members))
	}
	if result.Room.Members[0].Role != RoleAdmin {
		t.Fatalf("expected creator role admin, got %s", result.Room.Members[0].Role)
	}
	if len(result.Rooms) != 1 || result.Rooms[0].Code != result.Room.Code {
		t.Fatalf("expected room list with one entry, got %#v", result.Rooms)
	}

	events := broadcaster.events()
	if len(events) != 1 || events[0].Event != EventRoomUpdate {
		t.Fatalf("expected one room-update publish, got %#v", events)
	}
	if events[0].Topic != TopicForCode(result.Room.Code) {
		t.Fatalf("unexpected topic %s", events[0].Topic)
	}
	found := false
	for _, event := range broadcaster.broadcasts {
		if event == EventRoomListUpdate {
			found = true
		}
	}
	if !found {
		t.Fatal("expected global room-list-update broadcast")
	}
}

func TestJoinWithIssuedCodeSucceeds(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, "Alpha", "Ann")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	joined, err := service.Join(ctx, created.Room.Code, "Bob")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if len(joined.Room.Members) != 2 {
		t.Fatalf("expected two members, got %d", len(joined.Room.Members))
	}
	if joined.Room.Members[1].User.Name != "Bob" {
		t.Fatalf("expected Bob appended last, got %s", joined.Room.Members[1].User.Name)
	}
	if joined.Room.Members[1].Role != RoleMember {
		t.Fatalf("expected joiner role member, got %s", joined.Room.Members[1].Role)
	}
}

func TestJoinIsCaseInsensitive(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, "Alpha", "Ann")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	lower := []rune(created.Room.Code)
	for i, r := range lower {
		if r >= 'A' && r <= 'Z' {
			lower[i] = r + ('a' - 'A')
		}
	}
	if _, err := service.Join(ctx, string(lower), "Bob"); err != nil {
		t.Fatalf("expected lowercase code to resolve, got %v", err)
	}
}

func TestJoinUnknownCodeFails(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.Join(context.Background(), "ZZZZZZ", "Bob"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, "Alpha", "Ann")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := service.Join(ctx, created.Room.Code, "Bob"); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	again, err := service.Join(ctx, created.Room.Code, "Bob")
	if err != nil {
		t.Fatalf("second join failed: %v", err)
	}

	count := 0
	for _, member := range again.Room.Members {
		if member.User.Name == "Bob" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected Bob exactly once in membership, got %d", count)
	}
}

func TestConcurrentCreatesYieldDistinctCodes(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	const n = 20
	codes := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := service.Create(ctx, "Concurrent", "Ann")
			if err != nil {
				t.Errorf("create failed: %v", err)
				return
			}
			codes <- result.Room.Code
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]struct{})
	for code := range codes {
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate room code %s", code)
		}
		seen[code] = struct{}{}
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct codes, got %d", n, len(seen))
	}
}

func TestLeaveRemovesOnlyMembership(t *testing.T) {
	service, broadcaster := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, "Alpha", "Ann")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	joined, err := service.Join(ctx, created.Room.Code, "Bob")
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}

	remaining, err := service.Leave(ctx, created.Room.Code, joined.User.ID)
	if err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected Bob to belong to no rooms, got %#v", remaining)
	}

	snapshot, err := service.Snapshot(ctx, created.Room.Code)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(snapshot.Members) != 1 || snapshot.Members[0].User.Name != "Ann" {
		t.Fatalf("expected only Ann to remain, got %#v", snapshot.Members)
	}

	events := broadcaster.events()
	last := events[len(events)-1]
	if last.Event != EventRoomUpdate {
		t.Fatalf("expected room-update after leave, got %s", last.Event)
	}
}

func TestRoomPersistsWhenEmpty(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	created, err := service.Create(ctx, "Alpha", "Ann")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := service.Leave(ctx, created.Room.Code, created.User.ID); err != nil {
		t.Fatalf("leave failed: %v", err)
	}

	snapshot, err := service.Snapshot(ctx, created.Room.Code)
	if err != nil {
		t.Fatalf("expected empty room to persist, got %v", err)
	}
	if len(snapshot.Members) != 0 {
		t.Fatalf("expected no members, got %d", len(snapshot.Members))
	}
}
