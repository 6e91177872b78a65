// Package feed merges chat messages and file-upload events into one
// time-ordered activity stream per scope. The merge is a pure read-side
// computation: nothing is stored, every read recomputes it.
package feed

import (
	"context"
	"errors"
	"sort"

	"github.com/collabroom/backend/internal/files"
	"github.com/collabroom/backend/internal/messages"
)

// Item discriminants.
const (
	TypeMessage = "message"
	TypeFile    = "file"
)

var (
	errMissingMessages = errors.New("feed: message source is required")
	errMissingFiles    = errors.New("feed: file source is required")
)

// Item is one feed entry: either a message or an uploaded file.
type Item struct {
	Type    string         `json:"type"`
	Message *messages.View `json:"message,omitempty"`
	File    *files.View    `json:"file,omitempty"`
}

func (i Item) sortKey() (int64, string) {
	if i.Type == TypeFile {
		return i.File.CreatedAt.UnixNano(), i.File.ID
	}
	return i.Message.CreatedAt.UnixNano(), i.Message.ID
}

// MessageSource lists persisted messages per scope.
type MessageSource interface {
	ListRoom(ctx context.Context, roomCode string) ([]messages.View, error)
	ListTask(ctx context.Context, taskID string) ([]messages.View, error)
}

// FileSource lists persisted file metadata per scope.
type FileSource interface {
	ListRoom(ctx context.Context, roomCode string) ([]files.View, error)
	ListTask(ctx context.Context, taskID string) ([]files.View, error)
}

// Service computes merged activity feeds.
type Service struct {
	messages MessageSource
	files    FileSource
}

// NewService constructs the feed service.
func NewService(messageSource MessageSource, fileSource FileSource) (*Service, error) {
	if messageSource == nil {
		return nil, errMissingMessages
	}
	if fileSource == nil {
		return nil, errMissingFiles
	}
	return &Service{messages: messageSource, files: fileSource}, nil
}

// Room returns the merged room-level feed in ascending creation order.
func (s *Service) Room(ctx context.Context, roomCode string) ([]Item, error) {
	msgs, err := s.messages.ListRoom(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	uploads, err := s.files.ListRoom(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	return Merge(msgs, uploads), nil
}

// Task returns the merged feed of one task's thread.
func (s *Service) Task(ctx context.Context, taskID string) ([]Item, error) {
	msgs, err := s.messages.ListTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	uploads, err := s.files.ListTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return Merge(msgs, uploads), nil
}

// Merge interleaves messages and files by creation time, ties broken by
// id. Ids are time-ordered UUIDs, so the tie-break follows insertion
// order.
func Merge(msgs []messages.View, uploads []files.View) []Item {
	items := make([]Item, 0, len(msgs)+len(uploads))
	for i := range msgs {
		items = append(items, Item{Type: TypeMessage, Message: &msgs[i]})
	}
	for i := range uploads {
		items = append(items, Item{Type: TypeFile, File: &uploads[i]})
	}
	sort.SliceStable(items, func(a, b int) bool {
		timeA, idA := items[a].sortKey()
		timeB, idB := items[b].sortKey()
		if timeA != timeB {
			return timeA < timeB
		}
		return idA < idB
	})
	return items
}
