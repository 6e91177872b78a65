package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/collabroom/backend/internal/rooms"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaxUploadBytes is the default upload size ceiling.
const MaxUploadBytes = 10 << 20

var (
	// ErrInvalidInput indicates a missing file, room code or uploader name.
	ErrInvalidInput = errors.New("files: invalid input")
	// ErrTooLarge rejects uploads over the configured size limit.
	ErrTooLarge = errors.New("files: file exceeds size limit")
	// ErrBadType rejects uploads with a disallowed file extension.
	ErrBadType = errors.New("files: file type not allowed")

	errMissingDatabase    = errors.New("files: database handle is required")
	errMissingBlobStore   = errors.New("files: blob store is required")
	errMissingIDProvider  = errors.New("files: id provider is required")
	errMissingBroadcaster = errors.New("files: broadcaster is required")

	allowedExtensions = map[string]struct{}{
		".jpeg": {}, ".jpg": {}, ".png": {}, ".gif": {},
		".pdf": {}, ".doc": {}, ".docx": {}, ".txt": {},
		".zip": {}, ".rar": {},
	}

	unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9.]`)
)

// Event names for freshly uploaded files.
const (
	EventNewRoomFile = "new-room-file"
	EventNewTaskFile = "new-task-file"
)

// Broadcaster fans events out to subscribed sessions.
type Broadcaster interface {
	Publish(topic, event string, payload any)
}

// IDProvider issues identifiers for newly created file rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the file service.
type ServiceConfig struct {
	Database    *gorm.DB
	Blobs       BlobStore
	Broadcaster Broadcaster
	IDProvider  IDProvider
	Clock       func() time.Time
	Logger      *zap.Logger
	MaxBytes    int64
}

// Service validates uploads, stores blobs externally and keeps the
// immutable metadata rows that feed the activity stream.
type Service struct {
	db          *gorm.DB
	blobs       BlobStore
	broadcaster Broadcaster
	idProvider  IDProvider
	clock       func() time.Time
	logger      *zap.Logger
	maxBytes    int64
}

// NewService constructs the file service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Blobs == nil {
		return nil, errMissingBlobStore
	}
	if cfg.Broadcaster == nil {
		return nil, errMissingBroadcaster
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = MaxUploadBytes
	}
	return &Service{
		db:          cfg.Database,
		blobs:       cfg.Blobs,
		broadcaster: cfg.Broadcaster,
		idProvider:  cfg.IDProvider,
		clock:       clock,
		logger:      logger,
		maxBytes:    maxBytes,
	}, nil
}

// UploadParams describes one incoming multipart upload.
type UploadParams struct {
	RoomCode    string
	UserName    string
	TaskID      string
	FileName    string
	Size        int64
	ContentType string
	Reader      io.Reader
}

// Upload validates, stores and announces one attachment.
func (s *Service) Upload(ctx context.Context, params UploadParams) (View, error) {
	if params.Reader == nil || strings.TrimSpace(params.RoomCode) == "" ||
		strings.TrimSpace(params.UserName) == "" || strings.TrimSpace(params.FileName) == "" {
		return View{}, ErrInvalidInput
	}
	if params.Size > s.maxBytes {
		return View{}, ErrTooLarge
	}
	ext := strings.ToLower(filepath.Ext(params.FileName))
	if _, ok := allowedExtensions[ext]; !ok {
		return View{}, ErrBadType
	}

	room, err := s.roomByCode(ctx, params.RoomCode)
	if err != nil {
		return View{}, err
	}

	key := s.storageKey(room.Code, params.TaskID, params.FileName)
	url, err := s.blobs.Put(ctx, key, params.Reader, params.Size, params.ContentType)
	if err != nil {
		return View{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return View{}, err
	}
	record := File{
		ID:         id,
		RoomID:     room.ID,
		TaskID:     params.TaskID,
		FileName:   params.FileName,
		URL:        url,
		StorageKey: key,
		MimeType:   params.ContentType,
		Size:       params.Size,
		UploadedBy: params.UserName,
		CreatedAt:  s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return View{}, err
	}

	view := record.view()
	if params.TaskID != "" {
		s.broadcaster.Publish("task:"+params.TaskID, EventNewTaskFile, view)
	} else {
		s.broadcaster.Publish(rooms.TopicForCode(room.Code), EventNewRoomFile, view)
	}
	s.logger.Info("file uploaded",
		zap.String("file_id", record.ID),
		zap.String("room_code", room.Code),
		zap.Int64("size", record.Size))
	return view, nil
}

// ListRoom returns the room-scoped files of a room in upload order.
// Task-scoped files are excluded.
func (s *Service) ListRoom(ctx context.Context, roomCode string) ([]View, error) {
	room, err := s.roomByCode(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, "room_id = ? AND task_id = ''", room.ID)
}

// ListTask returns the files attached to one task in upload order.
func (s *Service) ListTask(ctx context.Context, taskID string) ([]View, error) {
	return s.list(ctx, "task_id = ?", taskID)
}

func (s *Service) list(ctx context.Context, query string, args ...any) ([]View, error) {
	var records []File
	if err := s.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	views := make([]View, 0, len(records))
	for _, record := range records {
		views = append(views, record.view())
	}
	return views, nil
}

func (s *Service) storageKey(roomCode, taskID, fileName string) string {
	safeName := unsafeKeyChars.ReplaceAllString(fileName, "_")
	stamp := s.clock().UTC().UnixMilli()
	if taskID != "" {
		return fmt.Sprintf("rooms/%s/tasks/%s/%d_%s", roomCode, taskID, stamp, safeName)
	}
	return fmt.Sprintf("rooms/%s/%d_%s", roomCode, stamp, safeName)
}

func (s *Service) roomByCode(ctx context.Context, code string) (rooms.Room, error) {
	var room rooms.Room
	err := s.db.WithContext(ctx).
		Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rooms.Room{}, rooms.ErrNotFound
	}
	if err != nil {
		return rooms.Room{}, err
	}
	return room, nil
}
