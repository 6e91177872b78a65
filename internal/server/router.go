package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/collabroom/backend/internal/feed"
	"github.com/collabroom/backend/internal/files"
	"github.com/collabroom/backend/internal/messages"
	"github.com/collabroom/backend/internal/rooms"
	"github.com/collabroom/backend/internal/tasks"
	"github.com/collabroom/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const userIDContextKey = "collabroom_user_id"

var (
	errMissingRoomService    = errors.New("room service dependency required")
	errMissingTaskService    = errors.New("task service dependency required")
	errMissingMessageService = errors.New("message service dependency required")
	errMissingFileService    = errors.New("file service dependency required")
	errMissingFeedService    = errors.New("feed service dependency required")
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingHub            = errors.New("hub dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens.
type TokenManager interface {
	IssueToken(userID string) (string, error)
	ValidateToken(token string) (string, error)
}

// ConnectionHandler upgrades and runs websocket sessions.
type ConnectionHandler interface {
	HandleConnection(c *gin.Context)
}

// Dependencies wires the request-boundary handler to the services.
type Dependencies struct {
	Rooms    *rooms.Service
	Tasks    *tasks.Service
	Messages *messages.Service
	Files    *files.Service
	Feed     *feed.Service
	Tokens   TokenManager
	Hub      ConnectionHandler
	Logger   *zap.Logger
}

// NewHTTPHandler builds the gin handler serving the full REST and
// websocket surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Rooms == nil {
		return nil, errMissingRoomService
	}
	if deps.Tasks == nil {
		return nil, errMissingTaskService
	}
	if deps.Messages == nil {
		return nil, errMissingMessageService
	}
	if deps.Files == nil {
		return nil, errMissingFileService
	}
	if deps.Feed == nil {
		return nil, errMissingFeedService
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		rooms:    deps.Rooms,
		tasks:    deps.Tasks,
		messages: deps.Messages,
		files:    deps.Files,
		feed:     deps.Feed,
		tokens:   deps.Tokens,
		logger:   logger,
	}

	router.GET("/", handler.handleRoot)
	router.GET("/ws", deps.Hub.HandleConnection)

	router.POST("/rooms/create", handler.handleCreateRoom)
	router.POST("/rooms/join", handler.handleJoinRoom)
	router.POST("/rooms/leave", handler.handleLeaveRoom)

	router.GET("/tasks/room/:roomCode", handler.handleListTasks)

	// Task mutations carry the requester identity in the bearer token; the
	// assignee-only transition rule is enforced server-side, never trusted
	// to the client.
	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/tasks/create", handler.handleCreateTask)
	protected.PUT("/tasks/:taskId", handler.handleUpdateTask)
	protected.DELETE("/tasks/:taskId", handler.handleDeleteTask)

	router.GET("/messages/room/:roomCode", handler.handleListRoomMessages)
	router.GET("/messages/task/:taskId", handler.handleListTaskMessages)
	router.POST("/messages", handler.handleSendMessage)

	router.POST("/upload", handler.handleUpload)
	router.GET("/upload/room/:roomCode", handler.handleListRoomFiles)
	router.GET("/upload/task/:taskId", handler.handleListTaskFiles)

	router.GET("/feed/room/:roomCode", handler.handleRoomFeed)
	router.GET("/feed/task/:taskId", handler.handleTaskFeed)

	return router, nil
}

type httpHandler struct {
	rooms    *rooms.Service
	tasks    *tasks.Service
	messages *messages.Service
	files    *files.Service
	feed     *feed.Service
	tokens   TokenManager
	logger   *zap.Logger
}

func (h *httpHandler) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "CollabRoom API is running"})
}

type roomCreatePayload struct {
	RoomName string `json:"roomName"`
	UserName string `json:"userName"`
}

type roomJoinPayload struct {
	RoomCode string `json:"roomCode"`
	UserName string `json:"userName"`
}

type roomLeavePayload struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"userId"`
}

func (h *httpHandler) handleCreateRoom(c *gin.Context) {
	var request roomCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.RoomName) == "" || strings.TrimSpace(request.UserName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Room name and your name required"})
		return
	}

	result, err := h.rooms.Create(c.Request.Context(), request.RoomName, request.UserName)
	if err != nil {
		h.respondError(c, "room create failed", err)
		return
	}

	token, err := h.tokens.IssueToken(result.User.ID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "token issue failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"room":  result.Room,
		"user":  result.User,
		"rooms": result.Rooms,
		"token": token,
	})
}

func (h *httpHandler) handleJoinRoom(c *gin.Context) {
	var request roomJoinPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.RoomCode) == "" || strings.TrimSpace(request.UserName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Room code and name required"})
		return
	}

	result, err := h.rooms.Join(c.Request.Context(), request.RoomCode, request.UserName)
	if err != nil {
		h.respondError(c, "room join failed", err)
		return
	}

	token, err := h.tokens.IssueToken(result.User.ID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "token issue failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room":  result.Room,
		"user":  result.User,
		"rooms": result.Rooms,
		"token": token,
	})
}

func (h *httpHandler) handleLeaveRoom(c *gin.Context) {
	var request roomLeavePayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.RoomCode) == "" || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Room code and user ID required"})
		return
	}

	remaining, err := h.rooms.Leave(c.Request.Context(), request.RoomCode, request.UserID)
	if err != nil {
		h.respondError(c, "room leave failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Left room successfully",
		"rooms":   remaining,
	})
}

func (h *httpHandler) handleListTasks(c *gin.Context) {
	views, err := h.tasks.ListByRoom(c.Request.Context(), c.Param("roomCode"))
	if err != nil {
		h.respondError(c, "task list failed", err)
		return
	}
	c.JSON(http.StatusOK, views)
}

type taskCreatePayload struct {
	RoomCode    string `json:"roomCode"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Assignee    string `json:"assignee"`
}

func (h *httpHandler) handleCreateTask(c *gin.Context) {
	var request taskCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Room code and title required"})
		return
	}

	view, err := h.tasks.Create(c.Request.Context(), tasks.CreateParams{
		RoomCode:    request.RoomCode,
		Title:       request.Title,
		Description: request.Description,
		AssigneeID:  request.Assignee,
	})
	if err != nil {
		h.respondError(c, "task create failed", err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

type taskUpdatePayload struct {
	Status      *string `json:"status"`
	Assignee    *string `json:"assignee"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Order       *int    `json:"order"`
}

func (h *httpHandler) handleUpdateTask(c *gin.Context) {
	var request taskUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}

	view, err := h.tasks.Update(c.Request.Context(), c.Param("taskId"), c.GetString(userIDContextKey), tasks.UpdateParams{
		Status:      request.Status,
		Assignee:    request.Assignee,
		Title:       request.Title,
		Description: request.Description,
		Order:       request.Order,
	})
	if err != nil {
		h.respondError(c, "task update failed", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleDeleteTask(c *gin.Context) {
	if err := h.tasks.Delete(c.Request.Context(), c.Param("taskId")); err != nil {
		h.respondError(c, "task delete failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task deleted"})
}

func (h *httpHandler) handleListRoomMessages(c *gin.Context) {
	views, err := h.messages.ListRoom(c.Request.Context(), c.Param("roomCode"))
	if err != nil {
		h.respondError(c, "message list failed", err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleListTaskMessages(c *gin.Context) {
	views, err := h.messages.ListTask(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		h.respondError(c, "task message list failed", err)
		return
	}
	c.JSON(http.StatusOK, views)
}

type messagePayload struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"userId"`
	Content  string `json:"content"`
	TaskID   string `json:"taskId"`
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	var request messagePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Room code, user and content required"})
		return
	}

	view, err := h.messages.Create(c.Request.Context(), request.RoomCode, request.UserID, request.Content, request.TaskID)
	if err != nil {
		h.respondError(c, "message create failed", err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *httpHandler) handleUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "File, roomCode, and userName required"})
		return
	}
	roomCode := c.PostForm("roomCode")
	userName := c.PostForm("userName")
	taskID := c.PostForm("taskId")
	if strings.TrimSpace(roomCode) == "" || strings.TrimSpace(userName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "File, roomCode, and userName required"})
		return
	}

	reader, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("failed to open upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Upload failed"})
		return
	}
	defer reader.Close()

	view, err := h.files.Upload(c.Request.Context(), files.UploadParams{
		RoomCode:    roomCode,
		UserName:    userName,
		TaskID:      taskID,
		FileName:    fileHeader.Filename,
		Size:        fileHeader.Size,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Reader:      reader,
	})
	if err != nil {
		h.respondError(c, "upload failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "file": view})
}

func (h *httpHandler) handleListRoomFiles(c *gin.Context) {
	views, err := h.files.ListRoom(c.Request.Context(), c.Param("roomCode"))
	if err != nil {
		h.respondError(c, "file list failed", err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleListTaskFiles(c *gin.Context) {
	views, err := h.files.ListTask(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		h.respondError(c, "task file list failed", err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleRoomFeed(c *gin.Context) {
	items, err := h.feed.Room(c.Request.Context(), c.Param("roomCode"))
	if err != nil {
		h.respondError(c, "feed failed", err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *httpHandler) handleTaskFeed(c *gin.Context) {
	items, err := h.feed.Task(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		h.respondError(c, "task feed failed", err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// respondError maps service sentinels to HTTP statuses. Store failures
// surface as 500 with a human-readable message; they never crash the
// process at request time.
func (h *httpHandler) respondError(c *gin.Context, logMessage string, err error) {
	switch {
	case errors.Is(err, rooms.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Invalid room code"})
	case errors.Is(err, tasks.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Task not found"})
	case errors.Is(err, tasks.ErrNotAssignee):
		c.JSON(http.StatusForbidden, gin.H{"message": "Only the assignee can change the task status"})
	case errors.Is(err, tasks.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid task status"})
	case errors.Is(err, files.ErrTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"message": "File exceeds the 10MB limit"})
	case errors.Is(err, files.ErrBadType):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid file type"})
	case errors.Is(err, rooms.ErrInvalidInput),
		errors.Is(err, tasks.ErrInvalidInput),
		errors.Is(err, messages.ErrInvalidInput),
		errors.Is(err, files.ErrInvalidInput),
		errors.Is(err, users.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	default:
		h.logger.Error(logMessage, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
	}
}
