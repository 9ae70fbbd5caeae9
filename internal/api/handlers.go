package api

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"legalchat/internal/extract"
	"legalchat/internal/models"
	"legalchat/internal/service/assistant"
	"legalchat/internal/service/chat"
	"legalchat/internal/worker"
)

const (
	maxUploadBytes   = 10 << 20 // 10 MB
	defaultBillLimit = 15
	maxBillLimit     = 50
)

// WorkerManager runs assistant turns off the request path.
type WorkerManager interface {
	Process(worker.TurnRequest) (*models.Message, error)
	Purge(sessionID int64)
}

// KnowledgeStore holds the remote copies of uploaded documents.
type KnowledgeStore interface {
	Upload(ctx context.Context, text, originalFilename string) (string, error)
	Delete(ctx context.Context, fileID string) bool
}

// Extractor turns uploaded bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}

// BillSource lists recently filed legislature bills.
type BillSource interface {
	Scrape(ctx context.Context, limit int) ([]models.BillRecord, error)
}

// Handler wires HTTP routes to the chat service, the knowledge store
// and the per-session workers.
type Handler struct {
	chat      *chat.Service
	workers   WorkerManager
	knowledge KnowledgeStore
	extractor Extractor
	bills     BillSource
	maxFiles  int
}

// NewHandler constructs a Handler instance.
func NewHandler(chatSvc *chat.Service, workers WorkerManager, knowledge KnowledgeStore, extractor Extractor, bills BillSource, maxFiles int) *Handler {
	if maxFiles <= 0 {
		maxFiles = 3
	}
	return &Handler{
		chat:      chatSvc,
		workers:   workers,
		knowledge: knowledge,
		extractor: extractor,
		bills:     bills,
		maxFiles:  maxFiles,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/sessions", h.createSession)
	api.GET("/sessions", h.listSessions)
	api.GET("/sessions/:id", h.getSession)
	api.DELETE("/sessions/:id", h.deleteSession)
	api.GET("/sessions/:id/files", h.listFiles)
	api.DELETE("/sessions/:id/files/:file_id", h.deleteFile)
	api.POST("/upload", h.uploadFile)
	api.POST("/chat", h.chatTurn)
	api.GET("/bills", h.listBills)
}

func sessionIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) createSession(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	// An empty body is fine, the service picks a default title.
	_ = c.ShouldBindJSON(&req)

	se, err := h.chat.CreateSession(c.Request.Context(), req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": se})
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.chat.ListSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = make([]models.Session, 0)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) getSession(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	se, messages, err := h.chat.GetSessionWithMessages(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = make([]*models.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{"session": se, "messages": messages})
}

func (h *Handler) deleteSession(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	// Best effort: drop the remote copies before the local records go.
	artifacts, err := h.chat.ListArtifacts(ctx, sessionID)
	if err == nil {
		for _, a := range artifacts {
			h.knowledge.Delete(ctx, a.FileID)
		}
	}

	if err := h.chat.DeleteSession(ctx, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.workers.Purge(sessionID)
	c.Status(http.StatusNoContent)
}

func uploadError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"status": "error", "message": message})
}

func (h *Handler) uploadFile(c *gin.Context) {
	sessionVal := c.PostForm("session_id")
	sessionID, err := strconv.ParseInt(sessionVal, 10, 64)
	if err != nil || sessionID <= 0 {
		uploadError(c, http.StatusBadRequest, "invalid session_id")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.chat.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			uploadError(c, http.StatusNotFound, "session not found")
			return
		}
		uploadError(c, http.StatusInternalServerError, err.Error())
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		uploadError(c, http.StatusBadRequest, "file is required")
		return
	}
	filename := filepath.Base(fileHeader.Filename)
	if filename == "" || filename == "." {
		uploadError(c, http.StatusBadRequest, "filename is required")
		return
	}
	if !extract.Supported(filename) {
		uploadError(c, http.StatusBadRequest, "unsupported file format, use pdf, docx or txt")
		return
	}
	if fileHeader.Size > maxUploadBytes {
		uploadError(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	count, err := h.chat.CountArtifacts(ctx, sessionID)
	if err != nil {
		uploadError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if count >= h.maxFiles {
		uploadError(c, http.StatusConflict, "file limit reached for this session")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		uploadError(c, http.StatusBadRequest, "open file failed")
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		uploadError(c, http.StatusBadRequest, "read file failed")
		return
	}
	if len(data) == 0 {
		uploadError(c, http.StatusBadRequest, "file is empty")
		return
	}

	text, err := h.extractor.Extract(ctx, filename, data)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedFormat) {
			uploadError(c, http.StatusBadRequest, "unsupported file format, use pdf, docx or txt")
			return
		}
		uploadError(c, http.StatusUnprocessableEntity, "could not extract text from "+filename)
		return
	}
	if strings.TrimSpace(text) == "" {
		uploadError(c, http.StatusUnprocessableEntity, "document contains no readable text")
		return
	}

	fileID, err := h.knowledge.Upload(ctx, text, filename)
	if err != nil {
		uploadError(c, http.StatusBadGateway, "knowledge store upload failed")
		return
	}
	if _, err := h.chat.AddArtifact(ctx, sessionID, fileID, filename); err != nil {
		// The remote copy is orphaned otherwise.
		h.knowledge.Delete(ctx, fileID)
		uploadError(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"file_info": gin.H{
			"file_id":  fileID,
			"filename": filename,
		},
	})
}

func (h *Handler) listFiles(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	artifacts, err := h.chat.ListArtifacts(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if artifacts == nil {
		artifacts = make([]models.Artifact, 0)
	}
	c.JSON(http.StatusOK, gin.H{"files": artifacts})
}

func (h *Handler) deleteFile(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	fileID := c.Param("file_id")
	if fileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return
	}
	ctx := c.Request.Context()

	// The file must belong to this session before anything remote
	// happens, so a foreign file id cannot delete another session's
	// artifact.
	if _, err := h.chat.GetArtifact(ctx, sessionID, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// The local record only goes away once the remote store acknowledged,
	// so a failed remote delete can be retried.
	if !h.knowledge.Delete(ctx, fileID) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "remote deletion failed, try again"})
		return
	}
	if err := h.chat.RemoveArtifact(ctx, sessionID, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type chatRequest struct {
	SessionID int64  `json:"session_id"`
	Content   string `json:"content"`
}

func (h *Handler) chatTurn(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.SessionID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content cannot be empty"})
		return
	}

	msg, err := h.workers.Process(worker.TurnRequest{
		Context:   c.Request.Context(),
		SessionID: req.SessionID,
		Prompt:    req.Content,
	})
	if err != nil {
		var runErr *assistant.RunError
		switch {
		case errors.Is(err, worker.ErrBusy):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "session is busy, please retry"})
		case errors.Is(err, assistant.ErrRunTimeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "the assistant took too long to answer"})
		case errors.As(err, &runErr):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Lo siento, ocurrió un error (Estado: " + runErr.Status + ")."})
		case errors.Is(err, sql.ErrNoRows), errors.Is(err, worker.ErrSessionClosed):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *Handler) listBills(c *gin.Context) {
	limit := defaultBillLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	if limit > maxBillLimit {
		limit = maxBillLimit
	}

	bills, err := h.bills.Scrape(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not reach the legislature site"})
		return
	}
	if bills == nil {
		bills = make([]models.BillRecord, 0)
	}
	c.JSON(http.StatusOK, gin.H{"bills": bills})
}
