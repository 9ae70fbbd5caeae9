package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"legalchat/internal/config"
	"legalchat/internal/models"
	"legalchat/internal/service/assistant"
	"legalchat/internal/service/chat"
	"legalchat/internal/storage"
	"legalchat/internal/worker"
)

type fakeWorkers struct {
	msg    *models.Message
	err    error
	turns  []worker.TurnRequest
	purged []int64
}

func (f *fakeWorkers) Process(req worker.TurnRequest) (*models.Message, error) {
	f.turns = append(f.turns, req)
	return f.msg, f.err
}

func (f *fakeWorkers) Purge(sessionID int64) {
	f.purged = append(f.purged, sessionID)
}

type fakeKnowledge struct {
	uploadErr error
	deleteAck bool
	uploads   []string
	deletes   []string
	nextID    int
}

func (f *fakeKnowledge) Upload(ctx context.Context, text, originalFilename string) (string, error) {
	f.uploads = append(f.uploads, originalFilename)
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.nextID++
	return fmt.Sprintf("file-%d", f.nextID), nil
}

func (f *fakeKnowledge) Delete(ctx context.Context, fileID string) bool {
	f.deletes = append(f.deletes, fileID)
	return f.deleteAck
}

type fakeExtractor struct {
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeBills struct {
	bills  []models.BillRecord
	err    error
	limits []int
}

func (f *fakeBills) Scrape(ctx context.Context, limit int) ([]models.BillRecord, error) {
	f.limits = append(f.limits, limit)
	return f.bills, f.err
}

type testEnv struct {
	router    *gin.Engine
	chat      *chat.Service
	workers   *fakeWorkers
	knowledge *fakeKnowledge
	extractor *fakeExtractor
	bills     *fakeBills
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: ":memory:"},
	}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	env := &testEnv{
		chat:      chat.NewService(db),
		workers:   &fakeWorkers{},
		knowledge: &fakeKnowledge{deleteAck: true},
		extractor: &fakeExtractor{text: "texto extraído del documento"},
		bills:     &fakeBills{},
	}
	h := NewHandler(env.chat, env.workers, env.knowledge, env.extractor, env.bills, 3)
	env.router = gin.New()
	h.RegisterRoutes(env.router)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	return e.do(t, method, path, &buf, "application/json")
}

func (e *testEnv) mustCreateSession(t *testing.T) int64 {
	t.Helper()
	se, err := e.chat.CreateSession(context.Background(), "t")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return se.ID
}

func multipartUpload(t *testing.T, sessionID int64, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if sessionID > 0 {
		if err := mw.WriteField("session_id", fmt.Sprintf("%d", sessionID)); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestUploadSuccess(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.mustCreateSession(t)

	body, ct := multipartUpload(t, sessionID, "ley.pdf", "%PDF-1.4 contenido")
	w := env.do(t, http.MethodPost, "/api/upload", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	out := decodeJSON(t, w)
	if out["status"] != "success" {
		t.Fatalf("status field = %v", out["status"])
	}
	info, ok := out["file_info"].(map[string]any)
	if !ok || info["file_id"] != "file-1" || info["filename"] != "ley.pdf" {
		t.Fatalf("file_info = %v", out["file_info"])
	}

	arts, err := env.chat.ListArtifacts(context.Background(), sessionID)
	if err != nil || len(arts) != 1 || arts[0].FileID != "file-1" {
		t.Fatalf("artifact not recorded: %v %v", arts, err)
	}
}

func TestUploadWithoutFile(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.mustCreateSession(t)

	body, ct := multipartUpload(t, sessionID, "", "")
	w := env.do(t, http.MethodPost, "/api/upload", body, ct)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	out := decodeJSON(t, w)
	if out["status"] != "error" || out["message"] == "" {
		t.Fatalf("unexpected envelope %v", out)
	}
	if env.extractor.calls != 0 || len(env.knowledge.uploads) != 0 {
		t.Fatal("pipeline invoked for a request without a file")
	}
}

func TestUploadUnsupportedFormat(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.mustCreateSession(t)

	body, ct := multipartUpload(t, sessionID, "virus.exe", "MZ")
	w := env.do(t, http.MethodPost, "/api/upload", body, ct)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if env.extractor.calls != 0 || len(env.knowledge.uploads) != 0 {
		t.Fatal("pipeline invoked for an unsupported format")
	}
}

func TestUploadUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartUpload(t, 999, "ley.pdf", "x")
	w := env.do(t, http.MethodPost, "/api/upload", body, ct)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if len(env.knowledge.uploads) != 0 {
		t.Fatal("upload attempted for unknown session")
	}
}

func TestUploadFileLimit(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.mustCreateSession(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if _, err := env.chat.AddArtifact(ctx, sessionID, fmt.Sprintf("f%d", i), "a.pdf"); err != nil {
			t.Fatalf("seed artifact: %v", err)
		}
	}

	body, ct := multipartUpload(t, sessionID, "ley.pdf", "x")
	w := env.do(t, http.MethodPost, "/api/upload", body, ct)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
	if len(env.knowledge.uploads) != 0 {
		t.Fatal("upload attempted past the file limit")
	}
}

func TestUploadKnowledgeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.knowledge.uploadErr = errors.New("remote down")
	sessionID := env.mustCreateSession(t)

	body, ct := multipartUpload(t, sessionID, "ley.pdf", "x")
	w := env.do(t, http.MethodPost, "/api/upload", body, ct)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	arts, _ := env.chat.ListArtifacts(context.Background(), sessionID)
	if len(arts) != 0 {
		t.Fatal("artifact recorded despite failed upload")
	}
}

func TestDeleteFileRequiresRemoteAck(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.mustCreateSession(t)
	ctx := context.Background()
	if _, err := env.chat.AddArtifact(ctx, sessionID, "file-1", "ley.pdf"); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	env.knowledge.deleteAck = false
	w := env.do(t, http.MethodDelete, fmt.Sprintf("/api/sessions/%d/files/file-1", sessionID), nil, "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	arts, _ := env.chat.ListArtifacts(ctx, sessionID)
	if len(arts) != 1 {
		t.Fatal("local record removed without remote ack")
	}

	env.knowledge.deleteAck = true
	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/sessions/%d/files/file-1", sessionID), nil, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	arts, _ = env.chat.ListArtifacts(ctx, sessionID)
	if len(arts) != 0 {
		t.Fatal("local record kept after remote ack")
	}
}

func TestDeleteFileScopedToSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.mustCreateSession(t)
	other := env.mustCreateSession(t)
	if _, err := env.chat.AddArtifact(ctx, owner, "file-1", "ley.pdf"); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	// Another session's id must not reach the remote store at all.
	w := env.do(t, http.MethodDelete, fmt.Sprintf("/api/sessions/%d/files/file-1", other), nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if len(env.knowledge.deletes) != 0 {
		t.Fatalf("remote delete issued for foreign file: %v", env.knowledge.deletes)
	}

	// Same for a file id that exists nowhere.
	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/sessions/%d/files/file-unknown", owner), nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if len(env.knowledge.deletes) != 0 {
		t.Fatalf("remote delete issued for unknown file: %v", env.knowledge.deletes)
	}

	arts, _ := env.chat.ListArtifacts(ctx, owner)
	if len(arts) != 1 {
		t.Fatal("owner's artifact disturbed")
	}
}

func TestChatTurn(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.mustCreateSession(t)
	env.workers.msg = &models.Message{
		ID:        2,
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   "respuesta [1]",
	}

	w := env.doJSON(t, http.MethodPost, "/api/chat", gin.H{"session_id": sessionID, "content": "analiza"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decodeJSON(t, w)
	msg, ok := out["message"].(map[string]any)
	if !ok || msg["content"] != "respuesta [1]" {
		t.Fatalf("message = %v", out["message"])
	}
	if len(env.workers.turns) != 1 || env.workers.turns[0].Prompt != "analiza" {
		t.Fatalf("turns = %+v", env.workers.turns)
	}
}

func TestChatTurnValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.doJSON(t, http.MethodPost, "/api/chat", gin.H{"session_id": 0, "content": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	w = env.doJSON(t, http.MethodPost, "/api/chat", gin.H{"session_id": 1, "content": "  "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if len(env.workers.turns) != 0 {
		t.Fatal("worker invoked for invalid input")
	}
}

func TestChatTurnErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		substr string
	}{
		{"run failed", &assistant.RunError{Status: "failed", Detail: "boom"}, http.StatusBadGateway, "failed"},
		{"timeout", fmt.Errorf("wrap: %w", assistant.ErrRunTimeout), http.StatusGatewayTimeout, "too long"},
		{"busy", worker.ErrBusy, http.StatusTooManyRequests, "busy"},
		{"session closed", worker.ErrSessionClosed, http.StatusNotFound, "not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			sessionID := env.mustCreateSession(t)
			env.workers.err = tc.err

			w := env.doJSON(t, http.MethodPost, "/api/chat", gin.H{"session_id": sessionID, "content": "x"})
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			out := decodeJSON(t, w)
			if msg, _ := out["error"].(string); !strings.Contains(msg, tc.substr) {
				t.Fatalf("error = %q, want substring %q", msg, tc.substr)
			}
		})
	}
}

func TestDeleteSessionPurgesWorkerAndRemoteFiles(t *testing.T) {
	env := newTestEnv(t)
	sessionID := env.mustCreateSession(t)
	ctx := context.Background()
	if _, err := env.chat.AddArtifact(ctx, sessionID, "file-1", "ley.pdf"); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	w := env.do(t, http.MethodDelete, fmt.Sprintf("/api/sessions/%d", sessionID), nil, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if len(env.workers.purged) != 1 || env.workers.purged[0] != sessionID {
		t.Fatalf("purged = %v", env.workers.purged)
	}
	if len(env.knowledge.deletes) != 1 || env.knowledge.deletes[0] != "file-1" {
		t.Fatalf("remote deletes = %v", env.knowledge.deletes)
	}

	w = env.do(t, http.MethodDelete, fmt.Sprintf("/api/sessions/%d", sessionID), nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", w.Code)
	}
}

func TestListBills(t *testing.T) {
	env := newTestEnv(t)
	env.bills.bills = []models.BillRecord{{Number: "001", Title: "Proyecto", Status: "Radicado", Link: "N/A"}}

	w := env.do(t, http.MethodGet, "/api/bills", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(env.bills.limits) != 1 || env.bills.limits[0] != defaultBillLimit {
		t.Fatalf("limits = %v", env.bills.limits)
	}
	out := decodeJSON(t, w)
	bills, ok := out["bills"].([]any)
	if !ok || len(bills) != 1 {
		t.Fatalf("bills = %v", out["bills"])
	}

	w = env.do(t, http.MethodGet, "/api/bills?limit=5", nil, "")
	if w.Code != http.StatusOK || env.bills.limits[1] != 5 {
		t.Fatalf("explicit limit not honored: %v", env.bills.limits)
	}

	w = env.do(t, http.MethodGet, "/api/bills?limit=abc", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d for bad limit", w.Code)
	}
}

func TestListBillsError(t *testing.T) {
	env := newTestEnv(t)
	env.bills.err = errors.New("site down")

	w := env.do(t, http.MethodGet, "/api/bills", nil, "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.doJSON(t, http.MethodPost, "/api/sessions", gin.H{"title": "Estudio de ley"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/sessions", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	out := decodeJSON(t, w)
	sessions, ok := out["sessions"].([]any)
	if !ok || len(sessions) != 1 {
		t.Fatalf("sessions = %v", out["sessions"])
	}

	w = env.do(t, http.MethodGet, "/api/sessions/999", nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing session status = %d", w.Code)
	}
}
