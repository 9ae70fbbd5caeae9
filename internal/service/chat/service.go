package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"legalchat/internal/models"
)

// Service persists chat sessions, their append-only message history and
// the knowledge artifacts uploaded for them.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateSession inserts a new session and returns the record.
func (s *Service) CreateSession(ctx context.Context, title string) (*models.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Nueva consulta"
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (title, thread_id, created_at, updated_at) VALUES (?, '', ?, ?)`,
		title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	return &models.Session{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// ListSessions returns all sessions ordered by last activity.
func (s *Service) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, thread_id, created_at, updated_at FROM sessions ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var se models.Session
		if err := rows.Scan(&se.ID, &se.Title, &se.ThreadID, &se.CreatedAt, &se.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, se)
	}
	return sessions, rows.Err()
}

// GetSession returns one session by id, sql.ErrNoRows when absent.
func (s *Service) GetSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	var se models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, thread_id, created_at, updated_at FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(&se.ID, &se.Title, &se.ThreadID, &se.CreatedAt, &se.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &se, nil
}

// GetSessionWithMessages returns one session and its ordered messages.
func (s *Service) GetSessionWithMessages(ctx context.Context, sessionID int64) (*models.Session, []*models.Message, error) {
	se, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return se, nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return se, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return se, messages, rows.Err()
}

// SetSessionThread records the remote thread id. The id is write-once;
// a second call with a different thread is rejected.
func (s *Service) SetSessionThread(ctx context.Context, sessionID int64, threadID string) error {
	if threadID == "" {
		return errors.New("thread id cannot be empty")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET thread_id = ? WHERE id = ? AND (thread_id = '' OR thread_id = ?)`,
		threadID, sessionID, threadID,
	)
	if err != nil {
		return fmt.Errorf("set session thread: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("thread rows affected: %w", err)
	}
	if affected == 0 {
		return errors.New("session thread already assigned")
	}
	return nil
}

// AppendMessage stores a new message and touches the session timestamp.
func (s *Service) AppendMessage(ctx context.Context, sessionID int64, role models.Role, content string) (*models.Message, error) {
	if sessionID <= 0 {
		return nil, errors.New("session_id is required")
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("content cannot be empty")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	return &models.Message{ID: id, SessionID: sessionID, Role: role, Content: content, CreatedAt: now}, nil
}

// DeleteSession removes a session with its messages and artifact records.
func (s *Service) DeleteSession(ctx context.Context, sessionID int64) error {
	if sessionID <= 0 {
		return errors.New("invalid session id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		tx.Rollback()
		return sql.ErrNoRows
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM artifacts WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete artifacts: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	return nil
}

// AddArtifact records an uploaded knowledge artifact. The remote file id
// is the primary key, so duplicates within a session are impossible.
func (s *Service) AddArtifact(ctx context.Context, sessionID int64, fileID, filename string) (*models.Artifact, error) {
	if fileID == "" || filename == "" {
		return nil, errors.New("file id and filename are required")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (file_id, session_id, filename, created_at) VALUES (?, ?, ?, ?)`,
		fileID, sessionID, filename, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}
	return &models.Artifact{FileID: fileID, SessionID: sessionID, Filename: filename, CreatedAt: now}, nil
}

// ListArtifacts returns the session's active artifacts in upload order.
func (s *Service) ListArtifacts(ctx context.Context, sessionID int64) ([]models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_id, session_id, filename, created_at FROM artifacts WHERE session_id = ? ORDER BY created_at ASC, file_id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []models.Artifact
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.FileID, &a.SessionID, &a.Filename, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// GetArtifact returns one artifact scoped to its session, sql.ErrNoRows
// when the session holds no such file.
func (s *Service) GetArtifact(ctx context.Context, sessionID int64, fileID string) (*models.Artifact, error) {
	var a models.Artifact
	err := s.db.QueryRowContext(ctx,
		`SELECT file_id, session_id, filename, created_at FROM artifacts WHERE file_id = ? AND session_id = ?`,
		fileID, sessionID,
	).Scan(&a.FileID, &a.SessionID, &a.Filename, &a.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return &a, nil
}

// CountArtifacts returns how many artifacts a session currently holds.
func (s *Service) CountArtifacts(ctx context.Context, sessionID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM artifacts WHERE session_id = ?`, sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return count, nil
}

// RemoveArtifact deletes the local artifact record. Callers must only do
// this after the remote store acknowledged deletion.
func (s *Service) RemoveArtifact(ctx context.Context, sessionID int64, fileID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE file_id = ? AND session_id = ?`, fileID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("remove artifact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("artifact rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
