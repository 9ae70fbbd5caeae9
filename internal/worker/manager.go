package worker

import (
	"context"
	"errors"
	"log"
	"sync"

	"legalchat/internal/citation"
	"legalchat/internal/models"
	"legalchat/internal/service/assistant"
)

const defaultQueueLen = 16

var (
	// ErrBusy is returned when a session's turn queue is full.
	ErrBusy = errors.New("session is busy")
	// ErrSessionClosed is returned for turns that were queued, or
	// arrive, while the session's worker is being purged.
	ErrSessionClosed = errors.New("session closed")
)

// TurnRequest asks for one full assistant exchange on a session.
type TurnRequest struct {
	Context   context.Context
	SessionID int64
	Prompt    string
}

// ChatStore is the slice of the chat service the manager needs.
// *chat.Service satisfies it.
type ChatStore interface {
	GetSession(ctx context.Context, sessionID int64) (*models.Session, error)
	SetSessionThread(ctx context.Context, sessionID int64, threadID string) error
	AppendMessage(ctx context.Context, sessionID int64, role models.Role, content string) (*models.Message, error)
	ListArtifacts(ctx context.Context, sessionID int64) ([]models.Artifact, error)
}

// TurnRunner drives the remote conversation for one session.
// *assistant.Session satisfies it.
type TurnRunner interface {
	Restore(threadID string)
	ThreadID() string
	SubmitTurn(ctx context.Context, prompt string, fileIDs []string) (*assistant.Reply, error)
}

// Manager owns one goroutine per active session so that turns on the
// same remote thread never interleave. Turns on different sessions run
// concurrently.
type Manager struct {
	store     ChatStore
	newRunner func() TurnRunner
	queueLen  int

	mu      sync.Mutex
	workers map[int64]*workerState
}

func NewManager(store ChatStore, newRunner func() TurnRunner, queueLen int) *Manager {
	if queueLen <= 0 {
		queueLen = defaultQueueLen
	}
	return &Manager{
		store:     store,
		newRunner: newRunner,
		queueLen:  queueLen,
		workers:   make(map[int64]*workerState),
	}
}

// Process runs one turn to completion: persist the user message, submit
// it to the assistant, rewrite citations and persist the reply. It
// blocks until the turn settles or fails.
func (m *Manager) Process(req TurnRequest) (*models.Message, error) {
	if req.SessionID <= 0 {
		return nil, errors.New("session id required")
	}
	state := m.ensureWorker(req.SessionID)

	task := turnTask{req: req, resultCh: make(chan turnReturn, 1)}
	if err := state.enqueue(task); err != nil {
		return nil, err
	}

	ret := <-task.resultCh
	return ret.reply, ret.err
}

// Purge stops the session's worker and discards its in-memory state.
// Safe to call for sessions without a worker.
func (m *Manager) Purge(sessionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.workers[sessionID]; ok {
		state.shutdown()
		delete(m.workers, sessionID)
	}
}

func (m *Manager) ensureWorker(sessionID int64) *workerState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.workers[sessionID]; ok {
		return state
	}
	state := newWorkerState(m.queueLen)
	m.workers[sessionID] = state
	go m.runWorker(sessionID, state)
	return state
}

func (m *Manager) runWorker(sessionID int64, state *workerState) {
	for {
		// The stop signal wins over queued work so that a purge right
		// after a turn does not let another one start.
		select {
		case <-state.stopCh:
			m.drainQueue(sessionID, state)
			return
		default:
		}
		select {
		case <-state.stopCh:
			m.drainQueue(sessionID, state)
			return
		case task := <-state.taskCh:
			task.resultCh <- m.handleTurn(task.req, state)
		}
	}
}

// drainQueue answers every task that made it into the queue before the
// shutdown, so no Process caller is left waiting.
func (m *Manager) drainQueue(sessionID int64, state *workerState) {
	for {
		select {
		case task := <-state.taskCh:
			task.resultCh <- turnReturn{err: ErrSessionClosed}
		default:
			log.Printf("worker for session %d stopped", sessionID)
			return
		}
	}
}

func (m *Manager) handleTurn(req TurnRequest, state *workerState) turnReturn {
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}

	se, err := m.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return turnReturn{err: err}
	}
	if state.runner == nil {
		state.runner = m.newRunner()
		state.runner.Restore(se.ThreadID)
	}

	if _, err := m.store.AppendMessage(ctx, req.SessionID, models.RoleUser, req.Prompt); err != nil {
		return turnReturn{err: err}
	}

	artifacts, err := m.store.ListArtifacts(ctx, req.SessionID)
	if err != nil {
		return turnReturn{err: err}
	}
	fileIDs := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		fileIDs = append(fileIDs, a.FileID)
	}

	reply, err := state.runner.SubmitTurn(ctx, req.Prompt, fileIDs)
	if err != nil {
		return turnReturn{err: err}
	}

	// First successful turn on a fresh session pins the remote thread.
	if se.ThreadID == "" {
		if threadID := state.runner.ThreadID(); threadID != "" {
			if err := m.store.SetSessionThread(ctx, req.SessionID, threadID); err != nil {
				return turnReturn{err: err}
			}
		}
	}

	content := citation.Format(reply.Text, citation.ParseAnnotations(reply.Annotations), artifacts)
	msg, err := m.store.AppendMessage(ctx, req.SessionID, models.RoleAssistant, content)
	if err != nil {
		return turnReturn{err: err}
	}
	return turnReturn{reply: msg}
}
