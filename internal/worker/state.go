package worker

import (
	"sync"

	"legalchat/internal/models"
)

type turnTask struct {
	req      TurnRequest
	resultCh chan turnReturn
}

type turnReturn struct {
	reply *models.Message
	err   error
}

// workerState is owned by a single worker goroutine; enqueue and
// shutdown are the only entry points for other goroutines.
type workerState struct {
	taskCh chan turnTask
	stopCh chan struct{}
	runner TurnRunner

	mu     sync.Mutex
	closed bool
}

func newWorkerState(queueLen int) *workerState {
	return &workerState{
		taskCh: make(chan turnTask, queueLen),
		stopCh: make(chan struct{}),
	}
}

// enqueue hands a task to the worker goroutine. Once the state is shut
// down no task can enter the queue, so every accepted task is
// guaranteed an answer on its result channel.
func (s *workerState) enqueue(task turnTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.taskCh <- task:
		return nil
	default:
		return ErrBusy
	}
}

func (s *workerState) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.stopCh)
}
