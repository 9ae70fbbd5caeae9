package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrRunTimeout is returned when a run does not settle within the
// session's turn deadline.
var ErrRunTimeout = errors.New("assistant run timed out")

// maxToolRounds caps how many requires_action cycles a single turn may
// go through before the run is abandoned.
const maxToolRounds = 3

// RunError reports a run that settled in a terminal state other than
// completed.
type RunError struct {
	Status string
	Detail string
}

func (e *RunError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("assistant run ended with status %s", e.Status)
	}
	return fmt.Sprintf("assistant run ended with status %s: %s", e.Status, e.Detail)
}

// ToolFunc produces the string output for a tool call. The assistant
// protocol carries tool results as opaque strings.
type ToolFunc func(ctx context.Context) string

// Reply is the raw outcome of a completed turn, before citation
// rewriting.
type Reply struct {
	Text        string
	Annotations []any
}

// Session drives one remote conversation thread. It is not safe for
// concurrent SubmitTurn calls; the worker serializes access.
type Session struct {
	client       Client
	assistantID  string
	instructions string
	pollInterval time.Duration
	turnTimeout  time.Duration
	tools        map[string]ToolFunc

	mu       sync.Mutex
	threadID string
}

func NewSession(client Client, assistantID string, pollInterval, turnTimeout time.Duration) *Session {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if turnTimeout <= 0 {
		turnTimeout = 2 * time.Minute
	}
	return &Session{
		client:       client,
		assistantID:  assistantID,
		instructions: DefaultInstructions,
		pollInterval: pollInterval,
		turnTimeout:  turnTimeout,
		tools:        make(map[string]ToolFunc),
	}
}

// RegisterTool makes a function callable by the assistant under the
// given name.
func (s *Session) RegisterTool(name string, fn ToolFunc) {
	s.tools[name] = fn
}

// Restore attaches the session to a thread created in an earlier
// process lifetime. It is a no-op for an empty id.
func (s *Session) Restore(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadID == "" {
		s.threadID = threadID
	}
}

// ThreadID returns the remote thread id, or "" before the first turn.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// EnsureThread creates the remote thread on first use. Subsequent calls
// return the existing id without touching the network.
func (s *Session) EnsureThread(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threadID != "" {
		return s.threadID, nil
	}
	thread, err := s.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	s.threadID = thread.ID
	return s.threadID, nil
}

// SubmitTurn posts the prompt (attaching the given knowledge-store file
// ids for retrieval), starts a run and polls it to a terminal state.
func (s *Session) SubmitTurn(ctx context.Context, prompt string, fileIDs []string) (*Reply, error) {
	threadID, err := s.EnsureThread(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()

	msg := openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	}
	for _, id := range fileIDs {
		msg.Attachments = append(msg.Attachments, openai.ThreadAttachment{
			FileID: id,
			Tools:  []openai.ThreadAttachmentTool{{Type: "file_search"}},
		})
	}
	if _, err := s.client.CreateMessage(ctx, threadID, msg); err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}

	run, err := s.client.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID:  s.assistantID,
		Instructions: s.instructions,
	})
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	run, err = s.pollRun(ctx, threadID, run)
	if err != nil {
		return nil, err
	}

	switch run.Status {
	case openai.RunStatusCompleted:
		return s.latestReply(ctx, threadID)
	default:
		detail := ""
		if run.LastError != nil {
			detail = run.LastError.Message
		}
		log.Printf("run %s on thread %s ended with status %s: %s", run.ID, threadID, run.Status, detail)
		return nil, &RunError{Status: string(run.Status), Detail: detail}
	}
}

// pollRun waits for the run to leave its transient states, serving tool
// calls along the way.
func (s *Session) pollRun(ctx context.Context, threadID string, run openai.Run) (openai.Run, error) {
	toolRounds := 0
	for {
		switch run.Status {
		case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
			select {
			case <-ctx.Done():
				// A canceled caller is not a slow assistant.
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return run, fmt.Errorf("%w: run %s still %s", ErrRunTimeout, run.ID, run.Status)
				}
				return run, ctx.Err()
			case <-time.After(s.pollInterval):
			}
			next, err := s.client.RetrieveRun(ctx, threadID, run.ID)
			if err != nil {
				return run, fmt.Errorf("poll run: %w", err)
			}
			run = next
		case openai.RunStatusRequiresAction:
			toolRounds++
			if toolRounds > maxToolRounds {
				return run, &RunError{Status: string(run.Status), Detail: "tool call limit exceeded"}
			}
			next, err := s.serveToolCalls(ctx, threadID, run)
			if err != nil {
				return run, err
			}
			run = next
		default:
			return run, nil
		}
	}
}

func (s *Session) serveToolCalls(ctx context.Context, threadID string, run openai.Run) (openai.Run, error) {
	if run.RequiredAction == nil || run.RequiredAction.SubmitToolOutputs == nil {
		return run, &RunError{Status: string(run.Status), Detail: "requires_action without tool calls"}
	}

	var outputs []openai.ToolOutput
	for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
		name := call.Function.Name
		fn, ok := s.tools[name]
		var result string
		if ok {
			log.Printf("run %s invoking tool %s", run.ID, name)
			result = fn(ctx)
		} else {
			log.Printf("run %s requested unknown tool %s", run.ID, name)
			payload, _ := json.Marshal(map[string]string{"error": "herramienta no disponible: " + name})
			result = string(payload)
		}
		outputs = append(outputs, openai.ToolOutput{ToolCallID: call.ID, Output: result})
	}

	next, err := s.client.SubmitToolOutputs(ctx, threadID, run.ID, openai.SubmitToolOutputsRequest{
		ToolOutputs: outputs,
	})
	if err != nil {
		return run, fmt.Errorf("submit tool outputs: %w", err)
	}
	return next, nil
}

// latestReply fetches the newest assistant message on the thread.
func (s *Session) latestReply(ctx context.Context, threadID string) (*Reply, error) {
	limit := 1
	order := "desc"
	list, err := s.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if len(list.Messages) == 0 {
		return nil, errors.New("completed run produced no messages")
	}
	for _, part := range list.Messages[0].Content {
		if part.Text != nil {
			return &Reply{Text: part.Text.Value, Annotations: part.Text.Annotations}, nil
		}
	}
	return nil, errors.New("assistant reply carried no text content")
}
