package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/workflow-composer/internal/inference"
	"github.com/garyjia/workflow-composer/internal/models"
	"github.com/garyjia/workflow-composer/internal/session"
	"github.com/garyjia/workflow-composer/internal/specstore"
	"github.com/garyjia/workflow-composer/internal/transcript"
	"go.uber.org/zap"
)

// Result is the terminal output of one engine invocation: either the next
// pending question (PendingQuestion true) or the pipeline's final message.
type Result struct {
	FinalMessage    string   `json:"final_message"`
	DocumentUpdated bool     `json:"document_updated"`
	PendingQuestion bool     `json:"pending_question"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Event is one element of the streaming invocation variant: zero or more
// status notifications followed by exactly one terminal event carrying the
// Result or the error.
type Event struct {
	Status string  `json:"status,omitempty"`
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
}

type emitFunc func(status string)

// Engine drives the generation and modification pipelines. Each thread's
// pipeline executes synchronously within a single invocation, suspending
// only at the await-answer point of the clarification loop.
type Engine struct {
	sessions   *session.Store
	guard      *session.Guard
	specs      *specstore.Store
	transcript *transcript.Store
	llm        *inference.Client
	logger     *zap.Logger
}

// New creates the engine
func New(
	sessions *session.Store,
	guard *session.Guard,
	specs *specstore.Store,
	transcriptStore *transcript.Store,
	llm *inference.Client,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		sessions:   sessions,
		guard:      guard,
		specs:      specs,
		transcript: transcriptStore,
		llm:        llm,
		logger:     logger,
	}
}

// StartOrResume drives the thread's pipeline to its next suspend point or
// terminal state and returns the final message. Overlapping invocations
// for the same thread fail with session.ErrThreadBusy.
func (e *Engine) StartOrResume(ctx context.Context, threadID, text string) (*Result, error) {
	return e.run(ctx, threadID, text, nil)
}

// StartOrResumeStream is the incremental variant: it yields a status event
// per stage transition before the terminal event. Control flow and outcome
// are identical to StartOrResume; only observability differs.
func (e *Engine) StartOrResumeStream(ctx context.Context, threadID, text string) <-chan Event {
	events := make(chan Event, 8)

	go func() {
		defer close(events)

		result, err := e.run(ctx, threadID, text, func(status string) {
			events <- Event{Status: status}
		})
		if err != nil {
			events <- Event{Err: err}
			return
		}
		events <- Event{Result: result}
	}()

	return events
}

// SelectVersion rolls the thread back to target: that version's document
// becomes current and every later version is deleted. The session's
// completed-specification slot is refreshed so a subsequent modification
// request starts from the rolled-back document.
func (e *Engine) SelectVersion(ctx context.Context, threadID string, target int) (*models.VersionRecord, error) {
	if err := e.guard.Acquire(threadID); err != nil {
		return nil, err
	}
	defer e.guard.Release(threadID)

	record, err := e.specs.Rollback(ctx, threadID, target)
	if err != nil {
		return nil, err
	}

	st, err := e.sessions.Get(ctx, threadID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return nil, err
	}
	if st != nil {
		st.Specification = &record.Document
		st.Phase = models.PhaseComplete
		if err := e.sessions.Save(ctx, st); err != nil {
			return nil, err
		}
	}

	return record, nil
}

func (e *Engine) run(ctx context.Context, threadID, text string, emit emitFunc) (*Result, error) {
	if emit == nil {
		emit = func(string) {}
	}

	if err := e.guard.Acquire(threadID); err != nil {
		return nil, err
	}
	defer e.guard.Release(threadID)

	if err := e.transcript.Append(ctx, threadID, transcript.SenderUser, text); err != nil {
		e.logger.Warn("Failed to record user message", zap.String("thread_id", threadID), zap.Error(err))
	}

	st, err := e.sessions.Get(ctx, threadID)
	if errors.Is(err, session.ErrNotFound) {
		st = nil
	} else if err != nil {
		return nil, err
	}

	if st == nil || st.Phase == models.PhaseComplete {
		st, err = e.newSession(ctx, threadID, text)
		if err != nil {
			return nil, err
		}
		text = "" // intake text is consumed by the new session, not an answer
	}

	var result *Result
	switch st.Mode {
	case models.ModeGeneration:
		result, err = e.runGeneration(ctx, st, text, emit)
	case models.ModeModification:
		result, err = e.runModification(ctx, st, text, emit)
	default:
		err = fmt.Errorf("unknown pipeline mode %q", st.Mode)
	}
	if err != nil {
		return nil, err
	}

	if err := e.transcript.Append(ctx, threadID, transcript.SenderSystem, result.FinalMessage); err != nil {
		e.logger.Warn("Failed to record system message", zap.String("thread_id", threadID), zap.Error(err))
	}

	return result, nil
}

// newSession routes the thread's first (or post-completion) invocation: a
// thread with a stored specification enters the modification pipeline,
// anything else starts generation from intake.
func (e *Engine) newSession(ctx context.Context, threadID, text string) (*models.SessionState, error) {
	exists, err := e.specs.Exists(ctx, threadID)
	if err != nil {
		return nil, err
	}

	st := &models.SessionState{
		ThreadID: threadID,
		Phase:    models.PhaseIntake,
		Answers:  make(map[string]string),
	}

	if exists {
		st.Mode = models.ModeModification
		st.ModRequest = text
		e.logger.Info("Starting modification pipeline", zap.String("thread_id", threadID))
	} else {
		st.Mode = models.ModeGeneration
		st.RequestText = text
		e.logger.Info("Starting generation pipeline", zap.String("thread_id", threadID))
	}

	return st, nil
}

// formatQuestion renders the pending question with its 1-based position
// and batch size. The question text itself is passed through verbatim.
func formatQuestion(q models.Question, position, batchSize int) string {
	suffix := ""
	if !q.Required {
		suffix = " (optional, reply with an empty message to skip)"
	}
	return fmt.Sprintf("Question %d/%d: %s%s", position, batchSize, q.Text, suffix)
}
