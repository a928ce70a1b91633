package models

import "time"

// Pipeline mode constants
const (
	ModeGeneration   = "GENERATION"
	ModeModification = "MODIFICATION"
)

// Session phase constants
const (
	PhaseIntake      = "INTAKE"
	PhaseAwaitAnswer = "AWAIT_ANSWER"
	PhaseComplete    = "COMPLETE"
)

// MaxExtraRounds bounds the clarification loop: after the first round the
// validation gate may send the conversation back at most this many times.
const MaxExtraRounds = 2

// Question is a single clarifying question issued to the caller
type Question struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Category string `json:"category"`
	Required bool   `json:"required"`
}

// ValidationResult is the gate's judgment on the collected answers
type ValidationResult struct {
	Sufficient bool     `json:"sufficient"`
	Missing    []string `json:"missing"`
}

// SessionState is the full mutable state of one conversation thread.
// It is owned exclusively by the session store; the engine loads it,
// mutates it, and saves it back on every invocation.
type SessionState struct {
	ThreadID    string `json:"thread_id"`
	Mode        string `json:"mode"`  // GENERATION or MODIFICATION
	Phase       string `json:"phase"` // INTAKE, AWAIT_ANSWER, COMPLETE
	RequestText string `json:"request_text"`
	Title       string `json:"title"`

	ApprovalChain     []Approver `json:"approval_chain"`
	ExtraRequirements []string   `json:"extra_requirements,omitempty"`

	// QuestionBatch holds the batch currently being answered; Cursor is the
	// index of the next unanswered question. QuestionHistory grows forever
	// and is fed back to the gateway so questions are never repeated.
	QuestionBatch   []Question        `json:"question_batch"`
	QuestionHistory []Question        `json:"question_history"`
	Answers         map[string]string `json:"answers"`
	Cursor          int               `json:"cursor"`
	RoundCount      int               `json:"round_count"`

	Validation *ValidationResult `json:"validation_result,omitempty"`

	// Modification pipeline state, only set when Mode == MODIFICATION
	ModRequest  string                `json:"mod_request,omitempty"`
	ModAnalysis *ModificationAnalysis `json:"mod_analysis,omitempty"`

	// Specification is set once the pipeline has completed for this thread
	Specification *Document `json:"specification,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// AwaitingQuestion reports whether the session is suspended mid-batch
func (s *SessionState) AwaitingQuestion() bool {
	return s.Phase == PhaseAwaitAnswer && s.Cursor < len(s.QuestionBatch)
}

// PendingQuestion returns the question the caller must answer next
func (s *SessionState) PendingQuestion() (Question, bool) {
	if s.Cursor < 0 || s.Cursor >= len(s.QuestionBatch) {
		return Question{}, false
	}
	return s.QuestionBatch[s.Cursor], true
}

// RecordAnswer stores the caller's text against the pending question and
// advances the cursor. A skipped optional question is recorded with an
// empty value so it is never re-asked.
func (s *SessionState) RecordAnswer(text string) bool {
	q, ok := s.PendingQuestion()
	if !ok {
		return false
	}
	if s.Answers == nil {
		s.Answers = make(map[string]string)
	}
	s.Answers[q.ID] = text
	s.Cursor++
	return true
}
