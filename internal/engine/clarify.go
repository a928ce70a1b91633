package engine

import (
	"context"
	"fmt"

	"github.com/garyjia/workflow-composer/internal/models"
)

// runClarification drives the shared clarification loop. generate produces
// the next question batch when the current one is exhausted; the loop
// renumbers ids over the whole thread history so answers from different
// rounds never collide.
//
// Returns a non-nil Result when the loop suspends awaiting an answer, and
// (nil, nil) once the collected answers pass the validation gate or the
// round ceiling forces forward progress.
func (e *Engine) runClarification(
	ctx context.Context,
	st *models.SessionState,
	emit emitFunc,
	generate func() []models.Question,
) (*Result, error) {
	for {
		if q, ok := st.PendingQuestion(); ok {
			st.Phase = models.PhaseAwaitAnswer
			if err := e.sessions.Save(ctx, st); err != nil {
				return nil, err
			}
			return &Result{
				FinalMessage:    formatQuestion(q, st.Cursor+1, len(st.QuestionBatch)),
				PendingQuestion: true,
			}, nil
		}

		if len(st.QuestionBatch) > 0 {
			// batch exhausted: validation gate
			emit("Validating answers")
			result := e.llm.ValidateAnswers(ctx, st.Title, st.QuestionHistory, st.Answers)
			st.Validation = &result

			if result.Sufficient || st.RoundCount >= models.MaxExtraRounds {
				return nil, nil
			}

			st.RoundCount++
			st.QuestionBatch = nil
			st.Cursor = 0
		}

		emit("Generating clarifying questions")
		batch := generate()
		if len(batch) == 0 {
			return nil, nil
		}
		for i := range batch {
			batch[i].ID = fmt.Sprintf("q%d", len(st.QuestionHistory)+i+1)
		}
		st.QuestionBatch = batch
		st.QuestionHistory = append(st.QuestionHistory, batch...)
		st.Cursor = 0
	}
}
