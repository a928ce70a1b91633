package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/workflow-composer/internal/models"
	"github.com/garyjia/workflow-composer/internal/schema"
	"go.uber.org/zap"
)

// runModification executes the modification pipeline against the thread's
// current specification: analyze, clarify if needed, plan, best-effort
// apply, invariant check, commit. The mutated document is persisted even
// when warnings are raised; correction is left to a follow-up request.
func (e *Engine) runModification(ctx context.Context, st *models.SessionState, input string, emit emitFunc) (*Result, error) {
	switch st.Phase {
	case models.PhaseIntake:
		latest, err := e.specs.Latest(ctx, st.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("modification requested but no specification exists: %w", err)
		}
		st.Specification = &latest.Document
		st.Title = latest.Document.Metadata.Name

		emit("Analyzing modification request")
		analysis := e.llm.AnalyzeModification(ctx, st.Specification, st.ModRequest)
		st.ModAnalysis = &analysis

	case models.PhaseAwaitAnswer:
		if !st.RecordAnswer(input) {
			return nil, fmt.Errorf("thread %s is awaiting an answer but has no pending question", st.ThreadID)
		}
	}

	if st.ModAnalysis != nil && st.ModAnalysis.RequiresClarification {
		scope := append([]string{st.ModRequest}, st.ExtraRequirements...)
		suspended, err := e.runClarification(ctx, st, emit, func() []models.Question {
			return e.llm.GenerateQuestions(ctx, st.Title, st.Specification.ApprovalChain, scope, st.QuestionHistory, st.Answers)
		})
		if err != nil {
			return nil, err
		}
		if suspended != nil {
			return suspended, nil
		}
	}

	emit("Planning edits")
	edits := e.llm.PlanModification(ctx, st.Specification, st.ModRequest, st.ModAnalysis, st.Answers)

	emit("Applying edits")
	outcome := schema.ApplyEdits(*st.Specification, edits)

	applied := 0
	for _, r := range outcome.Results {
		if r.Applied {
			applied++
		} else {
			e.logger.Warn("Edit failed",
				zap.String("thread_id", st.ThreadID),
				zap.String("component", r.Edit.Component),
				zap.String("action", r.Edit.Action),
				zap.String("reason", r.Reason))
		}
	}
	for _, w := range outcome.Warnings {
		e.logger.Warn("Consistency warning", zap.String("thread_id", st.ThreadID), zap.String("warning", w))
	}

	emit("Saving specification")
	outcome.Document.Metadata.Version = st.Specification.Metadata.Version + 1
	version, err := e.specs.Append(ctx, st.ThreadID, outcome.Document)
	if err != nil {
		return nil, err
	}
	if version != outcome.Document.Metadata.Version {
		outcome.Document.Metadata.Version = version
	}

	st.Specification = &outcome.Document
	st.Phase = models.PhaseComplete
	if err := e.sessions.Save(ctx, st); err != nil {
		return nil, err
	}

	return &Result{
		FinalMessage:    modificationSummary(&outcome, applied, version),
		DocumentUpdated: true,
		Warnings:        outcome.Warnings,
	}, nil
}

func modificationSummary(outcome *models.ApplyOutcome, applied, version int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Specification updated to version %d.\n", version)
	fmt.Fprintf(&b, "Edits applied: %d/%d\n", applied, len(outcome.Results))

	for _, r := range outcome.Results {
		if r.Applied {
			fmt.Fprintf(&b, "  - applied: %s %s\n", r.Edit.Action, r.Edit.Component)
		} else {
			fmt.Fprintf(&b, "  - failed: %s %s (%s)\n", r.Edit.Action, r.Edit.Component, r.Reason)
		}
	}

	if len(outcome.Warnings) > 0 {
		b.WriteString("Warnings:\n")
		for _, w := range outcome.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
