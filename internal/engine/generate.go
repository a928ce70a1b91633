package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/workflow-composer/internal/models"
	"github.com/garyjia/workflow-composer/internal/schema"
	"go.uber.org/zap"
)

// runGeneration executes the generation pipeline: intake, the clarification
// loop, the validation gate, enrichment, deterministic schema derivation,
// assembly, and persistence of version 1.
func (e *Engine) runGeneration(ctx context.Context, st *models.SessionState, input string, emit emitFunc) (*Result, error) {
	switch st.Phase {
	case models.PhaseIntake:
		emit("Analyzing request")
		intake := schema.ParseIntake(st.RequestText)
		st.Title = intake.Title
		st.ApprovalChain = intake.ApprovalChain
		st.ExtraRequirements = intake.ExtraRequirements

		e.logger.Info("Intake parsed",
			zap.String("thread_id", st.ThreadID),
			zap.String("title", st.Title),
			zap.Int("approvers", len(st.ApprovalChain)))

	case models.PhaseAwaitAnswer:
		if !st.RecordAnswer(input) {
			return nil, fmt.Errorf("thread %s is awaiting an answer but has no pending question", st.ThreadID)
		}
	}

	suspended, err := e.runClarification(ctx, st, emit, func() []models.Question {
		return e.llm.GenerateQuestions(ctx, st.Title, st.ApprovalChain, st.ExtraRequirements, st.QuestionHistory, st.Answers)
	})
	if err != nil {
		return nil, err
	}
	if suspended != nil {
		return suspended, nil
	}

	emit("Enriching specification")
	spec := e.llm.EnrichSpecification(ctx, st.Title, st.ApprovalChain, st.ExtraRequirements, st.Answers)

	emit("Deriving schemas")
	doc := schema.Assemble(spec, st.ApprovalChain, 1)

	emit("Saving specification")
	version, err := e.specs.Append(ctx, st.ThreadID, doc)
	if err != nil {
		return nil, err
	}
	if version != doc.Metadata.Version {
		e.logger.Warn("Assigned version differs from assembled version",
			zap.String("thread_id", st.ThreadID),
			zap.Int("assigned", version),
			zap.Int("assembled", doc.Metadata.Version))
		doc.Metadata.Version = version
	}

	st.Specification = &doc
	st.Phase = models.PhaseComplete
	if err := e.sessions.Save(ctx, st); err != nil {
		return nil, err
	}

	return &Result{
		FinalMessage:    generationSummary(&doc),
		DocumentUpdated: true,
	}, nil
}

func generationSummary(doc *models.Document) string {
	roles := make([]string, 0, len(doc.ApprovalChain))
	for _, a := range doc.ApprovalChain {
		roles = append(roles, a.Role)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Workflow specification generated: %s (version %d)\n\n", doc.Metadata.Name, doc.Metadata.Version)
	fmt.Fprintf(&b, "Approval chain: %s\n", strings.Join(roles, " -> "))
	fmt.Fprintf(&b, "Form fields: %d\n", len(doc.FormSchema))
	fmt.Fprintf(&b, "Tracker columns: %d\n", len(doc.TrackerSchema))
	fmt.Fprintf(&b, "Automation steps: %d\n", len(doc.AutomationSteps))
	b.WriteString("\nSend another message to request changes.")
	return b.String()
}
