package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/workflow-composer/internal/models"
	"go.uber.org/zap"
)

const maxQuestionsPerBatch = 5

// Client wraps the Gateway with one typed method per pipeline call site.
// Every method degrades to a named fallback value on a failed round-trip or
// unparsable output, so the state machine's progress stays monotonic: an
// inference failure is never surfaced as a hard error.
type Client struct {
	gateway Gateway
	logger  *zap.Logger
}

// NewClient creates a typed inference client
func NewClient(gateway Gateway, logger *zap.Logger) *Client {
	return &Client{
		gateway: gateway,
		logger:  logger,
	}
}

// GenerateQuestions asks the gateway for a batch of 1-5 clarifying
// questions. The full question history is included so a question already
// asked in this thread is never repeated. Fallback: one fixed question.
func (c *Client) GenerateQuestions(
	ctx context.Context,
	title string,
	chain []models.Approver,
	extras []string,
	history []models.Question,
	answers map[string]string,
) []models.Question {
	prompt := buildQuestionsPrompt(title, chain, extras, history, answers)

	raw, err := c.gateway.Complete(ctx, systemJSONOnly, prompt)
	if err != nil {
		c.logger.Warn("Question generation failed, using fallback", zap.Error(err))
		return fallbackQuestions()
	}

	var parsed struct {
		Questions []models.Question `json:"questions"`
	}
	if err := decodeJSON(raw, &parsed); err != nil || len(parsed.Questions) == 0 {
		c.logger.Warn("Unparsable question batch, using fallback",
			zap.Error(err),
			zap.String("content", truncate(raw, 200)))
		return fallbackQuestions()
	}

	questions := parsed.Questions
	if len(questions) > maxQuestionsPerBatch {
		questions = questions[:maxQuestionsPerBatch]
	}

	c.logger.Info("Generated clarifying questions", zap.Int("count", len(questions)))
	return questions
}

// ValidateAnswers asks the gateway whether the collected answers are
// sufficient to proceed. Fallback: sufficient (fail-open, to guarantee
// forward progress).
func (c *Client) ValidateAnswers(
	ctx context.Context,
	title string,
	questions []models.Question,
	answers map[string]string,
) models.ValidationResult {
	prompt := buildValidationPrompt(title, questions, answers)

	raw, err := c.gateway.Complete(ctx, systemJSONOnly, prompt)
	if err != nil {
		c.logger.Warn("Answer validation failed, defaulting to sufficient", zap.Error(err))
		return models.ValidationResult{Sufficient: true}
	}

	var result models.ValidationResult
	if err := decodeJSON(raw, &result); err != nil {
		c.logger.Warn("Unparsable validation result, defaulting to sufficient",
			zap.Error(err),
			zap.String("content", truncate(raw, 200)))
		return models.ValidationResult{Sufficient: true}
	}

	c.logger.Info("Answer validation complete",
		zap.Bool("sufficient", result.Sufficient),
		zap.Strings("missing", result.Missing))
	return result
}

// EnrichSpecification asks the gateway for a complete structured
// specification built from the accumulated answers. Fallback: a minimal
// three-field specification.
func (c *Client) EnrichSpecification(
	ctx context.Context,
	title string,
	chain []models.Approver,
	extras []string,
	answers map[string]string,
) models.EnrichedSpec {
	prompt := buildEnrichmentPrompt(title, chain, extras, answers)

	raw, err := c.gateway.Complete(ctx, systemJSONOnly, prompt)
	if err != nil {
		c.logger.Warn("Enrichment failed, using minimal specification", zap.Error(err))
		return fallbackSpec(title)
	}

	var spec models.EnrichedSpec
	if err := decodeJSON(raw, &spec); err != nil || len(spec.Fields) == 0 {
		c.logger.Warn("Unparsable enriched specification, using minimal specification",
			zap.Error(err),
			zap.String("content", truncate(raw, 200)))
		return fallbackSpec(title)
	}

	if spec.Name == "" {
		spec.Name = title
	}

	c.logger.Info("Specification enriched",
		zap.String("name", spec.Name),
		zap.Int("fields", len(spec.Fields)))
	return spec
}

// AnalyzeModification asks the gateway what a change request touches. The
// prompt carries a condensed document summary, not the full document, to
// bound prompt size. Fallback: proceed without clarification.
func (c *Client) AnalyzeModification(
	ctx context.Context,
	doc *models.Document,
	request string,
) models.ModificationAnalysis {
	prompt := buildAnalysisPrompt(summarizeDocument(doc), request)

	raw, err := c.gateway.Complete(ctx, systemJSONOnly, prompt)
	if err != nil {
		c.logger.Warn("Modification analysis failed, proceeding without clarification", zap.Error(err))
		return fallbackAnalysis()
	}

	var analysis models.ModificationAnalysis
	if err := decodeJSON(raw, &analysis); err != nil {
		c.logger.Warn("Unparsable modification analysis, proceeding without clarification",
			zap.Error(err),
			zap.String("content", truncate(raw, 200)))
		return fallbackAnalysis()
	}

	c.logger.Info("Modification request analyzed",
		zap.String("type", analysis.ModificationType),
		zap.Bool("requires_clarification", analysis.RequiresClarification))
	return analysis
}

// PlanModification asks the gateway for an ordered list of structural
// edits. Fallback: an empty plan, which applies no edits.
func (c *Client) PlanModification(
	ctx context.Context,
	doc *models.Document,
	request string,
	analysis *models.ModificationAnalysis,
	answers map[string]string,
) []models.PlannedEdit {
	prompt := buildPlanPrompt(summarizeDocument(doc), request, analysis, answers)

	raw, err := c.gateway.Complete(ctx, systemJSONOnly, prompt)
	if err != nil {
		c.logger.Warn("Modification planning failed, applying no edits", zap.Error(err))
		return nil
	}

	var parsed struct {
		Modifications []models.PlannedEdit `json:"modifications"`
	}
	if err := decodeJSON(raw, &parsed); err != nil {
		c.logger.Warn("Unparsable modification plan, applying no edits",
			zap.Error(err),
			zap.String("content", truncate(raw, 200)))
		return nil
	}

	c.logger.Info("Modification plan created", zap.Int("edits", len(parsed.Modifications)))
	return parsed.Modifications
}

// fallbackQuestions is the fixed substitute batch for a failed question
// generation round-trip
func fallbackQuestions() []models.Question {
	return []models.Question{
		{
			ID:       "fallback",
			Text:     "What information should end users provide in the submission form?",
			Category: "form_fields",
			Required: true,
		},
	}
}

// fallbackSpec is the minimal fixed specification for a failed enrichment
func fallbackSpec(title string) models.EnrichedSpec {
	return models.EnrichedSpec{
		Name:        title,
		Description: "Approval workflow for " + title,
		Fields: []models.SpecField{
			{FieldName: "submitter_name", Label: "Your Full Name", Type: "text", Required: true, Purpose: models.PurposeUserData},
			{FieldName: "submitter_email", Label: "Your Email", Type: "email", Required: true, Purpose: models.PurposeUserData},
			{FieldName: "request_details", Label: "Request Details", Type: "textarea", Required: true, Purpose: models.PurposeUserData},
		},
	}
}

func fallbackAnalysis() models.ModificationAnalysis {
	return models.ModificationAnalysis{
		ModificationType:      "other",
		RequiresClarification: false,
		Complexity:            "simple",
		Summary:               "Proceeding with the request as stated.",
	}
}

// summarizeDocument renders counts and names only, keeping mod-pipeline
// prompts bounded regardless of document size
func summarizeDocument(doc *models.Document) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Name: %s (version %d)\n", doc.Metadata.Name, doc.Metadata.Version)

	roles := make([]string, 0, len(doc.ApprovalChain))
	for _, a := range doc.ApprovalChain {
		roles = append(roles, fmt.Sprintf("%d:%s", a.Level, a.Role))
	}
	fmt.Fprintf(&b, "Approval chain (%d levels): %s\n", len(doc.ApprovalChain), strings.Join(roles, ", "))

	fields := make([]string, 0, len(doc.FormSchema))
	for _, f := range doc.FormSchema {
		fields = append(fields, f.FieldName)
	}
	fmt.Fprintf(&b, "Form fields (%d): %s\n", len(doc.FormSchema), strings.Join(fields, ", "))

	fmt.Fprintf(&b, "Tracker columns: %d\n", len(doc.TrackerSchema))
	fmt.Fprintf(&b, "Automation steps: %d\n", len(doc.AutomationSteps))
	fmt.Fprintf(&b, "Notification rules: %d\n", len(doc.Notifications))

	return b.String()
}

// marshalAnswers renders the answer map in stable key order for prompts
func marshalAnswers(answers map[string]string) string {
	if len(answers) == 0 {
		return "None"
	}

	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		key, _ := json.Marshal(k)
		val, _ := json.Marshal(answers[k])
		b.Write(key)
		b.WriteString(": ")
		b.Write(val)
	}
	b.WriteByte('}')

	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
