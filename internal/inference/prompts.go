package inference

import (
	"fmt"
	"strings"

	"github.com/garyjia/workflow-composer/internal/models"
)

const systemJSONOnly = "You are a workflow design assistant. Always respond with valid JSON only, optionally wrapped in ```json and ``` markers."

func buildQuestionsPrompt(
	title string,
	chain []models.Approver,
	extras []string,
	history []models.Question,
	answers map[string]string,
) string {
	roles := make([]string, 0, len(chain))
	for _, a := range chain {
		roles = append(roles, a.Role)
	}

	asked := make([]string, 0, len(history))
	for _, q := range history {
		asked = append(asked, "- "+q.Text)
	}
	askedBlock := "None"
	if len(asked) > 0 {
		askedBlock = strings.Join(asked, "\n")
	}

	return fmt.Sprintf(`You are helping design an automated approval workflow.

WORKFLOW INFORMATION:
- Title: %s
- Approval Chain: %s
- Additional Requirements: %s

QUESTIONS ALREADY ASKED (never repeat any of these):
%s

ANSWERS COLLECTED SO FAR:
%s

Generate 1-5 NEW clarifying questions needed to fully understand this
workflow. Focus on form fields, validation rules, edge cases, document
requirements, and notifications.

Return ONLY valid JSON in this format:
{
  "questions": [
    {"id": "q1", "text": "What information should submitters provide?", "category": "form_fields", "required": true}
  ]
}`,
		title,
		strings.Join(roles, " -> "),
		strings.Join(extras, "; "),
		askedBlock,
		marshalAnswers(answers),
	)
}

func buildValidationPrompt(title string, questions []models.Question, answers map[string]string) string {
	var asked strings.Builder
	for _, q := range questions {
		fmt.Fprintf(&asked, "- [%s] %s (required=%v)\n", q.ID, q.Text, q.Required)
	}

	return fmt.Sprintf(`You are validating user responses for workflow design.

WORKFLOW: %s

QUESTIONS ASKED:
%s
USER ANSWERS:
%s

Judge whether the answers are sufficient to proceed with generating the
workflow specification. Check that required questions are answered, that
answers are specific enough, and that nothing critical is missing.

Return ONLY valid JSON:
{
  "sufficient": true,
  "missing": ["list of missing information"]
}`,
		title,
		asked.String(),
		marshalAnswers(answers),
	)
}

func buildEnrichmentPrompt(title string, chain []models.Approver, extras []string, answers map[string]string) string {
	roles := make([]string, 0, len(chain))
	for _, a := range chain {
		roles = append(roles, fmt.Sprintf("level %d: %s", a.Level, a.Role))
	}

	return fmt.Sprintf(`You are a workflow architect. Based on the user's answers, create a
complete workflow specification.

WORKFLOW TITLE: %s
APPROVAL CHAIN: %s
ADDITIONAL REQUIREMENTS: %s
USER ANSWERS:
%s

Return ONLY valid JSON in this format:
{
  "workflow_name": "Workflow Title",
  "workflow_description": "Detailed description",
  "data_to_collect": [
    {"field_name": "submitter_name", "label": "Your Full Name", "type": "text", "required": true, "purpose": "user_data"}
  ],
  "business_rules": ["list of rules"],
  "notifications": [
    {"trigger": "form_submitted", "recipients": ["submitter"], "template": "confirmation"}
  ]
}

Include every form field the user's answers call for.`,
		title,
		strings.Join(roles, ", "),
		strings.Join(extras, "; "),
		marshalAnswers(answers),
	)
}

func buildAnalysisPrompt(summary, request string) string {
	return fmt.Sprintf(`You are a workflow modification expert. Analyze what needs to change in
this workflow specification.

CURRENT SPECIFICATION (summary):
%s
USER'S MODIFICATION REQUEST:
"%s"

Return ONLY valid JSON:
{
  "modification_type": "add_approver|remove_approver|change_sequence|add_field|modify_notification|other",
  "affected_components": ["approval_chain", "form_schema", "tracker_schema", "automation_steps", "notifications"],
  "complexity": "simple|moderate|complex",
  "requires_clarification": false,
  "summary": "Brief summary of what will change"
}`,
		summary,
		request,
	)
}

func buildPlanPrompt(summary, request string, analysis *models.ModificationAnalysis, answers map[string]string) string {
	analysisSummary := ""
	if analysis != nil {
		analysisSummary = analysis.Summary
	}

	return fmt.Sprintf(`You are creating a structural edit plan for a workflow specification.

CURRENT SPECIFICATION (summary):
%s
MODIFICATION REQUEST: %s
ANALYSIS: %s
USER CLARIFICATIONS:
%s

Create an ordered list of edits. Each edit targets one component with one
action. For approval_chain edits, put "role" and "level" in details. For
form_schema and tracker_schema edits, put "field_name" or "column_name",
"type" and "label" in details. For automation_steps edits, put "position",
"name", "kind" and "connector" in details. For notifications, put
"trigger", "recipients" and "template" in details.

Return ONLY valid JSON:
{
  "modifications": [
    {"component": "approval_chain", "action": "add", "details": {"role": "Dean", "level": 3}}
  ]
}`,
		summary,
		request,
		analysisSummary,
		marshalAnswers(answers),
	)
}
