package schema

import (
	"fmt"

	"github.com/garyjia/workflow-composer/internal/models"
)

// Derivation is purely deterministic: given the same enriched specification
// and approval chain it produces byte-identical schemas. The modification
// pipeline relies on this to re-derive dependent artifacts safely.

var (
	submissionStatusChoices = []string{"Submitted", "Pending", "Approved", "Rejected"}
	approvalStatusChoices   = []string{"Pending", "Approved", "Rejected"}
	finalDecisionChoices    = []string{"Approved", "Rejected"}
)

// DeriveFormSchema expands the enriched field list into the input-form
// schema, appending the two identity/contact fields for every approver
func DeriveFormSchema(spec models.EnrichedSpec, chain []models.Approver) []models.FormField {
	fields := make([]models.FormField, 0, len(spec.Fields)+2*len(chain))

	for i, f := range spec.Fields {
		fieldType := f.Type
		if fieldType == "" {
			fieldType = "text"
		}
		purpose := f.Purpose
		if purpose == "" {
			purpose = models.PurposeUserData
		}
		fields = append(fields, models.FormField{
			ID:        fmt.Sprintf("q%d", i+1),
			FieldName: f.FieldName,
			Type:      fieldType,
			Label:     f.Label,
			Required:  f.Required,
			Purpose:   purpose,
		})
	}

	n := len(fields)
	for _, approver := range chain {
		slug := RoleSlug(approver.Role)
		fields = append(fields,
			models.FormField{
				ID:        fmt.Sprintf("q%d", n+1),
				FieldName: slug + "_name",
				Type:      "text",
				Label:     approver.Role + " Name",
				Required:  true,
				Purpose:   models.PurposeApproverIdentity,
			},
			models.FormField{
				ID:        fmt.Sprintf("q%d", n+2),
				FieldName: slug + "_email",
				Type:      "email",
				Label:     approver.Role + " Email",
				Required:  true,
				Purpose:   models.PurposeApproverContact,
			},
		)
		n += 2
	}

	return fields
}

// DeriveTrackerSchema builds the tracking-table columns: submission
// identity and status first, one column per non-approver form field, four
// columns per approver, and the final-decision pair last
func DeriveTrackerSchema(form []models.FormField, chain []models.Approver) []models.TrackerColumn {
	columns := []models.TrackerColumn{
		{Name: "SubmissionID", Type: "text"},
		{Name: "SubmissionTimestamp", Type: "datetime"},
		{Name: "CurrentStatus", Type: "choice", Choices: submissionStatusChoices},
	}

	for _, field := range form {
		if field.Purpose == models.PurposeApproverIdentity || field.Purpose == models.PurposeApproverContact {
			continue
		}
		columns = append(columns, models.TrackerColumn{Name: field.FieldName, Type: "text"})
	}

	for _, approver := range chain {
		col := RoleColumn(approver.Role)
		columns = append(columns,
			models.TrackerColumn{Name: col + "_Status", Type: "choice", Choices: approvalStatusChoices},
			models.TrackerColumn{Name: col + "_Name", Type: "text"},
			models.TrackerColumn{Name: col + "_Timestamp", Type: "datetime"},
			models.TrackerColumn{Name: col + "_Comment", Type: "text"},
		)
	}

	columns = append(columns,
		models.TrackerColumn{Name: "FinalDecision", Type: "choice", Choices: finalDecisionChoices},
		models.TrackerColumn{Name: "FinalDecisionDate", Type: "datetime"},
	)

	return columns
}

// DeriveAutomationSteps builds the automation sequence: fetch-input,
// create-tracking-record, send-confirmation, then request-approval /
// update-tracking-record / branch-on-rejection per approver, ending with
// send-final-notice. Step numbers are dense ascending from 1.
func DeriveAutomationSteps(chain []models.Approver) []models.AutomationStep {
	steps := []models.AutomationStep{
		{Name: "Fetch Form Response", Kind: models.StepFetchInput, Connector: "Microsoft Forms"},
		{Name: "Create Tracking Record", Kind: models.StepCreateTrackingRecord, Connector: "Excel Online (Business)"},
		{Name: "Send Confirmation Email", Kind: models.StepSendConfirmation, Connector: "Office 365 Outlook"},
	}

	for _, approver := range chain {
		steps = append(steps,
			models.AutomationStep{
				Name:      "Request Approval - " + approver.Role,
				Kind:      models.StepRequestApproval,
				Connector: "Microsoft Teams Approvals",
				Level:     approver.Level,
			},
			models.AutomationStep{
				Name:      "Update Tracking Record - " + approver.Role,
				Kind:      models.StepUpdateTrackingRecord,
				Connector: "Excel Online (Business)",
				Level:     approver.Level,
			},
			models.AutomationStep{
				Name:      "Branch On Rejection - " + approver.Role,
				Kind:      models.StepBranchOnRejection,
				Connector: "Control",
				Level:     approver.Level,
			},
		)
	}

	steps = append(steps, models.AutomationStep{
		Name:      "Send Final Notice",
		Kind:      models.StepSendFinalNotice,
		Connector: "Office 365 Outlook",
	})

	for i := range steps {
		steps[i].StepNumber = i + 1
	}

	return steps
}

// Assemble merges the enriched specification, approval chain and derived
// schemas into one master document at the given version
func Assemble(spec models.EnrichedSpec, chain []models.Approver, version int) models.Document {
	form := DeriveFormSchema(spec, chain)

	return models.Document{
		Metadata: models.Metadata{
			Name:        spec.Name,
			Description: spec.Description,
			Version:     version,
		},
		ApprovalChain:   chain,
		FormSchema:      form,
		TrackerSchema:   DeriveTrackerSchema(form, chain),
		AutomationSteps: DeriveAutomationSteps(chain),
		BusinessRules:   spec.BusinessRules,
		Notifications:   spec.Notifications,
	}
}
