// Package export renders a specification document as a Power Automate
// flow definition ready for the management REST API. The export is
// read-only: it never alters the stored document.
package export

import (
	"fmt"
	"strings"

	"github.com/garyjia/workflow-composer/internal/models"
	"github.com/garyjia/workflow-composer/internal/schema"
	"github.com/google/uuid"
)

// Connector ids used by the flow definition
const (
	connectorForms     = "shared_microsoftforms"
	connectorExcel     = "shared_excelonlinebusiness"
	connectorApprovals = "shared_approvals"
	connectorOutlook   = "shared_office365"
)

// Placeholder values the deployer must substitute before creating the flow
const (
	placeholderFormID = "{FORM_ID_PLACEHOLDER}"
	placeholderDrive  = "{DRIVE_ID_PLACEHOLDER}"
	placeholderFile   = "{FILE_ID_PLACEHOLDER}"
)

// FlowDefinition builds the full flow definition payload for a document
func FlowDefinition(doc *models.Document) map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"displayName": doc.Metadata.Name,
			"description": doc.Metadata.Description,
			"state":       "Started",
			"definition": map[string]any{
				"$schema":        "https://schema.management.azure.com/providers/Microsoft.Logic/schemas/2016-06-01/workflowdefinition.json#",
				"contentVersion": "1.0.0.0",
				"parameters": map[string]any{
					"$connections":    map[string]any{"defaultValue": map[string]any{}, "type": "Object"},
					"$authentication": map[string]any{"defaultValue": map[string]any{}, "type": "SecureObject"},
				},
				"triggers": buildTrigger(),
				"actions":  buildActions(doc),
				"outputs":  map[string]any{},
			},
			"connectionReferences": buildConnectionReferences(doc),
			"apiVersion":           "2016-11-01",
		},
	}
}

func buildTrigger() map[string]any {
	return map[string]any{
		"When_a_new_response_is_submitted": map[string]any{
			"type": "OpenApiConnection",
			"inputs": map[string]any{
				"host": map[string]any{
					"apiId":          apiID(connectorForms),
					"connectionName": connectorForms,
					"operationId":    "CreateFormWebhook",
				},
				"parameters":     map[string]any{"form_id": placeholderFormID},
				"authentication": "@parameters('$authentication')",
			},
			"metadata": operationMetadata(),
		},
	}
}

// buildConnectionReferences lists one reference per connector the
// automation steps actually use
func buildConnectionReferences(doc *models.Document) map[string]any {
	used := map[string]bool{connectorForms: true} // the trigger always needs Forms
	for _, step := range doc.AutomationSteps {
		switch {
		case strings.Contains(step.Connector, "Forms"):
			used[connectorForms] = true
		case strings.Contains(step.Connector, "Excel"):
			used[connectorExcel] = true
		case strings.Contains(step.Connector, "Approvals"), strings.Contains(step.Connector, "Teams"):
			used[connectorApprovals] = true
		case strings.Contains(step.Connector, "Outlook"):
			used[connectorOutlook] = true
		}
	}

	refs := make(map[string]any, len(used))
	for id := range used {
		refs[id] = map[string]any{
			"connection": map[string]any{
				"id": fmt.Sprintf("/providers/Microsoft.PowerApps/apis/%s/connections/{CONNECTION_ID_%s}", id, strings.ToUpper(id)),
			},
			"api":                  map[string]any{"id": apiID(id)},
			"connectionProperties": map[string]any{},
		}
	}
	return refs
}

// buildActions walks the automation sequence and emits one Power Automate
// action per step, chained with runAfter on its predecessor
func buildActions(doc *models.Document) map[string]any {
	actions := make(map[string]any)
	previous := ""

	addAction := func(name string, action map[string]any) {
		runAfter := map[string]any{}
		if previous != "" {
			runAfter = map[string]any{previous: []string{"Succeeded"}}
		}
		action["runAfter"] = runAfter
		action["metadata"] = operationMetadata()
		actions[name] = action
		previous = name
	}

	for _, step := range doc.AutomationSteps {
		approver := approverAtLevel(doc.ApprovalChain, step.Level)

		switch step.Kind {
		case models.StepFetchInput:
			addAction("Get_response_details", openAPIAction(connectorForms, "GetResponseById", map[string]any{
				"form_id":     placeholderFormID,
				"response_id": "@triggerBody()?['resourceData']?['responseId']",
			}))

		case models.StepCreateTrackingRecord:
			addAction("Create_tracking_row", openAPIAction(connectorExcel, "PostItem", map[string]any{
				"source": "SharePoint",
				"drive":  placeholderDrive,
				"file":   placeholderFile,
				"table":  schema.RoleColumn(doc.Metadata.Name) + "_Tracker",
				"item": map[string]any{
					"SubmissionID":        "@{guid()}",
					"SubmissionTimestamp": "@utcNow()",
					"CurrentStatus":       "Submitted",
				},
			}))

		case models.StepSendConfirmation:
			addAction("Send_confirmation_email", sendEmailAction(
				doc.Metadata.Name+" - Submission Received",
				"<p>Your request has been submitted successfully.</p>",
				"Normal",
			))

		case models.StepRequestApproval:
			if approver == nil {
				continue
			}
			name := "Request_approval_" + schema.RoleColumn(approver.Role)
			addAction(name, openAPIAction(connectorApprovals, "CreateApproval", map[string]any{
				"approvalType": "Approve/Reject - First to respond",
				"WebhookApprovalCreationInput/title": fmt.Sprintf("Approval Required - Level %d", approver.Level),
				"WebhookApprovalCreationInput/assignedTo": fmt.Sprintf(
					"@{body('Get_response_details')?['%s']?['response']}", schema.RoleSlug(approver.Role)+"_email"),
				"WebhookApprovalCreationInput/details":        "Please review and approve or reject this request.",
				"WebhookApprovalCreationInput/enableComments": true,
			}))

		case models.StepUpdateTrackingRecord:
			if approver == nil {
				continue
			}
			col := schema.RoleColumn(approver.Role)
			addAction("Update_tracking_"+col, openAPIAction(connectorExcel, "PatchItem", map[string]any{
				"source":   "SharePoint",
				"drive":    placeholderDrive,
				"file":     placeholderFile,
				"idColumn": "SubmissionID",
				"item": map[string]any{
					col + "_Status":    fmt.Sprintf("@{body('Request_approval_%s')?['outcome']}", col),
					col + "_Name":      fmt.Sprintf("@{body('Request_approval_%s')?['responder']?['displayName']}", col),
					col + "_Timestamp": "@utcNow()",
					col + "_Comment":   fmt.Sprintf("@{body('Request_approval_%s')?['comments']}", col),
				},
			}))

		case models.StepBranchOnRejection:
			if approver == nil {
				continue
			}
			col := schema.RoleColumn(approver.Role)
			rejectionEmail := "Send_rejection_email_" + col
			addAction("Check_rejection_"+col, map[string]any{
				"type": "If",
				"expression": map[string]any{
					"equals": []any{fmt.Sprintf("@body('Request_approval_%s')?['outcome']", col), "Reject"},
				},
				"actions": map[string]any{
					rejectionEmail: withRunAfter(sendEmailAction(
						"Request Rejected",
						fmt.Sprintf("<p>Your request was rejected by %s.</p>", approver.Role),
						"High",
					), map[string]any{}),
					"Terminate": map[string]any{
						"type":     "Terminate",
						"inputs":   map[string]any{"runStatus": "Cancelled"},
						"runAfter": map[string]any{rejectionEmail: []string{"Succeeded"}},
					},
				},
			})

		case models.StepSendFinalNotice:
			addAction("Send_final_notice", sendEmailAction(
				"Request Approved",
				"<p>Your request has been fully approved.</p>",
				"High",
			))
		}
	}

	return actions
}

func openAPIAction(connector, operation string, params map[string]any) map[string]any {
	return map[string]any{
		"type": "OpenApiConnection",
		"inputs": map[string]any{
			"host": map[string]any{
				"apiId":          apiID(connector),
				"connectionName": connector,
				"operationId":    operation,
			},
			"parameters":     params,
			"authentication": "@parameters('$authentication')",
		},
	}
}

func sendEmailAction(subject, body, importance string) map[string]any {
	return openAPIAction(connectorOutlook, "SendEmailV2", map[string]any{
		"emailMessage/To":         "@body('Get_response_details')?['submitter_email']?['response']",
		"emailMessage/Subject":    subject,
		"emailMessage/Body":       body,
		"emailMessage/Importance": importance,
	})
}

func withRunAfter(action, runAfter map[string]any) map[string]any {
	action["runAfter"] = runAfter
	action["metadata"] = operationMetadata()
	return action
}

func operationMetadata() map[string]any {
	return map[string]any{"operationMetadataId": uuid.NewString()}
}

func apiID(connector string) string {
	return "/providers/Microsoft.PowerApps/apis/" + connector
}

func approverAtLevel(chain []models.Approver, level int) *models.Approver {
	if level == 0 {
		return nil
	}
	for i := range chain {
		if chain[i].Level == level {
			return &chain[i]
		}
	}
	return nil
}
