package schema

import (
	"strings"

	"github.com/garyjia/workflow-composer/internal/models"
)

// DefaultApproverTimeoutHours is the timeout assigned to every approver at
// intake; a modification request can change it per level afterwards.
const DefaultApproverTimeoutHours = 48

// Intake is the deterministic pre-inference reading of the free-text
// request: first line is the workflow title, second line is the approval
// chain ("Manager to Director"), any further lines are extra requirements.
type Intake struct {
	Title             string
	ApprovalChain     []models.Approver
	ExtraRequirements []string
}

// ParseIntake parses the structured delimiters of the intake text. No
// inference is involved, so the approval chain is available before the
// first gateway call.
func ParseIntake(text string) Intake {
	lines := strings.Split(strings.TrimSpace(text), "\n")

	title := "Approval Workflow"
	if len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
		title = strings.TrimSpace(lines[0])
	}

	var roles []string
	if len(lines) > 1 {
		chainLine := strings.ToLower(strings.TrimSpace(lines[1]))
		chainLine = strings.ReplaceAll(chainLine, " to ", "|")
		for _, part := range strings.Split(chainLine, "|") {
			part = strings.TrimSpace(part)
			// the requester is not an approver
			if part == "" || part == "student" {
				continue
			}
			roles = append(roles, titleCase(part))
		}
	}

	var extras []string
	for _, line := range lines[min(2, len(lines)):] {
		if s := strings.TrimSpace(line); s != "" {
			extras = append(extras, s)
		}
	}

	chain := make([]models.Approver, 0, len(roles))
	for i, role := range roles {
		approver := models.Approver{
			Level:             i + 1,
			Role:              role,
			RejectionBehavior: models.RejectionEndWorkflow,
			TimeoutHours:      DefaultApproverTimeoutHours,
		}
		applyExtraRequirements(&approver, extras, roles)
		chain = append(chain, approver)
	}

	return Intake{
		Title:             title,
		ApprovalChain:     chain,
		ExtraRequirements: extras,
	}
}

// applyExtraRequirements scans the extra requirement lines for rejection
// notification rules ("notify the director if rejected") and records them
// on the approver
func applyExtraRequirements(approver *models.Approver, extras []string, roles []string) {
	for _, req := range extras {
		lower := strings.ToLower(req)
		if !strings.Contains(lower, "reject") {
			continue
		}
		for _, role := range roles {
			if strings.Contains(lower, strings.ToLower(role)) {
				approver.NotificationRules = append(approver.NotificationRules,
					"notify "+strings.ToLower(role)+" on rejection")
				approver.RejectionBehavior = models.RejectionNotifyEscalate
			}
		}
	}
}

// titleCase capitalizes the first letter of each space-separated word
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// RoleSlug converts an approver role to its form-field name prefix
// ("Department Head" -> "department_head")
func RoleSlug(role string) string {
	return strings.ToLower(strings.ReplaceAll(role, " ", "_"))
}

// RoleColumn converts an approver role to its tracker column prefix
// ("Department Head" -> "Department_Head")
func RoleColumn(role string) string {
	return strings.ReplaceAll(role, " ", "_")
}
