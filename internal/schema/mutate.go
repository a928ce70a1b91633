package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/garyjia/workflow-composer/internal/models"
)

// ApplyEdits executes the planned edits against a deep copy of the
// document. Application is best-effort: a failing edit is recorded and the
// remaining edits still run. Invariant violations found afterwards are
// returned as warnings, never as errors — the mutated document is always
// returned.
func ApplyEdits(doc models.Document, edits []models.PlannedEdit) models.ApplyOutcome {
	working := CloneDocument(doc)
	results := make([]models.EditResult, 0, len(edits))

	for _, edit := range edits {
		if err := applyEdit(&working, edit); err != nil {
			results = append(results, models.EditResult{Edit: edit, Applied: false, Reason: err.Error()})
			continue
		}
		results = append(results, models.EditResult{Edit: edit, Applied: true})
	}

	return models.ApplyOutcome{
		Document: working,
		Results:  results,
		Warnings: CheckInvariants(&working),
	}
}

// CloneDocument deep-copies a document via its JSON form. Version records
// are immutable, so every mutation starts from a clone.
func CloneDocument(doc models.Document) models.Document {
	data, _ := json.Marshal(doc)
	var clone models.Document
	_ = json.Unmarshal(data, &clone)
	return clone
}

// CheckInvariants re-checks the structural invariants that must hold after
// every mutation. Violations are surfaced as warnings.
func CheckInvariants(doc *models.Document) []string {
	var warnings []string

	for i, approver := range doc.ApprovalChain {
		if approver.Level != i+1 {
			warnings = append(warnings, fmt.Sprintf(
				"approval chain levels are not dense: position %d has level %d", i+1, approver.Level))
			break
		}
	}

	identity, contact := 0, 0
	for _, field := range doc.FormSchema {
		switch field.Purpose {
		case models.PurposeApproverIdentity:
			identity++
		case models.PurposeApproverContact:
			contact++
		}
	}
	if identity != len(doc.ApprovalChain) || contact != len(doc.ApprovalChain) {
		warnings = append(warnings, fmt.Sprintf(
			"approver field pairing broken: %d approvers, %d identity fields, %d contact fields",
			len(doc.ApprovalChain), identity, contact))
	}

	for i, step := range doc.AutomationSteps {
		if step.StepNumber != i+1 {
			warnings = append(warnings, fmt.Sprintf(
				"automation step numbers are not dense: position %d has step_number %d", i+1, step.StepNumber))
			break
		}
	}

	return warnings
}

func applyEdit(doc *models.Document, edit models.PlannedEdit) error {
	switch edit.Component {
	case models.ComponentApprovalChain:
		return mutateApprovalChain(doc, edit)
	case models.ComponentFormSchema:
		return mutateFormSchema(doc, edit)
	case models.ComponentTrackerSchema:
		return mutateTrackerSchema(doc, edit)
	case models.ComponentAutomationSteps:
		return mutateAutomationSteps(doc, edit)
	case models.ComponentNotifications:
		return mutateNotifications(doc, edit)
	default:
		return fmt.Errorf("unknown component %q", edit.Component)
	}
}

func mutateApprovalChain(doc *models.Document, edit models.PlannedEdit) error {
	switch edit.Action {
	case models.ActionAdd:
		role, ok := detailString(edit.Details, "role", "new_approver")
		if !ok {
			return fmt.Errorf("approval_chain add requires a role")
		}

		level, ok := detailInt(edit.Details, "level")
		if !ok || level < 1 || level > len(doc.ApprovalChain)+1 {
			level = len(doc.ApprovalChain) + 1
		}

		approver := models.Approver{
			Level:             level,
			Role:              role,
			RejectionBehavior: models.RejectionEndWorkflow,
			TimeoutHours:      DefaultApproverTimeoutHours,
		}
		doc.ApprovalChain = append(doc.ApprovalChain, models.Approver{})
		copy(doc.ApprovalChain[level:], doc.ApprovalChain[level-1:])
		doc.ApprovalChain[level-1] = approver
		renumberChain(doc.ApprovalChain)

		appendCompanionFields(doc, role)
		return nil

	case models.ActionRemove:
		idx, err := findApprover(doc.ApprovalChain, edit.Details)
		if err != nil {
			return err
		}
		role := doc.ApprovalChain[idx].Role
		doc.ApprovalChain = append(doc.ApprovalChain[:idx], doc.ApprovalChain[idx+1:]...)
		renumberChain(doc.ApprovalChain)

		removeCompanionFields(doc, role)
		return nil

	case models.ActionModify:
		idx, err := findApprover(doc.ApprovalChain, edit.Details)
		if err != nil {
			return err
		}
		approver := &doc.ApprovalChain[idx]
		if behavior, ok := detailString(edit.Details, "rejection_behavior"); ok {
			approver.RejectionBehavior = behavior
		}
		if hours, ok := detailInt(edit.Details, "timeout_hours"); ok && hours > 0 {
			approver.TimeoutHours = hours
		}
		if rule, ok := detailString(edit.Details, "notification_rule"); ok {
			approver.NotificationRules = append(approver.NotificationRules, rule)
		}
		return nil

	case models.ActionReorder:
		from, okFrom := detailInt(edit.Details, "from_level", "level")
		to, okTo := detailInt(edit.Details, "to_level")
		if !okFrom || !okTo {
			return fmt.Errorf("approval_chain reorder requires from_level and to_level")
		}
		n := len(doc.ApprovalChain)
		if from < 1 || from > n || to < 1 || to > n {
			return fmt.Errorf("reorder level out of range (chain has %d levels)", n)
		}
		moved := doc.ApprovalChain[from-1]
		doc.ApprovalChain = append(doc.ApprovalChain[:from-1], doc.ApprovalChain[from:]...)
		doc.ApprovalChain = append(doc.ApprovalChain, models.Approver{})
		copy(doc.ApprovalChain[to:], doc.ApprovalChain[to-1:])
		doc.ApprovalChain[to-1] = moved
		renumberChain(doc.ApprovalChain)
		return nil

	default:
		return fmt.Errorf("unsupported approval_chain action %q", edit.Action)
	}
}

func mutateFormSchema(doc *models.Document, edit models.PlannedEdit) error {
	name, ok := detailString(edit.Details, "field_name", "name")
	if !ok {
		return fmt.Errorf("form_schema edit requires a field_name")
	}

	switch edit.Action {
	case models.ActionAdd:
		for _, field := range doc.FormSchema {
			if field.FieldName == name {
				return fmt.Errorf("form field %q already exists", name)
			}
		}
		fieldType, _ := detailString(edit.Details, "type")
		if fieldType == "" {
			fieldType = "text"
		}
		label, _ := detailString(edit.Details, "label")
		if label == "" {
			label = titleCase(strings.ReplaceAll(name, "_", " "))
		}
		doc.FormSchema = append(doc.FormSchema, models.FormField{
			ID:        fmt.Sprintf("q%d", nextFieldID(doc.FormSchema)),
			FieldName: name,
			Type:      fieldType,
			Label:     label,
			Required:  detailBool(edit.Details, "required"),
			Purpose:   models.PurposeUserData,
		})
		return nil

	case models.ActionRemove:
		kept := doc.FormSchema[:0]
		removed := false
		for _, field := range doc.FormSchema {
			if field.FieldName == name {
				removed = true
				continue
			}
			kept = append(kept, field)
		}
		if !removed {
			return fmt.Errorf("form field %q not found", name)
		}
		doc.FormSchema = kept
		return nil

	case models.ActionModify:
		for i := range doc.FormSchema {
			if doc.FormSchema[i].FieldName != name {
				continue
			}
			if label, ok := detailString(edit.Details, "label"); ok {
				doc.FormSchema[i].Label = label
			}
			if fieldType, ok := detailString(edit.Details, "type"); ok {
				doc.FormSchema[i].Type = fieldType
			}
			if _, ok := edit.Details["required"]; ok {
				doc.FormSchema[i].Required = detailBool(edit.Details, "required")
			}
			return nil
		}
		return fmt.Errorf("form field %q not found", name)

	default:
		return fmt.Errorf("unsupported form_schema action %q", edit.Action)
	}
}

func mutateTrackerSchema(doc *models.Document, edit models.PlannedEdit) error {
	name, ok := detailString(edit.Details, "column_name", "name")
	if !ok {
		return fmt.Errorf("tracker_schema edit requires a column_name")
	}

	switch edit.Action {
	case models.ActionAdd:
		for _, col := range doc.TrackerSchema {
			if col.Name == name {
				return fmt.Errorf("tracker column %q already exists", name)
			}
		}
		colType, _ := detailString(edit.Details, "type")
		if colType == "" {
			colType = "text"
		}
		doc.TrackerSchema = append(doc.TrackerSchema, models.TrackerColumn{Name: name, Type: colType})
		return nil

	case models.ActionRemove:
		kept := doc.TrackerSchema[:0]
		removed := false
		for _, col := range doc.TrackerSchema {
			if col.Name == name {
				removed = true
				continue
			}
			kept = append(kept, col)
		}
		if !removed {
			return fmt.Errorf("tracker column %q not found", name)
		}
		doc.TrackerSchema = kept
		return nil

	default:
		return fmt.Errorf("unsupported tracker_schema action %q", edit.Action)
	}
}

func mutateAutomationSteps(doc *models.Document, edit models.PlannedEdit) error {
	switch edit.Action {
	case models.ActionAdd:
		name, ok := detailString(edit.Details, "name")
		if !ok {
			return fmt.Errorf("automation_steps add requires a name")
		}
		position, ok := detailInt(edit.Details, "position", "step_number")
		if !ok || position < 1 || position > len(doc.AutomationSteps)+1 {
			position = len(doc.AutomationSteps) + 1
		}
		kind, _ := detailString(edit.Details, "kind")
		connector, _ := detailString(edit.Details, "connector")

		step := models.AutomationStep{Name: name, Kind: kind, Connector: connector}
		doc.AutomationSteps = append(doc.AutomationSteps, models.AutomationStep{})
		copy(doc.AutomationSteps[position:], doc.AutomationSteps[position-1:])
		doc.AutomationSteps[position-1] = step
		renumberSteps(doc.AutomationSteps)
		return nil

	case models.ActionRemove:
		position, ok := detailInt(edit.Details, "position", "step_number")
		if !ok || position < 1 || position > len(doc.AutomationSteps) {
			return fmt.Errorf("automation_steps remove requires a valid position (sequence has %d steps)",
				len(doc.AutomationSteps))
		}
		doc.AutomationSteps = append(doc.AutomationSteps[:position-1], doc.AutomationSteps[position:]...)
		renumberSteps(doc.AutomationSteps)
		return nil

	default:
		return fmt.Errorf("unsupported automation_steps action %q", edit.Action)
	}
}

func mutateNotifications(doc *models.Document, edit models.PlannedEdit) error {
	if edit.Action != models.ActionAdd {
		return fmt.Errorf("unsupported notifications action %q", edit.Action)
	}

	trigger, ok := detailString(edit.Details, "trigger")
	if !ok {
		return fmt.Errorf("notifications add requires a trigger")
	}
	template, _ := detailString(edit.Details, "template")
	if template == "" {
		template = "notification"
	}

	doc.Notifications = append(doc.Notifications, models.NotificationRule{
		Trigger:    trigger,
		Recipients: detailStrings(edit.Details, "recipients"),
		Template:   template,
	})
	return nil
}

// appendCompanionFields synthesizes the identity/contact form field pair
// for a newly added approver
func appendCompanionFields(doc *models.Document, role string) {
	slug := RoleSlug(role)
	n := nextFieldID(doc.FormSchema)
	doc.FormSchema = append(doc.FormSchema,
		models.FormField{
			ID:        fmt.Sprintf("q%d", n),
			FieldName: slug + "_name",
			Type:      "text",
			Label:     role + " Name",
			Required:  true,
			Purpose:   models.PurposeApproverIdentity,
		},
		models.FormField{
			ID:        fmt.Sprintf("q%d", n+1),
			FieldName: slug + "_email",
			Type:      "email",
			Label:     role + " Email",
			Required:  true,
			Purpose:   models.PurposeApproverContact,
		},
	)
}

// nextFieldID returns one past the highest numeric suffix among existing
// field ids, so ids stay unique even after removals leave gaps
func nextFieldID(fields []models.FormField) int {
	highest := 0
	for _, field := range fields {
		var n int
		if _, err := fmt.Sscanf(field.ID, "q%d", &n); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1
}

// removeCompanionFields drops every form field belonging to a removed
// approver role
func removeCompanionFields(doc *models.Document, role string) {
	prefix := RoleSlug(role) + "_"
	kept := doc.FormSchema[:0]
	for _, field := range doc.FormSchema {
		approverField := field.Purpose == models.PurposeApproverIdentity ||
			field.Purpose == models.PurposeApproverContact
		if approverField && strings.HasPrefix(field.FieldName, prefix) {
			continue
		}
		kept = append(kept, field)
	}
	doc.FormSchema = kept
}

// findApprover locates an approver by level or by role name
func findApprover(chain []models.Approver, details map[string]any) (int, error) {
	if level, ok := detailInt(details, "level"); ok {
		for i, approver := range chain {
			if approver.Level == level {
				return i, nil
			}
		}
		return 0, fmt.Errorf("no approver at level %d (chain has %d levels)", level, len(chain))
	}

	if role, ok := detailString(details, "role"); ok {
		for i, approver := range chain {
			if strings.EqualFold(approver.Role, role) {
				return i, nil
			}
		}
		return 0, fmt.Errorf("no approver with role %q", role)
	}

	return 0, fmt.Errorf("approval_chain edit requires a level or role")
}

func renumberChain(chain []models.Approver) {
	for i := range chain {
		chain[i].Level = i + 1
	}
}

func renumberSteps(steps []models.AutomationStep) {
	for i := range steps {
		steps[i].StepNumber = i + 1
	}
}

// detailString reads the first present string detail among keys
func detailString(details map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := details[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// detailInt reads the first present numeric detail among keys; JSON
// numbers arrive as float64
func detailInt(details map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		switch v := details[key].(type) {
		case float64:
			return int(v), true
		case int:
			return v, true
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return int(n), true
			}
		}
	}
	return 0, false
}

func detailBool(details map[string]any, key string) bool {
	b, _ := details[key].(bool)
	return b
}

func detailStrings(details map[string]any, key string) []string {
	raw, ok := details[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
