package models

// Edit component constants
const (
	ComponentApprovalChain   = "approval_chain"
	ComponentFormSchema      = "form_schema"
	ComponentTrackerSchema   = "tracker_schema"
	ComponentAutomationSteps = "automation_steps"
	ComponentNotifications   = "notifications"
)

// Edit action constants
const (
	ActionAdd     = "add"
	ActionRemove  = "remove"
	ActionModify  = "modify"
	ActionReorder = "reorder"
)

// ModificationAnalysis is the gateway's reading of a change request
type ModificationAnalysis struct {
	ModificationType      string   `json:"modification_type"`
	AffectedComponents    []string `json:"affected_components"`
	Complexity            string   `json:"complexity"`
	RequiresClarification bool     `json:"requires_clarification"`
	Summary               string   `json:"summary"`
}

// PlannedEdit is one structural edit the plan stage wants applied
type PlannedEdit struct {
	Component string         `json:"component"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
}

// EditResult records the outcome of applying one planned edit. Application
// is best-effort: a failed edit carries its reason and does not abort the
// remaining edits.
type EditResult struct {
	Edit    PlannedEdit `json:"edit"`
	Applied bool        `json:"applied"`
	Reason  string      `json:"reason,omitempty"`
}

// ApplyOutcome bundles the mutated document with the per-edit results and
// any invariant warnings raised by the post-edit consistency check.
type ApplyOutcome struct {
	Document Document     `json:"document"`
	Results  []EditResult `json:"results"`
	Warnings []string     `json:"warnings"`
}
