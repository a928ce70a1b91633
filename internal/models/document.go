package models

import "time"

// Rejection behavior constants. Only end_workflow has derived branch
// semantics; the others are carried as data and round-tripped.
const (
	RejectionEndWorkflow    = "end_workflow"
	RejectionNotifyEscalate = "notify_escalate"
	RejectionCustom         = "custom"
)

// Form field purpose constants
const (
	PurposeUserData         = "user_data"
	PurposeApproverIdentity = "approver_identity"
	PurposeApproverContact  = "approver_contact"
)

// Automation step kind constants
const (
	StepFetchInput           = "fetch_input"
	StepCreateTrackingRecord = "create_tracking_record"
	StepSendConfirmation     = "send_confirmation"
	StepRequestApproval      = "request_approval"
	StepUpdateTrackingRecord = "update_tracking_record"
	StepBranchOnRejection    = "branch_on_rejection"
	StepSendFinalNotice      = "send_final_notice"
)

// Approver is one level of the approval chain. Levels are kept dense and
// ascending from 1 after every mutation.
type Approver struct {
	Level             int      `json:"level"`
	Role              string   `json:"role"`
	RejectionBehavior string   `json:"rejection_behavior"`
	NotificationRules []string `json:"notification_rules"`
	TimeoutHours      int      `json:"timeout_hours"`
}

// FormField is one entry of the derived input-form schema
type FormField struct {
	ID        string `json:"id"`
	FieldName string `json:"field_name"` // unique within a document
	Type      string `json:"type"`
	Label     string `json:"label"`
	Required  bool   `json:"required"`
	Purpose   string `json:"purpose"`
}

// TrackerColumn is one column of the derived tracking-table schema
type TrackerColumn struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Choices []string `json:"choices,omitempty"`
}

// AutomationStep is one step of the derived automation sequence.
// StepNumber is kept dense and ascending from 1 after every mutation.
type AutomationStep struct {
	StepNumber int    `json:"step_number"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Connector  string `json:"connector"`
	Level      int    `json:"level,omitempty"` // approver level for per-approver steps
}

// NotificationRule describes an outbound notification trigger
type NotificationRule struct {
	Trigger    string   `json:"trigger"`
	Recipients []string `json:"recipients"`
	Template   string   `json:"template"`
}

// Metadata identifies a specification document. Version strictly
// increases with every successful modification.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     int    `json:"version"`
}

// Document is the assembled master specification for a thread: the
// approval chain plus the three derived artifacts. A document stored in a
// version record is immutable; mutations operate on a deep copy.
type Document struct {
	Metadata        Metadata           `json:"metadata"`
	ApprovalChain   []Approver         `json:"approval_chain"`
	FormSchema      []FormField        `json:"form_schema"`
	TrackerSchema   []TrackerColumn    `json:"tracker_schema"`
	AutomationSteps []AutomationStep   `json:"automation_steps"`
	BusinessRules   []string           `json:"business_rules,omitempty"`
	Notifications   []NotificationRule `json:"notifications,omitempty"`
}

// VersionRecord is one immutable, numbered snapshot of a document
type VersionRecord struct {
	ThreadID  string    `json:"thread_id"`
	Version   int       `json:"version"`
	Document  Document  `json:"document"`
	Timestamp time.Time `json:"timestamp"`
}
