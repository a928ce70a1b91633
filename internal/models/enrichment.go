package models

// SpecField is one user-data field requested by the enrichment stage,
// before derivation expands it into the form schema
type SpecField struct {
	FieldName string `json:"field_name"`
	Label     string `json:"label"`
	Type      string `json:"type"`
	Required  bool   `json:"required"`
	Purpose   string `json:"purpose"`
}

// EnrichedSpec is the structured specification synthesized from the
// accumulated answers. It is the sole input (together with the approval
// chain) to the deterministic schema derivation.
type EnrichedSpec struct {
	Name          string             `json:"workflow_name"`
	Description   string             `json:"workflow_description"`
	Fields        []SpecField        `json:"data_to_collect"`
	BusinessRules []string           `json:"business_rules"`
	Notifications []NotificationRule `json:"notifications"`
}
