package audit

import "time"

// Record is an immutable, append-only audit log entry.
//
// Records are never updated or deleted. TenantID is nil for platform-level
// actions. Details must never carry credentials.
type Record struct {
	ID          string         `json:"id"`
	TenantID    *string        `json:"tenant_id,omitempty"`
	PerformedBy string         `json:"performed_by"`
	Action      Action         `json:"action"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type Action string

const (
	ActionTenantCreated   Action = "tenant_created"
	ActionTenantDiscarded Action = "tenant_discarded"
	ActionTenantUpdated   Action = "tenant_updated"
	ActionUserCreated     Action = "user_created"
	ActionRoleAssigned    Action = "role_assigned"
	ActionRoleRemoved     Action = "role_removed"
	ActionProfileUpdated  Action = "profile_updated"
)
