package plan

import "time"

// Resolution is the lifecycle state of a Q-Gate finding.
type Resolution string

const (
	ResolutionPending Resolution = "/pending"
	ResolutionTaken   Resolution = "/taken_into_account"
)

// GateFinding is one Q-Gate checklist violation. Findings are never deleted;
// the owning phase flips Resolution when it re-enters and addresses them.
type GateFinding struct {
	ID               string     `json:"id"`
	Phase            Phase      `json:"phase"`
	Source           string     `json:"source"` // Check that produced it
	Type             string     `json:"type"`   // /orphan_item, /missing_task, /cycle, ...
	Title            string     `json:"title"`
	Detail           string     `json:"detail,omitempty"`
	Resolution       Resolution `json:"resolution"`
	ResolutionDetail string     `json:"resolution_detail,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ResolvedAt       time.Time  `json:"resolved_at,omitzero"`
}
