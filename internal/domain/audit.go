package domain

import "time"

type AuditAction string

const (
	AuditApproved       AuditAction = "APPROVED"
	AuditUnapproved     AuditAction = "UNAPPROVED"
	AuditBulkApproved   AuditAction = "BULK_APPROVED"
	AuditBulkUnapproved AuditAction = "BULK_UNAPPROVED"
)

// ApprovalAction picks the audit action for an approval transition.
func ApprovalAction(approved, bulk bool) AuditAction {
	switch {
	case approved && bulk:
		return AuditBulkApproved
	case approved:
		return AuditApproved
	case bulk:
		return AuditBulkUnapproved
	default:
		return AuditUnapproved
	}
}

// ApprovalSnapshot captures the approval-related fields of a review at one
// point in time.
type ApprovalSnapshot struct {
	Approved     *bool      `json:"approved"`
	HostResponse *string    `json:"hostResponse,omitempty"`
	RespondedAt  *time.Time `json:"respondedAt,omitempty"`
}

func SnapshotOf(r Review) ApprovalSnapshot {
	return ApprovalSnapshot{Approved: r.Approved, HostResponse: r.HostResponse, RespondedAt: r.RespondedAt}
}

// AuditEntry is append-only: once written it is never updated or deleted.
type AuditEntry struct {
	ID        string            `json:"id"`
	ReviewID  string            `json:"reviewId"`
	Action    AuditAction       `json:"action"`
	Previous  ApprovalSnapshot  `json:"previous"`
	New       ApprovalSnapshot  `json:"new"`
	ActorID   string            `json:"actorId"`
	CreatedAt time.Time         `json:"createdAt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
