package engine

import (
	"context"

	"repairflow/internal/domain"
	"repairflow/internal/repo"
)

// Record kinds used for activities and notes.
const (
	KindReceipt       = "receipt"
	KindRepair        = "repair_order"
	KindApprovalLine  = "approval_line"
	KindProduct       = "product"
	KindOperationType = "operation_type"
	KindActor         = "actor"
)

// Activity summaries.
const (
	SummaryWaitingCreateRO = "Waiting Create RO"
	SummaryApprovalRequest = "Approval Request Sent"
	SummaryRepairCancelled = "Repair Order Cancelled"
)

func activity(resKind, resID, userID, summary, note, createdBy, now string) domain.Activity {
	return domain.Activity{
		ID:        newID(),
		ResKind:   resKind,
		ResID:     resID,
		UserID:    userID,
		Summary:   summary,
		Note:      note,
		CreatedBy: createdBy,
		CreatedAt: now,
	}
}

// Activities lists to-dos for one user, newest first.
func (e Engine) Activities(ctx context.Context, userID string) ([]domain.Activity, error) {
	return e.Repo.ListActivities(ctx, e.DB, repo.ActivityFilters{UserID: userID})
}

// RecordActivities lists to-dos attached to one record.
func (e Engine) RecordActivities(ctx context.Context, resKind, resID string) ([]domain.Activity, error) {
	return e.Repo.ListActivities(ctx, e.DB, repo.ActivityFilters{ResKind: resKind, ResID: resID})
}

// Notes returns the chatter of one record, oldest first.
func (e Engine) Notes(ctx context.Context, kind, id string) ([]domain.Event, error) {
	return e.Repo.Notes(ctx, e.DB, kind, id)
}

// AuditLog pages the audit log newest first. A zero cursor starts at the top.
func (e Engine) AuditLog(ctx context.Context, limit int, cursor int64, f repo.EventFilter) ([]domain.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return e.Repo.LatestEventsFrom(ctx, limit, cursor, f)
}
