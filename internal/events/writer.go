package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"repairflow/internal/repo"
)

// Event types written by the engine.
const (
	TypeNote               = "note"
	TypeReceiptCreated     = "receipt.created"
	TypeReceiptUpdated     = "receipt.updated"
	TypeReceiptDecided     = "receipt.decided"
	TypeRepairCreated      = "repair.created"
	TypeRepairConfirmed    = "repair.confirmed"
	TypeRepairCancelled    = "repair.cancelled"
	TypePartAdded          = "repair.part_added"
	TypeApprovalCreated    = "approval.created"
	TypeApprovalUpdated    = "approval.updated"
	TypeApprovalState      = "approval.state_changed"
	TypeProductSaved       = "product.saved"
	TypeSparePartsChanged  = "product.spare_parts_changed"
	TypeOperationTypeSaved = "operation_type.saved"
	TypeRoleGranted        = "rbac.role_granted"
	TypeRoleRevoked        = "rbac.role_revoked"
	TypeAPIKeyCreated      = "rbac.api_key_created"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records one event inside q's transaction.
func (w Writer) Append(ctx context.Context, q repo.Querier, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	return w.write(ctx, q, evtType, entityKind, entityID, actorID, "", payload)
}

// Note posts a human readable message to a record's chatter.
func (w Writer) Note(ctx context.Context, q repo.Querier, entityKind, entityID, actorID, body string) error {
	return w.write(ctx, q, TypeNote, entityKind, entityID, actorID, body, nil)
}

func (w Writer) write(ctx context.Context, q repo.Querier, evtType, entityKind, entityID, actorID, body string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,body,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, nullable(body), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
