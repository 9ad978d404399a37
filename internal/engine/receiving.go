package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"repairflow/internal/domain"
	"repairflow/internal/events"
	"repairflow/internal/notify"
	"repairflow/internal/repo"
)

type ReceiptMoveInput struct {
	ProductID     string `validate:"required"`
	ProductUOMQty decimal.Decimal
	Quantity      decimal.Decimal
	UOM           string
}

type ReceiptInput struct {
	ID                string
	Name              string
	PartnerID         string `validate:"required"`
	OwnerID           string
	Origin            string
	PickingTypeID     string
	CROperationTypeID string
	IsCRDocument      bool
	LocationID        string
	LocationDestID    string
	CompanyID         string
	Moves             []ReceiptMoveInput `validate:"dive"`
	ActorID           string             `validate:"required"`
}

// ReceiptUpdate carries only the header fields being changed.
type ReceiptUpdate struct {
	ID                string `validate:"required"`
	Name              *string
	PartnerID         *string
	OwnerID           *string
	Origin            *string
	PickingTypeID     *string
	CROperationTypeID *string
	LocationID        *string
	LocationDestID    *string
	CompanyID         *string
	ActorID           string `validate:"required"`
}

func (e Engine) CreateReceipt(ctx context.Context, in ReceiptInput) (domain.Receipt, error) {
	if err := checkInput(in); err != nil {
		return domain.Receipt{}, err
	}
	if in.IsCRDocument && in.CROperationTypeID == "" {
		return domain.Receipt{}, precondition("CR Operation Type is required in Component Receiving!")
	}
	now := e.stamp()
	rc := domain.Receipt{
		ID:                in.ID,
		Name:              strings.TrimSpace(in.Name),
		PartnerID:         in.PartnerID,
		OwnerID:           in.OwnerID,
		Origin:            in.Origin,
		PickingTypeID:     in.PickingTypeID,
		CROperationTypeID: in.CROperationTypeID,
		IsCRDocument:      in.IsCRDocument,
		CRState:           domain.CRStateDraft,
		LocationID:        in.LocationID,
		LocationDestID:    in.LocationDestID,
		CompanyID:         in.CompanyID,
		CreatedBy:         in.ActorID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if rc.ID == "" {
		rc.ID = newID()
	}
	if rc.CROperationTypeID != "" {
		rc.PickingTypeID = rc.CROperationTypeID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rc, err
	}
	defer tx.Rollback()

	if err := e.ensureActor(ctx, tx, in.ActorID); err != nil {
		return rc, err
	}
	if err := e.checkComponentReceiving(ctx, tx, &rc); err != nil {
		return rc, err
	}
	for i, mi := range in.Moves {
		m, err := e.receiptMove(ctx, tx, rc.ID, i+1, mi)
		if err != nil {
			return rc, err
		}
		rc.Moves = append(rc.Moves, m)
	}
	if rc.Name == "" {
		if rc.Name, err = e.receiptName(ctx, tx, rc); err != nil {
			return rc, err
		}
	}
	if err := e.Repo.InsertReceipt(ctx, tx, rc); err != nil {
		return rc, err
	}
	if err := e.events().Append(ctx, tx, events.TypeReceiptCreated, KindReceipt, rc.ID, in.ActorID, events.EventPayload{
		"name": rc.Name, "is_cr_document": rc.IsCRDocument, "moves": len(rc.Moves),
	}); err != nil {
		return rc, err
	}
	if err := tx.Commit(); err != nil {
		return rc, err
	}
	return e.Repo.GetReceipt(ctx, e.DB, rc.ID)
}

// checkComponentReceiving applies the component receiving rules when the
// receipt's CR operation type is flagged: origin is required and the owner
// is the partner.
func (e Engine) checkComponentReceiving(ctx context.Context, q repo.Querier, rc *domain.Receipt) error {
	if rc.CROperationTypeID == "" {
		return nil
	}
	ot, err := e.Repo.GetOperationType(ctx, q, rc.CROperationTypeID)
	if errors.Is(err, repo.ErrNotFound) {
		return precondition("operation type %s not found", rc.CROperationTypeID)
	}
	if err != nil {
		return err
	}
	if !ot.IsComponentReceivingEnabled {
		return nil
	}
	if strings.TrimSpace(rc.Origin) == "" {
		return precondition("Source Document is required in Component Receiving!")
	}
	if rc.OwnerID == "" {
		rc.OwnerID = rc.PartnerID
	}
	if rc.OwnerID != rc.PartnerID {
		return precondition("Assign Owner must match Receive From inside Component Receiving!")
	}
	return nil
}

func (e Engine) receiptMove(ctx context.Context, q repo.Querier, receiptID string, seq int, in ReceiptMoveInput) (domain.ReceiptMove, error) {
	p, err := e.Repo.GetProduct(ctx, q, in.ProductID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ReceiptMove{}, precondition("product %s not found", in.ProductID)
	}
	if err != nil {
		return domain.ReceiptMove{}, err
	}
	if in.ProductUOMQty.IsNegative() || in.Quantity.IsNegative() {
		return domain.ReceiptMove{}, precondition("quantities must not be negative")
	}
	m := domain.ReceiptMove{
		ID:              newID(),
		ReceiptID:       receiptID,
		Seq:             seq,
		ProductID:       p.ID,
		ProductName:     p.Name,
		ProductUOMQty:   in.ProductUOMQty,
		Quantity:        in.Quantity,
		UOM:             in.UOM,
		ServiceCategory: p.ServiceCategory,
	}
	if m.ProductUOMQty.IsZero() {
		m.ProductUOMQty = decimal.NewFromInt(1)
	}
	if m.Quantity.IsZero() {
		m.Quantity = m.ProductUOMQty
	}
	if m.UOM == "" {
		m.UOM = p.UOM
	}
	return m, nil
}

// receiptName draws from the picking type's sequence when it has one.
func (e Engine) receiptName(ctx context.Context, q repo.Querier, rc domain.Receipt) (string, error) {
	if rc.PickingTypeID != "" {
		ot, err := e.Repo.GetOperationType(ctx, q, rc.PickingTypeID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return "", err
		}
		if err == nil && ot.HasSequence() {
			return e.Repo.NextSequenceName(ctx, q, ot.ID)
		}
	}
	short := rc.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return "RCPT/" + strings.ToUpper(short), nil
}

func (e Engine) UpdateReceipt(ctx context.Context, upd ReceiptUpdate) (domain.Receipt, error) {
	if err := checkInput(upd); err != nil {
		return domain.Receipt{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Receipt{}, err
	}
	defer tx.Rollback()

	rc, err := e.Repo.GetReceipt(ctx, tx, upd.ID)
	if err != nil {
		return rc, err
	}
	if rc.IsCRDocument {
		if upd.CROperationTypeID != nil && *upd.CROperationTypeID == "" {
			return rc, precondition("CR Operation Type is required in Component Receiving!")
		}
		if upd.PickingTypeID != nil && *upd.PickingTypeID != rc.PickingTypeID {
			return rc, precondition("You cannot change Operation Type inside Component Receiving.")
		}
		if upd.CROperationTypeID != nil && rc.CROperationTypeID != "" && *upd.CROperationTypeID != rc.CROperationTypeID {
			return rc, precondition("You cannot change Operation Type inside Component Receiving.")
		}
	}
	ownerFollowsPartner := rc.OwnerID == "" || rc.OwnerID == rc.PartnerID
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&rc.Name, upd.Name)
	set(&rc.PartnerID, upd.PartnerID)
	set(&rc.OwnerID, upd.OwnerID)
	set(&rc.Origin, upd.Origin)
	set(&rc.PickingTypeID, upd.PickingTypeID)
	set(&rc.LocationID, upd.LocationID)
	set(&rc.LocationDestID, upd.LocationDestID)
	set(&rc.CompanyID, upd.CompanyID)
	if upd.CROperationTypeID != nil {
		rc.CROperationTypeID = *upd.CROperationTypeID
		if rc.CROperationTypeID != "" {
			rc.PickingTypeID = rc.CROperationTypeID
		}
	}
	if rc.Name == "" || rc.PartnerID == "" {
		return rc, precondition("Name and PartnerID are required")
	}
	if upd.PartnerID != nil && upd.OwnerID == nil && ownerFollowsPartner {
		rc.OwnerID = ""
	}
	if err := e.checkComponentReceiving(ctx, tx, &rc); err != nil {
		return rc, err
	}
	rc.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateReceipt(ctx, tx, rc); err != nil {
		return rc, err
	}
	if err := e.events().Append(ctx, tx, events.TypeReceiptUpdated, KindReceipt, rc.ID, upd.ActorID, nil); err != nil {
		return rc, err
	}
	if err := tx.Commit(); err != nil {
		return rc, err
	}
	return rc, nil
}

// CopyReceipt duplicates a receipt and its moves. The copy always starts in
// draft whatever the source state.
func (e Engine) CopyReceipt(ctx context.Context, id, actorID string) (domain.Receipt, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Receipt{}, err
	}
	defer tx.Rollback()

	if err := e.ensureActor(ctx, tx, actorID); err != nil {
		return domain.Receipt{}, err
	}
	src, err := e.Repo.GetReceipt(ctx, tx, id)
	if err != nil {
		return src, err
	}
	now := e.stamp()
	cp := src
	cp.ID = newID()
	cp.CRState = domain.CRStateDraft
	cp.CopiedFrom = src.ID
	cp.CreatedBy = actorID
	cp.CreatedAt = now
	cp.UpdatedAt = now
	cp.Moves = make([]domain.ReceiptMove, 0, len(src.Moves))
	for _, m := range src.Moves {
		m.ID = newID()
		m.ReceiptID = cp.ID
		cp.Moves = append(cp.Moves, m)
	}
	if cp.Name, err = e.receiptName(ctx, tx, cp); err != nil {
		return cp, err
	}
	if err := e.Repo.InsertReceipt(ctx, tx, cp); err != nil {
		return cp, err
	}
	if err := e.events().Append(ctx, tx, events.TypeReceiptCreated, KindReceipt, cp.ID, actorID, events.EventPayload{
		"name": cp.Name, "copied_from": src.ID,
	}); err != nil {
		return cp, err
	}
	if err := tx.Commit(); err != nil {
		return cp, err
	}
	return cp, nil
}

func (e Engine) GetReceipt(ctx context.Context, id string) (domain.Receipt, error) {
	return e.Repo.GetReceipt(ctx, e.DB, id)
}

func (e Engine) ListReceipts(ctx context.Context, f repo.ReceiptFilters) ([]domain.Receipt, error) {
	return e.Repo.ListReceipts(ctx, e.DB, f)
}

func ensureReceiptTransition(from, to string) error {
	switch from {
	case domain.CRStateDraft:
		if to == domain.CRStateWaitingRO || to == domain.CRStateROCreated {
			return nil
		}
	case domain.CRStateWaitingRO:
		if to == domain.CRStateROCreated || to == domain.CRStateCancel {
			return nil
		}
	}
	return stateGuard("invalid receipt transition %s -> %s", from, to)
}

type DecisionInput struct {
	ReceiptID string `validate:"required"`
	// Received is the answer to "Repair Order received?".
	Received bool
	ActorID  string `validate:"required"`
}

// Decide records whether repair orders were received for a component
// receipt. Yes creates them immediately; no hands the receipt to sales.
func (e Engine) Decide(ctx context.Context, in DecisionInput) (domain.Receipt, error) {
	if err := checkInput(in); err != nil {
		return domain.Receipt{}, err
	}
	var rc domain.Receipt
	var out outbox
	err := e.withLock(ctx, "receipt:"+in.ReceiptID, func() error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := e.ensureActor(ctx, tx, in.ActorID); err != nil {
			return err
		}
		if rc, err = e.componentReceipt(ctx, tx, in.ReceiptID); err != nil {
			return err
		}
		if in.Received {
			if err := e.receiveRepairOrders(ctx, tx, &rc, in.ActorID, "Repair Orders Created Automatically", &out); err != nil {
				return err
			}
		} else {
			if err := e.awaitRepairOrders(ctx, tx, &rc, in.ActorID); err != nil {
				return err
			}
		}
		if err := e.events().Append(ctx, tx, events.TypeReceiptDecided, KindReceipt, rc.ID, in.ActorID, events.EventPayload{
			"received": in.Received, "cr_state": rc.CRState,
		}); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return rc, err
	}
	e.flush(ctx, out)
	return e.Repo.GetReceipt(ctx, e.DB, rc.ID)
}

const (
	FollowUpCreate = "create"
	FollowUpCancel = "cancel"
)

type FollowUpInput struct {
	ReceiptID string `validate:"required"`
	Action    string `validate:"required,oneof=create cancel"`
	ActorID   string `validate:"required"`
}

// FollowUp is the sales team's manual resolution of a receipt: create the
// repair orders or cancel the receipt.
func (e Engine) FollowUp(ctx context.Context, in FollowUpInput) (domain.Receipt, error) {
	if err := checkInput(in); err != nil {
		return domain.Receipt{}, err
	}
	var rc domain.Receipt
	var out outbox
	err := e.withLock(ctx, "receipt:"+in.ReceiptID, func() error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := e.Auth.RequireSales(ctx, tx, in.ActorID, "Only the Sales Team can perform this action."); err != nil {
			return err
		}
		if rc, err = e.componentReceipt(ctx, tx, in.ReceiptID); err != nil {
			return err
		}
		name := e.Repo.ActorName(ctx, tx, in.ActorID)
		switch in.Action {
		case FollowUpCreate:
			note := fmt.Sprintf("Repair Orders Created by Sales Team: user %s created the Repair Orders manually.", name)
			if err := e.receiveRepairOrders(ctx, tx, &rc, in.ActorID, note, &out); err != nil {
				return err
			}
		case FollowUpCancel:
			if err := ensureReceiptTransition(rc.CRState, domain.CRStateCancel); err != nil {
				return err
			}
			if err := e.Repo.SetReceiptState(ctx, tx, rc.ID, domain.CRStateCancel, e.stamp()); err != nil {
				return err
			}
			rc.CRState = domain.CRStateCancel
			note := fmt.Sprintf("Component Receipt Cancelled by user %s.", name)
			if err := e.events().Note(ctx, tx, KindReceipt, rc.ID, in.ActorID, note); err != nil {
				return err
			}
		}
		if err := e.events().Append(ctx, tx, events.TypeReceiptDecided, KindReceipt, rc.ID, in.ActorID, events.EventPayload{
			"follow_up": in.Action, "cr_state": rc.CRState,
		}); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return rc, err
	}
	e.flush(ctx, out)
	return e.Repo.GetReceipt(ctx, e.DB, rc.ID)
}

func (e Engine) componentReceipt(ctx context.Context, q repo.Querier, id string) (domain.Receipt, error) {
	rc, err := e.Repo.GetReceipt(ctx, q, id)
	if err != nil {
		return rc, err
	}
	if !rc.IsCRDocument {
		return rc, precondition("Receipt %s is not a Component Receiving document.", rc.Name)
	}
	return rc, nil
}

// receiveRepairOrders moves the receipt to ro_created, creates its repair
// orders and queues the success notification for the actor.
func (e Engine) receiveRepairOrders(ctx context.Context, q repo.Querier, rc *domain.Receipt, actorID, note string, out *outbox) error {
	if err := ensureReceiptTransition(rc.CRState, domain.CRStateROCreated); err != nil {
		return err
	}
	if len(rc.Moves) == 0 {
		return precondition("Receipt %s has no lines to create Repair Orders from.", rc.Name)
	}
	if _, err := e.createRepairOrders(ctx, q, *rc, actorID); err != nil {
		return err
	}
	if err := e.Repo.SetReceiptState(ctx, q, rc.ID, domain.CRStateROCreated, e.stamp()); err != nil {
		return err
	}
	rc.CRState = domain.CRStateROCreated
	if err := e.events().Note(ctx, q, KindReceipt, rc.ID, actorID, note); err != nil {
		return err
	}
	out.add(actorID, notify.Notification{
		Message: fmt.Sprintf("Repair Orders have been created for picking '%s'.", rc.Name),
		Type:    notify.TypeSuccess,
	})
	return nil
}

// awaitRepairOrders parks the receipt in waiting_ro and asks every sales
// user to create the repair orders.
func (e Engine) awaitRepairOrders(ctx context.Context, q repo.Querier, rc *domain.Receipt, actorID string) error {
	if err := ensureReceiptTransition(rc.CRState, domain.CRStateWaitingRO); err != nil {
		return err
	}
	if err := e.Repo.SetReceiptState(ctx, q, rc.ID, domain.CRStateWaitingRO, e.stamp()); err != nil {
		return err
	}
	rc.CRState = domain.CRStateWaitingRO
	note := fmt.Sprintf("A Component Receipt has been completed and requires your action. Please review the received items and create the required Repair Order. Picking: %s", rc.Name)
	n, err := e.fanOut(ctx, q, KindReceipt, rc.ID, SummaryWaitingCreateRO, note, actorID)
	if err != nil {
		return err
	}
	if n == 0 {
		e.logger().WithField("receipt", rc.Name).Warn("no sales users to assign Waiting Create RO")
	}
	return e.events().Note(ctx, q, KindReceipt, rc.ID, actorID, "Repair Order Not Received Yet: Component Receipt moved to Waiting Create RO. Sales Team is required to create the Repair Order manually.")
}
