package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"repairflow/internal/domain"
	"repairflow/internal/events"
	"repairflow/internal/repo"
)

type ApprovalLineInput struct {
	RepairID       string `validate:"required"`
	RepairLineType string `validate:"required,oneof=add remove other"`
	ProductID      string `validate:"required"`
	ProductUOMQty  decimal.Decimal
	Quantity       decimal.Decimal
	UOM            string
	ActorID        string `validate:"required"`
}

// ApprovalLineUpdate carries only the fields being changed.
type ApprovalLineUpdate struct {
	ID             string  `validate:"required"`
	RepairLineType *string `validate:"omitempty,oneof=add remove other"`
	ProductID      *string
	ProductUOMQty  *decimal.Decimal
	Quantity       *decimal.Decimal
	UOM            *string
	ActorID        string `validate:"required"`
}

// CreateApprovalLine proposes a parts change on a repair order. Demand
// defaults to 1 and the unit to the product's.
func (e Engine) CreateApprovalLine(ctx context.Context, in ApprovalLineInput) (domain.ApprovalLine, error) {
	if err := checkInput(in); err != nil {
		return domain.ApprovalLine{}, err
	}
	if in.ProductUOMQty.IsNegative() || in.Quantity.IsNegative() {
		return domain.ApprovalLine{}, precondition("quantities must not be negative")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApprovalLine{}, err
	}
	defer tx.Rollback()

	if err := e.ensureActor(ctx, tx, in.ActorID); err != nil {
		return domain.ApprovalLine{}, err
	}
	ro, err := e.Repo.GetRepairHeader(ctx, tx, in.RepairID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ApprovalLine{}, precondition("repair order %s not found", in.RepairID)
	}
	if err != nil {
		return domain.ApprovalLine{}, err
	}
	if ro.State == domain.RepairCancel {
		return domain.ApprovalLine{}, stateGuard("Repair Order %s is cancelled.", ro.Name)
	}
	p, err := e.Repo.GetProduct(ctx, tx, in.ProductID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ApprovalLine{}, precondition("product %s not found", in.ProductID)
	}
	if err != nil {
		return domain.ApprovalLine{}, err
	}
	now := e.stamp()
	l := domain.ApprovalLine{
		ID:             newID(),
		RepairID:       ro.ID,
		RepairLineType: in.RepairLineType,
		ProductID:      p.ID,
		ProductUOMQty:  in.ProductUOMQty,
		Quantity:       in.Quantity,
		UOM:            in.UOM,
		ApproveState:   domain.ApproveDraft,
		CreatedBy:      in.ActorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if l.ProductUOMQty.IsZero() {
		l.ProductUOMQty = decimal.NewFromInt(1)
	}
	if l.UOM == "" {
		l.UOM = p.UOM
	}
	if err := e.Repo.InsertApprovalLine(ctx, tx, l); err != nil {
		return l, err
	}
	if err := e.events().Append(ctx, tx, events.TypeApprovalCreated, KindApprovalLine, l.ID, in.ActorID, events.EventPayload{
		"repair_id": ro.ID, "product_id": p.ID, "type": l.RepairLineType,
	}); err != nil {
		return l, err
	}
	if err := tx.Commit(); err != nil {
		return l, err
	}
	return l, nil
}

// lockedLineError explains why a non-draft line cannot be edited.
func lockedLineError(state string) error {
	switch state {
	case domain.ApproveWaiting:
		return stateGuard("Editing Not Allowed: this approval line is currently under review. You cannot modify it while it is in the approval process. If you need changes, delete this line and create a new one.")
	case domain.ApproveApproved:
		return stateGuard("Already Approved: this approval line has already been approved and added to the repair parts. Its data is locked and cannot be modified.")
	case domain.ApproveRejected:
		return stateGuard("Line Rejected: this line was rejected. Rejected records cannot be edited.")
	}
	return stateGuard("approval line in state %s cannot be edited", state)
}

// UpdateApprovalLine edits a draft line. Any other state is locked.
func (e Engine) UpdateApprovalLine(ctx context.Context, upd ApprovalLineUpdate) (domain.ApprovalLine, error) {
	if err := checkInput(upd); err != nil {
		return domain.ApprovalLine{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApprovalLine{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetApprovalLine(ctx, tx, upd.ID)
	if err != nil {
		return l, err
	}
	if l.ApproveState != domain.ApproveDraft {
		return l, lockedLineError(l.ApproveState)
	}
	if upd.RepairLineType != nil {
		l.RepairLineType = *upd.RepairLineType
	}
	if upd.ProductID != nil && *upd.ProductID != l.ProductID {
		p, err := e.Repo.GetProduct(ctx, tx, *upd.ProductID)
		if errors.Is(err, repo.ErrNotFound) {
			return l, precondition("product %s not found", *upd.ProductID)
		}
		if err != nil {
			return l, err
		}
		l.ProductID = p.ID
		if upd.UOM == nil {
			l.UOM = p.UOM
		}
	}
	if upd.ProductUOMQty != nil {
		l.ProductUOMQty = *upd.ProductUOMQty
	}
	if upd.Quantity != nil {
		l.Quantity = *upd.Quantity
	}
	if upd.UOM != nil {
		if *upd.UOM == "" {
			return l, precondition("UOM is required")
		}
		l.UOM = *upd.UOM
	}
	if l.ProductUOMQty.IsNegative() || l.Quantity.IsNegative() {
		return l, precondition("quantities must not be negative")
	}
	l.UpdatedAt = e.stamp()
	ok, err := e.Repo.UpdateApprovalLineFields(ctx, tx, l)
	if err != nil {
		return l, err
	}
	if !ok {
		current, err := e.Repo.GetApprovalLine(ctx, tx, l.ID)
		if err != nil {
			return l, err
		}
		return current, lockedLineError(current.ApproveState)
	}
	if err := e.events().Append(ctx, tx, events.TypeApprovalUpdated, KindApprovalLine, l.ID, upd.ActorID, nil); err != nil {
		return l, err
	}
	if err := tx.Commit(); err != nil {
		return l, err
	}
	return l, nil
}

// SendApprovalRequest puts a draft line under review and asks every sales
// user to look at it. Sending a line already under review only repeats the
// request.
func (e Engine) SendApprovalRequest(ctx context.Context, lineID, actorID string) (domain.ApprovalLine, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApprovalLine{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetApprovalLine(ctx, tx, lineID)
	if err != nil {
		return l, err
	}
	switch l.ApproveState {
	case domain.ApproveDraft:
		ok, err := e.Repo.SetApprovalState(ctx, tx, l.ID, domain.ApproveDraft, domain.ApproveWaiting, e.stamp())
		if err != nil {
			return l, err
		}
		if !ok {
			return l, stateGuard("approval line %s changed concurrently", l.ID)
		}
		l.ApproveState = domain.ApproveWaiting
		if err := e.events().Append(ctx, tx, events.TypeApprovalState, KindApprovalLine, l.ID, actorID, events.EventPayload{
			"from": domain.ApproveDraft, "to": domain.ApproveWaiting,
		}); err != nil {
			return l, err
		}
	case domain.ApproveWaiting:
	default:
		return l, stateGuard("invalid approval transition %s -> %s", l.ApproveState, domain.ApproveWaiting)
	}
	productName := l.ProductID
	if p, err := e.Repo.GetProduct(ctx, tx, l.ProductID); err == nil {
		productName = p.Name
	}
	if _, err := e.fanOut(ctx, tx, KindRepair, l.RepairID, SummaryApprovalRequest, fmt.Sprintf("Approval needed for: %s", productName), actorID); err != nil {
		return l, err
	}
	if err := tx.Commit(); err != nil {
		return l, err
	}
	return l, nil
}

const (
	ConfirmApprove = "approve"
	ConfirmReject  = "reject"
)

type ConfirmInput struct {
	LineID  string `validate:"required"`
	Action  string `validate:"required,oneof=approve reject"`
	ActorID string `validate:"required"`
}

// ConfirmApprovalLine resolves a line under review. Approval writes exactly
// one part move on the repair order.
func (e Engine) ConfirmApprovalLine(ctx context.Context, in ConfirmInput) (domain.ApprovalLine, *domain.PartMove, error) {
	if err := checkInput(in); err != nil {
		return domain.ApprovalLine{}, nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApprovalLine{}, nil, err
	}
	defer tx.Rollback()

	if err := e.Auth.RequireSales(ctx, tx, in.ActorID, "Only the Sales Team can approve or reject approval lines."); err != nil {
		return domain.ApprovalLine{}, nil, err
	}
	l, err := e.Repo.GetApprovalLine(ctx, tx, in.LineID)
	if err != nil {
		return l, nil, err
	}
	to := domain.ApproveApproved
	if in.Action == ConfirmReject {
		to = domain.ApproveRejected
	}
	if l.ApproveState != domain.ApproveWaiting {
		return l, nil, stateGuard("invalid approval transition %s -> %s", l.ApproveState, to)
	}
	ok, err := e.Repo.SetApprovalState(ctx, tx, l.ID, domain.ApproveWaiting, to, e.stamp())
	if err != nil {
		return l, nil, err
	}
	if !ok {
		return l, nil, stateGuard("approval line %s changed concurrently", l.ID)
	}
	l.ApproveState = to
	var pm *domain.PartMove
	if to == domain.ApproveApproved {
		ro, err := e.Repo.GetRepairHeader(ctx, tx, l.RepairID)
		if err != nil {
			return l, nil, err
		}
		m, err := e.addPartInternal(ctx, tx, ro, PartInput{
			RepairID:       ro.ID,
			RepairLineType: l.RepairLineType,
			ProductID:      l.ProductID,
			ProductUOMQty:  l.ProductUOMQty,
			Quantity:       l.Quantity,
			UOM:            l.UOM,
			ApprovalLineID: l.ID,
			ActorID:        in.ActorID,
		}, repairOrigin(ro))
		if err != nil {
			return l, nil, err
		}
		pm = &m
	}
	if err := e.events().Append(ctx, tx, events.TypeApprovalState, KindApprovalLine, l.ID, in.ActorID, events.EventPayload{
		"from": domain.ApproveWaiting, "to": to,
	}); err != nil {
		return l, nil, err
	}
	if err := tx.Commit(); err != nil {
		return l, nil, err
	}
	return l, pm, nil
}

func (e Engine) GetApprovalLine(ctx context.Context, id string) (domain.ApprovalLine, error) {
	return e.Repo.GetApprovalLine(ctx, e.DB, id)
}

func (e Engine) ApprovalLines(ctx context.Context, repairID string) ([]domain.ApprovalLine, error) {
	return e.Repo.ApprovalLines(ctx, e.DB, repairID)
}
