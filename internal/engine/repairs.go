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

// ResolveTag returns the tag labelled after the category, creating it on
// first use. An empty code yields no tag.
func (e Engine) ResolveTag(ctx context.Context, q repo.Querier, code domain.ServiceCategory) (*domain.Tag, error) {
	if code == "" {
		return nil, nil
	}
	t, err := e.Repo.EnsureTag(ctx, q, newID(), code.Label(), e.stamp())
	if err != nil {
		return nil, fmt.Errorf("resolve tag %s: %w", code, err)
	}
	return &t, nil
}

// createRepairOrders opens one repair order per receipt move and seeds it
// with the product's spare parts. It is not idempotent; callers only reach
// it on the transition into ro_created.
func (e Engine) createRepairOrders(ctx context.Context, q repo.Querier, rc domain.Receipt, actorID string) ([]domain.RepairOrder, error) {
	var created []domain.RepairOrder
	for _, mv := range rc.Moves {
		var code domain.ServiceCategory
		if mv.ServiceCategory != nil {
			code = *mv.ServiceCategory
		}
		tag, err := e.ResolveTag(ctx, q, code)
		if err != nil {
			return nil, err
		}
		var ot domain.OperationType
		if code != "" {
			ot, err = e.Repo.OperationTypeForService(ctx, q, code)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return nil, err
			}
		}
		if ot.ID == "" || !ot.HasSequence() {
			return nil, precondition("No sequence defined on operation type for service category: %s", code)
		}
		name, err := e.Repo.NextSequenceName(ctx, q, ot.ID)
		if err != nil {
			return nil, fmt.Errorf("allocate repair order name: %w", err)
		}
		now := e.stamp()
		ro := domain.RepairOrder{
			ID:              newID(),
			Name:            name,
			ReceiptID:       rc.ID,
			ProductID:       mv.ProductID,
			ProductQty:      mv.Quantity,
			PartnerID:       rc.PartnerID,
			LocationID:      rc.LocationID,
			LocationDestID:  rc.LocationDestID,
			CompanyID:       rc.CompanyID,
			OperationTypeID: ot.ID,
			State:           domain.RepairDraft,
			CreatedBy:       actorID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := e.Repo.InsertRepairOrder(ctx, q, ro); err != nil {
			return nil, err
		}
		if tag != nil {
			if err := e.Repo.AttachTag(ctx, q, ro.ID, tag.ID); err != nil {
				return nil, err
			}
			ro.Tags = []domain.Tag{*tag}
		}
		spares, err := e.Repo.SparePartsLines(ctx, q, mv.ProductID)
		if err != nil {
			return nil, err
		}
		for _, sp := range spares {
			pm, err := e.addPartInternal(ctx, q, ro, PartInput{
				RepairID:       ro.ID,
				RepairLineType: domain.LineAdd,
				ProductID:      sp.SpareProductID,
				ProductUOMQty:  mv.ProductUOMQty,
				Quantity:       mv.Quantity,
				UOM:            sp.SpareUOM,
				ActorID:        actorID,
			}, partOrigin{locationID: rc.LocationID, locationDestID: rc.LocationDestID, companyID: rc.CompanyID, partnerID: rc.PartnerID})
			if err != nil {
				return nil, err
			}
			ro.PartMoves = append(ro.PartMoves, pm)
		}
		if err := e.events().Append(ctx, q, events.TypeRepairCreated, KindRepair, ro.ID, actorID, events.EventPayload{
			"name": ro.Name, "receipt_id": rc.ID, "service_category": string(code), "spare_parts": len(ro.PartMoves),
		}); err != nil {
			return nil, err
		}
		created = append(created, ro)
	}
	if err := e.events().Note(ctx, q, KindReceipt, rc.ID, actorID, "Repair Orders created and Spare Parts added automatically."); err != nil {
		return nil, err
	}
	return created, nil
}

type PartInput struct {
	RepairID       string `validate:"required"`
	RepairLineType string `validate:"required,oneof=add remove other"`
	ProductID      string `validate:"required"`
	ProductUOMQty  decimal.Decimal
	Quantity       decimal.Decimal
	UOM            string
	ApprovalLineID string
	ActorID        string `validate:"required"`
}

// partOrigin is where a part move takes its location and party fields from.
type partOrigin struct {
	locationID     string
	locationDestID string
	companyID      string
	partnerID      string
}

func repairOrigin(ro domain.RepairOrder) partOrigin {
	return partOrigin{locationID: ro.LocationID, locationDestID: ro.LocationDestID, companyID: ro.CompanyID, partnerID: ro.PartnerID}
}

// AddPart is the manual entry point for part moves. Only sales users may
// add parts by hand.
func (e Engine) AddPart(ctx context.Context, in PartInput) (domain.PartMove, error) {
	if err := checkInput(in); err != nil {
		return domain.PartMove{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PartMove{}, err
	}
	defer tx.Rollback()

	if err := e.Auth.RequireSales(ctx, tx, in.ActorID, "Only Sales users can add Parts manually."); err != nil {
		return domain.PartMove{}, err
	}
	ro, err := e.Repo.GetRepairHeader(ctx, tx, in.RepairID)
	if err != nil {
		return domain.PartMove{}, err
	}
	if ro.State == domain.RepairCancel {
		return domain.PartMove{}, stateGuard("Repair Order %s is cancelled.", ro.Name)
	}
	pm, err := e.addPartInternal(ctx, tx, ro, in, repairOrigin(ro))
	if err != nil {
		return pm, err
	}
	if err := tx.Commit(); err != nil {
		return pm, err
	}
	return pm, nil
}

// addPartInternal writes a part move without the sales check. It is used
// by repair order creation and by approval.
func (e Engine) addPartInternal(ctx context.Context, q repo.Querier, ro domain.RepairOrder, in PartInput, from partOrigin) (domain.PartMove, error) {
	if in.ProductUOMQty.IsNegative() || in.Quantity.IsNegative() {
		return domain.PartMove{}, precondition("quantities must not be negative")
	}
	if in.UOM == "" {
		p, err := e.Repo.GetProduct(ctx, q, in.ProductID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.PartMove{}, precondition("product %s not found", in.ProductID)
		}
		if err != nil {
			return domain.PartMove{}, err
		}
		in.UOM = p.UOM
	}
	pm := domain.PartMove{
		ID:             newID(),
		RepairID:       ro.ID,
		RepairLineType: in.RepairLineType,
		ProductID:      in.ProductID,
		ProductUOMQty:  in.ProductUOMQty,
		Quantity:       in.Quantity,
		UOM:            in.UOM,
		LocationID:     from.locationID,
		LocationDestID: from.locationDestID,
		CompanyID:      from.companyID,
		PartnerID:      from.partnerID,
		ApprovalLineID: in.ApprovalLineID,
		CreatedBy:      in.ActorID,
		CreatedAt:      e.stamp(),
	}
	if err := e.Repo.InsertPartMove(ctx, q, pm); err != nil {
		if repo.IsUniqueViolation(err) {
			return pm, stateGuard("approval line %s already has a part move", in.ApprovalLineID)
		}
		return pm, err
	}
	if err := e.events().Append(ctx, q, events.TypePartAdded, KindRepair, ro.ID, in.ActorID, events.EventPayload{
		"product_id": pm.ProductID, "type": pm.RepairLineType, "quantity": pm.Quantity.String(), "approval_line_id": pm.ApprovalLineID,
	}); err != nil {
		return pm, err
	}
	return pm, nil
}

// ValidateRepair confirms a draft repair order. The first validator is
// kept as confirmed_by.
func (e Engine) ValidateRepair(ctx context.Context, repairID, actorID string) (domain.RepairOrder, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RepairOrder{}, err
	}
	defer tx.Rollback()

	if err := e.ensureActor(ctx, tx, actorID); err != nil {
		return domain.RepairOrder{}, err
	}
	ro, err := e.Repo.GetRepairHeader(ctx, tx, repairID)
	if err != nil {
		return ro, err
	}
	if err := ensureRepairTransition(ro.State, domain.RepairConfirmed); err != nil {
		return ro, err
	}
	if err := e.Repo.ConfirmRepair(ctx, tx, ro.ID, actorID, e.stamp()); err != nil {
		return ro, err
	}
	if err := e.events().Append(ctx, tx, events.TypeRepairConfirmed, KindRepair, ro.ID, actorID, nil); err != nil {
		return ro, err
	}
	if err := tx.Commit(); err != nil {
		return ro, err
	}
	return e.Repo.GetRepairOrder(ctx, e.DB, ro.ID)
}

type CancelRepairInput struct {
	RepairID string `validate:"required"`
	Reason   string `validate:"required"`
	ActorID  string `validate:"required"`
}

// CancelRepair runs the cancellation wizard: it cancels the order, logs
// who and why, and tells the confirmer.
func (e Engine) CancelRepair(ctx context.Context, in CancelRepairInput) (domain.RepairOrder, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if err := checkInput(in); err != nil {
		return domain.RepairOrder{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RepairOrder{}, err
	}
	defer tx.Rollback()

	if err := e.ensureActor(ctx, tx, in.ActorID); err != nil {
		return domain.RepairOrder{}, err
	}
	ro, err := e.Repo.GetRepairHeader(ctx, tx, in.RepairID)
	if err != nil {
		return ro, err
	}
	if err := ensureRepairTransition(ro.State, domain.RepairCancel); err != nil {
		return ro, err
	}
	now := e.stamp()
	if err := e.Repo.CancelRepair(ctx, tx, ro.ID, in.Reason, now); err != nil {
		return ro, err
	}
	name := e.Repo.ActorName(ctx, tx, in.ActorID)
	if err := e.events().Note(ctx, tx, KindRepair, ro.ID, in.ActorID,
		fmt.Sprintf("Repair Order Cancelled. Cancelled By: %s. Reason: %s", name, in.Reason)); err != nil {
		return ro, err
	}
	if ro.ConfirmedByID != "" {
		a := activity(KindRepair, ro.ID, ro.ConfirmedByID, SummaryRepairCancelled,
			fmt.Sprintf("Repair Order has been cancelled. Reason: %s", in.Reason), in.ActorID, now)
		if err := e.Repo.InsertActivity(ctx, tx, a); err != nil {
			return ro, err
		}
	}
	if err := e.events().Append(ctx, tx, events.TypeRepairCancelled, KindRepair, ro.ID, in.ActorID, events.EventPayload{"reason": in.Reason}); err != nil {
		return ro, err
	}
	if err := tx.Commit(); err != nil {
		return ro, err
	}
	e.flush(ctx, outbox{{userID: in.ActorID, n: notify.Notification{
		Title:   "Repair Order Cancelled",
		Message: fmt.Sprintf("Repair Order %s has been cancelled successfully.", ro.Name),
		Type:    notify.TypeInfo,
	}}})
	return e.Repo.GetRepairOrder(ctx, e.DB, ro.ID)
}

func ensureRepairTransition(from, to string) error {
	switch from {
	case domain.RepairDraft:
		if to == domain.RepairConfirmed || to == domain.RepairCancel {
			return nil
		}
	case domain.RepairConfirmed:
		if to == domain.RepairCancel {
			return nil
		}
	}
	return stateGuard("invalid repair order transition %s -> %s", from, to)
}

func (e Engine) GetRepairOrder(ctx context.Context, id string) (domain.RepairOrder, error) {
	return e.Repo.GetRepairOrder(ctx, e.DB, id)
}

func (e Engine) ListRepairOrders(ctx context.Context, f repo.RepairFilters) ([]domain.RepairOrder, error) {
	return e.Repo.ListRepairOrders(ctx, e.DB, f)
}
