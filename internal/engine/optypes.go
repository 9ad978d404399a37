package engine

import (
	"context"
	"errors"
	"strings"

	"repairflow/internal/domain"
	"repairflow/internal/events"
	"repairflow/internal/repo"
)

const defaultSequencePadding = 5

// OperationTypeInput creates or replaces an operation type.
type OperationTypeInput struct {
	ID                          string
	Name                        string `validate:"required"`
	Code                        string `validate:"required,oneof=incoming outgoing internal"`
	SequencePrefix              string
	SequencePadding             int    `validate:"gte=0,lte=12"`
	IsComponentReceivingEnabled bool
	SelectService               string `validate:"omitempty,oneof=battery wheels ndt spare"`
	ActorID                     string `validate:"required"`
}

func (in OperationTypeInput) service() *domain.ServiceCategory {
	if in.SelectService == "" {
		return nil
	}
	c := domain.ServiceCategory(in.SelectService)
	return &c
}

func (e Engine) CreateOperationType(ctx context.Context, in OperationTypeInput) (domain.OperationType, error) {
	if in.Code == "" {
		in.Code = "incoming"
	}
	if err := checkInput(in); err != nil {
		return domain.OperationType{}, err
	}
	if in.SequencePadding == 0 {
		in.SequencePadding = defaultSequencePadding
	}
	now := e.stamp()
	o := domain.OperationType{
		ID:                          in.ID,
		Name:                        strings.TrimSpace(in.Name),
		Code:                        in.Code,
		SequencePrefix:              in.SequencePrefix,
		SequencePadding:             in.SequencePadding,
		SequenceNext:                1,
		IsComponentReceivingEnabled: in.IsComponentReceivingEnabled,
		SelectService:               in.service(),
		CreatedAt:                   now,
		UpdatedAt:                   now,
	}
	if o.ID == "" {
		o.ID = newID()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertOperationType(ctx, tx, o); err != nil {
		return o, e.operationTypeConflict(ctx, tx, o, err)
	}
	if err := e.events().Append(ctx, tx, events.TypeOperationTypeSaved, KindOperationType, o.ID, in.ActorID, events.EventPayload{
		"name":                           o.Name,
		"is_component_receiving_enabled": o.IsComponentReceivingEnabled,
		"select_service":                 in.SelectService,
	}); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

func (e Engine) UpdateOperationType(ctx context.Context, in OperationTypeInput) (domain.OperationType, error) {
	if err := checkInput(in); err != nil {
		return domain.OperationType{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.OperationType{}, err
	}
	defer tx.Rollback()

	o, err := e.Repo.GetOperationType(ctx, tx, in.ID)
	if err != nil {
		return o, err
	}
	o.Name = strings.TrimSpace(in.Name)
	o.Code = in.Code
	o.SequencePrefix = in.SequencePrefix
	if in.SequencePadding > 0 {
		o.SequencePadding = in.SequencePadding
	}
	o.IsComponentReceivingEnabled = in.IsComponentReceivingEnabled
	o.SelectService = in.service()
	o.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateOperationType(ctx, tx, o); err != nil {
		return o, e.operationTypeConflict(ctx, tx, o, err)
	}
	if err := e.events().Append(ctx, tx, events.TypeOperationTypeSaved, KindOperationType, o.ID, in.ActorID, events.EventPayload{
		"name":                           o.Name,
		"is_component_receiving_enabled": o.IsComponentReceivingEnabled,
		"select_service":                 in.SelectService,
	}); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// operationTypeConflict turns a unique index violation into a message
// naming the operation type that already holds the slot.
func (e Engine) operationTypeConflict(ctx context.Context, q repo.Querier, o domain.OperationType, err error) error {
	if !repo.IsUniqueViolation(err) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "is_component_receiving_enabled"):
		holder, herr := e.Repo.ComponentReceivingType(ctx, q)
		if herr != nil {
			return errors.Join(err, herr)
		}
		return precondition("Component Receiving can only have one activated operation type (Already: %s).", holder.Name)
	case strings.Contains(msg, "select_service") && o.SelectService != nil:
		holder, herr := e.Repo.OperationTypeForService(ctx, q, *o.SelectService)
		if herr != nil {
			return errors.Join(err, herr)
		}
		return precondition("Operation Type '%s' is already assigned to service '%s'.", holder.Name, o.SelectService.Label())
	}
	return precondition("operation type conflicts with an existing record: %v", err)
}

func (e Engine) GetOperationType(ctx context.Context, id string) (domain.OperationType, error) {
	return e.Repo.GetOperationType(ctx, e.DB, id)
}

func (e Engine) ListOperationTypes(ctx context.Context) ([]domain.OperationType, error) {
	return e.Repo.ListOperationTypes(ctx, e.DB)
}
