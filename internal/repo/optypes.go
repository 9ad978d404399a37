package repo

import (
	"context"
	"database/sql"
	"fmt"

	"repairflow/internal/domain"
)

const optypeColumns = `id,name,code,COALESCE(sequence_prefix,''),sequence_padding,sequence_next,is_component_receiving_enabled,select_service,created_at,updated_at`

func scanOperationType(sc interface{ Scan(...any) error }) (domain.OperationType, error) {
	var o domain.OperationType
	var cr int
	var service sql.NullString
	err := sc.Scan(&o.ID, &o.Name, &o.Code, &o.SequencePrefix, &o.SequencePadding, &o.SequenceNext, &cr, &service, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return o, notFound(err)
	}
	o.IsComponentReceivingEnabled = cr == 1
	o.SelectService = categoryPtr(service)
	return o, nil
}

func (r Repo) InsertOperationType(ctx context.Context, q Querier, o domain.OperationType) error {
	_, err := q.ExecContext(ctx, `INSERT INTO operation_types(id,name,code,sequence_prefix,sequence_padding,sequence_next,is_component_receiving_enabled,select_service,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.Name, o.Code, nullable(o.SequencePrefix), o.SequencePadding, o.SequenceNext,
		boolInt(o.IsComponentReceivingEnabled), nullableCategory(o.SelectService), o.CreatedAt, o.UpdatedAt)
	return err
}

func (r Repo) UpdateOperationType(ctx context.Context, q Querier, o domain.OperationType) error {
	res, err := q.ExecContext(ctx, `UPDATE operation_types SET name=?, code=?, sequence_prefix=?, sequence_padding=?, is_component_receiving_enabled=?, select_service=?, updated_at=? WHERE id=?`,
		o.Name, o.Code, nullable(o.SequencePrefix), o.SequencePadding, boolInt(o.IsComponentReceivingEnabled), nullableCategory(o.SelectService), o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetOperationType(ctx context.Context, q Querier, id string) (domain.OperationType, error) {
	return scanOperationType(q.QueryRowContext(ctx, `SELECT `+optypeColumns+` FROM operation_types WHERE id=?`, id))
}

// OperationTypeForService returns the type that claims the category.
func (r Repo) OperationTypeForService(ctx context.Context, q Querier, c domain.ServiceCategory) (domain.OperationType, error) {
	return scanOperationType(q.QueryRowContext(ctx, `SELECT `+optypeColumns+` FROM operation_types WHERE select_service=?`, string(c)))
}

// ComponentReceivingType returns the single type flagged for component receiving.
func (r Repo) ComponentReceivingType(ctx context.Context, q Querier) (domain.OperationType, error) {
	return scanOperationType(q.QueryRowContext(ctx, `SELECT `+optypeColumns+` FROM operation_types WHERE is_component_receiving_enabled=1`))
}

func (r Repo) ListOperationTypes(ctx context.Context, q Querier) ([]domain.OperationType, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+optypeColumns+` FROM operation_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OperationType
	for rows.Next() {
		o, err := scanOperationType(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// NextSequenceName allocates the next number of the type's sequence and
// returns the formatted name, e.g. BAT/00007.
func (r Repo) NextSequenceName(ctx context.Context, q Querier, id string) (string, error) {
	var prefix string
	var padding, next int
	err := q.QueryRowContext(ctx, `UPDATE operation_types SET sequence_next=sequence_next+1 WHERE id=? AND sequence_prefix IS NOT NULL
RETURNING sequence_prefix, sequence_padding, sequence_next-1`, id).Scan(&prefix, &padding, &next)
	if err != nil {
		return "", notFound(err)
	}
	return fmt.Sprintf("%s%0*d", prefix, padding, next), nil
}
