package repo

import (
	"context"

	"repairflow/internal/domain"
)

const approvalColumns = `id,repair_id,repair_line_type,product_id,product_uom_qty,quantity,uom,approve_state,created_by,created_at,updated_at`

func scanApprovalLine(sc interface{ Scan(...any) error }) (domain.ApprovalLine, error) {
	var l domain.ApprovalLine
	err := sc.Scan(&l.ID, &l.RepairID, &l.RepairLineType, &l.ProductID, &l.ProductUOMQty, &l.Quantity, &l.UOM, &l.ApproveState, &l.CreatedBy, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return l, notFound(err)
	}
	return l, nil
}

func (r Repo) InsertApprovalLine(ctx context.Context, q Querier, l domain.ApprovalLine) error {
	_, err := q.ExecContext(ctx, `INSERT INTO approval_lines(`+approvalColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.RepairID, l.RepairLineType, l.ProductID, l.ProductUOMQty, l.Quantity, l.UOM, l.ApproveState, l.CreatedBy, l.CreatedAt, l.UpdatedAt)
	return err
}

// UpdateApprovalLineFields rewrites the editable fields. The WHERE clause
// pins the draft state so a concurrent send cannot be overwritten.
func (r Repo) UpdateApprovalLineFields(ctx context.Context, q Querier, l domain.ApprovalLine) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE approval_lines SET repair_line_type=?, product_id=?, product_uom_qty=?, quantity=?, uom=?, updated_at=? WHERE id=? AND approve_state='draft'`,
		l.RepairLineType, l.ProductID, l.ProductUOMQty, l.Quantity, l.UOM, l.UpdatedAt, l.ID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SetApprovalState performs a compare-and-set from one state to another.
func (r Repo) SetApprovalState(ctx context.Context, q Querier, id, from, to, now string) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE approval_lines SET approve_state=?, updated_at=? WHERE id=? AND approve_state=?`, to, now, id, from)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r Repo) GetApprovalLine(ctx context.Context, q Querier, id string) (domain.ApprovalLine, error) {
	return scanApprovalLine(q.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_lines WHERE id=?`, id))
}

// ApprovalLines lists a repair's lines, newest first.
func (r Repo) ApprovalLines(ctx context.Context, q Querier, repairID string) ([]domain.ApprovalLine, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+approvalColumns+` FROM approval_lines WHERE repair_id=? ORDER BY created_at DESC, id DESC`, repairID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []domain.ApprovalLine{}
	for rows.Next() {
		l, err := scanApprovalLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
