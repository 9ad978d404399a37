package repo

import (
	"context"
	"strings"

	"repairflow/internal/domain"
)

const repairColumns = `id,name,COALESCE(receipt_id,''),product_id,product_qty,COALESCE(partner_id,''),COALESCE(location_id,''),COALESCE(location_dest_id,''),COALESCE(company_id,''),COALESCE(operation_type_id,''),state,COALESCE(confirmed_by_id,''),COALESCE(cancel_reason,''),created_by,created_at,updated_at`

func scanRepair(sc interface{ Scan(...any) error }) (domain.RepairOrder, error) {
	var ro domain.RepairOrder
	err := sc.Scan(&ro.ID, &ro.Name, &ro.ReceiptID, &ro.ProductID, &ro.ProductQty, &ro.PartnerID, &ro.LocationID, &ro.LocationDestID,
		&ro.CompanyID, &ro.OperationTypeID, &ro.State, &ro.ConfirmedByID, &ro.CancelReason, &ro.CreatedBy, &ro.CreatedAt, &ro.UpdatedAt)
	if err != nil {
		return ro, notFound(err)
	}
	return ro, nil
}

func (r Repo) InsertRepairOrder(ctx context.Context, q Querier, ro domain.RepairOrder) error {
	_, err := q.ExecContext(ctx, `INSERT INTO repair_orders(id,name,receipt_id,product_id,product_qty,partner_id,location_id,location_dest_id,company_id,operation_type_id,state,created_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ro.ID, ro.Name, nullable(ro.ReceiptID), ro.ProductID, ro.ProductQty, nullable(ro.PartnerID), nullable(ro.LocationID),
		nullable(ro.LocationDestID), nullable(ro.CompanyID), nullable(ro.OperationTypeID), ro.State, ro.CreatedBy, ro.CreatedAt, ro.UpdatedAt)
	return err
}

func (r Repo) AttachTag(ctx context.Context, q Querier, repairID, tagID string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO repair_tags(repair_id, tag_id) VALUES (?,?)`, repairID, tagID)
	return err
}

// ConfirmRepair moves a repair to confirmed. confirmed_by_id is only
// written when empty so the first confirmer sticks.
func (r Repo) ConfirmRepair(ctx context.Context, q Querier, id, actorID, now string) error {
	res, err := q.ExecContext(ctx, `UPDATE repair_orders SET state='confirmed', confirmed_by_id=COALESCE(confirmed_by_id, ?), updated_at=? WHERE id=?`, actorID, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CancelRepair(ctx context.Context, q Querier, id, reason, now string) error {
	res, err := q.ExecContext(ctx, `UPDATE repair_orders SET state='cancel', cancel_reason=?, updated_at=? WHERE id=?`, reason, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRepairHeader loads the repair order without its lines.
func (r Repo) GetRepairHeader(ctx context.Context, q Querier, id string) (domain.RepairOrder, error) {
	return scanRepair(q.QueryRowContext(ctx, `SELECT `+repairColumns+` FROM repair_orders WHERE id=?`, id))
}

// GetRepairOrder loads the repair order with tags, part moves and approval lines.
func (r Repo) GetRepairOrder(ctx context.Context, q Querier, id string) (domain.RepairOrder, error) {
	ro, err := r.GetRepairHeader(ctx, q, id)
	if err != nil {
		return ro, err
	}
	if ro.Tags, err = r.RepairTags(ctx, q, id); err != nil {
		return ro, err
	}
	if ro.PartMoves, err = r.PartMoves(ctx, q, id); err != nil {
		return ro, err
	}
	if ro.ApprovalLines, err = r.ApprovalLines(ctx, q, id); err != nil {
		return ro, err
	}
	return ro, nil
}

// RepairFilters narrows ListRepairOrders.
type RepairFilters struct {
	ReceiptID string
	State     string
	Limit     int
}

func (r Repo) ListRepairOrders(ctx context.Context, q Querier, f RepairFilters) ([]domain.RepairOrder, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ReceiptID != "" {
		clauses = append(clauses, "receipt_id=?")
		args = append(args, f.ReceiptID)
	}
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, f.State)
	}
	query := `SELECT ` + repairColumns + ` FROM repair_orders WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at, name`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.RepairOrder
	for rows.Next() {
		ro, err := scanRepair(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, ro)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Tags, err = r.RepairTags(ctx, q, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) RepairTags(ctx context.Context, q Querier, repairID string) ([]domain.Tag, error) {
	rows, err := q.QueryContext(ctx, `SELECT t.id, t.name, t.created_at FROM repair_tags rt JOIN tags t ON t.id=rt.tag_id WHERE rt.repair_id=? ORDER BY t.name`, repairID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tags := []domain.Tag{}
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (r Repo) InsertPartMove(ctx context.Context, q Querier, m domain.PartMove) error {
	_, err := q.ExecContext(ctx, `INSERT INTO part_moves(id,repair_id,repair_line_type,product_id,product_uom_qty,quantity,uom,location_id,location_dest_id,company_id,partner_id,approval_line_id,created_by,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.RepairID, m.RepairLineType, m.ProductID, m.ProductUOMQty, m.Quantity, m.UOM, nullable(m.LocationID),
		nullable(m.LocationDestID), nullable(m.CompanyID), nullable(m.PartnerID), nullable(m.ApprovalLineID), m.CreatedBy, m.CreatedAt)
	return err
}

func (r Repo) PartMoves(ctx context.Context, q Querier, repairID string) ([]domain.PartMove, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,repair_id,repair_line_type,product_id,product_uom_qty,quantity,uom,COALESCE(location_id,''),COALESCE(location_dest_id,''),COALESCE(company_id,''),COALESCE(partner_id,''),COALESCE(approval_line_id,''),created_by,created_at
FROM part_moves WHERE repair_id=? ORDER BY created_at, id`, repairID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	moves := []domain.PartMove{}
	for rows.Next() {
		var m domain.PartMove
		if err := rows.Scan(&m.ID, &m.RepairID, &m.RepairLineType, &m.ProductID, &m.ProductUOMQty, &m.Quantity, &m.UOM, &m.LocationID,
			&m.LocationDestID, &m.CompanyID, &m.PartnerID, &m.ApprovalLineID, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		moves = append(moves, m)
	}
	return moves, rows.Err()
}
