package repo

import (
	"context"
	"database/sql"
	"strings"

	"repairflow/internal/domain"
)

const receiptColumns = `id,name,partner_id,COALESCE(owner_id,''),COALESCE(origin,''),COALESCE(picking_type_id,''),COALESCE(cr_operation_type_id,''),is_cr_document,cr_state,COALESCE(location_id,''),COALESCE(location_dest_id,''),COALESCE(company_id,''),COALESCE(copied_from,''),created_by,created_at,updated_at`

func scanReceipt(sc interface{ Scan(...any) error }) (domain.Receipt, error) {
	var rc domain.Receipt
	var cr int
	err := sc.Scan(&rc.ID, &rc.Name, &rc.PartnerID, &rc.OwnerID, &rc.Origin, &rc.PickingTypeID, &rc.CROperationTypeID, &cr, &rc.CRState,
		&rc.LocationID, &rc.LocationDestID, &rc.CompanyID, &rc.CopiedFrom, &rc.CreatedBy, &rc.CreatedAt, &rc.UpdatedAt)
	if err != nil {
		return rc, notFound(err)
	}
	rc.IsCRDocument = cr == 1
	return rc, nil
}

func (r Repo) InsertReceipt(ctx context.Context, q Querier, rc domain.Receipt) error {
	_, err := q.ExecContext(ctx, `INSERT INTO receipts(id,name,partner_id,owner_id,origin,picking_type_id,cr_operation_type_id,is_cr_document,cr_state,location_id,location_dest_id,company_id,copied_from,created_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rc.ID, rc.Name, rc.PartnerID, nullable(rc.OwnerID), nullable(rc.Origin), nullable(rc.PickingTypeID), nullable(rc.CROperationTypeID),
		boolInt(rc.IsCRDocument), rc.CRState, nullable(rc.LocationID), nullable(rc.LocationDestID), nullable(rc.CompanyID),
		nullable(rc.CopiedFrom), rc.CreatedBy, rc.CreatedAt, rc.UpdatedAt)
	if err != nil {
		return err
	}
	for _, m := range rc.Moves {
		if err := r.InsertReceiptMove(ctx, q, m); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) InsertReceiptMove(ctx context.Context, q Querier, m domain.ReceiptMove) error {
	_, err := q.ExecContext(ctx, `INSERT INTO receipt_moves(id,receipt_id,seq,product_id,product_uom_qty,quantity,uom) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.ReceiptID, m.Seq, m.ProductID, m.ProductUOMQty, m.Quantity, m.UOM)
	return err
}

// UpdateReceipt writes the editable header fields. State changes go through
// SetReceiptState.
func (r Repo) UpdateReceipt(ctx context.Context, q Querier, rc domain.Receipt) error {
	res, err := q.ExecContext(ctx, `UPDATE receipts SET name=?, partner_id=?, owner_id=?, origin=?, picking_type_id=?, cr_operation_type_id=?, location_id=?, location_dest_id=?, company_id=?, updated_at=? WHERE id=?`,
		rc.Name, rc.PartnerID, nullable(rc.OwnerID), nullable(rc.Origin), nullable(rc.PickingTypeID), nullable(rc.CROperationTypeID),
		nullable(rc.LocationID), nullable(rc.LocationDestID), nullable(rc.CompanyID), rc.UpdatedAt, rc.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetReceiptState(ctx context.Context, q Querier, id, state, now string) error {
	res, err := q.ExecContext(ctx, `UPDATE receipts SET cr_state=?, updated_at=? WHERE id=?`, state, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetReceipt loads the receipt with its moves.
func (r Repo) GetReceipt(ctx context.Context, q Querier, id string) (domain.Receipt, error) {
	rc, err := scanReceipt(q.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id=?`, id))
	if err != nil {
		return rc, err
	}
	rc.Moves, err = r.ReceiptMoves(ctx, q, id)
	return rc, err
}

// ReceiptMoves returns the lines in entry order. The service category is
// read from the product on every call.
func (r Repo) ReceiptMoves(ctx context.Context, q Querier, receiptID string) ([]domain.ReceiptMove, error) {
	rows, err := q.QueryContext(ctx, `SELECT m.id, m.receipt_id, m.seq, m.product_id, p.name, m.product_uom_qty, m.quantity, m.uom, p.service_category
FROM receipt_moves m JOIN products p ON p.id=m.product_id
WHERE m.receipt_id=? ORDER BY m.seq, m.id`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	moves := []domain.ReceiptMove{}
	for rows.Next() {
		var m domain.ReceiptMove
		var category sql.NullString
		if err := rows.Scan(&m.ID, &m.ReceiptID, &m.Seq, &m.ProductID, &m.ProductName, &m.ProductUOMQty, &m.Quantity, &m.UOM, &category); err != nil {
			return nil, err
		}
		m.ServiceCategory = categoryPtr(category)
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

// ReceiptFilters narrows ListReceipts.
type ReceiptFilters struct {
	CRState     string
	CRDocuments bool
	PartnerID   string
	Limit       int
}

func (r Repo) ListReceipts(ctx context.Context, q Querier, f ReceiptFilters) ([]domain.Receipt, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.CRState != "" {
		clauses = append(clauses, "cr_state=?")
		args = append(args, f.CRState)
	}
	if f.CRDocuments {
		clauses = append(clauses, "is_cr_document=1")
	}
	if f.PartnerID != "" {
		clauses = append(clauses, "partner_id=?")
		args = append(args, f.PartnerID)
	}
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rc)
	}
	return res, rows.Err()
}
