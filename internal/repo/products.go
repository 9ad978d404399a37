package repo

import (
	"context"
	"database/sql"

	"repairflow/internal/domain"
)

const productColumns = `id,name,uom,service_category,is_spareparts,standard_price,list_price,qty_available,created_at,updated_at`

func scanProduct(sc interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	var category sql.NullString
	var spare int
	err := sc.Scan(&p.ID, &p.Name, &p.UOM, &category, &spare, &p.StandardPrice, &p.ListPrice, &p.QtyAvailable, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, notFound(err)
	}
	p.ServiceCategory = categoryPtr(category)
	p.IsSpareparts = spare == 1
	return p, nil
}

func (r Repo) InsertProduct(ctx context.Context, q Querier, p domain.Product) error {
	_, err := q.ExecContext(ctx, `INSERT INTO products(`+productColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, p.UOM, nullableCategory(p.ServiceCategory), boolInt(p.IsSpareparts),
		p.StandardPrice, p.ListPrice, p.QtyAvailable, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) UpdateProduct(ctx context.Context, q Querier, p domain.Product) error {
	res, err := q.ExecContext(ctx, `UPDATE products SET name=?, uom=?, service_category=?, is_spareparts=?, standard_price=?, list_price=?, qty_available=?, updated_at=? WHERE id=?`,
		p.Name, p.UOM, nullableCategory(p.ServiceCategory), boolInt(p.IsSpareparts),
		p.StandardPrice, p.ListPrice, p.QtyAvailable, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetProduct(ctx context.Context, q Querier, id string) (domain.Product, error) {
	return scanProduct(q.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id=?`, id))
}

func (r Repo) ListProducts(ctx context.Context, q Querier, sparesOnly bool) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if sparesOnly {
		query += ` WHERE is_spareparts=1`
	}
	query += ` ORDER BY name`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertSparePartsLine(ctx context.Context, q Querier, l domain.SparePartsLine) error {
	_, err := q.ExecContext(ctx, `INSERT INTO spare_parts_lines(id,product_id,spare_product_id,created_at) VALUES (?,?,?,?)`,
		l.ID, l.ProductID, l.SpareProductID, l.CreatedAt)
	return err
}

func (r Repo) DeleteSparePartsLine(ctx context.Context, q Querier, productID, lineID string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM spare_parts_lines WHERE id=? AND product_id=?`, lineID, productID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SparePartsLines returns the product's spare lines with the commercial
// fields of each spare product projected in.
func (r Repo) SparePartsLines(ctx context.Context, q Querier, productID string) ([]domain.SparePartsLine, error) {
	rows, err := q.QueryContext(ctx, `SELECT l.id, l.product_id, l.spare_product_id, p.name, p.uom, p.standard_price, p.list_price, p.qty_available, l.created_at
FROM spare_parts_lines l JOIN products p ON p.id=l.spare_product_id
WHERE l.product_id=? ORDER BY l.created_at, l.id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SparePartsLine
	for rows.Next() {
		var l domain.SparePartsLine
		if err := rows.Scan(&l.ID, &l.ProductID, &l.SpareProductID, &l.SpareName, &l.SpareUOM, &l.Cost, &l.SalesPrice, &l.QuantityOnHand, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
