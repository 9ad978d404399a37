package export

import (
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"repairflow/internal/domain"
)

const (
	SheetRepairs = "Repair Orders"
	SheetParts   = "Parts"
)

var (
	repairHeaders = []string{"Name", "State", "Receipt", "Product", "Quantity", "Partner", "Tags", "Confirmed By", "Cancel Reason", "Created At"}
	partHeaders   = []string{"Repair Order", "Type", "Product", "Demand", "Quantity", "UOM", "Approval Line", "Created At"}
)

// RepairOrders writes the orders and their part moves as an xlsx workbook.
// Orders should be fully loaded; part moves are read from each order.
func RepairOrders(w io.Writer, ros []domain.RepairOrder) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetRepairs); err != nil {
		return err
	}
	if _, err := f.NewSheet(SheetParts); err != nil {
		return err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D3D3D3"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	var repairRows, partRows [][]any
	for _, ro := range ros {
		tags := make([]string, 0, len(ro.Tags))
		for _, t := range ro.Tags {
			tags = append(tags, t.Name)
		}
		repairRows = append(repairRows, []any{
			ro.Name, ro.State, ro.ReceiptID, ro.ProductID, ro.ProductQty.String(), ro.PartnerID,
			strings.Join(tags, ", "), ro.ConfirmedByID, ro.CancelReason, ro.CreatedAt,
		})
		for _, pm := range ro.PartMoves {
			partRows = append(partRows, []any{
				ro.Name, pm.RepairLineType, pm.ProductID, pm.ProductUOMQty.String(), pm.Quantity.String(), pm.UOM, pm.ApprovalLineID, pm.CreatedAt,
			})
		}
	}
	if err := writeSheet(f, SheetRepairs, header, repairHeaders, repairRows); err != nil {
		return err
	}
	if err := writeSheet(f, SheetParts, header, partHeaders, partRows); err != nil {
		return err
	}
	f.SetActiveSheet(0)
	return f.Write(w)
}

func writeSheet(f *excelize.File, sheet string, style int, headers []string, rows [][]any) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	last, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", last, 18)
}
