package export_test

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"repairflow/internal/domain"
	"repairflow/internal/export"
)

func TestRepairOrdersWorkbook(t *testing.T) {
	ros := []domain.RepairOrder{
		{
			ID: "ro-1", Name: "BAT/00001", State: domain.RepairConfirmed, ProductID: "battery",
			ProductQty: decimal.NewFromInt(2), ConfirmedByID: "tech",
			Tags: []domain.Tag{{Name: "Battery Shop Services"}},
			PartMoves: []domain.PartMove{
				{RepairLineType: domain.LineAdd, ProductID: "cell", ProductUOMQty: decimal.NewFromInt(2), Quantity: decimal.NewFromInt(2), UOM: "pcs"},
			},
		},
		{ID: "ro-2", Name: "WHL/00001", State: domain.RepairCancel, ProductID: "wheel", ProductQty: decimal.NewFromInt(1), CancelReason: "withdrawn"},
	}
	var buf bytes.Buffer
	if err := export.RepairOrders(&buf, ros); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(export.SheetRepairs)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "Name" || rows[1][0] != "BAT/00001" || rows[1][6] != "Battery Shop Services" || rows[2][8] != "withdrawn" {
		t.Fatalf("unexpected rows %v", rows)
	}
	parts, err := f.GetRows(export.SheetParts)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 || parts[1][0] != "BAT/00001" || parts[1][5] != "pcs" {
		t.Fatalf("unexpected part rows %v", parts)
	}
}
