package server

import (
	"net/http"

	"github.com/shopspring/decimal"

	"repairflow/internal/domain"
)

// Quantities and prices travel as decimal strings in both directions.

type OperationTypeRequest struct {
	Name                        string `json:"name"`
	Code                        string `json:"code,omitempty" enum:"incoming,outgoing,internal"`
	SequencePrefix              string `json:"sequence_prefix,omitempty"`
	SequencePadding             int    `json:"sequence_padding,omitempty"`
	IsComponentReceivingEnabled bool   `json:"is_component_receiving_enabled,omitempty"`
	SelectService               string `json:"select_service,omitempty"`
}

type ProductRequest struct {
	ID              string `json:"id,omitempty"`
	Name            string `json:"name"`
	UOM             string `json:"uom"`
	ServiceCategory string `json:"service_category,omitempty"`
	IsSpareparts    bool   `json:"is_spareparts,omitempty"`
	StandardPrice   string `json:"standard_price,omitempty" example:"12.50"`
	ListPrice       string `json:"list_price,omitempty" example:"20"`
	QtyAvailable    string `json:"qty_available,omitempty" example:"8"`
}

type ProductPatchRequest struct {
	Name            *string `json:"name,omitempty"`
	UOM             *string `json:"uom,omitempty"`
	ServiceCategory *string `json:"service_category,omitempty"`
	IsSpareparts    *bool   `json:"is_spareparts,omitempty"`
	StandardPrice   *string `json:"standard_price,omitempty"`
	ListPrice       *string `json:"list_price,omitempty"`
	QtyAvailable    *string `json:"qty_available,omitempty"`
}

type SpareLineRequest struct {
	SpareProductID string `json:"spare_product_id"`
}

type ReceiptMoveRequest struct {
	ProductID     string `json:"product_id"`
	ProductUOMQty string `json:"product_uom_qty,omitempty" example:"2"`
	Quantity      string `json:"quantity,omitempty" example:"2"`
	UOM           string `json:"uom,omitempty"`
}

type ReceiptRequest struct {
	Name              string               `json:"name,omitempty"`
	PartnerID         string               `json:"partner_id"`
	OwnerID           string               `json:"owner_id,omitempty"`
	Origin            string               `json:"origin,omitempty"`
	PickingTypeID     string               `json:"picking_type_id,omitempty"`
	CROperationTypeID string               `json:"cr_operation_type_id,omitempty"`
	IsCRDocument      bool                 `json:"is_cr_document,omitempty"`
	LocationID        string               `json:"location_id,omitempty"`
	LocationDestID    string               `json:"location_dest_id,omitempty"`
	CompanyID         string               `json:"company_id,omitempty"`
	Moves             []ReceiptMoveRequest `json:"moves,omitempty"`
}

type ReceiptPatchRequest struct {
	Name              *string `json:"name,omitempty"`
	PartnerID         *string `json:"partner_id,omitempty"`
	OwnerID           *string `json:"owner_id,omitempty"`
	Origin            *string `json:"origin,omitempty"`
	PickingTypeID     *string `json:"picking_type_id,omitempty"`
	CROperationTypeID *string `json:"cr_operation_type_id,omitempty"`
	LocationID        *string `json:"location_id,omitempty"`
	LocationDestID    *string `json:"location_dest_id,omitempty"`
	CompanyID         *string `json:"company_id,omitempty"`
}

type DecisionRequest struct {
	Received bool `json:"received" doc:"Answer to: Repair Order received?"`
}

type FollowUpRequest struct {
	Action string `json:"action" enum:"create,cancel"`
}

type CancelRepairRequest struct {
	Reason string `json:"reason"`
}

type PartRequest struct {
	RepairLineType string `json:"repair_line_type" enum:"add,remove,other"`
	ProductID      string `json:"product_id"`
	ProductUOMQty  string `json:"product_uom_qty,omitempty"`
	Quantity       string `json:"quantity,omitempty"`
	UOM            string `json:"uom,omitempty"`
}

type ApprovalLinePatchRequest struct {
	RepairLineType *string `json:"repair_line_type,omitempty" enum:"add,remove,other"`
	ProductID      *string `json:"product_id,omitempty"`
	ProductUOMQty  *string `json:"product_uom_qty,omitempty"`
	Quantity       *string `json:"quantity,omitempty"`
	UOM            *string `json:"uom,omitempty"`
}

type ConfirmRequest struct {
	Action string `json:"action" enum:"approve,reject"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type APIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	Key     string `json:"key" doc:"Shown once"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type MeResponse struct {
	ActorID string   `json:"actor_id"`
	Name    string   `json:"name,omitempty"`
	Roles   []string `json:"roles"`
	Sales   bool     `json:"sales"`
	Source  string   `json:"source"`
}

// Responses

type ProductResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	UOM             string `json:"uom"`
	ServiceCategory string `json:"service_category,omitempty"`
	IsSpareparts    bool   `json:"is_spareparts"`
	StandardPrice   string `json:"standard_price"`
	ListPrice       string `json:"list_price"`
	QtyAvailable    string `json:"qty_available"`
	UpdatedAt       string `json:"updated_at"`
}

type SpareLineResponse struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	SpareProductID string `json:"spare_product_id"`
	SpareName      string `json:"spare_name"`
	SpareUOM       string `json:"spare_uom"`
	Cost           string `json:"cost"`
	SalesPrice     string `json:"sales_price"`
	QuantityOnHand string `json:"quantity_on_hand"`
}

type ReceiptMoveResponse struct {
	ID              string `json:"id"`
	Seq             int    `json:"seq"`
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name,omitempty"`
	ProductUOMQty   string `json:"product_uom_qty"`
	Quantity        string `json:"quantity"`
	UOM             string `json:"uom"`
	ServiceCategory string `json:"service_category,omitempty"`
}

type ReceiptResponse struct {
	ID                string                `json:"id"`
	Name              string                `json:"name"`
	PartnerID         string                `json:"partner_id"`
	OwnerID           string                `json:"owner_id,omitempty"`
	Origin            string                `json:"origin,omitempty"`
	PickingTypeID     string                `json:"picking_type_id,omitempty"`
	CROperationTypeID string                `json:"cr_operation_type_id,omitempty"`
	IsCRDocument      bool                  `json:"is_cr_document"`
	CRState           string                `json:"cr_state" enum:"draft,waiting_ro,ro_created,cancel"`
	LocationID        string                `json:"location_id,omitempty"`
	LocationDestID    string                `json:"location_dest_id,omitempty"`
	CompanyID         string                `json:"company_id,omitempty"`
	CopiedFrom        string                `json:"copied_from,omitempty"`
	CreatedBy         string                `json:"created_by"`
	UpdatedAt         string                `json:"updated_at"`
	Moves             []ReceiptMoveResponse `json:"moves"`
}

type PartMoveResponse struct {
	ID             string `json:"id"`
	RepairID       string `json:"repair_id"`
	RepairLineType string `json:"repair_line_type"`
	ProductID      string `json:"product_id"`
	ProductUOMQty  string `json:"product_uom_qty"`
	Quantity       string `json:"quantity"`
	UOM            string `json:"uom"`
	ApprovalLineID string `json:"approval_line_id,omitempty"`
	CreatedBy      string `json:"created_by"`
}

type ApprovalLineResponse struct {
	ID             string `json:"id"`
	RepairID       string `json:"repair_id"`
	RepairLineType string `json:"repair_line_type"`
	ProductID      string `json:"product_id"`
	ProductUOMQty  string `json:"product_uom_qty"`
	Quantity       string `json:"quantity"`
	UOM            string `json:"uom"`
	ApproveState   string `json:"approve_state" enum:"draft,waiting,approved,rejected"`
	UpdatedAt      string `json:"updated_at"`
}

type ConfirmResponse struct {
	Line     ApprovalLineResponse `json:"line"`
	PartMove *PartMoveResponse    `json:"part_move,omitempty"`
}

type RepairResponse struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	ReceiptID       string                 `json:"receipt_id,omitempty"`
	ProductID       string                 `json:"product_id"`
	ProductQty      string                 `json:"product_qty"`
	PartnerID       string                 `json:"partner_id,omitempty"`
	OperationTypeID string                 `json:"operation_type_id,omitempty"`
	State           string                 `json:"state" enum:"draft,confirmed,cancel"`
	ConfirmedByID   string                 `json:"confirmed_by_id,omitempty"`
	CancelReason    string                 `json:"cancel_reason,omitempty"`
	Tags            []string               `json:"tags"`
	PartMoves       []PartMoveResponse     `json:"part_moves"`
	ApprovalLines   []ApprovalLineResponse `json:"approval_lines"`
	UpdatedAt       string                 `json:"updated_at"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// parseDecimal reads an optional decimal field. Empty means zero.
func parseDecimal(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return d, newAPIError(http.StatusBadRequest, "bad_request", field+" must be a decimal", map[string]any{field: raw})
	}
	return d, nil
}

func parseDecimalPtr(field string, raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := parseDecimal(field, *raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func categoryString(c *domain.ServiceCategory) string {
	if c == nil {
		return ""
	}
	return string(*c)
}

func productResponse(p domain.Product) ProductResponse {
	return ProductResponse{
		ID:              p.ID,
		Name:            p.Name,
		UOM:             p.UOM,
		ServiceCategory: categoryString(p.ServiceCategory),
		IsSpareparts:    p.IsSpareparts,
		StandardPrice:   p.StandardPrice.String(),
		ListPrice:       p.ListPrice.String(),
		QtyAvailable:    p.QtyAvailable.String(),
		UpdatedAt:       p.UpdatedAt,
	}
}

func spareLineResponse(l domain.SparePartsLine) SpareLineResponse {
	return SpareLineResponse{
		ID:             l.ID,
		ProductID:      l.ProductID,
		SpareProductID: l.SpareProductID,
		SpareName:      l.SpareName,
		SpareUOM:       l.SpareUOM,
		Cost:           l.Cost.String(),
		SalesPrice:     l.SalesPrice.String(),
		QuantityOnHand: l.QuantityOnHand.String(),
	}
}

func receiptResponse(rc domain.Receipt) ReceiptResponse {
	out := ReceiptResponse{
		ID:                rc.ID,
		Name:              rc.Name,
		PartnerID:         rc.PartnerID,
		OwnerID:           rc.OwnerID,
		Origin:            rc.Origin,
		PickingTypeID:     rc.PickingTypeID,
		CROperationTypeID: rc.CROperationTypeID,
		IsCRDocument:      rc.IsCRDocument,
		CRState:           rc.CRState,
		LocationID:        rc.LocationID,
		LocationDestID:    rc.LocationDestID,
		CompanyID:         rc.CompanyID,
		CopiedFrom:        rc.CopiedFrom,
		CreatedBy:         rc.CreatedBy,
		UpdatedAt:         rc.UpdatedAt,
		Moves:             []ReceiptMoveResponse{},
	}
	for _, m := range rc.Moves {
		out.Moves = append(out.Moves, ReceiptMoveResponse{
			ID:              m.ID,
			Seq:             m.Seq,
			ProductID:       m.ProductID,
			ProductName:     m.ProductName,
			ProductUOMQty:   m.ProductUOMQty.String(),
			Quantity:        m.Quantity.String(),
			UOM:             m.UOM,
			ServiceCategory: categoryString(m.ServiceCategory),
		})
	}
	return out
}

func partMoveResponse(m domain.PartMove) PartMoveResponse {
	return PartMoveResponse{
		ID:             m.ID,
		RepairID:       m.RepairID,
		RepairLineType: m.RepairLineType,
		ProductID:      m.ProductID,
		ProductUOMQty:  m.ProductUOMQty.String(),
		Quantity:       m.Quantity.String(),
		UOM:            m.UOM,
		ApprovalLineID: m.ApprovalLineID,
		CreatedBy:      m.CreatedBy,
	}
}

func approvalLineResponse(l domain.ApprovalLine) ApprovalLineResponse {
	return ApprovalLineResponse{
		ID:             l.ID,
		RepairID:       l.RepairID,
		RepairLineType: l.RepairLineType,
		ProductID:      l.ProductID,
		ProductUOMQty:  l.ProductUOMQty.String(),
		Quantity:       l.Quantity.String(),
		UOM:            l.UOM,
		ApproveState:   l.ApproveState,
		UpdatedAt:      l.UpdatedAt,
	}
}

func repairResponse(ro domain.RepairOrder) RepairResponse {
	out := RepairResponse{
		ID:              ro.ID,
		Name:            ro.Name,
		ReceiptID:       ro.ReceiptID,
		ProductID:       ro.ProductID,
		ProductQty:      ro.ProductQty.String(),
		PartnerID:       ro.PartnerID,
		OperationTypeID: ro.OperationTypeID,
		State:           ro.State,
		ConfirmedByID:   ro.ConfirmedByID,
		CancelReason:    ro.CancelReason,
		Tags:            []string{},
		PartMoves:       []PartMoveResponse{},
		ApprovalLines:   []ApprovalLineResponse{},
		UpdatedAt:       ro.UpdatedAt,
	}
	for _, t := range ro.Tags {
		out.Tags = append(out.Tags, t.Name)
	}
	for _, m := range ro.PartMoves {
		out.PartMoves = append(out.PartMoves, partMoveResponse(m))
	}
	for _, l := range ro.ApprovalLines {
		out.ApprovalLines = append(out.ApprovalLines, approvalLineResponse(l))
	}
	return out
}

func mapSlice[T, R any](in []T, fn func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
