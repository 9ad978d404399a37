package domain

import "github.com/shopspring/decimal"

// ServiceCategory classifies the shop a product is serviced by.
type ServiceCategory string

const (
	ServiceBattery ServiceCategory = "battery"
	ServiceWheels  ServiceCategory = "wheels"
	ServiceNDT     ServiceCategory = "ndt"
	ServiceSpare   ServiceCategory = "spare"
)

var serviceLabels = map[ServiceCategory]string{
	ServiceBattery: "Battery Shop Services",
	ServiceWheels:  "Wheels Shop Services",
	ServiceNDT:     "NDT Testing Shop Services",
	ServiceSpare:   "Spare Parts Services",
}

// ServiceCategories lists the categories in display order.
func ServiceCategories() []ServiceCategory {
	return []ServiceCategory{ServiceBattery, ServiceWheels, ServiceNDT, ServiceSpare}
}

func (c ServiceCategory) Valid() bool {
	_, ok := serviceLabels[c]
	return ok
}

// Label returns the display label. Unknown codes are returned as-is.
func (c ServiceCategory) Label() string {
	if l, ok := serviceLabels[c]; ok {
		return l
	}
	return string(c)
}

// Receipt component-receiving states.
const (
	CRStateDraft     = "draft"
	CRStateWaitingRO = "waiting_ro"
	CRStateROCreated = "ro_created"
	CRStateCancel    = "cancel"
)

// Approval line states.
const (
	ApproveDraft    = "draft"
	ApproveWaiting  = "waiting"
	ApproveApproved = "approved"
	ApproveRejected = "rejected"
)

// Repair order states.
const (
	RepairDraft     = "draft"
	RepairConfirmed = "confirmed"
	RepairCancel    = "cancel"
)

// Repair line types shared by approval lines and part moves.
const (
	LineAdd    = "add"
	LineRemove = "remove"
	LineOther  = "other"
)

type OperationType struct {
	ID                          string           `json:"id"`
	Name                        string           `json:"name"`
	Code                        string           `json:"code" enum:"incoming,outgoing,internal"`
	SequencePrefix              string           `json:"sequence_prefix,omitempty"`
	SequencePadding             int              `json:"sequence_padding"`
	SequenceNext                int              `json:"sequence_next"`
	IsComponentReceivingEnabled bool             `json:"is_component_receiving_enabled"`
	SelectService               *ServiceCategory `json:"select_service,omitempty"`
	CreatedAt                   string           `json:"created_at" format:"date-time"`
	UpdatedAt                   string           `json:"updated_at" format:"date-time"`
}

// HasSequence reports whether repair orders can be numbered from this type.
func (o OperationType) HasSequence() bool {
	return o.SequencePrefix != ""
}

type Product struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	UOM             string           `json:"uom"`
	ServiceCategory *ServiceCategory `json:"service_category,omitempty"`
	IsSpareparts    bool             `json:"is_spareparts"`
	StandardPrice   decimal.Decimal  `json:"standard_price"`
	ListPrice       decimal.Decimal  `json:"list_price"`
	QtyAvailable    decimal.Decimal  `json:"qty_available"`
	CreatedAt       string           `json:"created_at" format:"date-time"`
	UpdatedAt       string           `json:"updated_at" format:"date-time"`
}

// SparePartsLine links a product to a spare part. Cost, SalesPrice and
// QuantityOnHand mirror the spare product and are never stored.
type SparePartsLine struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"product_id"`
	SpareProductID string          `json:"spare_product_id"`
	SpareName      string          `json:"spare_name"`
	SpareUOM       string          `json:"spare_uom"`
	Cost           decimal.Decimal `json:"cost"`
	SalesPrice     decimal.Decimal `json:"sales_price"`
	QuantityOnHand decimal.Decimal `json:"quantity_on_hand"`
	CreatedAt      string          `json:"created_at" format:"date-time"`
}

type Receipt struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	PartnerID         string        `json:"partner_id"`
	OwnerID           string        `json:"owner_id,omitempty"`
	Origin            string        `json:"origin,omitempty"`
	PickingTypeID     string        `json:"picking_type_id,omitempty"`
	CROperationTypeID string        `json:"cr_operation_type_id,omitempty"`
	IsCRDocument      bool          `json:"is_cr_document"`
	CRState           string        `json:"cr_state" enum:"draft,waiting_ro,ro_created,cancel"`
	LocationID        string        `json:"location_id,omitempty"`
	LocationDestID    string        `json:"location_dest_id,omitempty"`
	CompanyID         string        `json:"company_id,omitempty"`
	CopiedFrom        string        `json:"copied_from,omitempty"`
	CreatedBy         string        `json:"created_by"`
	CreatedAt         string        `json:"created_at" format:"date-time"`
	UpdatedAt         string        `json:"updated_at" format:"date-time"`
	Moves             []ReceiptMove `json:"moves"`
}

// ReceiptMove is one product line of a receipt. ServiceCategory is read
// through from the product.
type ReceiptMove struct {
	ID              string           `json:"id"`
	ReceiptID       string           `json:"receipt_id"`
	Seq             int              `json:"seq"`
	ProductID       string           `json:"product_id"`
	ProductName     string           `json:"product_name,omitempty"`
	ProductUOMQty   decimal.Decimal  `json:"product_uom_qty"`
	Quantity        decimal.Decimal  `json:"quantity"`
	UOM             string           `json:"uom"`
	ServiceCategory *ServiceCategory `json:"service_category,omitempty"`
}

type Tag struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type RepairOrder struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	ReceiptID       string          `json:"receipt_id,omitempty"`
	ProductID       string          `json:"product_id"`
	ProductQty      decimal.Decimal `json:"product_qty"`
	PartnerID       string          `json:"partner_id,omitempty"`
	LocationID      string          `json:"location_id,omitempty"`
	LocationDestID  string          `json:"location_dest_id,omitempty"`
	CompanyID       string          `json:"company_id,omitempty"`
	OperationTypeID string          `json:"operation_type_id,omitempty"`
	State           string          `json:"state" enum:"draft,confirmed,cancel"`
	ConfirmedByID   string          `json:"confirmed_by_id,omitempty"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       string          `json:"created_at" format:"date-time"`
	UpdatedAt       string          `json:"updated_at" format:"date-time"`
	Tags            []Tag           `json:"tags"`
	PartMoves       []PartMove      `json:"part_moves"`
	ApprovalLines   []ApprovalLine  `json:"approval_lines"`
}

type PartMove struct {
	ID             string          `json:"id"`
	RepairID       string          `json:"repair_id"`
	RepairLineType string          `json:"repair_line_type" enum:"add,remove,other"`
	ProductID      string          `json:"product_id"`
	ProductUOMQty  decimal.Decimal `json:"product_uom_qty"`
	Quantity       decimal.Decimal `json:"quantity"`
	UOM            string          `json:"uom"`
	LocationID     string          `json:"location_id,omitempty"`
	LocationDestID string          `json:"location_dest_id,omitempty"`
	CompanyID      string          `json:"company_id,omitempty"`
	PartnerID      string          `json:"partner_id,omitempty"`
	ApprovalLineID string          `json:"approval_line_id,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      string          `json:"created_at" format:"date-time"`
}

type ApprovalLine struct {
	ID             string          `json:"id"`
	RepairID       string          `json:"repair_id"`
	RepairLineType string          `json:"repair_line_type" enum:"add,remove,other"`
	ProductID      string          `json:"product_id"`
	ProductUOMQty  decimal.Decimal `json:"product_uom_qty"`
	Quantity       decimal.Decimal `json:"quantity"`
	UOM            string          `json:"uom"`
	ApproveState   string          `json:"approve_state" enum:"draft,waiting,approved,rejected"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      string          `json:"created_at" format:"date-time"`
	UpdatedAt      string          `json:"updated_at" format:"date-time"`
}

// Activity is a to-do addressed to one user about one record.
type Activity struct {
	ID        string `json:"id"`
	ResKind   string `json:"res_kind"`
	ResID     string `json:"res_id"`
	UserID    string `json:"user_id"`
	Summary   string `json:"summary"`
	Note      string `json:"note,omitempty"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Body       string `json:"body,omitempty"`
	Payload    string `json:"payload_json"`
}

type Actor struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
