package repairflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal repairflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credential is set. The server
	// only honours it with --allow-actor-header.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client for a server base URL such as http://host:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Quantities and prices are decimal strings.

type ReceiptMove struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name,omitempty"`
	ProductUOMQty string `json:"product_uom_qty,omitempty"`
	Quantity      string `json:"quantity,omitempty"`
	UOM           string `json:"uom,omitempty"`
}

type Receipt struct {
	ID                string        `json:"id,omitempty"`
	Name              string        `json:"name,omitempty"`
	PartnerID         string        `json:"partner_id"`
	OwnerID           string        `json:"owner_id,omitempty"`
	Origin            string        `json:"origin,omitempty"`
	PickingTypeID     string        `json:"picking_type_id,omitempty"`
	CROperationTypeID string        `json:"cr_operation_type_id,omitempty"`
	IsCRDocument      bool          `json:"is_cr_document,omitempty"`
	CRState           string        `json:"cr_state,omitempty"`
	LocationID        string        `json:"location_id,omitempty"`
	LocationDestID    string        `json:"location_dest_id,omitempty"`
	CompanyID         string        `json:"company_id,omitempty"`
	Moves             []ReceiptMove `json:"moves,omitempty"`
}

type PartMove struct {
	ID             string `json:"id"`
	RepairID       string `json:"repair_id"`
	RepairLineType string `json:"repair_line_type"`
	ProductID      string `json:"product_id"`
	ProductUOMQty  string `json:"product_uom_qty"`
	Quantity       string `json:"quantity"`
	UOM            string `json:"uom"`
	ApprovalLineID string `json:"approval_line_id,omitempty"`
}

type ApprovalLine struct {
	ID             string `json:"id"`
	RepairID       string `json:"repair_id"`
	RepairLineType string `json:"repair_line_type"`
	ProductID      string `json:"product_id"`
	ProductUOMQty  string `json:"product_uom_qty"`
	Quantity       string `json:"quantity"`
	UOM            string `json:"uom"`
	ApproveState   string `json:"approve_state"`
}

type RepairOrder struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	ReceiptID     string         `json:"receipt_id,omitempty"`
	ProductID     string         `json:"product_id"`
	ProductQty    string         `json:"product_qty"`
	State         string         `json:"state"`
	ConfirmedByID string         `json:"confirmed_by_id,omitempty"`
	CancelReason  string         `json:"cancel_reason,omitempty"`
	Tags          []string       `json:"tags"`
	PartMoves     []PartMove     `json:"part_moves"`
	ApprovalLines []ApprovalLine `json:"approval_lines"`
}

// Part is the body for manual parts and new approval lines.
type Part struct {
	RepairLineType string `json:"repair_line_type"`
	ProductID      string `json:"product_id"`
	ProductUOMQty  string `json:"product_uom_qty,omitempty"`
	Quantity       string `json:"quantity,omitempty"`
	UOM            string `json:"uom,omitempty"`
}

type Activity struct {
	ID        string `json:"id"`
	ResKind   string `json:"res_kind"`
	ResID     string `json:"res_id"`
	UserID    string `json:"user_id"`
	Summary   string `json:"summary"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Body       string `json:"body,omitempty"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreateReceipt(ctx context.Context, in Receipt) (Receipt, error) {
	var resp Receipt
	err := c.do(ctx, http.MethodPost, "receipts", in, &resp)
	return resp, err
}

func (c *Client) GetReceipt(ctx context.Context, id string) (Receipt, error) {
	var resp Receipt
	err := c.do(ctx, http.MethodGet, "receipts/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Decide answers "Repair Order received?" for a component receipt.
func (c *Client) Decide(ctx context.Context, receiptID string, received bool) (Receipt, error) {
	var resp Receipt
	err := c.do(ctx, http.MethodPost, "receipts/"+url.PathEscape(receiptID)+"/decision", map[string]any{"received": received}, &resp)
	return resp, err
}

// FollowUp lets sales create the repair orders ("create") or cancel ("cancel").
func (c *Client) FollowUp(ctx context.Context, receiptID, action string) (Receipt, error) {
	var resp Receipt
	err := c.do(ctx, http.MethodPost, "receipts/"+url.PathEscape(receiptID)+"/follow-up", map[string]any{"action": action}, &resp)
	return resp, err
}

func (c *Client) ListRepairOrders(ctx context.Context, receiptID, state string) ([]RepairOrder, error) {
	q := url.Values{}
	if receiptID != "" {
		q.Set("receipt_id", receiptID)
	}
	if state != "" {
		q.Set("state", state)
	}
	endpoint := "repairs"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []RepairOrder
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetRepairOrder(ctx context.Context, id string) (RepairOrder, error) {
	var resp RepairOrder
	err := c.do(ctx, http.MethodGet, "repairs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) ValidateRepair(ctx context.Context, id string) (RepairOrder, error) {
	var resp RepairOrder
	err := c.do(ctx, http.MethodPost, "repairs/"+url.PathEscape(id)+"/validate", nil, &resp)
	return resp, err
}

func (c *Client) CancelRepair(ctx context.Context, id, reason string) (RepairOrder, error) {
	var resp RepairOrder
	err := c.do(ctx, http.MethodPost, "repairs/"+url.PathEscape(id)+"/cancel", map[string]any{"reason": reason}, &resp)
	return resp, err
}

func (c *Client) AddPart(ctx context.Context, repairID string, p Part) (PartMove, error) {
	var resp PartMove
	err := c.do(ctx, http.MethodPost, "repairs/"+url.PathEscape(repairID)+"/parts", p, &resp)
	return resp, err
}

func (c *Client) CreateApprovalLine(ctx context.Context, repairID string, p Part) (ApprovalLine, error) {
	var resp ApprovalLine
	err := c.do(ctx, http.MethodPost, "repairs/"+url.PathEscape(repairID)+"/approval-lines", p, &resp)
	return resp, err
}

func (c *Client) SendApprovalRequest(ctx context.Context, lineID string) (ApprovalLine, error) {
	var resp ApprovalLine
	err := c.do(ctx, http.MethodPost, "approval-lines/"+url.PathEscape(lineID)+"/send", nil, &resp)
	return resp, err
}

// ConfirmApprovalLine approves or rejects a line. PartMove is set on approval.
func (c *Client) ConfirmApprovalLine(ctx context.Context, lineID, action string) (ApprovalLine, *PartMove, error) {
	var resp struct {
		Line     ApprovalLine `json:"line"`
		PartMove *PartMove    `json:"part_move"`
	}
	err := c.do(ctx, http.MethodPost, "approval-lines/"+url.PathEscape(lineID)+"/confirm", map[string]any{"action": action}, &resp)
	return resp.Line, resp.PartMove, err
}

// Activities returns the caller's open to-dos.
func (c *Client) Activities(ctx context.Context) ([]Activity, error) {
	var resp []Activity
	err := c.do(ctx, http.MethodGet, "me/activities", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
