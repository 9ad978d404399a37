package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"repairflow/internal/app"
	"repairflow/internal/config"
	"repairflow/internal/db"
	"repairflow/internal/domain"
	"repairflow/internal/engine"
	"repairflow/internal/migrate"
	"repairflow/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := app.Bootstrap(context.Background(), repo.Repo{DB: conn}, cfg); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{
		JWTSecret:        testSecret,
		AllowActorHeader: true,
		DevLogin:         true,
	}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

type seeded struct {
	CRType  domain.OperationType
	Battery domain.Product
}

// seed creates a component receiving type, a battery repair type and a
// battery product directly through the engine.
func seed(t *testing.T, srv *testServer) seeded {
	t.Helper()
	ctx := context.Background()
	e := srv.Engine
	var s seeded
	var err error
	if s.CRType, err = e.CreateOperationType(ctx, engine.OperationTypeInput{
		Name: "Component Receipts", Code: "incoming", SequencePrefix: "CR/", IsComponentReceivingEnabled: true, ActorID: "admin",
	}); err != nil {
		t.Fatalf("cr type: %v", err)
	}
	if _, err = e.CreateOperationType(ctx, engine.OperationTypeInput{
		Name: "Battery Repairs", Code: "internal", SequencePrefix: "BAT/", SelectService: "battery", ActorID: "admin",
	}); err != nil {
		t.Fatalf("battery type: %v", err)
	}
	if s.Battery, err = e.CreateProduct(ctx, engine.ProductInput{
		Name: "Main Battery", UOM: "unit", ServiceCategory: "battery", StandardPrice: decimal.NewFromInt(100), ActorID: "admin",
	}); err != nil {
		t.Fatalf("battery: %v", err)
	}
	return s
}

func createReceipt(t *testing.T, srv *testServer, s seeded) ReceiptResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/receipts", map[string]any{
		"partner_id":           "partner-1",
		"origin":               "PO-7",
		"is_cr_document":       true,
		"cr_operation_type_id": s.CRType.ID,
		"moves": []map[string]any{
			{"product_id": s.Battery.ID, "product_uom_qty": "1", "quantity": "1"},
		},
	}, as("clerk"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create receipt status %d: %s", res.StatusCode, string(data))
	}
	var rc ReceiptResponse
	if err := json.Unmarshal(data, &rc); err != nil {
		t.Fatalf("unmarshal receipt: %v", err)
	}
	return rc
}

func TestReceiptDecisionCreatesRepairOrders(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seed(t, srv)
	rc := createReceipt(t, srv, s)
	if rc.CRState != domain.CRStateDraft {
		t.Fatalf("expected draft, got %s", rc.CRState)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/receipts/"+rc.ID+"/decision", map[string]any{"received": true}, as("clerk"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("decision status %d: %s", res.StatusCode, string(data))
	}
	var decided ReceiptResponse
	if err := json.Unmarshal(data, &decided); err != nil {
		t.Fatalf("unmarshal receipt: %v", err)
	}
	if decided.CRState != domain.CRStateROCreated {
		t.Fatalf("expected ro_created, got %s", decided.CRState)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/repairs?receipt_id="+rc.ID, nil, as("clerk"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list repairs status %d: %s", res.StatusCode, string(data))
	}
	var repairs []RepairResponse
	if err := json.Unmarshal(data, &repairs); err != nil {
		t.Fatalf("unmarshal repairs: %v", err)
	}
	if len(repairs) != 1 {
		t.Fatalf("expected 1 repair order, got %d", len(repairs))
	}
	if repairs[0].Name != "BAT/00001" || repairs[0].State != domain.RepairDraft {
		t.Fatalf("unexpected repair order %+v", repairs[0])
	}

	// a second decision hits the terminal state
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/receipts/"+rc.ID+"/decision", map[string]any{"received": true}, as("clerk"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if body := decodeError(t, data); body.Code != "state_conflict" {
		t.Fatalf("expected state_conflict, got %+v", body)
	}
}

func TestFollowUpForbiddenWithoutSalesRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seed(t, srv)
	rc := createReceipt(t, srv, s)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/receipts/"+rc.ID+"/decision", map[string]any{"received": false}, as("clerk"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("decision status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/receipts/"+rc.ID+"/follow-up", map[string]any{"action": "create"}, as("clerk"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	if body := decodeError(t, data); body.Code != "forbidden" {
		t.Fatalf("expected forbidden, got %+v", body)
	}

	if err := srv.Engine.GrantRole(context.Background(), "sally", "sale_salesman", "admin"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/receipts/"+rc.ID+"/follow-up", map[string]any{"action": "cancel"}, as("sally"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("follow-up status %d: %s", res.StatusCode, string(data))
	}
	var cancelled ReceiptResponse
	if err := json.Unmarshal(data, &cancelled); err != nil {
		t.Fatalf("unmarshal receipt: %v", err)
	}
	if cancelled.CRState != domain.CRStateCancel {
		t.Fatalf("expected cancel, got %s", cancelled.CRState)
	}
}

func TestErrorEnvelopes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	seed(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/receipts", map[string]any{
		"partner_id":     "partner-1",
		"is_cr_document": true,
	}, as("clerk"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	if body := decodeError(t, data); body.Code != "validation_failed" {
		t.Fatalf("expected validation_failed, got %+v", body)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/receipts/missing", nil, as("clerk"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/products", map[string]any{
		"name": "Bad", "uom": "unit", "standard_price": "abc",
	}, as("clerk"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/receipts", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
}

func TestApprovalLineFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seed(t, srv)
	rc := createReceipt(t, srv, s)
	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/receipts/"+rc.ID+"/decision", map[string]any{"received": true}, as("clerk")); res.StatusCode != http.StatusOK {
		t.Fatalf("decision status %d: %s", res.StatusCode, string(data))
	}
	repairs, err := srv.Engine.ListRepairOrders(context.Background(), repo.RepairFilters{ReceiptID: rc.ID})
	if err != nil || len(repairs) != 1 {
		t.Fatalf("list repairs: %v (%d)", err, len(repairs))
	}
	roID := repairs[0].ID

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/repairs/"+roID+"/approval-lines", map[string]any{
		"repair_line_type": "add", "product_id": s.Battery.ID, "product_uom_qty": "1",
	}, as("tech"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create line status %d: %s", res.StatusCode, string(data))
	}
	var line ApprovalLineResponse
	if err := json.Unmarshal(data, &line); err != nil {
		t.Fatalf("unmarshal line: %v", err)
	}

	if err := srv.Engine.GrantRole(context.Background(), "mgr", "sale_manager", "admin"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/approval-lines/"+line.ID+"/send", nil, as("tech")); res.StatusCode != http.StatusOK {
		t.Fatalf("send status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me/activities", nil, as("mgr"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activities status %d: %s", res.StatusCode, string(data))
	}
	var todos []domain.Activity
	if err := json.Unmarshal(data, &todos); err != nil {
		t.Fatalf("unmarshal activities: %v", err)
	}
	if len(todos) != 1 || todos[0].ResID != line.ID {
		t.Fatalf("expected one approval to-do, got %+v", todos)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v1/approval-lines/"+line.ID, map[string]any{"quantity": "3"}, as("tech"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 editing a line under review, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/approval-lines/"+line.ID+"/confirm", map[string]any{"action": "approve"}, as("mgr"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm status %d: %s", res.StatusCode, string(data))
	}
	var confirmed ConfirmResponse
	if err := json.Unmarshal(data, &confirmed); err != nil {
		t.Fatalf("unmarshal confirm: %v", err)
	}
	if confirmed.Line.ApproveState != domain.ApproveApproved || confirmed.PartMove == nil {
		t.Fatalf("unexpected confirm response %+v", confirmed)
	}
	if confirmed.PartMove.ApprovalLineID != line.ID {
		t.Fatalf("part move not linked to line: %+v", confirmed.PartMove)
	}
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"actor_id": "dana"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me MeResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "dana" || me.Source != "jwt" || me.Sales {
		t.Fatalf("unexpected principal %+v", me)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + login.Token + "x"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered token, got %d", res.StatusCode)
	}
}

func TestAPIKeysRequireManager(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rbac/api-keys", map[string]any{"actor_id": "bot", "name": "ci"}, as("clerk"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}

	if err := srv.Engine.GrantRole(context.Background(), "mgr", "sale_manager", "admin"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/rbac/api-keys", map[string]any{"actor_id": "bot", "name": "ci"}, as("mgr"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if key.Key == "" {
		t.Fatalf("expected plaintext key in response")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	if !strings.Contains(string(data), `"actor_id":"bot"`) {
		t.Fatalf("expected bot principal, got %s", string(data))
	}
}

func TestRepairExportIsSpreadsheet(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	s := seed(t, srv)
	rc := createReceipt(t, srv, s)
	if res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/receipts/"+rc.ID+"/decision", map[string]any{"received": true}, as("clerk")); res.StatusCode != http.StatusOK {
		t.Fatalf("decision status %d: %s", res.StatusCode, string(data))
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/repairs/export", nil, as("clerk"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status %d: %s", res.StatusCode, string(data))
	}
	if !strings.Contains(res.Header.Get("Content-Type"), "spreadsheetml") {
		t.Fatalf("unexpected content type %q", res.Header.Get("Content-Type"))
	}
	// xlsx is a zip archive
	if len(data) < 4 || string(data[:2]) != "PK" {
		t.Fatalf("expected zip payload, got %d bytes", len(data))
	}
}

func TestOpenAPIIsPublicAndDeclaresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d: %s", res.StatusCode, string(data))
	}
	for _, want := range []string{"bearerAuth", "apiKeyAuth", "/v1/receipts/{id}/decision", "ApiError"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("openapi missing %q", want)
		}
	}
}
