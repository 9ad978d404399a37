package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"repairflow/internal/domain"
	"repairflow/internal/engine"
	"repairflow/internal/engine/auth"
	"repairflow/internal/export"
	"repairflow/internal/logging"
	"repairflow/internal/notify"
	"repairflow/internal/repo"
)

const moduleName = "server"

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Hub serves GET {base}/ws when set.
	Hub *notify.Hub
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"state_conflict"`
	Message string         `json:"message" example:"invalid receipt transition ro_created -> cancel"`
	Details map[string]any `json:"details,omitempty"`
}

// apiError is the error envelope of every failed call.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// out wraps a JSON response body.
type out[T any] struct {
	Body T
}

func reply[T any](v T) *out[T] { return &out[T]{Body: v} }

type idPath struct {
	ID string `path:"id"`
}

// New returns an HTTP handler exposing the repairflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return huma.NewError(status, msg, errs...)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("repairflow API", "1.0.0")
	hcfg.OpenAPIPath = "" // served with auth schemes by registerOpenAPI
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s := handlers{e: cfg.Engine, auth: cfg.Auth}
	registerHealth(group)
	registerDevAuth(group, s)
	registerMe(group, s)
	registerOperationTypes(group, s)
	registerProducts(group, s)
	registerReceipts(group, s)
	registerRepairs(group, s)
	registerApprovalLines(group, s)
	registerAudit(group, s)
	registerRBAC(group, s)
	registerDocs(router, basePath)
	registerOpenAPI(router, api, basePath)
	if cfg.Hub != nil {
		router.Get(path.Join(basePath, "ws"), func(w http.ResponseWriter, r *http.Request) {
			actorID, err := actorIDFromContext(r.Context())
			if err != nil {
				respondStatusError(w, err)
				return
			}
			cfg.Hub.Serve(w, r, actorID)
		})
	}
	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message, Details: details}}
}

type handlers struct {
	e    engine.Engine
	auth AuthConfig
}

// fail maps engine errors onto the envelope. Unknown errors are logged and
// hidden behind a 500.
func (s handlers) fail(op string, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", fe.Error(), map[string]any{"capability": fe.Capability})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		if ve.Kind == engine.KindState {
			return newAPIError(http.StatusConflict, "state_conflict", ve.Message, nil)
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", ve.Message, nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	logging.LogError(s.e.Logger, moduleName, op, "unhandled", nil, err)
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "state_conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*out[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerDevAuth(api huma.API, s handlers) {
	if !s.auth.DevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, in *struct{ Body DevLoginRequest }) (*out[DevLoginResponse], error) {
		actor := strings.TrimSpace(in.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		now := time.Now
		if s.e.Now != nil {
			now = s.e.Now
		}
		token, err := signDevToken(s.auth.JWTSecret, actor, in.Body.Roles, now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return reply(DevLoginResponse{Token: token}), nil
	})
}

func registerMe(api huma.API, s handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*out[MeResponse], error) {
		p, _ := principalFromContext(ctx)
		if p.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		resp := MeResponse{ActorID: p.ActorID, Roles: []string{}, Source: p.Source}
		if a, err := s.e.GetActor(ctx, p.ActorID); err == nil {
			resp.Name = a.Name
			resp.Roles = nonNilSlice(a.Roles)
		}
		sales, err := s.e.Auth.HasSalesCapability(ctx, s.e.DB, p.ActorID)
		if err != nil {
			return nil, s.fail("me", err)
		}
		resp.Sales = sales
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-activities",
		Method:      http.MethodGet,
		Path:        "/me/activities",
		Summary:     "To-dos assigned to the current actor",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Activity], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := s.e.Activities(ctx, actorID)
		if err != nil {
			return nil, s.fail("my-activities", err)
		}
		return reply(nonNilSlice(items)), nil
	})
}

func registerOperationTypes(api huma.API, s handlers) {
	toInput := func(id, actorID string, b OperationTypeRequest) engine.OperationTypeInput {
		return engine.OperationTypeInput{
			ID:                          id,
			Name:                        b.Name,
			Code:                        b.Code,
			SequencePrefix:              b.SequencePrefix,
			SequencePadding:             b.SequencePadding,
			IsComponentReceivingEnabled: b.IsComponentReceivingEnabled,
			SelectService:               b.SelectService,
			ActorID:                     actorID,
		}
	}
	huma.Register(api, huma.Operation{
		OperationID:   "create-operation-type",
		Method:        http.MethodPost,
		Path:          "/operation-types",
		Summary:       "Create operation type",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, in *struct{ Body OperationTypeRequest }) (*out[domain.OperationType], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := s.e.CreateOperationType(ctx, toInput("", actorID, in.Body))
		if err != nil {
			return nil, s.fail("create-operation-type", err)
		}
		return reply(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-operation-types",
		Method:      http.MethodGet,
		Path:        "/operation-types",
		Summary:     "List operation types",
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.OperationType], error) {
		items, err := s.e.ListOperationTypes(ctx)
		if err != nil {
			return nil, s.fail("list-operation-types", err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-operation-type",
		Method:      http.MethodGet,
		Path:        "/operation-types/{id}",
		Summary:     "Get operation type",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, in *idPath) (*out[domain.OperationType], error) {
		o, err := s.e.GetOperationType(ctx, in.ID)
		if err != nil {
			return nil, s.fail("get-operation-type", err)
		}
		return reply(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-operation-type",
		Method:      http.MethodPut,
		Path:        "/operation-types/{id}",
		Summary:     "Replace operation type",
		Errors:      mutationErrors,
	}, func(ctx context.Context, in *struct {
		ID   string `path:"id"`
		Body OperationTypeRequest
	}) (*out[domain.OperationType], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := s.e.UpdateOperationType(ctx, toInput(in.ID, actorID, in.Body))
		if err != nil {
			return nil, s.fail("update-operation-type", err)
		}
		return reply(o), nil
	})
}

func registerProducts(api huma.API, s handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-product",
		Method:        http.MethodPost,
		Path:          "/products",
		Summary:       "Create product",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, in *struct{ Body ProductRequest }) (*out[ProductResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := in.Body
		pi := engine.ProductInput{ID: b.ID, Name: b.Name, UOM: b.UOM, ServiceCategory: b.ServiceCategory, IsSpareparts: b.IsSpareparts, ActorID: actorID}
		var err error
		if pi.StandardPrice, err = parseDecimal("standard_price", b.StandardPrice); err != nil {
			return nil, err
		}
		if pi.ListPrice, err = parseDecimal("list_price", b.ListPrice); err != nil {
			return nil, err
		}
		if pi.QtyAvailable, err = parseDecimal("qty_available", b.QtyAvailable); err != nil {
			return nil, err
		}
		p, err := s.e.CreateProduct(ctx, pi)
		if err != nil {
			return nil, s.fail("create-product", err)
		}
		return reply(productResponse(p)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-products",
		Method:      http.MethodGet,
		Path:        "/products",
		Summary:     "List products",
	}, func(ctx context.Context, in *struct {
		SparesOnly bool `query:"spares_only"`
	}) (*out[[]ProductResponse], error) {
		items, err := s.e.ListProducts(ctx, in.SparesOnly)
		if err != nil {
			return nil, s.fail("list-products", err)
		}
		return reply(mapSlice(items, productResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-product",
		Method:      http.MethodGet,
		Path:        "/products/{id}",
		Summary:     "Get product",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, in *idPath) (*out[ProductResponse], error) {
		p, err := s.e.GetProduct(ctx, in.ID)
		if err != nil {
			return nil, s.fail("get-product", err)
		}
		return reply(productResponse(p)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-product",
		Method:      http.MethodPatch,
		Path:        "/products/{id}",
		Summary:     "Update product",
		Errors:      mutationErrors,
	}, func(ctx context.Context, in *struct {
		ID   string `path:"id"`
		Body ProductPatchRequest
	}) (*out[ProductResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := in.Body
		upd := engine.ProductUpdate{ID: in.ID, Name: b.Name, UOM: b.UOM, ServiceCategory: b.ServiceCategory, IsSpareparts: b.IsSpareparts, ActorID: actorID}
		var err error
		if upd.StandardPrice, err = parseDecimalPtr("standard_price", b.StandardPrice); err != nil {
			return nil, err
		}
		if upd.ListPrice, err = parseDecimalPtr("list_price", b.ListPrice); err != nil {
			return nil, err
		}
		if upd.QtyAvailable, err = parseDecimalPtr("qty_available", b.QtyAvailable); err != nil {
			return nil, err
		}
		p, err := s.e.UpdateProduct(ctx, upd)
		if err != nil {
			return nil, s.fail("update-product", err)
		}
		return reply(productResponse(p)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-spare-parts",
		Method:      http.MethodGet,
		Path:        "/products/{id}/spare-parts",
		Summary:     "List spare parts of a product",
	}, func(ctx context.Context, in *idPath) (*out[[]SpareLineResponse], error) {
		items, err := s.e.SparePartsLines(ctx, in.ID)
		if err != nil {
			return nil, s.fail("list-spare-parts", err)
		}
		return reply(mapSlice(items, spareLineResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-spare-part",
		Method:        http.MethodPost,
		Path:          "/products/{id}/spare-parts",
		Summary:       "Link a spare part",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, in *struct {
		ID   string `path:"id"`
		Body SpareLineRequest
	}) (*out[SpareLineResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := s.e.AddSparePartsLine(ctx, engine.SparePartsLineInput{ProductID: in.ID, SpareProductID: in.Body.SpareProductID, ActorID: actorID})
		if err != nil {
			return nil, s.fail("add-spare-part", err)
		}
		return reply(spareLineResponse(l)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-spare-part",
		Method:        http.MethodDelete,
		Path:          "/products/{id}/spare-parts/{line_id}",
		Summary:       "Unlink a spare part",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, in *struct {
		ID     string `path:"id"`
		LineID string `path:"line_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := s.e.RemoveSparePartsLine(ctx, in.ID, in.LineID, actorID); err != nil {
			return nil, s.fail("remove-spare-part", err)
		}
		return &struct{}{}, nil
	})
}

func receiptInput(actorID string, b ReceiptRequest) (engine.ReceiptInput, error) {
	in := engine.ReceiptInput{
		Name:              b.Name,
		PartnerID:         b.PartnerID,
		OwnerID:           b.OwnerID,
		Origin:            b.Origin,
		PickingTypeID:     b.PickingTypeID,
		CROperationTypeID: b.CROperationTypeID,
		IsCRDocument:      b.IsCRDocument,
		LocationID:        b.LocationID,
		LocationDestID:    b.LocationDestID,
		CompanyID:         b.CompanyID,
		ActorID:           actorID,
	}
	for i, m := range b.Moves {
		demand, err := parseDecimal(fmt.Sprintf("moves[%d].product_uom_qty", i), m.ProductUOMQty)
		if err != nil {
			return in, err
		}
		qty, err := parseDecimal(fmt.Sprintf("moves[%d].quantity", i), m.Quantity)
		if err != nil {
			return in, err
		}
		in.Moves = append(in.Moves, engine.ReceiptMoveInput{ProductID: m.ProductID, ProductUOMQty: demand, Quantity: qty, UOM: m.UOM})
	}
	return in, nil
}

func registerReceipts(api huma.API, s handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-receipt",
		Method:        http.MethodPost,
		Path:          "/receipts",
		Summary:       "Create receipt",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, in *struct{ Body ReceiptRequest }) (*out[ReceiptResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ri, err := receiptInput(actorID, in.Body)
		if err != nil {
			return nil, err
		}
		rc, err := s.e.CreateReceipt(ctx, ri)
		if err != nil {
			return nil, s.fail("create-receipt", err)
		}
		return reply(receiptResponse(rc)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-receipts",
		Method:      http.MethodGet,
		Path:        "/receipts",
		Summary:     "List receipts",
	}, func(ctx context.Context, in *struct {
		CRState     string `query:"cr_state"`
		CRDocuments bool   `query:"cr_documents"`
		PartnerID   string `query:"partner_id"`
		Limit       int    `query:"limit" default:"100"`
	}) (*out[[]ReceiptResponse], error) {
		items, err := s.e.ListReceipts(ctx, repo.ReceiptFilters{CRState: in.CRState, CRDocuments: in.CRDocuments, PartnerID: in.PartnerID, Limit: normalizeLimit(in.Limit)})
		if err != nil {
			return nil, s.fail("list-receipts", err)
		}
		return reply(mapSlice(items, receiptResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-receipt",
		Method:      http.MethodGet,
		Path:        "/receipts/{id}",
		Summary:     "Get receipt",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, in *idPath) (*out[ReceiptResponse], error) {
		rc, err := s.e.GetReceipt(ctx, in.ID)
		if err != nil {
			return nil, s.fail("get-receipt", err)
		}
		return reply(receiptResponse(rc)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-receipt",
		Method:      http.MethodPatch,
		Path:        "/receipts/{id}",
		Summary:     "Update receipt header",
		Errors:      mutationErrors,
	}, func(ctx context.Context, in *struct {
		ID   string `path:"id"`
		Body ReceiptPatchRequest
	}) (*out[ReceiptResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := in.Body
		rc, err := s.e.UpdateReceipt(ctx, engine.ReceiptUpdate{
			ID: in.ID, Name: b.Name, PartnerID: b.PartnerID, OwnerID: b.OwnerID, Origin: b.Origin,
			PickingTypeID: b.PickingTypeID, CROperationTypeID: b.CROperationTypeID,
			LocationID: b.LocationID, LocationDestID: b.LocationDestID, CompanyID: b.CompanyID,
			ActorID: actorID,
		})
		if err != nil {
			return nil, s.fail("update-receipt", err)
		}
		return reply(receiptResponse(rc)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "copy-receipt",
		Method:        http.MethodPost,
		Path:          "/receipts/{id}/copy",
		Summary:       "Duplicate a receipt into a new draft",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, in *idPath) (*out[ReceiptResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rc, err := s.e.CopyReceipt(ctx, in.ID, actorID)
		if err != nil {
			return nil, s.fail("copy-receipt", err)
		}
		return reply(receiptResponse(rc)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-receipt",
		Method:      http.MethodPost,
		Path:        "/receipts/{id}/decision",
		Summary:     "Answer whether repair orders were received",
		Errors:      mutationErrors,
	}, func(ctx context.Context, in *struct {
		ID   string `path:"id"`
		Body DecisionRequest
	}) (*out[ReceiptResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rc, err := s.e.Decide(ctx, engine.DecisionInput{ReceiptID: in.ID, Received: in.Body.Received, ActorID: actorID})
		if err != nil {
			return nil, s.fail("decide-receipt", err)
		}
		return reply(receiptResponse(rc)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "follow-up-receipt",
		Method:      http.MethodPost,
		Path:        "/receipts/{id}/follow-up",
		Summary:     "Sales team creates the repair orders or cancels the receipt",
		Errors:      mutationErrors,
	}, func(ctx context.Context, in *struct {
		ID   string `path:"id"`
		Body FollowUpRequest
	}) (*out[ReceiptResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rc, err := s.e.FollowUp(ctx, engine.FollowUpInput{ReceiptID: in.ID, Action: in.Body.Action, ActorID: actorID})
		if err != nil {
			return nil, s.fail("follow-up-receipt", err)
		}
		return reply(receiptResponse(rc)), nil
	})
}

func registerRepairs(api huma.API, s handlers) {
	type repairQuery struct {
		ReceiptID string `query:"receipt_id"`
		State     string `query:"state"`
		Limit     int    `query:"limit" default:"100"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-repairs",
		Method:      http.MethodGet,
		Path:        "/repairs",
		Summary:     "List repair orders",
	}, func(ctx context.Context, in *repairQuery) (*out[[]RepairResponse], error) {
		items, err := s.e.ListRepairOrders(ctx, repo.RepairFilters{ReceiptID: in.ReceiptID, State: in.State, Limit: normalizeLimit(in.Limit)})
		if err != nil {
			return nil, s.fail("list-repairs", err)
		}
		return reply(mapSlice(items, repairResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-repairs",
		Method:      http.MethodGet,
		Path:        "/repairs/export",
		Summary:     "Export repair orders as xlsx",
	}, func(ctx context.Context, in *repairQuery) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		items, err := s.e.ListRepairOrders(ctx, repo.RepairFilters{ReceiptID: in.ReceiptID, State: in.State, Limit: normalizeLimit(in.Limit)})
		if err != nil {
			return nil, s.fail("export-repairs", err)
		}
		full := make([]domain.RepairOrder, 0, len(items))
		for _, ro := range items {
			loaded, err := s.e.GetRepairOrder(ctx, ro.ID)
			if err != nil {
				return nil, s.fail("export-repairs", err)
			}
			full = append(full, loaded)
		}
		var buf bytes.Buffer
		if err := export.RepairOrders(&buf, full); err != nil {
			return nil, s.fail("export-repairs", err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			ContentDisposition: `attachment; filename="repair_orders.xlsx"`,
			Body:               buf.Bytes(),
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-repair",
		Method:      http.MethodGet,
		Path:        "/repairs/{id}",
		Summary:     "Get repair order with parts and approval lines",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, in *idPath) (*out[RepairResponse], error) {
		ro, err := s.e.GetRepairOrder(ctx, in.ID)
		if err != nil {
			return nil, s.fail("get-repair", err)
		}
		return reply(repairResponse(ro)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-repair",
		Method:      http.MethodPost,
		Path:        "/repairs/{id}/validate",
		Summary:     "Confirm a draft repair order",
		Errors:      mutationErrors,
	}, func(ctx context.Context, in *idPath) (*out[RepairResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ro, err := s.e.ValidateRepair(ctx, in.ID, actorID)
		if err != nil {
			return nil, s.fail("validate-repair", err)
		}
		return reply(repairResponse(ro)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-repair",
		Method:      http.MethodPost,
		Path:        "/repairs/{id}/cancel",
		Summary:     "Cancel a repair order with a reason",
		Errors:      mutationErrors,
	}, func(ctx context.Context, in *struct {
		ID   string `path:"id"`
		Body CancelRepairRequest
	}) (*out[RepairResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ro, err := s.e.CancelRepair(ctx, engine.CancelRepairInput{RepairID: in.ID, Reason: in.Body.Reason, ActorID: actorID})
		if err != nil {
			return nil, s.fail("cancel-repair", err)
		}
		return reply(repairResponse(ro)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-repair-part",
		Method:        http.MethodPost,
		Path:          "/repairs/{id}/parts",
		Summary:       "Add a part move by hand (sales only)",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, in *struct {
		ID   string `path:"id"`
		Body PartRequest
	}) (*out[PartMoveResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		demand, err := parseDecimal("product_uom_qty", in.Body.ProductUOMQty)
		if err != nil {
			return nil, err
		}
		qty, err := parseDecimal("quantity", in.Body.Quantity)
		if err != nil {
			return nil, err
		}
		pm, err := s.e.AddPart(ctx, engine.PartInput{
			RepairID: in.ID, RepairLineType: in.Body.RepairLineType, ProductID: in.Body.ProductID,
			ProductUOMQty: demand, Quantity: qty, UOM: in.Body.UOM, ActorID: actorID,
		})
		if err != nil {
			return nil, s.fail("add-repair-part", err)
		}
		return reply(partMoveResponse(pm)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-approval-lines",
		Method:      http.MethodGet,
		Path:        "/repairs/{id}/approval-lines",
		Summary:     "List approval lines of a repair order",
	}, func(ctx context.Context, in *idPath) (*out[[]ApprovalLineResponse], error) {
		items, err := s.e.ApprovalLines(ctx, in.ID)
		if err != nil {
			return nil, s.fail("list-approval-lines", err)
		}
		return reply(mapSlice(items, approvalLineResponse)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-approval-line",
		Method:        http.MethodPost,
		Path:          "/repairs/{id}/approval-lines",
		Summary:       "Propose a parts change",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, in *struct {
		ID   string `path:"id"`
		Body PartRequest
	}) (*out[ApprovalLineResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		demand, err := parseDecimal("product_uom_qty", in.Body.ProductUOMQty)
		if err != nil {
			return nil, err
		}
		qty, err := parseDecimal("quantity", in.Body.Quantity)
		if err != nil {
			return nil, err
		}
		l, err := s.e.CreateApprovalLine(ctx, engine.ApprovalLineInput{
			RepairID: in.ID, RepairLineType: in.Body.RepairLineType, ProductID: in.Body.ProductID,
			ProductUOMQty: demand, Quantity: qty, UOM: in.Body.UOM, ActorID: actorID,
		})
		if err != nil {
			return nil, s.fail("create-approval-line", err)
		}
		return reply(approvalLineResponse(l)), nil
	})
}

func registerApprovalLines(api huma.API, s handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "update-approval-line",
		Method:      http.MethodPatch,
		Path:        "/approval-lines/{id}",
		Summary:     "Edit a draft approval line",
		Errors:      mutationErrors,
	}, func(ctx context.Context, in *struct {
		ID   string `path:"id"`
		Body ApprovalLinePatchRequest
	}) (*out[ApprovalLineResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := in.Body
		upd := engine.ApprovalLineUpdate{ID: in.ID, RepairLineType: b.RepairLineType, ProductID: b.ProductID, UOM: b.UOM, ActorID: actorID}
		var err error
		if upd.ProductUOMQty, err = parseDecimalPtr("product_uom_qty", b.ProductUOMQty); err != nil {
			return nil, err
		}
		if upd.Quantity, err = parseDecimalPtr("quantity", b.Quantity); err != nil {
			return nil, err
		}
		l, err := s.e.UpdateApprovalLine(ctx, upd)
		if err != nil {
			return nil, s.fail("update-approval-line", err)
		}
		return reply(approvalLineResponse(l)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-approval-request",
		Method:      http.MethodPost,
		Path:        "/approval-lines/{id}/send",
		Summary:     "Submit an approval line for review",
		Errors:      mutationErrors,
	}, func(ctx context.Context, in *idPath) (*out[ApprovalLineResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := s.e.SendApprovalRequest(ctx, in.ID, actorID)
		if err != nil {
			return nil, s.fail("send-approval-request", err)
		}
		return reply(approvalLineResponse(l)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-approval-line",
		Method:      http.MethodPost,
		Path:        "/approval-lines/{id}/confirm",
		Summary:     "Approve or reject an approval line (sales only)",
		Errors:      mutationErrors,
	}, func(ctx context.Context, in *struct {
		ID   string `path:"id"`
		Body ConfirmRequest
	}) (*out[ConfirmResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, pm, err := s.e.ConfirmApprovalLine(ctx, engine.ConfirmInput{LineID: in.ID, Action: in.Body.Action, ActorID: actorID})
		if err != nil {
			return nil, s.fail("confirm-approval-line", err)
		}
		resp := ConfirmResponse{Line: approvalLineResponse(l)}
		if pm != nil {
			m := partMoveResponse(*pm)
			resp.PartMove = &m
		}
		return reply(resp), nil
	})
}

func registerAudit(api huma.API, s handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, in *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*out[paginatedEvents], error) {
		limit := normalizeLimit(in.Limit)
		var cursor int64
		if in.Cursor != "" {
			parsed, err := strconv.ParseInt(in.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": in.Cursor})
			}
			cursor = parsed
		}
		items, err := s.e.AuditLog(ctx, limit+1, cursor, repo.EventFilter{Type: in.Type, EntityKind: in.EntityKind, EntityID: in.EntityID})
		if err != nil {
			return nil, s.fail("list-events", err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notes",
		Method:      http.MethodGet,
		Path:        "/notes/{kind}/{id}",
		Summary:     "Chatter of one record, oldest first",
	}, func(ctx context.Context, in *struct {
		Kind string `path:"kind" enum:"receipt,repair_order,approval_line,product,operation_type"`
		ID   string `path:"id"`
	}) (*out[[]domain.Event], error) {
		items, err := s.e.Notes(ctx, in.Kind, in.ID)
		if err != nil {
			return nil, s.fail("list-notes", err)
		}
		return reply(nonNilSlice(items)), nil
	})
}

// requireManager gates role and key administration.
func (s handlers) requireManager(ctx context.Context, actorID string) error {
	ok, err := s.e.Repo.ActorHasAnyRole(ctx, s.e.DB, actorID, []string{"sale_manager"})
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Capability: "sale_manager", Message: "Only sales managers can administer roles and keys."}
	}
	return nil
}

func registerRBAC(api huma.API, s handlers) {
	for _, grant := range []bool{true, false} {
		grant := grant
		op, verb := "revoke-role", "revoke"
		if grant {
			op, verb = "grant-role", "grant"
		}
		huma.Register(api, huma.Operation{
			OperationID:   op,
			Method:        http.MethodPost,
			Path:          "/rbac/roles/" + verb,
			Summary:       strings.ToUpper(verb[:1]) + verb[1:] + " role",
			DefaultStatus: http.StatusNoContent,
			Errors:        mutationErrors,
		}, func(ctx context.Context, in *struct{ Body RoleChangeRequest }) (*struct{}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			if err := s.requireManager(ctx, actorID); err != nil {
				return nil, s.fail(op, err)
			}
			var err error
			if grant {
				err = s.e.GrantRole(ctx, in.Body.ActorID, in.Body.RoleID, actorID)
			} else {
				err = s.e.RevokeRole(ctx, in.Body.ActorID, in.Body.RoleID, actorID)
			}
			if err != nil {
				return nil, s.fail(op, err)
			}
			return &struct{}{}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/rbac/api-keys",
		Summary:       "Issue an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, in *struct{ Body APIKeyRequest }) (*out[APIKeyResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := s.requireManager(ctx, actorID); err != nil {
			return nil, s.fail("create-api-key", err)
		}
		key, plain, err := s.e.CreateAPIKey(ctx, in.Body.ActorID, in.Body.Name, actorID)
		if err != nil {
			return nil, s.fail("create-api-key", err)
		}
		return reply(APIKeyResponse{ID: key.ID, ActorID: key.ActorID, Name: key.Name, Key: plain}), nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
