package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"repairflow/internal/app"
	"repairflow/internal/config"
	"repairflow/internal/db"
	"repairflow/internal/domain"
	"repairflow/internal/engine"
	"repairflow/internal/engine/auth"
	"repairflow/internal/migrate"
	"repairflow/internal/notify"
	"repairflow/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Sent   *notify.Recorder
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	cfg := config.Default()
	if err := app.Bootstrap(ctx, repo.Repo{DB: conn}, cfg); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	rec := &notify.Recorder{}
	eng.Notifier = rec
	return testEnv{Engine: eng, Ctx: ctx, Sent: rec}
}

// catalog is the shared fixture: a component receiving type, two service
// types with sequences, and products with one spare part.
type catalog struct {
	CRType      domain.OperationType
	BatteryType domain.OperationType
	WheelsType  domain.OperationType
	Battery     domain.Product
	Wheel       domain.Product
	Spare       domain.Product
}

func seedCatalog(t *testing.T, env testEnv) catalog {
	t.Helper()
	var c catalog
	var err error
	e := env.Engine
	if c.CRType, err = e.CreateOperationType(env.Ctx, engine.OperationTypeInput{
		Name: "Component Receipts", SequencePrefix: "CR/", IsComponentReceivingEnabled: true, ActorID: "admin",
	}); err != nil {
		t.Fatalf("cr type: %v", err)
	}
	if c.BatteryType, err = e.CreateOperationType(env.Ctx, engine.OperationTypeInput{
		Name: "Battery Repairs", Code: "internal", SequencePrefix: "BAT/", SelectService: "battery", ActorID: "admin",
	}); err != nil {
		t.Fatalf("battery type: %v", err)
	}
	if c.WheelsType, err = e.CreateOperationType(env.Ctx, engine.OperationTypeInput{
		Name: "Wheel Repairs", Code: "internal", SequencePrefix: "WHL/", SelectService: "wheels", ActorID: "admin",
	}); err != nil {
		t.Fatalf("wheels type: %v", err)
	}
	if c.Spare, err = e.CreateProduct(env.Ctx, engine.ProductInput{
		Name: "Cell Pack", UOM: "pcs", IsSpareparts: true,
		StandardPrice: decimal.RequireFromString("12.50"), ListPrice: decimal.RequireFromString("20"), QtyAvailable: decimal.NewFromInt(8),
		ActorID: "admin",
	}); err != nil {
		t.Fatalf("spare: %v", err)
	}
	if c.Battery, err = e.CreateProduct(env.Ctx, engine.ProductInput{Name: "Main Battery", UOM: "unit", ServiceCategory: "battery", ActorID: "admin"}); err != nil {
		t.Fatalf("battery: %v", err)
	}
	if c.Wheel, err = e.CreateProduct(env.Ctx, engine.ProductInput{Name: "Nose Wheel", UOM: "unit", ServiceCategory: "wheels", ActorID: "admin"}); err != nil {
		t.Fatalf("wheel: %v", err)
	}
	if _, err := e.AddSparePartsLine(env.Ctx, engine.SparePartsLineInput{ProductID: c.Battery.ID, SpareProductID: c.Spare.ID, ActorID: "admin"}); err != nil {
		t.Fatalf("spare line: %v", err)
	}
	return c
}

func grantSales(t *testing.T, env testEnv, actorIDs ...string) {
	t.Helper()
	for _, id := range actorIDs {
		if err := env.Engine.GrantRole(env.Ctx, id, "sale_salesman", "admin"); err != nil {
			t.Fatalf("grant %s: %v", id, err)
		}
	}
}

func componentReceipt(t *testing.T, env testEnv, c catalog, products ...domain.Product) domain.Receipt {
	t.Helper()
	var moves []engine.ReceiptMoveInput
	for _, p := range products {
		moves = append(moves, engine.ReceiptMoveInput{ProductID: p.ID, ProductUOMQty: decimal.NewFromInt(2), Quantity: decimal.NewFromInt(2)})
	}
	rc, err := env.Engine.CreateReceipt(env.Ctx, engine.ReceiptInput{
		PartnerID:         "partner-1",
		Origin:            "PO-0042",
		IsCRDocument:      true,
		CROperationTypeID: c.CRType.ID,
		LocationID:        "loc-vendor",
		LocationDestID:    "loc-stock",
		CompanyID:         "co-1",
		Moves:             moves,
		ActorID:           "clerk",
	})
	if err != nil {
		t.Fatalf("create receipt: %v", err)
	}
	return rc
}

func expectValidation(t *testing.T, err error, kind, contains string) {
	t.Helper()
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ve.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%s)", kind, ve.Kind, ve.Message)
	}
	if !strings.Contains(ve.Message, contains) {
		t.Fatalf("expected message containing %q, got %q", contains, ve.Message)
	}
}

func expectForbidden(t *testing.T, err error, message string) {
	t.Helper()
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
	if message != "" && fe.Error() != message {
		t.Fatalf("unexpected forbidden message %q", fe.Error())
	}
}

func TestSecondComponentReceivingTypeRejected(t *testing.T) {
	env := newTestEnv(t)
	c := seedCatalog(t, env)

	_, err := env.Engine.CreateOperationType(env.Ctx, engine.OperationTypeInput{
		Name: "Other Receipts", IsComponentReceivingEnabled: true, ActorID: "admin",
	})
	expectValidation(t, err, engine.KindPrecondition, "Component Receiving can only have one activated operation type (Already: Component Receipts).")

	// flipping an existing type fails too and leaves both flags as they were
	in := engine.OperationTypeInput{
		ID: c.BatteryType.ID, Name: c.BatteryType.Name, Code: c.BatteryType.Code,
		SequencePrefix: "BAT/", SelectService: "battery", IsComponentReceivingEnabled: true, ActorID: "admin",
	}
	_, err = env.Engine.UpdateOperationType(env.Ctx, in)
	expectValidation(t, err, engine.KindPrecondition, "Already: Component Receipts")

	battery, err := env.Engine.GetOperationType(env.Ctx, c.BatteryType.ID)
	if err != nil {
		t.Fatal(err)
	}
	if battery.IsComponentReceivingEnabled {
		t.Fatalf("battery type flag changed")
	}
	cr, err := env.Engine.GetOperationType(env.Ctx, c.CRType.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !cr.IsComponentReceivingEnabled {
		t.Fatalf("component receiving type lost its flag")
	}
	types, err := env.Engine.ListOperationTypes(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(types) != 3 {
		t.Fatalf("expected 3 operation types, got %d", len(types))
	}
}

func TestServiceCategoryClaimedOnce(t *testing.T) {
	env := newTestEnv(t)
	seedCatalog(t, env)

	_, err := env.Engine.CreateOperationType(env.Ctx, engine.OperationTypeInput{
		Name: "Battery Overflow", SequencePrefix: "BAT2/", SelectService: "battery", ActorID: "admin",
	})
	expectValidation(t, err, engine.KindPrecondition, "Operation Type 'Battery Repairs' is already assigned to service 'Battery Shop Services'.")

	// an unclaimed category is fine
	if _, err := env.Engine.CreateOperationType(env.Ctx, engine.OperationTypeInput{
		Name: "NDT", SequencePrefix: "NDT/", SelectService: "ndt", ActorID: "admin",
	}); err != nil {
		t.Fatalf("ndt type: %v", err)
	}
}

func TestOperationTypeInputValidated(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateOperationType(env.Ctx, engine.OperationTypeInput{Name: "Bad", SelectService: "paint", ActorID: "admin"})
	expectValidation(t, err, engine.KindPrecondition, "SelectService must be one of")
	_, err = env.Engine.CreateOperationType(env.Ctx, engine.OperationTypeInput{ActorID: "admin"})
	expectValidation(t, err, engine.KindPrecondition, "Name is required")
}

func TestSparePartsToggleNotifies(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProduct(env.Ctx, engine.ProductInput{Name: "Valve", UOM: "pcs", IsSpareparts: true, ActorID: "sam"})
	if err != nil {
		t.Fatal(err)
	}
	off := false
	if _, err := env.Engine.UpdateProduct(env.Ctx, engine.ProductUpdate{ID: p.ID, IsSpareparts: &off, ActorID: "sam"}); err != nil {
		t.Fatal(err)
	}
	// renaming alone sends nothing
	name := "Valve Mk2"
	if _, err := env.Engine.UpdateProduct(env.Ctx, engine.ProductUpdate{ID: p.ID, Name: &name, ActorID: "sam"}); err != nil {
		t.Fatal(err)
	}
	sent := env.Sent.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(sent))
	}
	if sent[0].Message != "Product 'Valve' is now Spare Parts" || sent[0].Type != notify.TypeSuccess || sent[0].UserID != "sam" {
		t.Fatalf("unexpected first notification %+v", sent[0])
	}
	if sent[1].Message != "Product 'Valve' is no longer Spare Parts" || sent[1].Type != notify.TypeWarning {
		t.Fatalf("unexpected second notification %+v", sent[1])
	}
}

func TestSparePartsLineProjection(t *testing.T) {
	env := newTestEnv(t)
	c := seedCatalog(t, env)

	lines, err := env.Engine.SparePartsLines(env.Ctx, c.Battery.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 spare line, got %d", len(lines))
	}
	l := lines[0]
	if l.SpareName != "Cell Pack" || !l.Cost.Equal(decimal.RequireFromString("12.5")) || !l.SalesPrice.Equal(decimal.NewFromInt(20)) || !l.QuantityOnHand.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("unexpected projection %+v", l)
	}

	// projections follow the spare product
	price := decimal.NewFromInt(25)
	if _, err := env.Engine.UpdateProduct(env.Ctx, engine.ProductUpdate{ID: c.Spare.ID, ListPrice: &price, ActorID: "admin"}); err != nil {
		t.Fatal(err)
	}
	lines, err = env.Engine.SparePartsLines(env.Ctx, c.Battery.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !lines[0].SalesPrice.Equal(price) {
		t.Fatalf("expected sales price 25, got %s", lines[0].SalesPrice)
	}

	// only flagged products can be spares, and only once per product
	_, err = env.Engine.AddSparePartsLine(env.Ctx, engine.SparePartsLineInput{ProductID: c.Battery.ID, SpareProductID: c.Wheel.ID, ActorID: "admin"})
	expectValidation(t, err, engine.KindPrecondition, "is not marked as Spare Parts")
	_, err = env.Engine.AddSparePartsLine(env.Ctx, engine.SparePartsLineInput{ProductID: c.Battery.ID, SpareProductID: c.Spare.ID, ActorID: "admin"})
	expectValidation(t, err, engine.KindPrecondition, "already listed")
}

func TestResolveTagReturnsSameRecord(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine

	first, err := e.ResolveTag(env.Ctx, e.DB, domain.ServiceBattery)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.ResolveTag(env.Ctx, e.DB, domain.ServiceBattery)
	if err != nil {
		t.Fatal(err)
	}
	if first == nil || second == nil || first.ID != second.ID {
		t.Fatalf("expected the same tag, got %+v and %+v", first, second)
	}
	if first.Name != "Battery Shop Services" {
		t.Fatalf("unexpected label %s", first.Name)
	}
	none, err := e.ResolveTag(env.Ctx, e.DB, "")
	if err != nil || none != nil {
		t.Fatalf("empty code should give no tag: %+v %v", none, err)
	}
	unknown, err := e.ResolveTag(env.Ctx, e.DB, domain.ServiceCategory("paint"))
	if err != nil {
		t.Fatal(err)
	}
	if unknown.Name != "paint" {
		t.Fatalf("unknown code should be its own label, got %s", unknown.Name)
	}
	tags, err := e.Repo.ListTags(env.Ctx, e.DB)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %d", len(tags))
	}
}

func TestRoleGrantRequiresDeclaredRole(t *testing.T) {
	env := newTestEnv(t)
	err := env.Engine.GrantRole(env.Ctx, "sam", "pirate", "admin")
	expectValidation(t, err, engine.KindPrecondition, "role pirate is not declared")

	grantSales(t, env, "sam")
	a, err := env.Engine.GetActor(env.Ctx, "sam")
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Roles) != 1 || a.Roles[0] != "sale_salesman" {
		t.Fatalf("unexpected roles %v", a.Roles)
	}
	if err := env.Engine.RevokeRole(env.Ctx, "sam", "sale_salesman", "admin"); err != nil {
		t.Fatal(err)
	}
	ok, err := env.Engine.Auth.HasSalesCapability(env.Ctx, env.Engine.DB, "sam")
	if err != nil || ok {
		t.Fatalf("expected no sales capability after revoke: %v %v", ok, err)
	}
}

func TestCreateAPIKeyStoresHashOnly(t *testing.T) {
	env := newTestEnv(t)
	key, plain, err := env.Engine.CreateAPIKey(env.Ctx, "bot-1", "ci", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(plain, "rf_") || key.KeyHash == plain {
		t.Fatalf("unexpected key material")
	}
	got, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain))
	if err != nil {
		t.Fatal(err)
	}
	if got.ActorID != "bot-1" || got.Name != "ci" {
		t.Fatalf("unexpected key %+v", got)
	}

	keys, err := env.Engine.ListAPIKeys(env.Ctx, "bot-1")
	if err != nil || len(keys) != 1 {
		t.Fatalf("list keys: %v (%d)", err, len(keys))
	}
	if err := env.Engine.DeleteAPIKey(env.Ctx, key.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteAPIKey(env.Ctx, key.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plain)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected revoked key to be gone, got %v", err)
	}
}
