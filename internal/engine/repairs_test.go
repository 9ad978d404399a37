package engine_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"repairflow/internal/domain"
	"repairflow/internal/engine"
	"repairflow/internal/notify"
	"repairflow/internal/repo"
)

// batteryRepair decides a one-line component receipt and returns the
// resulting repair order.
func batteryRepair(t *testing.T, env testEnv, c catalog) domain.RepairOrder {
	t.Helper()
	rc := componentReceipt(t, env, c, c.Battery)
	if _, err := env.Engine.Decide(env.Ctx, engine.DecisionInput{ReceiptID: rc.ID, Received: true, ActorID: "clerk"}); err != nil {
		t.Fatalf("decide: %v", err)
	}
	ros, err := env.Engine.ListRepairOrders(env.Ctx, repo.RepairFilters{ReceiptID: rc.ID})
	if err != nil || len(ros) != 1 {
		t.Fatalf("expected one repair order: %v", err)
	}
	return ros[0]
}

func TestManualPartRequiresSales(t *testing.T) {
	env := newTestEnv(t)
	c := seedCatalog(t, env)
	grantSales(t, env, "sam")
	ro := batteryRepair(t, env, c)

	in := engine.PartInput{RepairID: ro.ID, RepairLineType: domain.LineAdd, ProductID: c.Spare.ID, Quantity: decimal.NewFromInt(3), ActorID: "tech"}
	_, err := env.Engine.AddPart(env.Ctx, in)
	expectForbidden(t, err, "Only Sales users can add Parts manually.")

	in.ActorID = "sam"
	pm, err := env.Engine.AddPart(env.Ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if pm.UOM != "pcs" || pm.PartnerID != "partner-1" || pm.LocationID != "loc-vendor" {
		t.Fatalf("unexpected part move %+v", pm)
	}
	got, err := env.Engine.GetRepairOrder(env.Ctx, ro.ID)
	if err != nil {
		t.Fatal(err)
	}
	// one automatic spare plus the manual one
	if len(got.PartMoves) != 2 {
		t.Fatalf("expected 2 part moves, got %d", len(got.PartMoves))
	}
}

func TestApprovalLineLockedOutsideDraft(t *testing.T) {
	env := newTestEnv(t)
	c := seedCatalog(t, env)
	grantSales(t, env, "sam")
	ro := batteryRepair(t, env, c)

	newLine := func() domain.ApprovalLine {
		l, err := env.Engine.CreateApprovalLine(env.Ctx, engine.ApprovalLineInput{
			RepairID: ro.ID, RepairLineType: domain.LineAdd, ProductID: c.Spare.ID, Quantity: decimal.NewFromInt(1), ActorID: "tech",
		})
		if err != nil {
			t.Fatal(err)
		}
		return l
	}
	qty := decimal.NewFromInt(9)
	cases := []struct {
		name    string
		prepare func(id string)
		want    string
	}{
		{"waiting", func(id string) {}, "Editing Not Allowed"},
		{"approved", func(id string) {
			if _, _, err := env.Engine.ConfirmApprovalLine(env.Ctx, engine.ConfirmInput{LineID: id, Action: engine.ConfirmApprove, ActorID: "sam"}); err != nil {
				t.Fatal(err)
			}
		}, "Already Approved"},
		{"rejected", func(id string) {
			if _, _, err := env.Engine.ConfirmApprovalLine(env.Ctx, engine.ConfirmInput{LineID: id, Action: engine.ConfirmReject, ActorID: "sam"}); err != nil {
				t.Fatal(err)
			}
		}, "Line Rejected"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := newLine()
			if _, err := env.Engine.SendApprovalRequest(env.Ctx, l.ID, "tech"); err != nil {
				t.Fatal(err)
			}
			tc.prepare(l.ID)
			before, err := env.Engine.GetApprovalLine(env.Ctx, l.ID)
			if err != nil {
				t.Fatal(err)
			}
			_, err = env.Engine.UpdateApprovalLine(env.Ctx, engine.ApprovalLineUpdate{ID: l.ID, Quantity: &qty, ActorID: "tech"})
			expectValidation(t, err, engine.KindState, tc.want)
			after, err := env.Engine.GetApprovalLine(env.Ctx, l.ID)
			if err != nil {
				t.Fatal(err)
			}
			if !after.Quantity.Equal(before.Quantity) || after.ApproveState != before.ApproveState {
				t.Fatalf("line changed: %+v", after)
			}
		})
	}

	// draft lines stay editable
	l := newLine()
	updated, err := env.Engine.UpdateApprovalLine(env.Ctx, engine.ApprovalLineUpdate{ID: l.ID, Quantity: &qty, ActorID: "tech"})
	if err != nil {
		t.Fatal(err)
	}
	if !updated.Quantity.Equal(qty) {
		t.Fatalf("expected quantity 9, got %s", updated.Quantity)
	}
}

func TestApprovalConfirmWritesOnePartMove(t *testing.T) {
	env := newTestEnv(t)
	c := seedCatalog(t, env)
	grantSales(t, env, "sam")
	ro := batteryRepair(t, env, c)

	approved, err := env.Engine.CreateApprovalLine(env.Ctx, engine.ApprovalLineInput{
		RepairID: ro.ID, RepairLineType: domain.LineRemove, ProductID: c.Wheel.ID, Quantity: decimal.NewFromInt(4), ActorID: "tech",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !approved.ProductUOMQty.Equal(decimal.NewFromInt(1)) || approved.UOM != "unit" || approved.ApproveState != domain.ApproveDraft {
		t.Fatalf("unexpected line defaults %+v", approved)
	}
	rejected, err := env.Engine.CreateApprovalLine(env.Ctx, engine.ApprovalLineInput{
		RepairID: ro.ID, RepairLineType: domain.LineAdd, ProductID: c.Spare.ID, ActorID: "tech",
	})
	if err != nil {
		t.Fatal(err)
	}

	// only waiting lines can be confirmed
	_, _, err = env.Engine.ConfirmApprovalLine(env.Ctx, engine.ConfirmInput{LineID: approved.ID, Action: engine.ConfirmApprove, ActorID: "sam"})
	expectValidation(t, err, engine.KindState, "invalid approval transition draft -> approved")

	for _, id := range []string{approved.ID, rejected.ID} {
		if _, err := env.Engine.SendApprovalRequest(env.Ctx, id, "tech"); err != nil {
			t.Fatal(err)
		}
	}
	_, _, err = env.Engine.ConfirmApprovalLine(env.Ctx, engine.ConfirmInput{LineID: approved.ID, Action: engine.ConfirmApprove, ActorID: "tech"})
	expectForbidden(t, err, "Only the Sales Team can approve or reject approval lines.")

	line, pm, err := env.Engine.ConfirmApprovalLine(env.Ctx, engine.ConfirmInput{LineID: approved.ID, Action: engine.ConfirmApprove, ActorID: "sam"})
	if err != nil {
		t.Fatal(err)
	}
	if line.ApproveState != domain.ApproveApproved || pm == nil {
		t.Fatalf("expected approved line with a part move")
	}
	if pm.ApprovalLineID != approved.ID || pm.RepairLineType != domain.LineRemove || !pm.Quantity.Equal(decimal.NewFromInt(4)) || pm.UOM != "unit" {
		t.Fatalf("unexpected part move %+v", pm)
	}
	_, _, err = env.Engine.ConfirmApprovalLine(env.Ctx, engine.ConfirmInput{LineID: approved.ID, Action: engine.ConfirmApprove, ActorID: "sam"})
	expectValidation(t, err, engine.KindState, "invalid approval transition approved -> approved")

	line, pm, err = env.Engine.ConfirmApprovalLine(env.Ctx, engine.ConfirmInput{LineID: rejected.ID, Action: engine.ConfirmReject, ActorID: "sam"})
	if err != nil {
		t.Fatal(err)
	}
	if line.ApproveState != domain.ApproveRejected || pm != nil {
		t.Fatalf("reject must not create a part move")
	}

	got, err := env.Engine.GetRepairOrder(env.Ctx, ro.ID)
	if err != nil {
		t.Fatal(err)
	}
	fromApproval := 0
	for _, m := range got.PartMoves {
		if m.ApprovalLineID != "" {
			fromApproval++
		}
	}
	if fromApproval != 1 {
		t.Fatalf("expected 1 part move from approval, got %d", fromApproval)
	}
	if len(got.ApprovalLines) != 2 {
		t.Fatalf("expected 2 approval lines, got %d", len(got.ApprovalLines))
	}
}

func TestSendApprovalRequestRepeats(t *testing.T) {
	env := newTestEnv(t)
	c := seedCatalog(t, env)
	grantSales(t, env, "sam", "mia")
	ro := batteryRepair(t, env, c)

	l, err := env.Engine.CreateApprovalLine(env.Ctx, engine.ApprovalLineInput{
		RepairID: ro.ID, RepairLineType: domain.LineAdd, ProductID: c.Spare.ID, ActorID: "tech",
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		got, err := env.Engine.SendApprovalRequest(env.Ctx, l.ID, "tech")
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if got.ApproveState != domain.ApproveWaiting {
			t.Fatalf("expected waiting, got %s", got.ApproveState)
		}
	}
	acts, err := env.Engine.RecordActivities(env.Ctx, engine.KindRepair, ro.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(acts) != 4 {
		t.Fatalf("expected 4 activities, got %d", len(acts))
	}
	for _, a := range acts {
		if a.Summary != engine.SummaryApprovalRequest || a.Note != "Approval needed for: Cell Pack" {
			t.Fatalf("unexpected activity %+v", a)
		}
	}

	if _, _, err := env.Engine.ConfirmApprovalLine(env.Ctx, engine.ConfirmInput{LineID: l.ID, Action: engine.ConfirmReject, ActorID: "sam"}); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.SendApprovalRequest(env.Ctx, l.ID, "tech")
	expectValidation(t, err, engine.KindState, "invalid approval transition rejected -> waiting")
}

func TestValidateKeepsFirstConfirmer(t *testing.T) {
	env := newTestEnv(t)
	c := seedCatalog(t, env)
	ro := batteryRepair(t, env, c)

	got, err := env.Engine.ValidateRepair(env.Ctx, ro.ID, "tech")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.RepairConfirmed || got.ConfirmedByID != "tech" {
		t.Fatalf("unexpected repair %+v", got)
	}
	_, err = env.Engine.ValidateRepair(env.Ctx, ro.ID, "other")
	expectValidation(t, err, engine.KindState, "invalid repair order transition confirmed -> confirmed")
	got, err = env.Engine.GetRepairOrder(env.Ctx, ro.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ConfirmedByID != "tech" {
		t.Fatalf("confirmer overwritten with %s", got.ConfirmedByID)
	}
}

func TestCancelRepairWizard(t *testing.T) {
	env := newTestEnv(t)
	c := seedCatalog(t, env)
	if _, err := env.Engine.RegisterActor(env.Ctx, "sam", "Sam Seller"); err != nil {
		t.Fatal(err)
	}
	ro := batteryRepair(t, env, c)
	if _, err := env.Engine.ValidateRepair(env.Ctx, ro.ID, "tech"); err != nil {
		t.Fatal(err)
	}

	_, err := env.Engine.CancelRepair(env.Ctx, engine.CancelRepairInput{RepairID: ro.ID, Reason: "   ", ActorID: "sam"})
	expectValidation(t, err, engine.KindPrecondition, "Reason is required")

	got, err := env.Engine.CancelRepair(env.Ctx, engine.CancelRepairInput{RepairID: ro.ID, Reason: "customer withdrew", ActorID: "sam"})
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.RepairCancel || got.CancelReason != "customer withdrew" {
		t.Fatalf("unexpected repair %+v", got)
	}

	acts, err := env.Engine.Activities(env.Ctx, "tech")
	if err != nil {
		t.Fatal(err)
	}
	if len(acts) != 1 || acts[0].Summary != engine.SummaryRepairCancelled || acts[0].Note != "Repair Order has been cancelled. Reason: customer withdrew" {
		t.Fatalf("unexpected confirmer activities %+v", acts)
	}
	notes, err := env.Engine.Notes(env.Ctx, engine.KindRepair, ro.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := "Repair Order Cancelled. Cancelled By: Sam Seller. Reason: customer withdrew"
	found := false
	for _, n := range notes {
		if n.Body == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing cancellation note")
	}

	var last notify.Sent
	for _, s := range env.Sent.Sent() {
		if s.UserID == "sam" {
			last = s
		}
	}
	if last.Title != "Repair Order Cancelled" || last.Type != notify.TypeInfo || last.Message != "Repair Order BAT/00001 has been cancelled successfully." {
		t.Fatalf("unexpected notification %+v", last)
	}

	_, err = env.Engine.CancelRepair(env.Ctx, engine.CancelRepairInput{RepairID: ro.ID, Reason: "again", ActorID: "sam"})
	expectValidation(t, err, engine.KindState, "invalid repair order transition cancel -> cancel")
	_, err = env.Engine.CreateApprovalLine(env.Ctx, engine.ApprovalLineInput{
		RepairID: ro.ID, RepairLineType: domain.LineAdd, ProductID: c.Spare.ID, ActorID: "tech",
	})
	expectValidation(t, err, engine.KindState, "is cancelled")
}

func TestApprovalLineUnknownReferences(t *testing.T) {
	env := newTestEnv(t)
	c := seedCatalog(t, env)
	ro := batteryRepair(t, env, c)

	_, err := env.Engine.CreateApprovalLine(env.Ctx, engine.ApprovalLineInput{
		RepairID: "missing", RepairLineType: domain.LineAdd, ProductID: c.Spare.ID, ActorID: "tech",
	})
	expectValidation(t, err, engine.KindPrecondition, "repair order missing not found")

	_, err = env.Engine.CreateApprovalLine(env.Ctx, engine.ApprovalLineInput{
		RepairID: ro.ID, RepairLineType: domain.LineAdd, ProductID: "missing", ActorID: "tech",
	})
	expectValidation(t, err, engine.KindPrecondition, "product missing not found")
}
