package repairflowsdk_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	repairflowsdk "repairflow/sdk/go"
)

func TestDecideSendsAnswerAndActor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/receipts/rc-1/decision" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-Actor-Id"); got != "clerk" {
			t.Errorf("expected actor header, got %q", got)
		}
		var body map[string]bool
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body["received"] {
			t.Errorf("unexpected body %v (%v)", body, err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "rc-1", "cr_state": "ro_created", "partner_id": "p"})
	}))
	defer srv.Close()

	c := repairflowsdk.New(srv.URL + "/v1")
	c.ActorID = "clerk"
	rc, err := c.Decide(context.Background(), "rc-1", true)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if rc.CRState != "ro_created" {
		t.Fatalf("expected ro_created, got %s", rc.CRState)
	}
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"forbidden","message":"Only Sales Team can create Repair Orders."}}`))
	}))
	defer srv.Close()

	c := repairflowsdk.New(srv.URL)
	c.APIKey = "k"
	_, err := c.FollowUp(context.Background(), "rc-1", "create")
	var apiErr *repairflowsdk.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Code != "forbidden" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}
