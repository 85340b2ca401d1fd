package integration

import (
	"net/http"
	"slices"
	"strings"
	"testing"
)

type sessionView struct {
	ID    string `json:"id"`
	Mode  string `json:"mode"`
	State struct {
		PageIndex int  `json:"page_index"`
		Submitted bool `json:"submitted"`
	} `json:"state"`
	Fields []struct {
		ID       string `json:"id"`
		Required bool   `json:"required"`
		Hidden   bool   `json:"hidden"`
	} `json:"fields"`
	Answers map[string]any    `json:"answers"`
	Errors  map[string]string `json:"errors"`
}

func (v sessionView) fieldIDs() []string {
	ids := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		ids = append(ids, f.ID)
	}
	return ids
}

type submitView struct {
	Result struct {
		SubmissionID string `json:"submission_id"`
		Redirect     string `json:"redirect"`
	} `json:"result"`
	Session sessionView `json:"session"`
}

// ==========================================================================
// Page Navigation Tests
// ==========================================================================

func TestSessionFlow_ContactFormEndToEnd(t *testing.T) {
	h := NewTestHarness(t)
	mb := h.MockBackend()
	s := h.StartSession(t, "contact", map[string]any{"client_key": "browser-1"})

	// The backend rejects the empty name once, then accepts everything.
	mb.OnOperation(OpValidate).
		RespondWith(http.StatusOK, map[string]any{"errors": map[string]string{"name": "Name is required"}}).
		RespondWith(http.StatusOK, map[string]any{"errors": map[string]string{}})

	resp := h.POST(s.Path("/next"), nil, s.Token)
	h.AssertErrorCode(t, resp, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	req := mb.LastRequest(OpValidate)
	if req == nil {
		t.Fatal("validate was not called")
	}
	ids, _ := req.Body["field_ids"].([]any)
	if len(ids) != 3 || ids[0] != "name" {
		t.Errorf("validated field ids = %v, want [name subscribe email]", ids)
	}
	if got := req.Headers.Get("X-Session-Id"); got != s.ID {
		t.Errorf("X-Session-Id = %q, want %q", got, s.ID)
	}

	var view sessionView
	h.AssertJSON(t, h.GET(s.Path(""), s.Token), http.StatusOK, &view)
	if view.Errors["name"] != "Name is required" {
		t.Errorf("errors = %v, want name error", view.Errors)
	}

	h.Answer(t, s, "name", "Ann")
	h.AssertJSON(t, h.POST(s.Path("/next"), nil, s.Token), http.StatusOK, &view)
	if view.State.PageIndex != 1 {
		t.Fatalf("page_index = %d, want 1", view.State.PageIndex)
	}
	if len(view.Errors) != 0 {
		t.Errorf("errors = %v, want none after a successful page", view.Errors)
	}

	// Moving forward syncs a partial submission.
	partial := mb.LastRequest(OpSavePartial)
	if partial == nil {
		t.Fatal("partial submission was not saved")
	}
	answers, _ := partial.Body["answers"].(map[string]any)
	if answers["name"] != "Ann" {
		t.Errorf("partial answers = %v", answers)
	}
	hash := partial.Path[strings.LastIndex(partial.Path, "/")+1:]

	resp = h.POST(s.Path("/submit"), nil, s.Token)
	var out submitView
	h.AssertJSON(t, resp, http.StatusOK, &out)
	if out.Result.SubmissionID != "sub-1" {
		t.Errorf("submission_id = %q, want sub-1", out.Result.SubmissionID)
	}
	if !out.Session.State.Submitted {
		t.Error("session should be submitted")
	}

	sub := mb.LastRequest(OpSubmit)
	if sub == nil {
		t.Fatal("submit was not called")
	}
	if sub.Body["submission_hash"] != hash {
		t.Errorf("submission_hash = %v, want partial hash %q", sub.Body["submission_hash"], hash)
	}

	resp = h.POST(s.Path("/submit"), nil, s.Token)
	h.AssertErrorCode(t, resp, http.StatusConflict, "ALREADY_SUBMITTED")
	mb.AssertCalled(t, OpSubmit, 1)
}

func TestSessionFlow_ConditionalRequirement(t *testing.T) {
	h := NewTestHarness(t)
	s := h.StartSession(t, "contact", nil)

	required := func() bool {
		var view sessionView
		h.AssertJSON(t, h.GET(s.Path(""), s.Token), http.StatusOK, &view)
		for _, f := range view.Fields {
			if f.ID == "email" {
				return f.Required
			}
		}
		t.Fatal("email not on the current page")
		return false
	}

	if required() {
		t.Error("email should be optional before subscribing")
	}
	h.Answer(t, s, "subscribe", true)
	if !required() {
		t.Error("email should be required once subscribe is checked")
	}
}

func TestSessionFlow_ExistsInSubmissionsUsesBackendIndex(t *testing.T) {
	h := NewTestHarness(t)
	mb := h.MockBackend()
	s := h.StartSession(t, "contact", nil)

	mb.OnOperation(OpExists).RespondWith(http.StatusOK, map[string]any{"exists": true})

	h.Answer(t, s, "name", "Ann")
	h.AssertStatus(t, h.POST(s.Path("/next"), nil, s.Token), http.StatusOK)
	h.Answer(t, s, "coupon", "SAVE10")

	var view sessionView
	h.AssertJSON(t, h.GET(s.Path(""), s.Token), http.StatusOK, &view)
	if !slices.Contains(view.fieldIDs(), "coupon_used") {
		t.Errorf("fields = %v, want coupon_used shown", view.fieldIDs())
	}

	req := mb.LastRequest(OpExists)
	if req == nil {
		t.Fatal("exists was not called")
	}
	if req.Query.Get("value") != "SAVE10" || !strings.HasSuffix(req.Path, "/fields/coupon/exists") {
		t.Errorf("exists request = %s ?%s", req.Path, req.Query.Encode())
	}
	// Repeated evaluations are served from the cache.
	mb.AssertCalled(t, OpExists, 1)
}

func TestSessionFlow_SubmitFieldErrorsFromBackend(t *testing.T) {
	h := NewTestHarness(t)
	mb := h.MockBackend()
	s := h.StartSession(t, "contact", nil)

	mb.OnOperation(OpSubmit).
		RespondWith(http.StatusUnprocessableEntity, ValidationFixture(map[string]string{"email": "Address is blocked"}))

	h.Answer(t, s, "name", "Ann")
	h.Answer(t, s, "email", "ann@example.test")
	h.AssertStatus(t, h.POST(s.Path("/next"), nil, s.Token), http.StatusOK)

	resp := h.POST(s.Path("/submit"), nil, s.Token)
	h.AssertErrorCode(t, resp, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	var view sessionView
	h.AssertJSON(t, h.GET(s.Path(""), s.Token), http.StatusOK, &view)
	if view.State.Submitted {
		t.Error("session should not be submitted")
	}
	if view.State.PageIndex != 0 {
		t.Errorf("page_index = %d, want the page holding the error", view.State.PageIndex)
	}
	if view.Errors["email"] != "Address is blocked" {
		t.Errorf("errors = %v", view.Errors)
	}
}

// ==========================================================================
// Payment Tests
// ==========================================================================

func TestSessionFlow_PaymentConfirmedOnNextPage(t *testing.T) {
	h := NewTestHarness(t)
	mb := h.MockBackend()
	s := h.StartSession(t, "checkout", nil)

	h.Answer(t, s, "buyer", "Bo")
	h.Answer(t, s, "pay", map[string]any{"name": "Bo", "email": "bo@example.test"})

	var view sessionView
	h.AssertJSON(t, h.POST(s.Path("/next"), nil, s.Token), http.StatusOK, &view)
	if view.Answers["pay"] != "pi_test_1" {
		t.Errorf("pay answer = %v, want payment reference", view.Answers["pay"])
	}

	intent := mb.LastRequest(OpCreateIntent)
	if intent == nil || intent.Body["amount"] != float64(25) || intent.Body["currency"] != "usd" {
		t.Fatalf("intent request = %+v", intent)
	}
	confirm := mb.LastRequest(OpConfirmPayment)
	billing, _ := confirm.Body["billing"].(map[string]any)
	if confirm.Body["client_secret"] != "secret-1" || billing["name"] != "Bo" {
		t.Errorf("confirm body = %v", confirm.Body)
	}

	// Going back and forward again does not charge twice.
	h.AssertStatus(t, h.POST(s.Path("/previous"), nil, s.Token), http.StatusOK)
	h.AssertStatus(t, h.POST(s.Path("/next"), nil, s.Token), http.StatusOK)
	mb.AssertCalled(t, OpConfirmPayment, 1)

	var out submitView
	h.AssertJSON(t, h.POST(s.Path("/submit"), nil, s.Token), http.StatusOK, &out)
	if out.Result.Redirect != "https://example.test/thanks" {
		t.Errorf("redirect = %q, want form redirect", out.Result.Redirect)
	}
}

func TestSessionFlow_PaymentDeclined(t *testing.T) {
	h := NewTestHarness(t)
	h.MockBackend().OnOperation(OpConfirmPayment).
		RespondWith(http.StatusOK, map[string]any{"success": false, "message": "Card declined"})
	s := h.StartSession(t, "checkout", nil)

	h.Answer(t, s, "buyer", "Bo")
	resp := h.POST(s.Path("/next"), nil, s.Token)
	h.AssertErrorCode(t, resp, http.StatusPaymentRequired, "PAYMENT_FAILED")

	var view sessionView
	h.AssertJSON(t, h.GET(s.Path(""), s.Token), http.StatusOK, &view)
	if view.State.PageIndex != 0 {
		t.Errorf("page_index = %d, want 0", view.State.PageIndex)
	}
}

// ==========================================================================
// Mode Tests
// ==========================================================================

func TestSessionFlow_PreviewNeverReachesBackend(t *testing.T) {
	h := NewTestHarness(t)
	mb := h.MockBackend()
	s := h.StartSession(t, "contact", map[string]any{"mode": "preview"})

	h.Answer(t, s, "message", "hello")
	h.AssertStatus(t, h.POST(s.Path("/next"), nil, s.Token), http.StatusOK)
	h.AssertStatus(t, h.POST(s.Path("/submit"), nil, s.Token), http.StatusOK)

	mb.AssertNotCalled(t, OpValidate)
	mb.AssertNotCalled(t, OpSavePartial)
	mb.AssertNotCalled(t, OpSubmit)
}
