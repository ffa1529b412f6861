package provider

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookApproveHandlerRequiresValidSignature(t *testing.T) {
	w := NewWebhook("http://example.invalid/ignored", "s3cret", nil)

	var got ApprovalResponse
	w.SetOnApproval(func(r ApprovalResponse) { got = r })

	body, _ := json.Marshal(ApproveRequest{PlanID: "plan-1", Approved: true})

	req := httptest.NewRequest(http.MethodPost, "/approve", bytes.NewReader(body))
	req.Header.Set("X-Planbot-Signature", "sha256=not-a-real-signature")
	rec := httptest.NewRecorder()

	w.ApproveHandler()(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
	if got.PlanID != "" {
		t.Fatal("onApproval must not fire for an invalid signature")
	}
}

func TestWebhookApproveHandlerAcceptsValidSignature(t *testing.T) {
	secret := "s3cret"
	w := NewWebhook("http://example.invalid/ignored", secret, nil)

	resultCh := make(chan ApprovalResponse, 1)
	w.SetOnApproval(func(r ApprovalResponse) { resultCh <- r })

	body, _ := json.Marshal(ApproveRequest{PlanID: "plan-1", Approved: false, RejectionReason: "needs more detail"})
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/approve", bytes.NewReader(body))
	req.Header.Set("X-Planbot-Signature", sig)
	rec := httptest.NewRecorder()

	w.ApproveHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	select {
	case resp := <-resultCh:
		if resp.PlanID != "plan-1" || resp.Approved || resp.RejectionReason != "needs more detail" {
			t.Fatalf("unexpected response: %+v", resp)
		}
	default:
		t.Fatal("expected onApproval to have fired synchronously")
	}
}

func TestWebhookNoSecretSkipsVerification(t *testing.T) {
	w := NewWebhook("http://example.invalid/ignored", "", nil)
	if !w.VerifySignature("", []byte("anything")) {
		t.Fatal("an unconfigured secret must accept any (or no) signature")
	}
}

func TestWebhookRespondHandlerRequiresQuestionID(t *testing.T) {
	w := NewWebhook("http://example.invalid/ignored", "", nil)
	body, _ := json.Marshal(RespondRequest{Answer: "yes"})

	req := httptest.NewRequest(http.MethodPost, "/respond", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	w.RespondHandler()(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing questionId, got %d", rec.Code)
	}
}
