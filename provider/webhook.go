package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// webhookOutEvent is the JSON body posted to Webhook.URL for plans,
// questions, and status broadcasts.
type webhookOutEvent struct {
	Kind       string   `json:"kind"` // "plan", "question", "status"
	PlanID     string   `json:"plan_id,omitempty"`
	QuestionID string   `json:"question_id,omitempty"`
	TicketID   string   `json:"ticket_id"`
	Title      string   `json:"title,omitempty"`
	Plan       string   `json:"plan,omitempty"`
	Text       string   `json:"text,omitempty"`
	Options    []Option `json:"options,omitempty"`
}

// ApproveRequest is the body of an inbound POST /approve call.
type ApproveRequest struct {
	PlanID          string `json:"planId"`
	Approved        bool   `json:"approved"`
	RejectionReason string `json:"rejectionReason,omitempty"`
	RespondedBy     string `json:"respondedBy,omitempty"`
}

// RespondRequest is the body of an inbound POST /respond call.
type RespondRequest struct {
	QuestionID  string `json:"questionId"`
	Answer      string `json:"answer"`
	RespondedBy string `json:"respondedBy,omitempty"`
}

// Webhook is an outbound-HTTP-POST, inbound-HTTP-callback Provider: it
// pushes plan/question/status events to a configured URL, HMAC-SHA256
// signed, and receives answers through HTTP handlers it exposes for the
// caller to mount (ApproveHandler, RespondHandler).
type Webhook struct {
	url    string
	secret string
	client *http.Client
	logger *slog.Logger

	connected bool

	onApproval         func(ApprovalResponse)
	onQuestionResponse func(QuestionResponse)
}

// NewWebhook returns a Webhook provider posting to url, signed with
// secret. An empty secret disables both outbound signing and inbound
// signature verification.
func NewWebhook(url, secret string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Connect is a no-op beyond marking the provider ready: there is no
// persistent connection to establish, only an outbound URL to post to.
func (w *Webhook) Connect(ctx context.Context) error {
	w.connected = true
	return nil
}

func (w *Webhook) Disconnect(ctx context.Context) error {
	w.connected = false
	return nil
}

func (w *Webhook) IsConnected() bool { return w.connected }

func (w *Webhook) SetOnApproval(fn func(ApprovalResponse))         { w.onApproval = fn }
func (w *Webhook) SetOnQuestionResponse(fn func(QuestionResponse)) { w.onQuestionResponse = fn }

func (w *Webhook) SendPlanForApproval(ctx context.Context, msg PlanMessage) error {
	return w.post(ctx, webhookOutEvent{
		Kind:     "plan",
		PlanID:   msg.PlanID,
		TicketID: msg.TicketID,
		Title:    msg.Title,
		Plan:     msg.Plan,
	})
}

func (w *Webhook) SendQuestion(ctx context.Context, msg QuestionMessage) error {
	return w.post(ctx, webhookOutEvent{
		Kind:       "question",
		QuestionID: msg.QuestionID,
		TicketID:   msg.TicketID,
		Text:       msg.Text,
		Options:    msg.Options,
	})
}

func (w *Webhook) SendStatus(ctx context.Context, msg StatusMessage) error {
	return w.post(ctx, webhookOutEvent{
		Kind:     "status",
		TicketID: msg.TicketID,
		Text:     msg.Text,
	})
}

func (w *Webhook) post(ctx context.Context, ev webhookOutEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("provider/webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("provider/webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Planbot-Event", ev.Kind)
	if w.secret != "" {
		req.Header.Set("X-Planbot-Signature", w.sign(body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider/webhook: post %s: %w", ev.Kind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider/webhook: %s returned HTTP %d", w.url, resp.StatusCode)
	}
	return nil
}

func (w *Webhook) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(w.secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an inbound request's X-Planbot-Signature header
// against body using constant-time comparison. Always true when no
// secret is configured.
func (w *Webhook) VerifySignature(signature string, body []byte) bool {
	if w.secret == "" {
		return true
	}
	expected := []byte(w.sign(body))
	return hmac.Equal(expected, []byte(signature))
}

// ApproveHandler handles the inbound POST /approve contract: a signed
// ApproveRequest body resolves the named plan through the provider's
// onApproval callback.
func (w *Webhook) ApproveHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(rw, "failed to read body", http.StatusBadRequest)
			return
		}
		if !w.VerifySignature(r.Header.Get("X-Planbot-Signature"), body) {
			http.Error(rw, "invalid signature", http.StatusUnauthorized)
			return
		}

		var req ApproveRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(rw, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.PlanID == "" {
			http.Error(rw, "planId is required", http.StatusBadRequest)
			return
		}

		if w.onApproval != nil {
			w.onApproval(ApprovalResponse{
				PlanID:          req.PlanID,
				Approved:        req.Approved,
				RejectionReason: req.RejectionReason,
				RespondedBy:     firstNonEmpty(req.RespondedBy, w.Name()),
			})
		}
		rw.WriteHeader(http.StatusOK)
	}
}

// RespondHandler handles the inbound POST /respond contract: a signed
// RespondRequest body resolves the named question through the
// provider's onQuestionResponse callback.
func (w *Webhook) RespondHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(rw, "failed to read body", http.StatusBadRequest)
			return
		}
		if !w.VerifySignature(r.Header.Get("X-Planbot-Signature"), body) {
			http.Error(rw, "invalid signature", http.StatusUnauthorized)
			return
		}

		var req RespondRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(rw, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.QuestionID == "" {
			http.Error(rw, "questionId is required", http.StatusBadRequest)
			return
		}

		if w.onQuestionResponse != nil {
			w.onQuestionResponse(QuestionResponse{
				QuestionID:  req.QuestionID,
				Answer:      req.Answer,
				RespondedBy: firstNonEmpty(req.RespondedBy, w.Name()),
			})
		}
		rw.WriteHeader(http.StatusOK)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
