package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/cajulimao/atendebot/internal/conversation"
	"github.com/cajulimao/atendebot/internal/handoff"
	"github.com/cajulimao/atendebot/internal/models"
	"github.com/cajulimao/atendebot/internal/store"
)

type fixture struct {
	store *store.InMemoryStore
	arb   *handoff.Arbitrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewInMemoryStore()
	cache := conversation.NewCache(st)
	return &fixture{store: st, arb: handoff.NewArbitrator(st, cache)}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(f.store, f.arb)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from /health, got %d", rec.Code)
	}
}

func TestListActiveHandoffs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	srv := NewServer(f.store, f.arb)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/handoffs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	resp := decodeBody(t, rec)
	if resp.Status != "ok" {
		t.Fatalf("Expected ok status, got %+v", resp)
	}

	handoffRec, _, err := f.arb.RequestHuman(ctx, "5561999990000", "Maria", "ajuda")
	if err != nil {
		t.Fatalf("RequestHuman failed: %v", err)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/handoffs", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "5561999990000") || !strings.Contains(body, handoffRec.Protocol) {
		t.Errorf("Listing should carry contact and protocol: %s", body)
	}
}

func TestRecentHandoffsProjection(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(f.store, f.arb, WithHistoryWindow(time.Hour))

	id, _ := f.store.UpsertContact("5561999990000", "Maria")
	f.store.AddInteraction(models.Interaction{
		Phone: "5561999990000", ContactID: id, Body: "ajuda",
		Sender: models.SenderRoleUser, HandedOff: true, Protocol: "AT123456", CreatedAt: time.Now(),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/handoffs/recent", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "AT123456") {
		t.Errorf("Projection should include the protocol: %s", body)
	}
}

func TestEndHandoffEndpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	srv := NewServer(f.store, f.arb)

	if _, _, err := f.arb.RequestHuman(ctx, "5561999990000", "Maria", "ajuda"); err != nil {
		t.Fatalf("RequestHuman failed: %v", err)
	}

	// The dashboard accepts formatted numbers; only digits matter.
	payload := strings.NewReader(`{"phone": "+55 (61) 99999-0000"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/handoffs/end", payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.arb.IsHandedOff("5561999990000") {
		t.Error("Handoff should be ended via the dashboard")
	}

	// A second call reports the absence, mirroring the operator command.
	payload = strings.NewReader(`{"phone": "5561999990000"}`)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/handoffs/end", payload))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on double end, got %d", rec.Code)
	}
}

func TestEndHandoffValidation(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(f.store, f.arb)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/handoffs/end", strings.NewReader("not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed JSON, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/handoffs/end", strings.NewReader(`{"phone": ""}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing phone, got %d", rec.Code)
	}
}

func TestFeedbackEndpoint(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(f.store, f.arb)

	id, _ := f.store.UpsertContact("5561999990000", "Maria")
	f.store.AddFeedback(models.FeedbackEntry{
		ContactID: id, Kind: models.FeedbackSuggestion, Text: "mais opções veganas", CreatedAt: time.Now(),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feedback", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "mais opções veganas") || !strings.Contains(body, "Maria") {
		t.Errorf("Feedback listing should join the contact: %s", body)
	}
}

type recordingInjector struct {
	injected []models.Message
}

func (r *recordingInjector) InjectMessage(msg models.Message) {
	r.injected = append(r.injected, msg)
}

func TestTwilioWebhook(t *testing.T) {
	f := newFixture(t)
	inj := &recordingInjector{}
	srv := NewServer(f.store, f.arb, WithMessageInjector(inj))

	form := url.Values{}
	form.Set("From", "whatsapp:+5561999990000")
	form.Set("To", "whatsapp:+556133334444")
	form.Set("Body", "oi")
	form.Set("ProfileName", "Maria")

	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("Twilio expects TwiML, got content type %q", ct)
	}
	if len(inj.injected) != 1 {
		t.Fatalf("Expected 1 injected message, got %d", len(inj.injected))
	}
	msg := inj.injected[0]
	if msg.From != "5561999990000" || msg.Body != "oi" || msg.Name != "Maria" {
		t.Errorf("Injected message mismatch: %+v", msg)
	}
}

func TestTwilioWebhookDisabledWithoutInjector(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(f.store, f.arb)

	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader("From=x&Body=y"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code == http.StatusOK {
		t.Error("Webhook route should not exist without an injector")
	}
}
