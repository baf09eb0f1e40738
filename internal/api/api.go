// Package api exposes the operations dashboard over HTTP.
//
// The surface is deliberately small: the live handoff list, the durable
// handoff projection, the feedback report and a single administrative action
// to end a handoff. Ending a handoff goes through the same Arbitrator
// contract the operator commands use, so the two paths can never diverge.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/cajulimao/atendebot/internal/admin"
	"github.com/cajulimao/atendebot/internal/handoff"
	"github.com/cajulimao/atendebot/internal/models"
	"github.com/cajulimao/atendebot/internal/store"
)

const (
	// DefaultAddr is the default listen address of the dashboard server.
	DefaultAddr = ":8080"
	// DefaultHistoryWindow bounds the durable handoff projection query.
	DefaultHistoryWindow = 24 * time.Hour
)

// MessageInjector feeds webhook-delivered inbound messages into a transport's
// message stream.
type MessageInjector interface {
	InjectMessage(msg models.Message)
}

// Opts holds configuration options for the Server.
type Opts struct {
	Addr          string
	HistoryWindow time.Duration
	Injector      MessageInjector
}

// Option defines a configuration option for the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithHistoryWindow bounds the GET /handoffs/recent projection.
func WithHistoryWindow(d time.Duration) Option {
	return func(o *Opts) {
		o.HistoryWindow = d
	}
}

// WithMessageInjector enables the POST /webhook/twilio route, delivering
// inbound webhook messages to the given transport.
func WithMessageInjector(inj MessageInjector) Option {
	return func(o *Opts) {
		o.Injector = inj
	}
}

// Server is the dashboard HTTP server.
type Server struct {
	store    store.Store
	arb      *handoff.Arbitrator
	injector MessageInjector

	addr    string
	window  time.Duration
	httpSrv *http.Server
}

// NewServer creates a dashboard server over the given store and arbitrator.
func NewServer(st store.Store, arb *handoff.Arbitrator, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, HistoryWindow: DefaultHistoryWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		store:    st,
		arb:      arb,
		injector: cfg.Injector,
		addr:     cfg.Addr,
		window:   cfg.HistoryWindow,
	}
}

// Handler builds the chi router for the dashboard surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/health"))

	r.Get("/handoffs", s.activeHandoffsHandler)
	r.Get("/handoffs/recent", s.recentHandoffsHandler)
	r.Post("/handoffs/end", s.endHandoffHandler)
	r.Get("/feedback", s.feedbackHandler)
	if s.injector != nil {
		r.Post("/webhook/twilio", s.twilioWebhookHandler)
	}
	return r
}

// Start begins serving in the background. Errors other than a clean shutdown
// are logged, not returned; the dashboard is not load-bearing for routing.
func (s *Server) Start(ctx context.Context) {
	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		slog.Info("Dashboard API listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Dashboard API server stopped", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// activeHandoffsHandler returns the arbitrator's live handoff records.
func (s *Server) activeHandoffsHandler(w http.ResponseWriter, r *http.Request) {
	records := s.arb.ActiveHandoffs()
	out := make([]models.ActiveHandoff, 0, len(records))
	for _, rec := range records {
		out = append(out, models.ActiveHandoff{
			Phone:    rec.Phone,
			Protocol: rec.Protocol,
			Since:    rec.StartedAt,
			Operator: rec.Operator,
		})
	}
	writeJSONResponse(w, http.StatusOK, success(out))
}

// recentHandoffsHandler returns the durable projection of handed-off contacts
// within the history window. Useful for auditing across restarts, where the
// live records carry recovered placeholders.
func (s *Server) recentHandoffsHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListActiveHandoffRows(s.window)
	if err != nil {
		slog.Error("Server.recentHandoffsHandler: query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, failure("failed to list recent handoffs"))
		return
	}
	writeJSONResponse(w, http.StatusOK, success(rows))
}

type endHandoffRequest struct {
	Phone string `json:"phone"`
}

// endHandoffHandler ends the handoff for a contact.
func (s *Server) endHandoffHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req endHandoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, failure("invalid JSON format"))
		return
	}
	phone := admin.CanonicalPhone(req.Phone)
	if phone == "" {
		writeJSONResponse(w, http.StatusBadRequest, failure("phone is required"))
		return
	}

	err := s.arb.EndHandoff(r.Context(), phone)
	if err == handoff.ErrNoHandoff {
		writeJSONResponse(w, http.StatusNotFound, failure("no active handoff for contact"))
		return
	}
	if err != nil {
		slog.Error("Server.endHandoffHandler: end handoff failed", "error", err, "phone", phone)
		writeJSONResponse(w, http.StatusInternalServerError, failure("failed to end handoff"))
		return
	}
	slog.Info("Server.endHandoffHandler: handoff ended via dashboard", "phone", phone)
	writeJSONResponse(w, http.StatusOK, success(map[string]string{"phone": phone}))
}

// feedbackHandler returns all feedback entries joined with their contact.
func (s *Server) feedbackHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListFeedback()
	if err != nil {
		slog.Error("Server.feedbackHandler: query failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, failure("failed to list feedback"))
		return
	}
	writeJSONResponse(w, http.StatusOK, success(entries))
}

// twilioWebhookHandler translates a Twilio inbound message webhook into a
// transport event. Twilio posts application/x-www-form-urlencoded.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return
	}
	from := strings.TrimPrefix(r.PostFormValue("From"), "whatsapp:")
	to := strings.TrimPrefix(r.PostFormValue("To"), "whatsapp:")
	body := r.PostFormValue("Body")
	if from == "" || body == "" {
		http.Error(w, "From and Body are required", http.StatusBadRequest)
		return
	}

	s.injector.InjectMessage(models.Message{
		From: admin.CanonicalPhone(from),
		To:   admin.CanonicalPhone(to),
		Body: body,
		Name: r.PostFormValue("ProfileName"),
		Time: time.Now().Unix(),
	})
	slog.Debug("Server.twilioWebhookHandler: message injected", "from", from)

	// Twilio expects TwiML; an empty response suppresses any auto-reply.
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("<Response></Response>")); err != nil {
		slog.Error("Server.twilioWebhookHandler: failed to write response", "error", err)
	}
}
