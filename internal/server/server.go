// Package server exposes enrichment and notification over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/krishanraja/mindmaker-sub000/internal/enrich"
	"github.com/krishanraja/mindmaker-sub000/internal/fault"
	"github.com/krishanraja/mindmaker-sub000/internal/notify"
)

// Resolver is satisfied by *enrich.Pipeline.
type Resolver interface {
	Resolve(ctx context.Context, subjectKey string) enrich.Record
}

// Notifier is satisfied by *notify.Dispatcher.
type Notifier interface {
	Send(ctx context.Context, msg notify.Message) error
}

type Options struct {
	// OwnerEmail receives lead and contact notifications.
	OwnerEmail string

	// ConfirmContact sends the submitter a confirmation after a contact request.
	ConfirmContact bool

	RequestTimeout time.Duration
	Logger         *slog.Logger

	// Gatherer backs /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
}

type Server struct {
	resolver Resolver
	notifier Notifier
	opts     Options
	log      *slog.Logger
}

func New(resolver Resolver, notifier Notifier, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 2 * time.Minute
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Server{resolver: resolver, notifier: notifier, opts: opts, log: lg}
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(accessLog(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
		r.Use(middleware.AllowContentType("application/json"))
		r.Post("/enrich", s.handleEnrich)
		r.Post("/leads", s.handleLead)
		r.Post("/contact", s.handleContact)
	})
	return r
}

type enrichRequest struct {
	Domain string `json:"domain"`
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Domain) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "domain is required")
		return
	}
	rec := s.resolver.Resolve(r.Context(), req.Domain)
	writeJSON(w, http.StatusOK, rec)
}

type leadRequest struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	CompanyDomain string `json:"company_domain"`
	Message       string `json:"message"`
}

type leadResponse struct {
	Record   enrich.Record `json:"record"`
	Notified bool          `json:"notified"`
}

// handleLead enriches the lead's company and tells the owner. A failed
// notification is logged and reported, never surfaced as a request failure.
func (s *Server) handleLead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req leadRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "a valid email is required")
		return
	}

	key := req.CompanyDomain
	if strings.TrimSpace(key) == "" {
		key = req.Email
	}
	rec := s.resolver.Resolve(ctx, key)

	notified := false
	if s.opts.OwnerEmail != "" && s.notifier != nil {
		msg, err := notify.Render(notify.Request{
			Recipient: s.opts.OwnerEmail,
			ReplyTo:   req.Email,
			Template:  notify.TemplateLeadNotification,
			Fields:    leadFields(req, rec),
		})
		if err == nil {
			err = s.notifier.Send(ctx, msg)
		}
		if err != nil {
			s.log.WarnContext(ctx, "lead notification failed",
				"request_id", RequestID(ctx),
				"subject_key", rec.SubjectKey,
				"kind", fault.KindOf(err),
				"error", err,
			)
		} else {
			notified = true
		}
	}

	writeJSON(w, http.StatusAccepted, leadResponse{Record: rec, Notified: notified})
}

type contactRequest struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// handleContact exists to deliver a message, so a failed send fails the request.
func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req contactRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "a valid email is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message is required")
		return
	}
	if s.opts.OwnerEmail == "" || s.notifier == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "contact delivery is not configured")
		return
	}

	fields := map[string]any{"name": req.Name, "email": req.Email, "message": req.Message}
	msg, err := notify.Render(notify.Request{
		Recipient: s.opts.OwnerEmail,
		ReplyTo:   req.Email,
		Template:  notify.TemplateContactNotification,
		Fields:    fields,
	})
	if err == nil {
		err = s.notifier.Send(ctx, msg)
	}
	if err != nil {
		s.log.ErrorContext(ctx, "contact notification failed",
			"request_id", RequestID(ctx),
			"kind", fault.KindOf(err),
			"error", err,
		)
		writeError(w, http.StatusBadGateway, "delivery_failed", "message could not be delivered")
		return
	}

	if s.opts.ConfirmContact {
		s.confirm(ctx, req.Email, fields)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) confirm(ctx context.Context, to string, fields map[string]any) {
	msg, err := notify.Render(notify.Request{
		Recipient: to,
		Template:  notify.TemplateContactConfirmation,
		Fields:    fields,
	})
	if err == nil {
		err = s.notifier.Send(ctx, msg)
	}
	if err != nil {
		s.log.WarnContext(ctx, "contact confirmation failed",
			"request_id", RequestID(ctx),
			"kind", fault.KindOf(err),
			"error", err,
		)
	}
}

func leadFields(req leadRequest, rec enrich.Record) map[string]any {
	return map[string]any{
		"name":         req.Name,
		"email":        req.Email,
		"message":      req.Message,
		"company_name": rec.CompanyName,
		"industry":     rec.Industry,
		"company_size": rec.CompanySize,
		"region":       rec.Region,
		"description":  rec.Description,
		"confidence":   string(rec.Confidence),
		"source":       string(rec.Source),
	}
}
