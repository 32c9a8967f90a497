// Package notify sends transactional email through a pluggable sender with
// its own retry policy. Terminal failures are returned; whether they fail the
// surrounding request is up to the caller.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/krishanraja/mindmaker-sub000/internal/backoff"
	"github.com/krishanraja/mindmaker-sub000/internal/fault"
	"github.com/krishanraja/mindmaker-sub000/internal/invoke"
	"github.com/krishanraja/mindmaker-sub000/internal/redact"
)

// Message is a rendered email.
type Message struct {
	To      []string
	ReplyTo string
	Subject string
	HTML    string
	Text    string

	// IdempotencyKey is sent with every attempt so a retried delivery is not
	// duplicated by the provider. Send fills it when empty.
	IdempotencyKey string
}

// Sender delivers one message once. Failures carry a fault kind.
type Sender interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// Recorder is told how each dispatch ended.
type Recorder interface {
	RecordDispatch(sender string, err error)
}

type Options struct {
	Policy         backoff.Policy
	AttemptTimeout time.Duration
	Logger         *slog.Logger
	Recorder       Recorder
	Observer       invoke.Observer
	Sleeper        invoke.Sleeper
}

type Dispatcher struct {
	sender Sender
	opts   Options
}

func NewDispatcher(sender Sender, opts Options) *Dispatcher {
	if opts.Policy.Initial <= 0 {
		opts.Policy = backoff.Notify()
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{sender: sender, opts: opts}
}

// Send validates msg and delivers it, retrying transient failures.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	if err := Validate(msg); err != nil {
		return err
	}
	if msg.IdempotencyKey == "" {
		msg.IdempotencyKey = uuid.NewString()
	}

	name := d.sender.Name()
	res, err := invoke.Do(ctx, d.opts.Policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.sender.Deliver(ctx, msg)
	},
		invoke.Named("notify."+name),
		invoke.WithAttemptTimeout(d.opts.AttemptTimeout),
		invoke.WithObserver(d.opts.Observer),
		invoke.WithSleeper(d.opts.Sleeper),
	)
	if d.opts.Recorder != nil {
		d.opts.Recorder.RecordDispatch(name, err)
	}
	if err != nil {
		d.opts.Logger.Error("email dispatch failed",
			"sender", name,
			"subject", msg.Subject,
			"attempts", res.Attempts,
			"kind", fault.KindOf(err),
			"error", redact.Secrets(err.Error()),
		)
		return err
	}
	d.opts.Logger.Info("email dispatched", "sender", name, "subject", msg.Subject, "attempts", res.Attempts)
	return nil
}

// Validate rejects messages no provider would accept. Errors are permanent.
func Validate(msg Message) error {
	const op = "notify.validate"
	var errs []error
	if len(msg.To) == 0 {
		errs = append(errs, errors.New("recipient is required"))
	}
	for _, to := range msg.To {
		if _, err := mail.ParseAddress(to); err != nil {
			errs = append(errs, errors.New("invalid recipient address"))
			break
		}
	}
	if strings.TrimSpace(msg.Subject) == "" {
		errs = append(errs, errors.New("subject is required"))
	}
	if strings.TrimSpace(msg.HTML) == "" && strings.TrimSpace(msg.Text) == "" {
		errs = append(errs, errors.New("body is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fault.New(fault.KindPermanent, op, err)
	}
	return nil
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	Logger *slog.Logger
}

func (LogSender) Name() string { return "log" }

func (s LogSender) Deliver(_ context.Context, msg Message) error {
	lg := s.Logger
	if lg == nil {
		lg = slog.Default()
	}
	lg.Info("email (dry run)",
		"recipients", len(msg.To),
		"subject", msg.Subject,
		"idempotency_key", msg.IdempotencyKey,
		"text", msg.Text,
	)
	return nil
}
