// Package mail sends notification emails over SMTP with a short-window
// idempotency guard, protecting against duplicate-trigger bugs upstream
// (e.g. a broadcast and a direct call both mailing the same event).
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/o-farouk/stockwire/pkg/config"
	gomail "github.com/wneessen/go-mail"
)

// SkippedMessageID is the synthetic message id returned when the guard
// suppresses a duplicate send. Callers can treat the result uniformly.
const SkippedMessageID = "skipped-idempotent"

var (
	ErrNoRecipients = errors.New("mail: no recipients")
	ErrNoSubject    = errors.New("mail: subject is required")
	ErrNoBody       = errors.New("mail: text or html body is required")
)

type Message struct {
	To          []string
	Subject     string
	Text        string
	HTML        string
	From        string // optional override of the configured sender
	Attachments []Attachment
}

type Attachment struct {
	Filename string
	Content  []byte
}

type Result struct {
	MessageID string
	Accepted  []string
	Rejected  []string
	Response  string
}

// sendFunc performs the actual SMTP round-trip. It is a seam so tests can
// exercise the guard and recipient handling without a server.
type sendFunc func(ctx context.Context, cfg config.MailConfig, msg Message, rcpts []string) (Result, error)

type Mailer struct {
	cfg    config.MailConfig
	logger *slog.Logger
	guard  *guard
	send   sendFunc
}

func New(cfg config.MailConfig, logger *slog.Logger) *Mailer {
	return &Mailer{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "mailer")),
		guard:  newGuard(dedupWindow, time.Now),
		send:   smtpSend,
	}
}

// Send delivers a message, suppressing repeats of the same logical email
// within the dedup window. Configuration and validation errors propagate to
// the caller; a duplicate is not an error and yields a success-shaped
// result with MessageID set to SkippedMessageID.
func (m *Mailer) Send(ctx context.Context, msg Message) (Result, error) {
	rcpts := dedupeRecipients(msg.To)
	if len(rcpts) == 0 {
		return Result{}, ErrNoRecipients
	}
	if msg.Subject == "" {
		return Result{}, ErrNoSubject
	}
	if msg.Text == "" && msg.HTML == "" {
		return Result{}, ErrNoBody
	}
	// Missing transport configuration fails fast at first use.
	if m.cfg.Host == "" {
		return Result{}, errors.New("mail: SMTP host is not configured")
	}
	if msg.From == "" && m.cfg.From == "" {
		return Result{}, errors.New("mail: sender address is not configured")
	}

	fp := fingerprint(msg.To, msg.Subject, msg.HTML, msg.Text)
	if m.guard.shouldSkip(fp) {
		m.logger.Debug("Duplicate send suppressed",
			slog.String("subject", msg.Subject),
			slog.Int("recipients", len(rcpts)),
		)
		return Result{MessageID: SkippedMessageID, Accepted: rcpts}, nil
	}

	res, err := m.send(ctx, m.cfg, msg, rcpts)
	if err != nil {
		m.logger.Warn("Mail delivery failed", slog.Any("error", err))
		return res, err
	}
	m.logger.Info("Mail delivered",
		slog.String("messageID", res.MessageID),
		slog.Int("recipients", len(res.Accepted)),
	)
	return res, nil
}

func smtpSend(ctx context.Context, cfg config.MailConfig, msg Message, rcpts []string) (Result, error) {
	from := msg.From
	if from == "" {
		from = cfg.From
	}

	out := gomail.NewMsg()
	if err := out.From(from); err != nil {
		return Result{}, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := out.To(rcpts...); err != nil {
		return Result{Rejected: rcpts}, fmt.Errorf("invalid recipient address: %w", err)
	}
	out.Subject(msg.Subject)

	messageID := fmt.Sprintf("%s@stockwire", uuid.NewString())
	out.SetMessageIDWithValue(messageID)

	switch {
	case msg.HTML != "" && msg.Text != "":
		out.SetBodyString(gomail.TypeTextPlain, msg.Text)
		out.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	case msg.HTML != "":
		out.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	default:
		out.SetBodyString(gomail.TypeTextPlain, msg.Text)
	}

	for _, att := range msg.Attachments {
		if err := out.AttachReader(att.Filename, bytes.NewReader(att.Content)); err != nil {
			return Result{}, fmt.Errorf("attach %q: %w", att.Filename, err)
		}
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return Result{}, fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, out); err != nil {
		return Result{Rejected: rcpts}, fmt.Errorf("smtp send: %w", err)
	}

	return Result{
		MessageID: messageID,
		Accepted:  rcpts,
		Response:  "250 2.0.0 OK",
	}, nil
}
