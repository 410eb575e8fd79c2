package reminder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/hackgods/specialist-booking/internal/config"
)

// Sender delivers one message to a destination. Implementations must honour
// ctx cancellation; the dispatcher stops waiting when ctx expires regardless.
type Sender interface {
	Send(ctx context.Context, destination, message string) error
}

type SenderFunc func(ctx context.Context, destination, message string) error

func (f SenderFunc) Send(ctx context.Context, destination, message string) error {
	return f(ctx, destination, message)
}

// LogSender only logs. Useful for local runs without a messaging gateway.
type LogSender struct {
	Log zerolog.Logger
}

func (s LogSender) Send(_ context.Context, destination, message string) error {
	s.Log.Info().Str("destination", destination).Str("message", message).Msg("reminder delivered to log")
	return nil
}

// WebhookSender posts the message to the external messaging gateway that
// owns the chat channel.
type WebhookSender struct {
	URL    string
	Client *http.Client
}

type webhookPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (s WebhookSender) Send(ctx context.Context, destination, message string) error {
	body, err := json.Marshal(webhookPayload{To: destination, Message: message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: gateway responded %d", ErrDeliveryFailure, resp.StatusCode)
	}
	return nil
}

// SMTPSender delivers reminders by e-mail.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (s *SMTPSender) Send(ctx context.Context, destination, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", destination)
	m.SetHeader("Subject", "Appointment reminder")
	m.SetBody("text/plain", message)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
	}
	return nil
}

// Router picks a channel by destination shape: e-mail addresses go to Email,
// everything else (phone numbers, chat ids) to Chat.
type Router struct {
	Chat  Sender
	Email Sender
}

func (r Router) Send(ctx context.Context, destination, message string) error {
	if r.Email != nil && strings.Contains(destination, "@") {
		return r.Email.Send(ctx, destination, message)
	}
	if r.Chat == nil {
		return fmt.Errorf("%w: no channel for %q", ErrDeliveryFailure, destination)
	}
	return r.Chat.Send(ctx, destination, message)
}

// NewSenderFromConfig routes chat destinations to the delivery webhook and
// e-mail destinations to SMTP. A missing channel falls back to LogSender.
func NewSenderFromConfig(cfg config.Config, log zerolog.Logger) Sender {
	var chat Sender = LogSender{Log: log}
	if cfg.DeliveryWebhookURL != "" {
		chat = WebhookSender{URL: cfg.DeliveryWebhookURL, Client: &http.Client{Timeout: cfg.Reminder.SendTimeout}}
	}

	var email Sender = LogSender{Log: log}
	if cfg.SMTP.Host != "" {
		email = NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	}

	return Router{Chat: chat, Email: email}
}
