package events

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/core-coin/x402/internal/models"
)

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host            string
	Port            int
	AlternativePort int
	User            string
	Password        string
	Sender          string
	To              []string
}

// EmailSink mails each event to a fixed list of recipients.
type EmailSink struct {
	cfg  EmailConfig
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailSink(cfg EmailConfig) *EmailSink {
	return &EmailSink{
		cfg:  cfg,
		auth: smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host),
		send: smtp.SendMail,
	}
}

func (e *EmailSink) Name() string { return "email" }

// Send tries the main port first and then the alternative port.
func (e *EmailSink) Send(ctx context.Context, event *models.Event) error {
	if len(e.cfg.To) == 0 {
		return nil
	}
	msg := e.message(event)

	var err error
	for _, port := range []int{e.cfg.Port, e.cfg.AlternativePort} {
		if port == 0 {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		addr := e.cfg.Host + ":" + strconv.Itoa(port)
		if err = e.send(addr, e.auth, e.cfg.Sender, e.cfg.To, msg); err == nil {
			return nil
		}
	}
	if err == nil {
		return fmt.Errorf("no SMTP port configured")
	}
	return fmt.Errorf("failed to send email: %w", err)
}

func (e *EmailSink) message(event *models.Event) []byte {
	body := event.String()
	for k, v := range event.Data {
		body += fmt.Sprintf("\r\n%s: %v", k, v)
	}
	return []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		e.cfg.Sender,
		strings.Join(e.cfg.To, ", "),
		"x402 "+string(event.Type),
		body,
	))
}
