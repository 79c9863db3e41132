// Package mail sends transactional email through SendGrid, or logs it when
// delivery is disabled.
package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-enrollment-api/pkg/config"
)

const (
	defaultHost = "https://api.sendgrid.com"
	endpoint    = "/v3/mail/send"
)

// Address is a named mailbox.
type Address struct {
	Name  string
	Email string
}

// Attachment is a file attached to a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is a single outbound email.
type Message struct {
	To          []Address
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendGridSender delivers through the SendGrid v3 API.
type SendGridSender struct {
	key    string
	host   string
	from   *sgmail.Email
	logger *zap.Logger
}

// NewSender returns a SendGrid sender when mail is enabled, or a logging
// sender otherwise.
func NewSender(cfg config.MailConfig, logger *zap.Logger) Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled || cfg.SendGridAPIKey == "" {
		return &LogSender{logger: logger}
	}
	return NewSendGridSender(cfg, defaultHost, logger)
}

// NewSendGridSender builds a sender against host.
func NewSendGridSender(cfg config.MailConfig, host string, logger *zap.Logger) *SendGridSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendGridSender{
		key:    cfg.SendGridAPIKey,
		host:   host,
		from:   sgmail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger: logger,
	}
}

// Send posts msg to SendGrid. 4xx and 5xx responses are returned as errors so
// the job queue can retry them.
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("mail has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := sendgrid.GetRequest(s.key, endpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(s.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("send mail: status %d: %s", res.StatusCode, res.Body)
	}
	s.logger.Info("mail sent", zap.String("subject", msg.Subject), zap.Int("recipients", len(msg.To)))
	return nil
}

func (s *SendGridSender) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgmail.NewEmail(to.Name, to.Email))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	if msg.HTML != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}

	for _, a := range msg.Attachments {
		m.AddAttachment(&sgmail.Attachment{
			Content:     base64.StdEncoding.EncodeToString(a.Content),
			Type:        a.ContentType,
			Filename:    a.Filename,
			Disposition: "attachment",
		})
	}
	return m
}

// LogSender records messages instead of delivering them.
type LogSender struct {
	logger *zap.Logger
}

// Send logs the envelope without the body, which may carry credentials.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, addr.Email)
	}
	s.logger.Info("mail delivery disabled, message logged",
		zap.Strings("to", to),
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(msg.Attachments)))
	return nil
}
