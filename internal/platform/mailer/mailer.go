// Package mailer sends mail over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/logctx"
)

var ErrNotConfigured = errors.New("mail host is not configured")

type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

type Message struct {
	To          []string
	Subject     string
	TextBody    string
	Attachments []Attachment
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// SMTP sends through a gomail dialer, one connection per message.
type SMTP struct {
	dialer *gomail.Dialer
	from   string
	log    *zap.SugaredLogger
}

func NewSMTP(cfg *config.Config, log *zap.SugaredLogger) *SMTP {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &SMTP{from: cfg.Mail.From, log: log.Named("mailer")}
	if cfg.Mail.Host != "" {
		s.dialer = gomail.NewDialer(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.Username, cfg.Mail.Password)
	}
	return s
}

// build renders msg as a gomail message. Attachments are written from memory.
func (s *SMTP) build(msg *Message) (*gomail.Message, error) {
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("mail %q has no recipients", msg.Subject)
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To...)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.TextBody)
	for _, a := range msg.Attachments {
		data := a.Data
		m.Attach(a.Name,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
			gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}),
		)
	}
	return m, nil
}

func (s *SMTP) Send(ctx context.Context, msg *Message) error {
	if s.dialer == nil {
		return ErrNotConfigured
	}
	m, err := s.build(msg)
	if err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("mail_sent", "to", strings.Join(msg.To, ","), "subject", msg.Subject, "attachments", len(msg.Attachments))
	return nil
}

var Module = fx.Options(
	fx.Provide(
		NewSMTP,
		func(s *SMTP) Sender { return s },
	),
)
