package mailer

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/finepay/pkg/config"
)

func TestSMTP_NotConfigured(t *testing.T) {
	s := NewSMTP(&config.Config{}, nil)
	err := s.Send(context.Background(), &Message{To: []string{"a@example.org"}})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSMTP_Build(t *testing.T) {
	s := NewSMTP(&config.Config{Mail: config.MailConfig{Host: "smtp.example.org", Port: 587, From: "finepay@example.org"}}, nil)

	_, err := s.build(&Message{Subject: "nobody"})
	require.Error(t, err)

	m, err := s.build(&Message{
		To:       []string{"patron@example.org"},
		Subject:  "Receipt",
		TextBody: "Thank you",
		Attachments: []Attachment{{
			Name:        "receipt.pdf",
			ContentType: "application/pdf",
			Data:        []byte("%PDF-1.3"),
		}},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "From: finepay@example.org")
	assert.Contains(t, out, "To: patron@example.org")
	assert.Contains(t, out, "Subject: Receipt")
	assert.Contains(t, out, `filename="receipt.pdf"`)
	assert.Contains(t, out, "Content-Type: application/pdf")
}
