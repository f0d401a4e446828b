package receipt

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/internal/platform/mailer"
	"github.com/fatflowers/finepay/pkg/config"
)

type captureSender struct {
	sent []*mailer.Message
}

func (c *captureSender) Send(_ context.Context, m *mailer.Message) error {
	c.sent = append(c.sent, m)
	return nil
}

func TestSendReceipt(t *testing.T) {
	cfg := &config.Config{
		Receipt:      config.ReceiptConfig{Enabled: true, ContactInfo: []string{"Kirjasto", "Helsinki"}},
		Translations: map[string]map[string]string{"fi": {"receipt.subject": "Kuitti"}},
	}
	mail := &captureSender{}
	s := NewService(cfg, mail, nil, nil)

	p := &models.Payment{
		ID:              "p1",
		LocalIdentifier: "L1",
		Amount:          1500,
		ServiceFee:      50,
		Currency:        "EUR",
		Paid:            lo.ToPtr(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		Extra:           datatypes.NewJSONType(&models.PaymentExtra{Email: "a@example.org", FirstName: "Äijä", Locale: "fi"}),
	}
	fees := []*models.PaymentFee{{Type: "Overdue", Title: "Seitsemän veljestä", Amount: 1500}}
	require.NoError(t, s.SendReceipt(context.Background(), p, fees))

	require.Len(t, mail.sent, 1)
	msg := mail.sent[0]
	assert.Equal(t, []string{"a@example.org"}, msg.To)
	assert.Equal(t, "Kuitti", msg.Subject)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "receipt-L1.pdf", msg.Attachments[0].Name)
	assert.True(t, bytes.HasPrefix(msg.Attachments[0].Data, []byte("%PDF")))
}

func TestSendReceipt_NoEmail(t *testing.T) {
	mail := &captureSender{}
	s := NewService(&config.Config{}, mail, nil, nil)
	err := s.SendReceipt(context.Background(), &models.Payment{ID: "p"}, nil)
	assert.Error(t, err)
	assert.Empty(t, mail.sent)
}
