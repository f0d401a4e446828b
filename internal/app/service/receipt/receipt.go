// Package receipt renders PDF receipts for paid payments and mails them to the patron.
package receipt

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/internal/platform/i18n"
	"github.com/fatflowers/finepay/internal/platform/mailer"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/logctx"
	"github.com/fatflowers/finepay/pkg/types"
)

const (
	keySubject    = "receipt.subject"
	keyBody       = "receipt.body"
	keyTitle      = "receipt.title"
	keyServiceFee = "payment.service_fee"
	keyTotal      = "receipt.total"
)

var defaults = map[string]string{
	keySubject:    "Payment receipt",
	keyBody:       "Thank you for your payment. The receipt is attached.",
	keyTitle:      "Receipt",
	keyServiceFee: "Service Fee",
	keyTotal:      "Total",
}

type Service struct {
	cfg  *config.Config
	mail mailer.Sender
	tr   *i18n.Translator
	log  *zap.SugaredLogger
}

func NewService(cfg *config.Config, mail mailer.Sender, tr *i18n.Translator, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if tr == nil {
		tr = i18n.New(cfg)
	}
	return &Service{cfg: cfg, mail: mail, tr: tr, log: log.Named("receipt")}
}

func (s *Service) text(locale, key string) string {
	if v := s.tr.Translate(locale, key); v != key {
		return v
	}
	return defaults[key]
}

// SendReceipt mails the receipt to the address captured when the payment started.
func (s *Service) SendReceipt(ctx context.Context, p *models.Payment, fees []*models.PaymentFee) error {
	extra := p.GetExtra()
	if extra.Email == "" {
		return fmt.Errorf("payment %s has no email address", p.ID)
	}
	pdf, err := s.Render(p, fees)
	if err != nil {
		return err
	}
	err = s.mail.Send(ctx, &mailer.Message{
		To:       []string{extra.Email},
		Subject:  s.text(extra.Locale, keySubject),
		TextBody: s.text(extra.Locale, keyBody),
		Attachments: []mailer.Attachment{{
			Name:        "receipt-" + p.LocalIdentifier + ".pdf",
			ContentType: "application/pdf",
			Data:        pdf,
		}},
	})
	if err != nil {
		return err
	}
	logctx.FromCtx(ctx, s.log).Infow("receipt_sent", "payment_id", p.ID)
	return nil
}

// Render lays out the receipt as a single A4 page.
func (s *Service) Render(p *models.Payment, fees []*models.PaymentFee) ([]byte, error) {
	locale := p.GetExtra().Locale
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(100, 10, tr(s.text(locale, keyTitle)))
	pdf.Ln(12)
	pdf.SetFont("Arial", "", 11)
	for _, line := range s.cfg.Receipt.ContactInfo {
		pdf.Cell(100, 6, tr(line))
		pdf.Ln(6)
	}
	pdf.Ln(4)

	paid := p.Created
	if p.Paid != nil {
		paid = *p.Paid
	}
	extra := p.GetExtra()
	for _, row := range [][2]string{
		{"Reference", p.LocalIdentifier},
		{"Date", paid.Format("2006-01-02 15:04")},
		{"Patron", strings.TrimSpace(extra.FirstName + " " + extra.LastName)},
	} {
		pdf.CellFormat(40, 6, tr(row[0]), "", 0, "L", false, 0, "")
		pdf.CellFormat(120, 6, tr(row[1]), "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(130, 8, tr("Description"), "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 8, tr("Amount"), "1", 1, "R", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	for _, f := range fees {
		desc := strings.TrimSpace(strings.Join([]string{f.Description, f.Title}, " "))
		if desc == "" {
			desc = f.Type
		}
		pdf.CellFormat(130, 8, tr(desc), "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 8, types.FormatMoney(f.Amount, p.Currency), "1", 1, "R", false, 0, "")
	}
	if p.ServiceFee > 0 {
		pdf.CellFormat(130, 8, tr(s.text(locale, keyServiceFee)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 8, types.FormatMoney(p.ServiceFee, p.Currency), "1", 1, "R", false, 0, "")
	}
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(130, 8, tr(s.text(locale, keyTotal)), "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 8, types.FormatMoney(p.TotalAmount(), p.Currency), "1", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

var Module = fx.Options(
	fx.Provide(NewService),
)
