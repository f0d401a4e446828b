// Package export writes payment listings as spreadsheets for operators.
package export

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"

	"github.com/fatflowers/finepay/internal/models"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	sheetName   = "Payments"
	timeLayout  = "2006-01-02 15:04:05"
)

var paymentHeaders = []string{
	"ID", "Local identifier", "Remote identifier", "Source", "Patron", "Handler",
	"Amount", "Service fee", "Currency", "Status", "Status message", "Created", "Paid", "Registered",
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func amount(minor int64) float64 {
	return decimal.New(minor, -2).InexactFloat64()
}

func headerStyle() *xlsx.Style {
	style := xlsx.NewStyle()
	font := xlsx.DefaultFont()
	font.Bold = true
	style.Font = *font
	return style
}

// WritePayments writes one sheet with a header row and one row per payment. Amounts are major
// currency units.
func WritePayments(w io.Writer, payments []*models.Payment) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to add sheet: %w", err)
	}

	style := headerStyle()
	header := sheet.AddRow()
	for _, h := range paymentHeaders {
		cell := header.AddCell()
		cell.SetString(h)
		cell.SetStyle(style)
	}

	for _, p := range payments {
		row := sheet.AddRow()
		row.AddCell().SetString(p.ID)
		row.AddCell().SetString(p.LocalIdentifier)
		row.AddCell().SetString(p.GetRemoteIdentifier())
		row.AddCell().SetString(p.SourceILS)
		row.AddCell().SetString(p.CatUsername)
		row.AddCell().SetString(p.Handler)
		row.AddCell().SetFloat(amount(p.Amount))
		row.AddCell().SetFloat(amount(p.ServiceFee))
		row.AddCell().SetString(p.Currency)
		row.AddCell().SetString(string(p.Status))
		if p.StatusMessage != nil {
			row.AddCell().SetString(*p.StatusMessage)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetString(formatTime(&p.Created))
		row.AddCell().SetString(formatTime(p.Paid))
		row.AddCell().SetString(formatTime(p.Registered))
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("failed to write spreadsheet: %w", err)
	}
	return nil
}

// PaymentsFile is WritePayments into memory, for mail attachments.
func PaymentsFile(payments []*models.Payment) ([]byte, error) {
	var buf bytes.Buffer
	if err := WritePayments(&buf, payments); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
