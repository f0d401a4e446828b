package types

import "time"

// Fine is a payable charge as reported by the ILS.
type Fine struct {
	// FineID is the ILS identifier, empty when the ILS does not expose one.
	FineID       string     `json:"fine_id"`
	Type         string     `json:"fine"`
	Amount       int64      `json:"amount"`
	Balance      int64      `json:"balance"`
	Description  string     `json:"description,omitempty"`
	Title        string     `json:"title,omitempty"`
	Organization string     `json:"organization,omitempty"`
	ProductCode  string     `json:"product_code,omitempty"`
	TaxPercent   int64      `json:"tax_percent,omitempty"`
	Payable      bool       `json:"payable"`
	CreateDate   *time.Time `json:"create_date,omitempty"`
}

// PayableFines keeps only fines the patron may pay online.
func PayableFines(fines []*Fine) []*Fine {
	out := make([]*Fine, 0, len(fines))
	for _, f := range fines {
		if f != nil && f.Payable && f.Balance > 0 {
			out = append(out, f)
		}
	}
	return out
}

// SumBalance totals fine balances in minor units.
func SumBalance(fines []*Fine) int64 {
	var total int64
	for _, f := range fines {
		if f != nil {
			total += f.Balance
		}
	}
	return total
}
