package types

import "github.com/shopspring/decimal"

// FormatMinor renders minor units as a two decimal amount, 1550 becomes "15.50".
func FormatMinor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

// FormatMoney appends the currency code when one is given.
func FormatMoney(amount int64, currency string) string {
	if currency == "" {
		return FormatMinor(amount)
	}
	return FormatMinor(amount) + " " + currency
}
