package models

// PaymentFee is one paid fine. Rows are written with the payment and never updated.
type PaymentFee struct {
	ID        string `gorm:"column:id;primary_key;type:varchar(36)" json:"id"`
	PaymentID string `gorm:"column:payment_id;type:varchar(36);not null;index:idx_payment_fee_payment_id" json:"payment_id"`
	// FineID is the identifier of the fine in the ILS, may be empty for fines the ILS does not key.
	FineID       string `gorm:"column:fine_id;type:varchar(255);not null;default:''" json:"fine_id"`
	Type         string `gorm:"column:type;type:varchar(255);not null;default:''" json:"type"`
	Description  string `gorm:"column:description;type:varchar(255);not null;default:''" json:"description"`
	Organization string `gorm:"column:organization;type:varchar(255);not null;default:''" json:"organization"`
	Title        string `gorm:"column:title;type:varchar(1024);not null;default:''" json:"title"`
	Amount       int64  `gorm:"column:amount;type:bigint;not null" json:"amount"`
	// TaxPercent is expressed in hundredths of a percent, 2400 means 24%.
	TaxPercent int64  `gorm:"column:tax_percent;type:bigint;not null;default:0" json:"tax_percent"`
	Currency   string `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
}

func (PaymentFee) TableName() string {
	return "payment_fee"
}
