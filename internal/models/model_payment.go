package models

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusInProgress           PaymentStatus = "in_progress"
	PaymentStatusCompleted            PaymentStatus = "completed"
	PaymentStatusCanceled             PaymentStatus = "canceled"
	PaymentStatusPaymentFailed        PaymentStatus = "payment_failed"
	PaymentStatusPaid                 PaymentStatus = "paid"
	PaymentStatusRegistrationFailed   PaymentStatus = "registration_failed"
	PaymentStatusRegistrationExpired  PaymentStatus = "registration_expired"
	PaymentStatusRegistrationResolved PaymentStatus = "registration_resolved"
	PaymentStatusFinesUpdated         PaymentStatus = "fines_updated"
)

var AllPaymentStatuses = []PaymentStatus{
	PaymentStatusInProgress,
	PaymentStatusCompleted,
	PaymentStatusCanceled,
	PaymentStatusPaymentFailed,
	PaymentStatusPaid,
	PaymentStatusRegistrationFailed,
	PaymentStatusRegistrationExpired,
	PaymentStatusRegistrationResolved,
	PaymentStatusFinesUpdated,
}

func (s PaymentStatus) Valid() bool {
	for _, v := range AllPaymentStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no automatic transition can leave the status.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusCanceled, PaymentStatusRegistrationExpired, PaymentStatusRegistrationResolved:
		return true
	}
	return false
}

// PaymentExtra holds the patron snapshot taken when checkout started.
type PaymentExtra struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Locale    string `json:"locale,omitempty"`
	// StatusParam is echoed back to the UI on return.
	StatusParam string `json:"status_param,omitempty"`
	// ClientReturnURL is the catalog page the browser is sent to after the return callback.
	ClientReturnURL string `json:"client_return_url,omitempty"`
}

// Payment is one checkout of patron fines against a single ILS account.
type Payment struct {
	ID string `gorm:"column:id;primary_key;type:varchar(36)" json:"id"`
	// LocalIdentifier is minted before the gateway is contacted and is the only key callbacks may use.
	LocalIdentifier string `gorm:"column:local_identifier;type:varchar(64);not null;uniqueIndex:unique_payment_local_identifier" json:"local_identifier"`
	// RemoteIdentifier is assigned by the gateway and never changes once set.
	RemoteIdentifier *string `gorm:"column:remote_identifier;type:varchar(255);default:null" json:"remote_identifier"`
	UserID           string  `gorm:"column:user_id;type:varchar(64);not null;index:idx_payment_user_id" json:"user_id"`
	SourceILS        string  `gorm:"column:source_ils;type:varchar(255);not null;index:idx_payment_source_cat_username,priority:1" json:"source_ils"`
	CatUsername      string  `gorm:"column:cat_username;type:varchar(255);not null;index:idx_payment_source_cat_username,priority:2" json:"cat_username"`
	Handler          string  `gorm:"column:handler;type:varchar(64);not null" json:"handler"`
	// Amount is in minor currency units and excludes the service fee.
	Amount        int64         `gorm:"column:amount;type:bigint;not null" json:"amount"`
	ServiceFee    int64         `gorm:"column:service_fee;type:bigint;not null;default:0" json:"service_fee"`
	Currency      string        `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
	Status        PaymentStatus `gorm:"column:status;type:varchar(32);not null;index:idx_payment_status" json:"status"`
	StatusMessage *string       `gorm:"column:status_message;type:text;default:null" json:"status_message"`

	Created             time.Time  `gorm:"column:created;not null;index:idx_payment_created" json:"created"`
	Paid                *time.Time `gorm:"column:paid;default:null" json:"paid"`
	RegistrationStarted *time.Time `gorm:"column:registration_started;default:null" json:"registration_started"`
	Registered          *time.Time `gorm:"column:registered;default:null" json:"registered"`
	Reported            *time.Time `gorm:"column:reported;default:null" json:"reported"`

	Extra     datatypes.JSONType[*PaymentExtra] `gorm:"column:extra" json:"extra"`
	UpdatedAt time.Time                         `json:"updated_at"`

	Fees []*PaymentFee `gorm:"foreignKey:PaymentID" json:"fees,omitempty"`
}

func (Payment) TableName() string {
	return "payment"
}

// TotalAmount is what the patron is charged.
func (p *Payment) TotalAmount() int64 {
	if p == nil {
		return 0
	}
	return p.Amount + p.ServiceFee
}

func (p *Payment) IsRegistered() bool {
	return p != nil && p.Status == PaymentStatusCompleted
}

func (p *Payment) IsRegistrationNeeded() bool {
	return p != nil && (p.Status == PaymentStatusPaid || p.Status == PaymentStatusRegistrationFailed)
}

// IsRegistrationInProgress reports whether another worker claimed registration within timeout.
func (p *Payment) IsRegistrationInProgress(now time.Time, timeout time.Duration) bool {
	if p == nil || p.RegistrationStarted == nil {
		return false
	}
	return now.Sub(*p.RegistrationStarted) < timeout
}

func (p *Payment) GetExtra() *PaymentExtra {
	if p == nil || p.Extra.Data() == nil {
		return &PaymentExtra{}
	}
	return p.Extra.Data()
}

func (p *Payment) GetRemoteIdentifier() string {
	if p == nil || p.RemoteIdentifier == nil {
		return ""
	}
	return *p.RemoteIdentifier
}
