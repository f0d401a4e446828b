package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditEvent is an append-only record. Rows are only removed by expiry or purge.
type AuditEvent struct {
	ID         string            `gorm:"column:id;primary_key;type:varchar(36)" json:"id"`
	Date       time.Time         `gorm:"column:date;not null;index:idx_audit_event_date" json:"date"`
	Type       string            `gorm:"column:type;type:varchar(64);not null;index:idx_audit_event_type_subtype,priority:1" json:"type"`
	Subtype    string            `gorm:"column:subtype;type:varchar(64);not null;index:idx_audit_event_type_subtype,priority:2" json:"subtype"`
	UserID     *string           `gorm:"column:user_id;type:varchar(64);default:null;index:idx_audit_event_user_id" json:"user_id"`
	Username   *string           `gorm:"column:username;type:varchar(255);default:null" json:"username"`
	PaymentID  *string           `gorm:"column:payment_id;type:varchar(36);default:null;index:idx_audit_event_payment_id" json:"payment_id"`
	SessionID  string            `gorm:"column:session_id;type:varchar(128);not null;default:''" json:"session_id"`
	ClientIP   string            `gorm:"column:client_ip;type:varchar(255);not null;default:''" json:"client_ip"`
	ServerIP   string            `gorm:"column:server_ip;type:varchar(255);not null;default:''" json:"server_ip"`
	ServerName string            `gorm:"column:server_name;type:varchar(255);not null;default:''" json:"server_name"`
	Message    string            `gorm:"column:message;type:text;not null" json:"message"`
	Data       datatypes.JSONMap `gorm:"column:data" json:"data"`
}

func (AuditEvent) TableName() string {
	return "audit_event"
}
