package handlers

import (
	"github.com/fatflowers/finepay/internal/app/service/audit"
	"github.com/fatflowers/finepay/internal/app/service/paymentstore"
	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespPaymentStatus wraps PaymentStatusResponse in the standard envelope.
type RespPaymentStatus struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    PaymentStatusResponse    `json:"data"`
}

type RespPayment struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.Payment           `json:"data"`
}

// RespPaymentPage wraps a page of payments in the standard envelope.
type RespPaymentPage struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    paymentstore.PaymentPage `json:"data"`
}

// RespEventPage wraps a page of audit events in the standard envelope.
type RespEventPage struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    audit.EventPage          `json:"data"`
}

type RespStrings struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []string                 `json:"data"`
}
