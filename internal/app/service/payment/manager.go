// Package payment drives the payment lifecycle: starting a checkout, applying gateway callbacks
// and registering paid payments with the ILS.
package payment

import (
	"context"
	"errors"

	"github.com/fatflowers/finepay/internal/app/service/audit"
	"github.com/fatflowers/finepay/internal/app/service/gateway"
	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/types"
)

var (
	ErrNothingToPay           = errors.New("no payable fines")
	ErrBelowMinimumFee        = errors.New("payment total is below the minimum fee")
	ErrPaymentInProgress      = errors.New("a paid payment is still awaiting registration")
	ErrRegistrationNotNeeded  = errors.New("payment does not need registration")
	ErrRegistrationInProgress = errors.New("payment registration already in progress")
	ErrNotResolvable          = errors.New("payment is not in a resolvable state")
)

// CallbackKind tells which channel a gateway callback arrived on.
type CallbackKind int

const (
	// CallbackReturn is the browser coming back from the hosted checkout page.
	CallbackReturn CallbackKind = iota
	// CallbackNotify is the server to server webhook, delivered at least once.
	CallbackNotify
)

func (k CallbackKind) String() string {
	if k == CallbackNotify {
		return "notify"
	}
	return "return"
}

type StartRequest struct {
	User   types.User    `json:"user" binding:"required"`
	Patron types.Patron  `json:"patron" binding:"required"`
	Fines  []*types.Fine `json:"fines"`
	Locale string        `json:"locale"`
	// ClientReturnURL is where the browser ends up once the return callback is processed.
	ClientReturnURL string `json:"client_return_url"`
	// StatusParam names the query parameter carrying the result to ClientReturnURL.
	StatusParam string `json:"status_param"`
}

type StartResult struct {
	Payment     *models.Payment `json:"payment"`
	RedirectURL string          `json:"redirect_url"`
}

type CallbackResult struct {
	Payment *models.Payment `json:"payment"`
	Result  gateway.Result  `json:"result"`
	// MarkedAsPaid is true only for the callback that moved the payment to Paid.
	MarkedAsPaid      bool `json:"marked_as_paid"`
	AlreadyRegistered bool `json:"already_registered"`
	Registered        bool `json:"registered"`
}

// HandlerProvider resolves the gateway handler for a source ILS.
type HandlerProvider interface {
	ForSource(sourceILS string) (gateway.Handler, *config.OnlinePaymentConfig, error)
	Config(sourceILS string) *config.OnlinePaymentConfig
	NotifyLocalIdentifier(ctx context.Context, cb *gateway.Callback) (string, error)
}

// ReceiptSender mails a receipt for a paid payment.
type ReceiptSender interface {
	SendReceipt(ctx context.Context, p *models.Payment, fees []*models.PaymentFee) error
}

// Manager is the payment state machine. Every call takes the audit recorder of the request or
// job it runs in.
type Manager interface {
	// StartPayment creates the payment at the gateway and stores it InProgress. Nothing is stored
	// when the gateway call fails.
	StartPayment(ctx context.Context, rec *audit.Recorder, req *StartRequest) (*StartResult, error)
	// HandleCallback applies a return or notify callback to the payment it names.
	HandleCallback(ctx context.Context, rec *audit.Recorder, kind CallbackKind, localID string, cb *gateway.Callback) (*CallbackResult, error)
	// RequestRegistration registers a paid payment on explicit request.
	RequestRegistration(ctx context.Context, rec *audit.Recorder, localID string) (*models.Payment, error)
	// RegisterPayment claims and registers p with the ILS. It returns false when another worker
	// holds the claim or the ILS refused; storage errors are the only errors.
	RegisterPayment(ctx context.Context, rec *audit.Recorder, p *models.Payment) (bool, error)
	GetStatus(ctx context.Context, localID string) (*models.Payment, error)
	// NotifyLocalIdentifier finds the payment a webhook names in its signed body, for gateways
	// that cannot put it in the notify URL. It returns "" when no gateway recognises cb.
	NotifyLocalIdentifier(ctx context.Context, cb *gateway.Callback) (string, error)
	// ResolvePayment records an operator resolution of a failed registration.
	ResolvePayment(ctx context.Context, rec *audit.Recorder, id, operator string) (*models.Payment, error)
	// ExpirePayment gives up on registering p automatically.
	ExpirePayment(ctx context.Context, rec *audit.Recorder, p *models.Payment) (bool, error)
}
