package gateway

import (
	"context"
	"net/http"
	"net/url"

	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/pkg/types"
)

// Result is the gateway outcome reduced to what the payment state machine needs.
type Result int

const (
	ResultSuccess Result = iota
	ResultCancel
	ResultFailure
	ResultPending
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultCancel:
		return "cancel"
	case ResultFailure:
		return "failure"
	case ResultPending:
		return "pending"
	default:
		return "unknown"
	}
}

// LocalPaymentIDParam is added to return and notify URLs to correlate callbacks.
const LocalPaymentIDParam = "local_payment_id"

type StartRequest struct {
	LocalIdentifier string
	// ReturnURL and NotifyURL already carry LocalPaymentIDParam.
	ReturnURL string
	NotifyURL string
	User      types.User
	Patron    types.Patron
	// Amount is the sum of fine balances in minor units, without the service fee.
	Amount int64
	Fines  []*types.Fine
	Locale string
}

type StartResult struct {
	RemoteIdentifier string
	RedirectURL      string
	ServiceFee       int64
	Currency         string
}

// Callback is the raw gateway request, either the browser return or a notify call.
type Callback struct {
	Query  url.Values
	Form   url.Values
	Header http.Header
	Body   []byte
}

// Params merges query and form values. Form values win.
func (c *Callback) Params() url.Values {
	out := url.Values{}
	if c == nil {
		return out
	}
	for k, v := range c.Query {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range c.Form {
		out[k] = append([]string(nil), v...)
	}
	return out
}

type Response struct {
	Result Result
	// GatewayStatus is the status string in the gateway's own vocabulary.
	GatewayStatus string
	// Anomaly is set when the result was forced, for example an unknown status failing closed.
	Anomaly string
}

// Handler talks to one payment gateway. Implementations hold no per-payment state.
type Handler interface {
	Name() string
	// StartPayment creates the payment at the gateway. It must not touch local storage.
	StartPayment(ctx context.Context, req *StartRequest) (*StartResult, error)
	// ProcessPaymentResponse validates the callback signature and maps the gateway status.
	// A signature mismatch is an error, never a result.
	ProcessPaymentResponse(ctx context.Context, p *models.Payment, cb *Callback) (*Response, error)
}

// NotifyIdentifier is implemented by gateways whose webhooks name the payment only in the signed
// body. It returns "" without error when cb is not one of its webhooks.
type NotifyIdentifier interface {
	NotifyLocalIdentifier(ctx context.Context, cb *Callback) (string, error)
}
