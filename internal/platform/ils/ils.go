// Package ils talks to the integrated library system that owns patron fines.
package ils

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/finepay/pkg/config"
)

// ReasonFinesChanged is reported when the patron's fines changed after the payment was made.
const ReasonFinesChanged = "fines_changed"

var ErrPatronNotFound = errors.New("patron not found in ILS")

type RegistrationRequest struct {
	SourceILS        string   `json:"source_ils"`
	CatUsername      string   `json:"cat_username"`
	Amount           int64    `json:"amount"`
	Currency         string   `json:"currency"`
	LocalIdentifier  string   `json:"local_identifier"`
	RemoteIdentifier string   `json:"remote_identifier"`
	PaymentID        string   `json:"payment_id"`
	FineIDs          []string `json:"fine_ids,omitempty"`
}

type RegistrationResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

func (r *RegistrationResult) FinesChanged() bool {
	return r != nil && !r.Success && r.Reason == ReasonFinesChanged
}

// Registrar marks fines paid in the ILS.
type Registrar interface {
	RegisterPayment(ctx context.Context, req *RegistrationRequest) (*RegistrationResult, error)
}

// PayableAmountChecker is implemented by drivers that can report the current payable total,
// limited to fineIDs when given.
type PayableAmountChecker interface {
	PayableAmount(ctx context.Context, sourceILS, catUsername string, fineIDs []string) (int64, error)
}

// New selects the driver named by ils.driver.
func New(cfg *config.Config, log *zap.SugaredLogger) (Registrar, error) {
	switch strings.ToLower(cfg.ILS.Driver) {
	case "", "demo":
		return NewDemo(), nil
	case "http":
		return NewHTTPClient(cfg.ILS, log)
	default:
		return nil, fmt.Errorf("unknown ils driver %q", cfg.ILS.Driver)
	}
}

var Module = fx.Options(
	fx.Provide(New),
)
