package paymentstore

import "go.uber.org/fx"

// Module provides the payment store.
var Module = fx.Options(
	fx.Provide(NewStore),
)
