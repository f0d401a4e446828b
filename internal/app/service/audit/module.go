package audit

import "go.uber.org/fx"

// Module exposes the audit event log via Fx.
var Module = fx.Options(
	fx.Provide(NewService),
)
