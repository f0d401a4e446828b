package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/fatflowers/finepay/internal/app/service/audit"
	"github.com/fatflowers/finepay/internal/app/service/gateway"
	"github.com/fatflowers/finepay/internal/app/service/paymentstore"
	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/pkg/logctx"
)

// successSources are the states a Success result may move to Paid from. A success reported
// after a cancel or failure on the other callback channel wins.
var successSources = []models.PaymentStatus{
	models.PaymentStatusInProgress,
	models.PaymentStatusCanceled,
	models.PaymentStatusPaymentFailed,
}

func handlerSubtype(kind CallbackKind) (audit.Subtype, string) {
	if kind == CallbackNotify {
		return audit.SubtypeNotifyHandler, "Handler called"
	}
	return audit.SubtypeResponseHandler, "Response handler called"
}

func (s *Service) HandleCallback(ctx context.Context, rec *audit.Recorder, kind CallbackKind, localID string, cb *gateway.Callback) (*CallbackResult, error) {
	log := logctx.FromCtx(ctx, s.log).With("local_identifier", localID, "callback", kind.String())
	p, err := s.store.GetPaymentByLocalIdentifier(ctx, localID)
	if err != nil {
		return nil, err
	}
	subtype, calledMsg := handlerSubtype(kind)
	out := &CallbackResult{Payment: p}

	if p.IsRegistered() {
		s.event(ctx, rec, p, subtype, "Payment already registered", nil)
		out.AlreadyRegistered = true
		return out, nil
	}

	handler, _, err := s.handlers.ForSource(p.SourceILS)
	if err != nil {
		return nil, err
	}
	if handler.Name() != p.Handler {
		return nil, &gateway.PaymentError{
			MessageKey: gateway.KeyConfiguration,
			Err:        fmt.Errorf("%w: payment made with %s, %s configured", gateway.ErrConfiguration, p.Handler, handler.Name()),
		}
	}

	s.event(ctx, rec, p, subtype, calledMsg, nil)
	start := time.Now()
	resp, err := handler.ProcessPaymentResponse(ctx, p, cb)
	s.metrics.ObserveProcess(handler.Name(), "process_"+kind.String(), start, err)
	if err != nil {
		log.Warnw("payment_callback_rejected", "err", err)
		s.event(ctx, rec, p, subtype, "Callback rejected", map[string]any{"error": err.Error()})
		return nil, err
	}
	out.Result = resp.Result
	log.Infow("payment_callback", "result", resp.Result.String(), "gateway_status", resp.GatewayStatus)

	switch resp.Result {
	case gateway.ResultSuccess:
		if out.MarkedAsPaid, err = s.markPaid(ctx, rec, p); err != nil {
			return nil, err
		}
	case gateway.ResultCancel:
		err = s.markUnpaid(ctx, rec, p, models.PaymentStatusCanceled, "Payment marked as canceled", resp)
	case gateway.ResultFailure:
		err = s.markUnpaid(ctx, rec, p, models.PaymentStatusPaymentFailed, "Payment marked as failed", resp)
	case gateway.ResultPending:
		// No status change, so a later terminal callback still applies.
		s.event(ctx, rec, p, audit.SubtypePayment, "Payment still pending", map[string]any{"gateway_status": resp.GatewayStatus})
	}
	if err != nil {
		return nil, err
	}

	if resp.Result == gateway.ResultSuccess && p.IsRegistrationNeeded() {
		s.event(ctx, rec, p, audit.SubtypeRegistration, "Registration requested", nil)
		if out.Registered, err = s.RegisterPayment(ctx, rec, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// markPaid applies a Success result. It reports whether this call made the transition; a
// repeated success is a no-op. p is reloaded in every case.
func (s *Service) markPaid(ctx context.Context, rec *audit.Recorder, p *models.Payment) (bool, error) {
	log := logctx.FromCtx(ctx, s.log)
	update := paymentstore.StatusUpdate{Status: models.PaymentStatusPaid, MarkPaid: true, Message: lo.ToPtr("")}

	ok, err := s.store.TransitionStatus(ctx, p.ID, successSources[:1], update)
	if err != nil {
		return false, err
	}
	overridden := models.PaymentStatus("")
	if !ok {
		// The other channel already recorded cancel or failure.
		if err := s.store.Reload(ctx, p); err != nil {
			return false, err
		}
		overridden = p.Status
		if ok, err = s.store.TransitionStatus(ctx, p.ID, successSources[1:], update); err != nil {
			return false, err
		}
	}
	from := lo.Ternary(overridden == "", models.PaymentStatusInProgress, overridden)
	if err := s.store.Reload(ctx, p); err != nil {
		return false, err
	}
	if !ok {
		log.Debugw("payment_success_repeated", "payment_id", p.ID, "status", p.Status)
		return false, nil
	}

	s.metrics.IncTransition(string(from), string(models.PaymentStatusPaid))
	if overridden != "" {
		log.Warnw("payment_result_conflict", "payment_id", p.ID, "overridden", overridden)
		s.event(ctx, rec, p, audit.SubtypePayment, "Conflicting callback results, success overrides "+string(overridden), map[string]any{
			"anomaly":           true,
			"overridden_status": string(overridden),
		})
	}
	s.event(ctx, rec, p, audit.SubtypePayment, "Payment marked as paid", nil)
	s.sendReceipt(ctx, rec, p)
	return true, nil
}

// markUnpaid applies Cancel or Failure. Both only leave InProgress; anything else is either a
// repeat or a conflict with an earlier success, which is recorded and otherwise ignored.
func (s *Service) markUnpaid(ctx context.Context, rec *audit.Recorder, p *models.Payment, to models.PaymentStatus, msg string, resp *gateway.Response) error {
	detail := lo.CoalesceOrEmpty(resp.Anomaly, resp.GatewayStatus)
	ok, err := s.store.TransitionStatus(ctx, p.ID, []models.PaymentStatus{models.PaymentStatusInProgress}, paymentstore.StatusUpdate{
		Status:  to,
		Message: lo.ToPtr(detail),
	})
	if err != nil {
		return err
	}
	if err := s.store.Reload(ctx, p); err != nil {
		return err
	}
	data := map[string]any{"gateway_status": resp.GatewayStatus}
	if resp.Anomaly != "" {
		data["anomaly"] = resp.Anomaly
	}
	if ok {
		s.metrics.IncTransition(string(models.PaymentStatusInProgress), string(to))
		s.event(ctx, rec, p, audit.SubtypePayment, msg, data)
		return nil
	}
	if p.Status == to {
		return nil
	}
	logctx.FromCtx(ctx, s.log).Warnw("payment_result_conflict", "payment_id", p.ID, "status", p.Status, "ignored", to)
	data["anomaly"] = true
	data["ignored_status"] = string(to)
	s.event(ctx, rec, p, audit.SubtypePayment, fmt.Sprintf("Conflicting callback result %s ignored, payment is %s", to, p.Status), data)
	return nil
}

func (s *Service) sendReceipt(ctx context.Context, rec *audit.Recorder, p *models.Payment) {
	if s.receipts == nil || !s.cfg.Receipt.Enabled {
		return
	}
	if p.GetExtra().Email == "" {
		s.event(ctx, rec, p, audit.SubtypeReceipt, "Receipt not sent: no email address", nil)
		return
	}
	fees, err := s.store.GetFees(ctx, p.ID)
	if err == nil {
		err = s.receipts.SendReceipt(ctx, p, fees)
	}
	if err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("receipt_send_failed", "payment_id", p.ID, "err", err)
		s.event(ctx, rec, p, audit.SubtypeReceipt, "Receipt sending failed", map[string]any{"error": err.Error()})
		return
	}
	s.event(ctx, rec, p, audit.SubtypeReceipt, "Receipt sent", nil)
}
