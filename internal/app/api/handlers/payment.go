package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	mw "github.com/fatflowers/finepay/internal/app/api/middleware"
	"github.com/fatflowers/finepay/internal/app/service/gateway"
	"github.com/fatflowers/finepay/internal/app/service/payment"
	"github.com/fatflowers/finepay/internal/app/service/paymentstore"
	"github.com/fatflowers/finepay/internal/models"
	"github.com/fatflowers/finepay/pkg/logctx"
	"github.com/fatflowers/finepay/pkg/response"
)

const (
	maxCallbackBody    = 1 << 20
	defaultStatusParam = "payment"
)

// errorResponse maps a payment error to an envelope. Gateway errors only expose their message key.
func errorResponse(err error) *response.APIResponse[any] {
	var pe *gateway.PaymentError
	switch {
	case errors.Is(err, paymentstore.ErrNotFound):
		return response.ErrorT[any](response.APIResponseCodeNotFound, nil)
	case errors.Is(err, payment.ErrNothingToPay),
		errors.Is(err, payment.ErrBelowMinimumFee),
		errors.Is(err, payment.ErrRegistrationNotNeeded),
		errors.Is(err, payment.ErrNotResolvable):
		return response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error())
	case errors.Is(err, payment.ErrPaymentInProgress),
		errors.Is(err, payment.ErrRegistrationInProgress):
		return response.ErrorT[any](response.APIResponseCodeConflict, err.Error())
	case errors.As(err, &pe):
		return response.ErrorT[any](response.APIResponseCodePaymentError, pe.MessageKey)
	}
	return response.ErrorT[any](response.APIResponseCodeError, nil)
}

// readCallback captures the raw gateway request. The body is kept as read so gateways that
// sign the body can verify it.
func readCallback(c *gin.Context) (*gateway.Callback, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		return nil, err
	}
	cb := &gateway.Callback{Query: c.Request.URL.Query(), Header: c.Request.Header.Clone(), Body: body}
	if strings.HasPrefix(c.ContentType(), "application/x-www-form-urlencoded") {
		if cb.Form, err = url.ParseQuery(string(body)); err != nil {
			return nil, err
		}
	}
	return cb, nil
}

type PaymentStatusResponse struct {
	LocalIdentifier string               `json:"local_identifier"`
	Status          models.PaymentStatus `json:"status"`
	StatusMessage   string               `json:"status_message,omitempty"`
	Amount          int64                `json:"amount"`
	ServiceFee      int64                `json:"service_fee"`
	Currency        string               `json:"currency"`
	Created         time.Time            `json:"created"`
	Paid            *time.Time           `json:"paid,omitempty"`
	Registered      *time.Time           `json:"registered,omitempty"`
}

func toPaymentStatus(p *models.Payment) *PaymentStatusResponse {
	return &PaymentStatusResponse{
		LocalIdentifier: p.LocalIdentifier,
		Status:          p.Status,
		StatusMessage:   lo.FromPtr(p.StatusMessage),
		Amount:          p.Amount,
		ServiceFee:      p.ServiceFee,
		Currency:        p.Currency,
		Created:         p.Created,
		Paid:            p.Paid,
		Registered:      p.Registered,
	}
}

// @Summary      Start Payment
// @Description  Creates a payment for the patron's payable fines and redirects the browser to the payment gateway.
// @Tags         Payment
// @Accept       json
// @Produce      json
// @Param        request body payment.StartRequest true "Patron, fines and return settings"
// @Success      302
// @Failure      200  {object}  handlers.RespOK
// @Router       /api/v1/payment/start [post]
func ApiStartPayment(mgr payment.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payment.StartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := mgr.StartPayment(c.Request.Context(), mw.AuditRecorder(c), &req)
		if err != nil {
			c.JSON(http.StatusOK, errorResponse(err))
			return
		}
		c.Redirect(http.StatusFound, res.RedirectURL)
	}
}

// clientReturnURL appends the payment status to the catalog page stored at start.
func clientReturnURL(p *models.Payment, callbackErr error) string {
	extra := p.GetExtra()
	if extra.ClientReturnURL == "" {
		return ""
	}
	params := url.Values{lo.CoalesceOrEmpty(extra.StatusParam, defaultStatusParam): {string(p.Status)}}
	if callbackErr != nil {
		params.Set("error", gateway.MessageKey(callbackErr))
	}
	return gateway.AddQueryParams(extra.ClientReturnURL, params)
}

// @Summary      Payment Return
// @Description  Browser return from the payment gateway. Redirects to the catalog page given at start, or answers the payment status.
// @Tags         Payment
// @Produce      json
// @Param        local_payment_id query string true "Local payment identifier"
// @Success      200  {object}  handlers.RespPaymentStatus
// @Success      302
// @Router       /api/v1/payment/return [get]
func ApiPaymentReturn(mgr payment.Manager, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		cb, err := readCallback(c)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		localID := cb.Params().Get(gateway.LocalPaymentIDParam)
		if localID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing "+gateway.LocalPaymentIDParam))
			return
		}

		var p *models.Payment
		res, cbErr := mgr.HandleCallback(ctx, mw.AuditRecorder(c), payment.CallbackReturn, localID, cb)
		if cbErr != nil {
			logctx.FromGin(c, log).Warnw("payment_return_failed", "local_identifier", localID, "err", cbErr)
			if p, err = mgr.GetStatus(ctx, localID); err != nil {
				c.JSON(http.StatusOK, errorResponse(cbErr))
				return
			}
		} else {
			p = res.Payment
		}

		if target := clientReturnURL(p, cbErr); target != "" {
			c.Redirect(http.StatusFound, target)
			return
		}
		if cbErr != nil {
			c.JSON(http.StatusOK, errorResponse(cbErr))
			return
		}
		c.JSON(http.StatusOK, response.OKT(toPaymentStatus(p)))
	}
}

// @Summary      Payment Notify
// @Description  Server to server notification from the payment gateway. Answers 400 for unknown payments and rejected signatures and 500 when processing fails, so the gateway retries.
// @Tags         Webhook
// @Produce      plain
// @Param        local_payment_id query string false "Local payment identifier, read from the signed body when absent"
// @Success      200  {string}  string
// @Router       /api/v1/payment/notify [post]
func ApiPaymentNotify(mgr payment.Manager, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		l := logctx.FromGin(c, log)
		cb, err := readCallback(c)
		if err != nil {
			c.String(http.StatusBadRequest, "Invalid request")
			return
		}
		localID := cb.Params().Get(gateway.LocalPaymentIDParam)
		if localID == "" {
			// Stripe and Razorpay post to a fixed webhook URL and name the payment in the body.
			if localID, err = mgr.NotifyLocalIdentifier(c.Request.Context(), cb); err != nil {
				l.Warnw("payment_notify_unidentified", "err", err)
				c.String(http.StatusBadRequest, lo.Ternary(errors.Is(err, gateway.ErrSignature), "Invalid signature", "Invalid request"))
				return
			}
		}
		if localID == "" {
			c.String(http.StatusBadRequest, "Missing "+gateway.LocalPaymentIDParam)
			return
		}

		res, err := mgr.HandleCallback(c.Request.Context(), mw.AuditRecorder(c), payment.CallbackNotify, localID, cb)
		switch {
		case errors.Is(err, paymentstore.ErrNotFound):
			l.Warnw("payment_notify_unknown", "local_identifier", localID)
			c.String(http.StatusBadRequest, "Payment not found")
		case errors.Is(err, gateway.ErrSignature):
			c.String(http.StatusBadRequest, "Invalid signature")
		case errors.Is(err, gateway.ErrInvalidCallback):
			l.Warnw("payment_notify_invalid", "local_identifier", localID, "err", err)
			c.String(http.StatusBadRequest, "Invalid request")
		case err != nil:
			l.Errorw("payment_notify_failed", "local_identifier", localID, "err", err)
			c.String(http.StatusInternalServerError, "Exception processing request")
		case res.AlreadyRegistered:
			c.String(http.StatusOK, "Payment already registered")
		default:
			c.String(http.StatusOK, "OK")
		}
	}
}

// @Summary      Payment Status
// @Description  Returns the current status of a payment, for UI polling.
// @Tags         Payment
// @Produce      json
// @Param        local_payment_id query string true "Local payment identifier"
// @Success      200  {object}  handlers.RespPaymentStatus
// @Router       /api/v1/payment/status [get]
func ApiPaymentStatus(mgr payment.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		localID := c.Query(gateway.LocalPaymentIDParam)
		if localID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing "+gateway.LocalPaymentIDParam))
			return
		}
		p, err := mgr.GetStatus(c.Request.Context(), localID)
		if err != nil {
			c.JSON(http.StatusOK, errorResponse(err))
			return
		}
		c.JSON(http.StatusOK, response.OKT(toPaymentStatus(p)))
	}
}

type RegisterPaymentRequest struct {
	LocalPaymentID string `json:"local_payment_id" binding:"required"`
}

// @Summary      Register Payment
// @Description  Registers a paid payment with the ILS on explicit request.
// @Tags         Payment
// @Accept       json
// @Produce      json
// @Param        request body handlers.RegisterPaymentRequest true "Payment to register"
// @Success      200  {object}  handlers.RespPaymentStatus
// @Router       /api/v1/payment/register [post]
func ApiRegisterPayment(mgr payment.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		p, err := mgr.RequestRegistration(c.Request.Context(), mw.AuditRecorder(c), req.LocalPaymentID)
		if err != nil {
			c.JSON(http.StatusOK, errorResponse(err))
			return
		}
		c.JSON(http.StatusOK, response.OKT(toPaymentStatus(p)))
	}
}

func RegisterPaymentRoutes(r gin.IRouter, mgr payment.Manager, log *zap.SugaredLogger) {
	r.POST("/start", ApiStartPayment(mgr))
	r.GET("/return", ApiPaymentReturn(mgr, log))
	r.POST("/return", ApiPaymentReturn(mgr, log))
	r.GET("/notify", ApiPaymentNotify(mgr, log))
	r.POST("/notify", ApiPaymentNotify(mgr, log))
	r.GET("/status", ApiPaymentStatus(mgr))
	r.POST("/register", ApiRegisterPayment(mgr))
}
