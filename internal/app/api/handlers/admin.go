package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	mw "github.com/fatflowers/finepay/internal/app/api/middleware"
	"github.com/fatflowers/finepay/internal/app/service/audit"
	"github.com/fatflowers/finepay/internal/app/service/export"
	"github.com/fatflowers/finepay/internal/app/service/payment"
	"github.com/fatflowers/finepay/internal/app/service/paymentstore"
	"github.com/fatflowers/finepay/pkg/logctx"
	"github.com/fatflowers/finepay/pkg/response"
)

// exportLimit caps the rows of one spreadsheet export.
const exportLimit = 10000

// @Summary      List Payments (Admin)
// @Description  Retrieves a paginated and filterable list of payments, newest first.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body paymentstore.ListFilter true "Filters and pagination"
// @Success      200  {object}  handlers.RespPaymentPage
// @Router       /api/v1/admin/payments/list [post]
func ApiListPayments(store *paymentstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req paymentstore.ListFilter
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		page, err := store.ListPayments(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(page))
	}
}

// @Summary      Export Payments (Admin)
// @Description  Downloads the payments matching the filters as an xlsx spreadsheet. Pagination is ignored.
// @Tags         Admin
// @Accept       json
// @Produce      application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param        request body paymentstore.ListFilter true "Filters"
// @Success      200  {file}  file
// @Router       /api/v1/admin/payments/export [post]
func ApiExportPayments(store *paymentstore.Store, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req paymentstore.ListFilter
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		req.Page, req.Size = 1, exportLimit
		page, err := store.ListPayments(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}

		c.Header("Content-Type", export.ContentType)
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="payments-%s.xlsx"`, time.Now().UTC().Format("20060102-150405")))
		if err := export.WritePayments(c.Writer, page.Items); err != nil {
			logctx.FromGin(c, log).Errorw("payment_export_failed", "err", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		logctx.FromGin(c, log).Infow("payment_export", "rows", len(page.Items), "total", page.Total, "operator", mw.Operator(c))
	}
}

type ResolvePaymentRequest struct {
	ID string `json:"id" binding:"required"`
}

// @Summary      Resolve Payment (Admin)
// @Description  Marks a payment whose registration failed, expired or hit updated fines as resolved by the operator.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body handlers.ResolvePaymentRequest true "Payment id"
// @Success      200  {object}  handlers.RespPayment
// @Router       /api/v1/admin/payments/resolve [post]
func ApiResolvePayment(mgr payment.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResolvePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		p, err := mgr.ResolvePayment(c.Request.Context(), mw.AuditRecorder(c), req.ID, mw.Operator(c))
		if err != nil {
			c.JSON(http.StatusOK, errorResponse(err))
			return
		}
		c.JSON(http.StatusOK, response.OKT(p))
	}
}

// @Summary      Payment Sources (Admin)
// @Description  Lists every source ILS that has payments.
// @Tags         Admin
// @Produce      json
// @Success      200  {object}  handlers.RespStrings
// @Router       /api/v1/admin/payments/sources [get]
func ApiPaymentSources(store *paymentstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sources, err := store.GetUniqueSourceILSList(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(sources))
	}
}

// @Summary      List Audit Events (Admin)
// @Description  Retrieves a paginated and filterable list of audit events, newest first unless sorted otherwise.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body audit.EventFilter true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespEventPage
// @Router       /api/v1/admin/audit_events/list [post]
func ApiListAuditEvents(svc *audit.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req audit.EventFilter
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		page, err := svc.GetEvents(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(page))
	}
}

func RegisterAdminRoutes(r gin.IRouter, mgr payment.Manager, store *paymentstore.Store, auditSvc *audit.Service, log *zap.SugaredLogger) {
	r.POST("/payments/list", ApiListPayments(store))
	r.POST("/payments/export", ApiExportPayments(store, log))
	r.POST("/payments/resolve", ApiResolvePayment(mgr))
	r.GET("/payments/sources", ApiPaymentSources(store))
	r.POST("/audit_events/list", ApiListAuditEvents(auditSvc))
}
