package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"restopos/internal/apierror"
	"restopos/internal/dto"
	"restopos/internal/middleware"
	"restopos/internal/service"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type CashierHandler struct{ svc service.CashierService }

func NewCashierHandler(svc service.CashierService) *CashierHandler {
	return &CashierHandler{svc: svc}
}

// Open godoc
// @Summary Opens a cashier session for the logged in operator
// @Tags cashier
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.OpenSessionRequest true "Initial drawer amount"
// @Success 201 {object} dto.SessionResponse
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.ValidationError
// @Router /v1/cashier/open [post]
func (h *CashierHandler) Open(c *gin.Context) {
	var req dto.OpenSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Open(c.Request.Context(), middleware.GetClaims(c).Username, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetActive godoc
// @Summary Open session of the logged in operator
// @Tags cashier
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.SessionResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/cashier/active [get]
func (h *CashierHandler) GetActive(c *gin.Context) {
	resp, err := h.svc.GetActive(c.Request.Context(), middleware.GetClaims(c).Username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetSession godoc
// @Summary Session with its ledger, balance and closing report
// @Tags cashier
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} dto.SessionResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/cashier/{id} [get]
func (h *CashierHandler) GetSession(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.GetSession(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RecordMovement godoc
// @Summary Records a cash supply or withdrawal
// @Tags cashier
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param body body dto.MovementRequest true "Movement"
// @Success 201 {object} dto.MovementResponse
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.ValidationError
// @Router /v1/cashier/{id}/movements [post]
func (h *CashierHandler) RecordMovement(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.MovementRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.RecordMovement(c.Request.Context(), id, middleware.GetClaims(c).Username, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// RegisterSale godoc
// @Summary Registers an unpaid sale
// @Tags cashier
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param body body dto.RegisterSaleRequest true "Sale"
// @Success 201 {object} dto.SaleResponse
// @Failure 422 {object} apierror.ValidationError
// @Router /v1/cashier/{id}/sales [post]
func (h *CashierHandler) RegisterSale(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.RegisterSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.RegisterSale(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// FinalizePayment godoc
// @Summary Pays an active sale
// @Tags cashier
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param sale_id path string true "Sale ID"
// @Param body body dto.PaymentRequest true "Payment"
// @Success 200 {object} dto.SaleResponse
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.ValidationError
// @Router /v1/cashier/{id}/sales/{sale_id}/payment [post]
func (h *CashierHandler) FinalizePayment(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	saleID, ok := uuidParam(c, "sale_id")
	if !ok {
		return
	}
	var req dto.PaymentRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.FinalizePayment(c.Request.Context(), id, saleID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CancelSale godoc
// @Summary Cancels an active sale
// @Tags cashier
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param sale_id path string true "Sale ID"
// @Param body body dto.CancelSaleRequest true "Reason"
// @Success 200 {object} dto.SaleResponse
// @Failure 409 {object} apierror.APIError
// @Router /v1/cashier/{id}/sales/{sale_id}/cancel [post]
func (h *CashierHandler) CancelSale(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	saleID, ok := uuidParam(c, "sale_id")
	if !ok {
		return
	}
	var req dto.CancelSaleRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.CancelSale(c.Request.Context(), id, saleID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Close godoc
// @Summary Closes the session against the counted cash
// @Tags cashier
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param body body dto.CloseSessionRequest true "Cash count"
// @Success 200 {object} dto.ClosingReportResponse
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.ValidationError
// @Router /v1/cashier/{id}/close [post]
func (h *CashierHandler) Close(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.CloseSessionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Close(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// History godoc
// @Summary Closed sessions, most recent first
// @Tags cashier
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page" default(1)
// @Param limit query int false "Page size" default(20)
// @Success 200 {object} dto.HistoryResponse
// @Router /v1/cashier/history [get]
func (h *CashierHandler) History(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	resp, err := h.svc.History(c.Request.Context(), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ExportClosings godoc
// @Summary Spreadsheet of the sessions closed between two dates (inclusive)
// @Tags cashier
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param from query string true "First day, YYYY-MM-DD"
// @Param to query string true "Last day, YYYY-MM-DD"
// @Success 200 {file} binary
// @Failure 422 {object} apierror.ValidationError
// @Router /v1/cashier/closings.xlsx [get]
func (h *CashierHandler) ExportClosings(c *gin.Context) {
	from, errFrom := time.Parse(time.DateOnly, c.Query("from"))
	to, errTo := time.Parse(time.DateOnly, c.Query("to"))
	if errFrom != nil || errTo != nil {
		fields := map[string]string{}
		if errFrom != nil {
			fields["from"] = "YYYY-MM-DD"
		}
		if errTo != nil {
			fields["to"] = "YYYY-MM-DD"
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return
	}

	data, err := h.svc.ExportClosings(c.Request.Context(), from, to.AddDate(0, 0, 1))
	if err != nil {
		respondError(c, err)
		return
	}
	filename := fmt.Sprintf("closings-%s-%s.xlsx", from.Format("20060102"), to.Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}
