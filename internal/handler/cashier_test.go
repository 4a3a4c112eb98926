package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"restopos/internal/apierror"
	"restopos/internal/cashier"
	"restopos/internal/dto"
	"restopos/internal/middleware"
	"restopos/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

// stubCashier answers every call with err, or with a canned response.
type stubCashier struct {
	service.CashierService
	err      error
	operator string
	movement dto.MovementRequest
	from, to time.Time
}

func (s *stubCashier) Open(_ context.Context, operator string, req dto.OpenSessionRequest) (*dto.SessionResponse, error) {
	s.operator = operator
	if s.err != nil {
		return nil, s.err
	}
	return &dto.SessionResponse{ID: uuid.NewString(), Operator: operator, Status: "OPEN"}, nil
}

func (s *stubCashier) RecordMovement(_ context.Context, _ uuid.UUID, operator string, req dto.MovementRequest) (*dto.MovementResponse, error) {
	s.operator, s.movement = operator, req
	if s.err != nil {
		return nil, s.err
	}
	return &dto.MovementResponse{Type: req.Type}, nil
}

func (s *stubCashier) ExportClosings(_ context.Context, from, to time.Time) ([]byte, error) {
	s.from, s.to = from, to
	return []byte("xlsx"), s.err
}

func newTestRouter(svc service.CashierService) *gin.Engine {
	h := NewCashierHandler(svc)
	r := gin.New()
	r.Use(middleware.RequestID())
	// stand-in for JWTAuth
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ClaimsKey, &middleware.JWTClaims{Username: "ana", Role: "cashier"})
	})
	r.POST("/v1/cashier/open", h.Open)
	r.POST("/v1/cashier/:id/movements", h.RecordMovement)
	r.GET("/v1/cashier/closings.xlsx", h.ExportClosings)
	return r
}

func send(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestOpen_UsesTokenOperator(t *testing.T) {
	stub := &stubCashier{}
	w := send(newTestRouter(stub), http.MethodPost, "/v1/cashier/open", `{"initial_amount":"R$ 100,00"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "ana", stub.operator)
}

func TestBindAndValidate_FieldMap(t *testing.T) {
	r := newTestRouter(&stubCashier{})
	path := fmt.Sprintf("/v1/cashier/%s/movements", uuid.NewString())

	w := send(r, http.MethodPost, path, `{"type":"REFUND","amount":"","reason":"x"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body apierror.ValidationError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"type": "oneof", "amount": "required"}, body.Fields)

	w = send(r, http.MethodPost, path, `{"type":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = send(r, http.MethodPost, "/v1/cashier/not-a-uuid/movements", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRespondError_Mapping(t *testing.T) {
	sessionID := uuid.New()
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &cashier.ValidationError{Field: "amount", Reason: "must be positive"}, http.StatusUnprocessableEntity},
		{"insufficient", &cashier.InsufficientBalanceError{Requested: 500, Available: 100}, http.StatusConflict},
		{"invalid state", &cashier.InvalidStateError{Entity: "session", ID: sessionID, State: "CLOSED", Op: "record movement"}, http.StatusConflict},
		{"not found", service.ErrSessionNotFound, http.StatusNotFound},
		{"locked", fmt.Errorf("%w: timeout", service.ErrLocked), http.StatusLocked},
		{"persistence", fmt.Errorf("%w: save session: connection refused", service.ErrPersistence), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&stubCashier{err: tc.err})
			w := send(r, http.MethodPost, "/v1/cashier/"+sessionID.String()+"/movements",
				`{"type":"WITHDRAWAL","amount":"5,00","reason":"Sangria"}`)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRespondError_InternalHidesDetails(t *testing.T) {
	r := newTestRouter(&stubCashier{err: errors.New("pq: password authentication failed")})
	w := send(r, http.MethodPost, "/v1/cashier/open", `{"initial_amount":"10"}`)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "pq:")
	var body apierror.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, w.Header().Get(middleware.RequestIDHeader), body.RequestID)
}

func TestRespondError_CorruptStoredSession(t *testing.T) {
	_, restoreErr := cashier.Restore(cashier.Snapshot{})
	require.Error(t, restoreErr)
	err := fmt.Errorf("%w: load session x: %w", service.ErrPersistence, restoreErr)

	r := newTestRouter(&stubCashier{err: err})
	w := send(r, http.MethodPost, "/v1/cashier/"+uuid.NewString()+"/movements",
		`{"type":"SUPPLY","amount":"5,00","reason":"Troco"}`)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotContains(t, body, "fields")
	assert.Equal(t, w.Header().Get(middleware.RequestIDHeader), body["request_id"])
}

func TestExportClosings(t *testing.T) {
	stub := &stubCashier{}
	r := newTestRouter(stub)

	w := send(r, http.MethodGet, "/v1/cashier/closings.xlsx?from=2026-08-01&to=2026-08-31", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "closings-20260801-20260831.xlsx")
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), stub.from)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), stub.to)

	w = send(r, http.MethodGet, "/v1/cashier/closings.xlsx?from=01/08/2026", "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body apierror.ValidationError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Fields, "from")
	assert.Contains(t, body.Fields, "to")
}
