package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/pulsetel/simhub/internal/app/service/renewal"
	"github.com/pulsetel/simhub/internal/models"
	"github.com/pulsetel/simhub/pkg/response"
	"github.com/pulsetel/simhub/pkg/types"
)

type stubRenewalMgr struct {
	order      *models.RenewalOrder
	createRes  *renewal.CreateOrderResult
	packages   []*models.RenewalPackage
	confirmErr error
	createErr  error
	getErr     error
}

func (s *stubRenewalMgr) CreateOrder(context.Context, *renewal.CreateOrderRequest) (*renewal.CreateOrderResult, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.createRes, nil
}

func (s *stubRenewalMgr) ConfirmAndFulfill(context.Context, string) (*models.RenewalOrder, error) {
	return s.order, s.confirmErr
}

func (s *stubRenewalMgr) RetryFulfillment(context.Context, string) (*models.RenewalOrder, error) {
	return s.order, s.confirmErr
}

func (s *stubRenewalMgr) GetOrder(context.Context, string) (*models.RenewalOrder, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.order, nil
}

func (s *stubRenewalMgr) ListPackages(context.Context, string, string) ([]*models.RenewalPackage, error) {
	return s.packages, nil
}

func (s *stubRenewalMgr) ScanOrders(context.Context, *renewal.ScanOrdersRequest) (*renewal.ScanOrdersResponse, error) {
	return &renewal.ScanOrdersResponse{Items: []*models.RenewalOrder{s.order}, Total: 1}, nil
}

func pendingOrder() *models.RenewalOrder {
	return &models.RenewalOrder{
		ID:          "0190b7f0-0000-7000-8000-000000000001",
		OrderID:     "REN-A1B2C3D4E5F6",
		ICCID:       "8988303000012345678",
		Provider:    types.ProviderESIMCard,
		PlanName:    "eSIM, 1GB, 7 Days, Turkey",
		AmountCents: 999,
		Currency:    "USD",
		Status:      types.OrderStatusPending,
	}
}

func TestApiCreateRenewal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	order := pendingOrder()
	stub := &stubRenewalMgr{createRes: &renewal.CreateOrderResult{
		Order:       order,
		SessionID:   "cs_test_1",
		CheckoutURL: "https://checkout.example/pay/REN-A1B2C3D4E5F6",
	}}
	r := gin.New()
	RegisterRenewalRoutes(r.Group("/api/v1"), stub)

	body, _ := json.Marshal(map[string]any{
		"iccid":      "8988303000012345678",
		"package_id": "pkg-1",
		"currency":   "USD",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/renewals", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var env response.APIResponse[CreateRenewalResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, "REN-A1B2C3D4E5F6", env.Data.OrderID)
	require.Equal(t, "cs_test_1", env.Data.SessionID)
	require.NotEmpty(t, env.Data.CheckoutURL)
}

func TestApiCreateRenewal_ValidatesBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRenewalRoutes(r.Group("/api/v1"), &stubRenewalMgr{})

	// package_id is required.
	body, _ := json.Marshal(map[string]any{"iccid": "8988303000012345678"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/renewals", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApiCreateRenewal_UnknownPackage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRenewalRoutes(r.Group("/api/v1"), &stubRenewalMgr{createErr: renewal.ErrPackageNotFound})

	body, _ := json.Marshal(map[string]any{"iccid": "8988303000012345678", "package_id": "nope"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/renewals", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestApiConfirmRenewal_Completed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	order := pendingOrder()
	order.Status = types.OrderStatusCompleted
	r := gin.New()
	RegisterRenewalRoutes(r.Group("/api/v1"), &stubRenewalMgr{order: order})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/renewals/confirm?session_id=cs_test_1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var env response.APIResponse[OrderView]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, response.APIResponseCodeOK, env.Code)
	require.Equal(t, types.OrderStatusCompleted, env.Data.Status)
}

// A fulfillment failure after capture answers 200 with the PROVIDER_FAILED
// snapshot: the caller must see the order state, not a bare error.
func TestApiConfirmRenewal_ProviderFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	order := pendingOrder()
	order.Status = types.OrderStatusProviderFailed
	order.ProviderContext = datatypes.NewJSONType(map[string]string{
		"failureDetail":   "provider: transient upstream error",
		"paymentCaptured": "true",
	})
	stub := &stubRenewalMgr{
		order:      order,
		confirmErr: &renewal.FulfillmentError{OrderID: order.OrderID, Step: "provider_fulfill", Err: context.DeadlineExceeded},
	}
	r := gin.New()
	RegisterRenewalRoutes(r.Group("/api/v1"), stub)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/renewals/confirm?session_id=cs_test_1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var env response.APIResponse[OrderView]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, response.APIResponseCodeError, env.Code)
	require.Equal(t, types.OrderStatusProviderFailed, env.Data.Status)
	require.True(t, env.Data.PaymentCaptured)
	require.NotEmpty(t, env.Data.FailureDetail)
}

func TestApiConfirmRenewal_PaymentNotConfirmed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	order := pendingOrder()
	order.Status = types.OrderStatusFailed
	r := gin.New()
	RegisterRenewalRoutes(r.Group("/api/v1"), &stubRenewalMgr{order: order, confirmErr: renewal.ErrPaymentNotConfirmed})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/renewals/confirm?session_id=cs_test_1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusPaymentRequired, w.Code)
	var env response.APIResponse[OrderView]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, types.OrderStatusFailed, env.Data.Status)
	require.False(t, env.Data.PaymentCaptured)
}

func TestApiGetRenewalOrder_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRenewalRoutes(r.Group("/api/v1"), &stubRenewalMgr{getErr: renewal.ErrOrderNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/renewals/REN-MISSING00000", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterRenewalRoutes_RegistersEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRenewalRoutes(r.Group("/api/v1"), nil)

	routes := r.Routes()
	contains := func(target string) bool {
		for _, rt := range routes {
			if rt.Method+" "+rt.Path == target {
				return true
			}
		}
		return false
	}

	require.True(t, contains("GET /api/v1/packages"))
	require.True(t, contains("POST /api/v1/renewals"))
	require.True(t, contains("GET /api/v1/renewals/confirm"))
	require.True(t, contains("GET /api/v1/renewals/:orderId"))
}
