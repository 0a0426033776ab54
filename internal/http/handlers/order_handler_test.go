// README: Handler tests for authorization checks and error mapping.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"cvneat/internal/http/handlers"
	httpmiddleware "cvneat/internal/http/middleware"
	"cvneat/internal/infra"
	"cvneat/internal/modules/order"
	"cvneat/internal/types"
)

// stubTokenVerifier is a test double for infra.TokenVerifier.
type stubTokenVerifier struct {
	token *infra.AuthToken
	err   error
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.AuthToken, error) {
	return s.token, s.err
}

// stubOrders records the last call and returns err when set.
type stubOrders struct {
	err        error
	restaurant *order.Restaurant

	lastCreate     order.CreateCommand
	lastTransition order.TransitionCommand
	lastClaim      order.ClaimCommand
	lastViewer     order.Actor
	lastStatus     order.Status
}

func (s *stubOrders) Create(_ context.Context, cmd order.CreateCommand) (*order.CreateResult, error) {
	s.lastCreate = cmd
	if s.err != nil {
		return nil, s.err
	}
	return &order.CreateResult{OrderID: "o1", SecurityCode: "123456", Total: decimal.RequireFromString("45.50"), Status: order.StatusPending}, nil
}

func (s *stubOrders) Get(_ context.Context, viewer order.Actor, id types.ID) (*order.View, error) {
	s.lastViewer = viewer
	if s.err != nil {
		return nil, s.err
	}
	return &order.View{Order: &order.Order{ID: id, Status: order.StatusPending}}, nil
}

func (s *stubOrders) ConfirmPayment(_ context.Context, _ order.Actor, id types.ID, _ string) (*order.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &order.Order{ID: id}, nil
}

func (s *stubOrders) Transition(_ context.Context, cmd order.TransitionCommand) (*order.Order, error) {
	s.lastTransition = cmd
	if s.err != nil {
		return nil, s.err
	}
	return &order.Order{ID: cmd.OrderID, Status: cmd.To}, nil
}

func (s *stubOrders) Claim(_ context.Context, cmd order.ClaimCommand) (*order.Order, error) {
	s.lastClaim = cmd
	if s.err != nil {
		return nil, s.err
	}
	d := cmd.DriverID
	return &order.Order{ID: cmd.OrderID, DriverID: &d}, nil
}

func (s *stubOrders) ListAvailable(context.Context, types.ID) ([]*order.Order, error) {
	return nil, s.err
}

func (s *stubOrders) ListForDriver(context.Context, types.ID) ([]*order.Order, error) {
	return nil, s.err
}

func (s *stubOrders) ListForRestaurant(_ context.Context, actor order.Actor, status order.Status) ([]*order.Order, error) {
	s.lastViewer = actor
	s.lastStatus = status
	return []*order.Order{{ID: "o1", RestaurantID: actor.RestaurantID}}, s.err
}

func (s *stubOrders) RestaurantForOwner(_ context.Context, ownerID types.ID) (*order.Restaurant, error) {
	if s.restaurant == nil || s.restaurant.OwnerID != ownerID {
		return nil, order.ErrRestaurantNotFound
	}
	return s.restaurant, nil
}

func (s *stubOrders) SweepExpired(context.Context) (order.SweepResult, error) {
	return order.SweepResult{
		Cancelled: 2,
		Failures:  []order.SweepFailure{{OrderID: "o9", Stage: "refund", Err: errors.New("card declined")}},
	}, s.err
}

func (s *stubOrders) Refund(_ context.Context, _ order.Actor, id types.ID) (*order.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &order.Order{ID: id}, nil
}

// buildTestRouter wires a minimal Gin engine with the auth middleware and every handler.
func buildTestRouter(verifier infra.TokenVerifier, svc handlers.OrderService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(httpmiddleware.Auth(verifier))

	oh := handlers.NewOrderHandler(svc)
	r.POST("/api/orders", oh.Create)
	r.GET("/api/orders/:id", oh.Get)
	r.POST("/api/orders/:id/cancel", oh.Cancel)

	dh := handlers.NewDriverHandler(svc)
	r.GET("/api/delivery/orders/available", dh.ListAvailable)
	r.POST("/api/delivery/orders/:id/claim", dh.Claim)
	r.POST("/api/delivery/orders/:id/status", dh.UpdateStatus)

	rh := handlers.NewRestaurantHandler(svc)
	r.GET("/api/restaurants/orders", rh.List)
	r.PUT("/api/restaurants/orders/:id", rh.Update)

	ah := handlers.NewAdminHandler(svc)
	r.POST("/api/admin/orders/sweep", ah.Sweep)
	return r
}

func makeVerifier(uid, role string) *stubTokenVerifier {
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &stubTokenVerifier{token: &infra.AuthToken{UID: uid, Claims: claims}}
}

func doRequest(r *gin.Engine, method, path string, body interface{}, authHeader string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sampleOrderBody() map[string]any {
	return map[string]any{
		"restaurant_id": "r1",
		"items": []map[string]any{
			{"menu_id": "m1", "name": "Burger", "quantity": 2, "unit_price": "15.50",
				"extras": []map[string]any{{"kind": "supplement", "name": "Bacon", "price": 1.5}}},
		},
		"delivery_address": map[string]any{"street": "10 Rue Victor Hugo", "city": "Paris", "postal_code": "75001"},
		"customer":         map[string]any{"first_name": "Ada", "last_name": "Martin", "phone": "0600000000"},
		"delivery_fee":     2.5,
		"total":            "45.50",
	}
}

// TestCreate_Unauthenticated verifies that requests without a valid token are rejected.
func TestCreate_Unauthenticated(t *testing.T) {
	r := buildTestRouter(&stubTokenVerifier{err: errors.New("no token")}, &stubOrders{})
	w := doRequest(r, http.MethodPost, "/api/orders", sampleOrderBody(), "Bearer badtoken")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

// TestCreate_UsesCallerAsCustomer checks that the order is placed for the token's uid.
func TestCreate_UsesCallerAsCustomer(t *testing.T) {
	svc := &stubOrders{}
	r := buildTestRouter(makeVerifier("realUID", ""), svc)
	w := doRequest(r, http.MethodPost, "/api/orders", sampleOrderBody(), "Bearer sometoken")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastCreate.UserID != "realUID" {
		t.Errorf("expected user realUID, got %s", svc.lastCreate.UserID)
	}
	if len(svc.lastCreate.Items) != 1 || len(svc.lastCreate.Items[0].Extras) != 1 {
		t.Fatalf("cart not decoded: %+v", svc.lastCreate.Items)
	}
	if !svc.lastCreate.ClientTotal.Valid || !svc.lastCreate.ClientTotal.Decimal.Equal(decimal.RequireFromString("45.50")) {
		t.Errorf("client total not decoded: %v", svc.lastCreate.ClientTotal)
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["security_code"] != "123456" {
		t.Errorf("expected security code in response, got %v", body)
	}
}

// TestCreate_PlatformFeeIsAdvisory checks that a client platform fee is only
// forwarded as an advisory figure.
func TestCreate_PlatformFeeIsAdvisory(t *testing.T) {
	svc := &stubOrders{}
	r := buildTestRouter(makeVerifier("realUID", ""), svc)

	body := sampleOrderBody()
	body["platform_fee"] = 0
	w := doRequest(r, http.MethodPost, "/api/orders", body, "Bearer sometoken")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !svc.lastCreate.ClientPlatformFee.Valid || !svc.lastCreate.ClientPlatformFee.Decimal.IsZero() {
		t.Errorf("client platform fee not forwarded: %v", svc.lastCreate.ClientPlatformFee)
	}

	w = doRequest(r, http.MethodPost, "/api/orders", sampleOrderBody(), "Bearer sometoken")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if svc.lastCreate.ClientPlatformFee.Valid {
		t.Errorf("absent platform fee should stay unset, got %v", svc.lastCreate.ClientPlatformFee)
	}
}

// TestCreate_RequiresCustomer checks that drivers and restaurants cannot place orders.
func TestCreate_RequiresCustomer(t *testing.T) {
	r := buildTestRouter(makeVerifier("driverUID", "delivery"), &stubOrders{})
	w := doRequest(r, http.MethodPost, "/api/orders", sampleOrderBody(), "Bearer sometoken")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestCreate_MalformedExtras(t *testing.T) {
	body := sampleOrderBody()
	body["items"] = []map[string]any{
		{"menu_id": "m1", "quantity": 1, "unit_price": "10", "extras": []map[string]any{{"kind": "topping", "name": "x"}}},
	}
	r := buildTestRouter(makeVerifier("u1", ""), &stubOrders{})
	w := doRequest(r, http.MethodPost, "/api/orders", body, "Bearer sometoken")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// TestClaim_RequiresDriverRole verifies that a customer cannot claim an order.
func TestClaim_RequiresDriverRole(t *testing.T) {
	r := buildTestRouter(makeVerifier("customerUID", ""), &stubOrders{})
	w := doRequest(r, http.MethodPost, "/api/delivery/orders/o1/claim", nil, "Bearer sometoken")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

// TestClaim_UsesCallerAsDriver checks that a driver can only claim for themselves.
func TestClaim_UsesCallerAsDriver(t *testing.T) {
	svc := &stubOrders{}
	r := buildTestRouter(makeVerifier("driverA", "delivery"), svc)
	w := doRequest(r, http.MethodPost, "/api/delivery/orders/o1/claim",
		map[string]any{"driver_id": "driverB", "delivery_time": 25}, "Bearer sometoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastClaim.DriverID != "driverA" {
		t.Errorf("expected claim for driverA, got %s", svc.lastClaim.DriverID)
	}
	if svc.lastClaim.DeliveryMinutes == nil || *svc.lastClaim.DeliveryMinutes != 25 {
		t.Errorf("delivery time not forwarded")
	}
}

func TestDriverStatus_OnlyDeliveryStatuses(t *testing.T) {
	r := buildTestRouter(makeVerifier("driverA", "delivery"), &stubOrders{})
	for status, want := range map[string]int{
		"en_livraison": http.StatusOK,
		"livree":       http.StatusOK,
		"acceptee":     http.StatusBadRequest,
		"delivered":    http.StatusBadRequest,
	} {
		w := doRequest(r, http.MethodPost, "/api/delivery/orders/o1/status", map[string]any{"status": status}, "Bearer t")
		if w.Code != want {
			t.Errorf("status %s: expected %d, got %d", status, want, w.Code)
		}
	}
}

func TestRestaurantRoutes_BindOwnedRestaurant(t *testing.T) {
	svc := &stubOrders{restaurant: &order.Restaurant{ID: "r1", OwnerID: "owner1"}}
	r := buildTestRouter(makeVerifier("owner1", "restaurant"), svc)

	w := doRequest(r, http.MethodGet, "/api/restaurants/orders?status=en_attente", nil, "Bearer t")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if svc.lastViewer.RestaurantID != "r1" || svc.lastStatus != order.StatusPending {
		t.Errorf("expected r1 filtered on en_attente, got %s/%s", svc.lastViewer.RestaurantID, svc.lastStatus)
	}

	w = doRequest(r, http.MethodGet, "/api/restaurants/orders?status=shipped", nil, "Bearer t")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", w.Code)
	}

	w = doRequest(r, http.MethodPut, "/api/restaurants/orders/o1",
		map[string]any{"status": "acceptee", "preparation_time": 20}, "Bearer t")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if svc.lastTransition.Actor.RestaurantID != "r1" || svc.lastTransition.To != order.StatusAccepted {
		t.Errorf("unexpected transition %+v", svc.lastTransition)
	}
}

func TestRestaurantRoutes_NoRestaurantLinked(t *testing.T) {
	r := buildTestRouter(makeVerifier("owner2", "restaurant"), &stubOrders{})
	w := doRequest(r, http.MethodGet, "/api/restaurants/orders", nil, "Bearer t")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestCancel_ForwardsReason(t *testing.T) {
	svc := &stubOrders{}
	r := buildTestRouter(makeVerifier("u1", ""), svc)
	w := doRequest(r, http.MethodPost, "/api/orders/o1/cancel", map[string]any{"reason": "trop long"}, "Bearer t")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if svc.lastTransition.To != order.StatusCancelled || svc.lastTransition.Reason != "trop long" ||
		svc.lastTransition.Actor.Role != order.RoleCustomer {
		t.Errorf("unexpected transition %+v", svc.lastTransition)
	}
}

func TestSweep_ReportsFailures(t *testing.T) {
	r := buildTestRouter(makeVerifier("admin1", "admin"), &stubOrders{})
	w := doRequest(r, http.MethodPost, "/api/admin/orders/sweep", nil, "Bearer t")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Cancelled int `json:"cancelled"`
		Failures  []struct {
			OrderID string `json:"order_id"`
			Stage   string `json:"stage"`
		} `json:"failures"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Cancelled != 2 || len(body.Failures) != 1 || body.Failures[0].Stage != "refund" {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

// TestErrorMapping checks the status code of every order error family.
func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: cart is empty", order.ErrValidation), http.StatusBadRequest},
		{order.ErrNotFound, http.StatusNotFound},
		{order.ErrRestaurantNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: m9", order.ErrItemNotFound), http.StatusNotFound},
		{order.ErrForbidden, http.StatusForbidden},
		{order.ErrInvalidTransition, http.StatusConflict},
		{order.ErrAlreadyClaimed, http.StatusConflict},
		{order.ErrNotClaimable, http.StatusConflict},
		{order.ErrConflict, http.StatusConflict},
		{order.ErrPaymentPending, http.StatusConflict},
		{order.ErrNotRefundable, http.StatusConflict},
		{fmt.Errorf("%w: load order: %w", order.ErrDependency, errors.New("conn refused")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			r := buildTestRouter(makeVerifier("u1", ""), &stubOrders{err: tt.err})
			w := doRequest(r, http.MethodGet, "/api/orders/o1", nil, "Bearer t")
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestAlreadyClaimedMessage(t *testing.T) {
	r := buildTestRouter(makeVerifier("driverB", "delivery"), &stubOrders{err: order.ErrAlreadyClaimed})
	w := doRequest(r, http.MethodPost, "/api/delivery/orders/o1/claim", nil, "Bearer t")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["error"] != "already taken by another driver" {
		t.Errorf("unexpected message %q", body["error"])
	}
}
