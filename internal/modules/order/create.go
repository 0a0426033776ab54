// README: Order creation (validation, authoritative pricing, persistence) and payment confirmation.
package order

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cvneat/internal/modules/payment"
	"cvneat/internal/modules/pricing"
	"cvneat/internal/types"
)

const reasonMissingItems = "line items missing"

type CartItem struct {
	MenuRefID types.ID        `json:"menu_id"`
	Kind      ItemKind        `json:"kind"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	BasePrice decimal.Decimal `json:"unit_price"`
	Extras    Extras          `json:"extras"`
}

type Customer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

type CreateCommand struct {
	UserID       types.ID
	RestaurantID types.ID
	Items        []CartItem
	Address      Address
	Customer     Customer
	DeliveryFee  decimal.Decimal
	Discount     decimal.Decimal
	// ClientPlatformFee and ClientTotal are advisory. They are only compared
	// with the configured fee and the computed total.
	ClientPlatformFee decimal.NullDecimal
	ClientTotal       decimal.NullDecimal
	PaymentReference  string
}

type CreateResult struct {
	OrderID      types.ID        `json:"order_id"`
	SecurityCode string          `json:"security_code"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	DeliveryFee  decimal.Decimal `json:"delivery_fee"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	Discount     decimal.Decimal `json:"discount_amount"`
	Total        decimal.Decimal `json:"total"`
	Status       Status          `json:"status"`
}

func validateCreate(cmd CreateCommand) error {
	if cmd.UserID == "" {
		return validationf("missing customer")
	}
	if cmd.RestaurantID == "" {
		return validationf("missing restaurant")
	}
	if len(cmd.Items) == 0 {
		return validationf("cart is empty")
	}
	for i, it := range cmd.Items {
		if it.MenuRefID == "" {
			return validationf("items[%d]: missing menu id", i)
		}
		switch it.Kind {
		case "", ItemKindItem, ItemKindFormula, ItemKindCombo:
		default:
			return validationf("items[%d]: unknown kind %q", i, it.Kind)
		}
		if it.Quantity <= 0 {
			return validationf("items[%d]: quantity must be at least 1", i)
		}
		if it.BasePrice.IsNegative() {
			return validationf("items[%d]: negative price", i)
		}
	}
	if strings.TrimSpace(cmd.Address.Street) == "" || strings.TrimSpace(cmd.Address.City) == "" {
		return validationf("incomplete delivery address")
	}
	if strings.TrimSpace(cmd.Address.PostalCode) == "" {
		return validationf("missing postal code")
	}
	if strings.TrimSpace(cmd.Customer.FirstName) == "" || strings.TrimSpace(cmd.Customer.LastName) == "" ||
		strings.TrimSpace(cmd.Customer.Phone) == "" {
		return validationf("incomplete customer details")
	}
	if cmd.DeliveryFee.IsNegative() || cmd.Discount.IsNegative() {
		return validationf("fees must not be negative")
	}
	if cmd.ClientTotal.Valid && cmd.ClientTotal.Decimal.IsNegative() {
		return validationf("total must not be negative")
	}
	return nil
}

// Create validates a cart, prices it server side and persists the order with
// its line items. Client figures are advisory: the subtotal is recomputed
// from the persisted line items before returning.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*CreateResult, error) {
	if err := validateCreate(cmd); err != nil {
		return nil, err
	}

	r, err := s.store.GetRestaurant(ctx, cmd.RestaurantID)
	if err != nil {
		return nil, storeErr("load restaurant", err)
	}

	var catalogIDs []types.ID
	for _, it := range cmd.Items {
		if it.Kind == "" || it.Kind == ItemKindItem {
			catalogIDs = append(catalogIDs, it.MenuRefID)
		}
	}
	missing, err := s.store.MissingMenuItems(ctx, r.ID, catalogIDs)
	if err != nil {
		return nil, storeErr("check menu items", err)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, missing[0])
	}

	if err := s.checkZone(ctx, r, cmd.Address); err != nil {
		return nil, err
	}

	items := make([]LineItem, 0, len(cmd.Items))
	lines := make([]pricing.Line, 0, len(cmd.Items))
	for _, it := range cmd.Items {
		kind := it.Kind
		if kind == "" {
			kind = ItemKindItem
		}
		unit := types.Round2(it.BasePrice.Add(it.Extras.Total()))
		items = append(items, LineItem{
			MenuRefID: it.MenuRefID,
			Kind:      kind,
			Name:      strings.TrimSpace(it.Name),
			Quantity:  it.Quantity,
			UnitPrice: unit,
			Extras:    it.Extras,
		})
		lines = append(lines, pricing.Line{UnitPrice: unit, Quantity: it.Quantity})
	}
	platformFee := s.pricing.PlatformFee()
	if cmd.ClientPlatformFee.Valid && types.Differs(cmd.ClientPlatformFee.Decimal, platformFee) {
		s.log.Info("client platform fee ignored",
			zap.String("restaurant_id", string(r.ID)),
			zap.String("client_platform_fee", cmd.ClientPlatformFee.Decimal.String()),
			zap.String("platform_fee", platformFee.String()),
		)
	}
	totals := pricing.RecomputeTotals(lines, cmd.DeliveryFee, platformFee, cmd.Discount)
	if cmd.ClientTotal.Valid && types.Differs(cmd.ClientTotal.Decimal, totals.Total) {
		s.log.Info("client total disagrees with computed total",
			zap.String("restaurant_id", string(r.ID)),
			zap.String("client_total", cmd.ClientTotal.Decimal.String()),
			zap.String("computed_total", totals.Total.String()),
		)
	}
	split := s.pricing.Commission(totals.Subtotal, r.CommissionRate)

	code, err := securityCode()
	if err != nil {
		return nil, fmt.Errorf("security code: %w", err)
	}
	now := s.now()
	o := &Order{
		ID:                  types.ID(uuid.NewString()),
		Status:              StatusPending,
		RestaurantID:        r.ID,
		UserID:              cmd.UserID,
		Subtotal:            totals.Subtotal,
		DeliveryFee:         totals.DeliveryFee,
		PlatformFee:         totals.PlatformFee,
		DiscountAmount:      totals.Discount,
		CommissionRate:      split.RatePercent,
		CommissionAmount:    split.CommissionAmount,
		RestaurantPayout:    split.RestaurantPayout,
		PaymentStatus:       payment.StatusPending,
		PaymentReference:    strings.TrimSpace(cmd.PaymentReference),
		DeliveryAddress:     cmd.Address.Composed(),
		City:                strings.TrimSpace(cmd.Address.City),
		PostalCode:          strings.TrimSpace(cmd.Address.PostalCode),
		CustomerName:        strings.TrimSpace(cmd.Customer.FirstName + " " + cmd.Customer.LastName),
		CustomerPhone:       strings.TrimSpace(cmd.Customer.Phone),
		CustomerEmail:       strings.TrimSpace(cmd.Customer.Email),
		SecurityCode:        code,
		CreatedAt:           now,
		UpdatedAt:           now,
		DeliveryRequestedAt: now,
	}
	if err := s.store.CreateWithItems(ctx, o, items); err != nil {
		return nil, storeErr("create order", err)
	}

	if err := s.reconcileSubtotal(ctx, o, r); err != nil {
		return nil, err
	}

	customer := Actor{Role: RoleCustomer, ID: cmd.UserID}
	s.record(ctx, eventFor(EventCreated, o, StatusNone, StatusPending, customer))

	return &CreateResult{
		OrderID:      o.ID,
		SecurityCode: o.SecurityCode,
		Subtotal:     o.Subtotal,
		DeliveryFee:  o.DeliveryFee,
		PlatformFee:  o.PlatformFee,
		Discount:     o.DiscountAmount,
		Total:        o.Total(),
		Status:       o.Status,
	}, nil
}

// reconcileSubtotal re-reads the persisted line items and corrects the stored
// subtotal and commission when they drifted. An order without line items is
// cancelled so that no party ever sees it.
func (s *Service) reconcileSubtotal(ctx context.Context, o *Order, r *Restaurant) error {
	persisted, err := s.store.LineItems(ctx, o.ID)
	if err != nil {
		s.discard(ctx, o)
		return storeErr("read back line items", err)
	}
	if len(persisted) == 0 {
		s.discard(ctx, o)
		return dependency("create order", errors.New("no line items were persisted"))
	}

	lines := make([]pricing.Line, len(persisted))
	for i, it := range persisted {
		lines[i] = pricing.Line{UnitPrice: it.UnitPrice, Quantity: it.Quantity}
	}
	totals := pricing.RecomputeTotals(lines, o.DeliveryFee, o.PlatformFee, o.DiscountAmount)
	if !types.Differs(totals.Subtotal, o.Subtotal) {
		return nil
	}

	split := s.pricing.Commission(totals.Subtotal, r.CommissionRate)
	if err := s.store.CorrectTotals(ctx, o.ID, totals.Subtotal, split); err != nil {
		s.discard(ctx, o)
		return storeErr("correct totals", err)
	}
	s.log.Warn("order subtotal corrected from persisted line items",
		zap.String("order_id", string(o.ID)),
		zap.String("stored", o.Subtotal.String()),
		zap.String("recomputed", totals.Subtotal.String()),
	)
	o.Subtotal = totals.Subtotal
	o.CommissionRate = split.RatePercent
	o.CommissionAmount = split.CommissionAmount
	o.RestaurantPayout = split.RestaurantPayout
	return nil
}

// discard takes a half-created order out of every listing.
func (s *Service) discard(ctx context.Context, o *Order) {
	ok, err := s.store.UpdateStatus(ctx, StatusUpdate{
		OrderID:            o.ID,
		From:               StatusPending,
		To:                 StatusCancelled,
		RequireNoDriver:    true,
		CancellationReason: reasonMissingItems,
	})
	if err != nil || !ok {
		s.log.Error("could not discard invalid order",
			zap.String("order_id", string(o.ID)),
			zap.Bool("updated", ok),
			zap.Error(err),
		)
	}
}

func (s *Service) checkZone(ctx context.Context, r *Restaurant, addr Address) error {
	if s.zones == nil || s.cfg.MaxDeliveryKm <= 0 || r.FullAddress() == "" {
		return nil
	}
	km, err := s.zones.DistanceKm(ctx, r.FullAddress(), addr.routable())
	if err != nil {
		return dependency("delivery zone check", err)
	}
	if km > s.cfg.MaxDeliveryKm {
		return validationf("delivery address is %.1f km away, outside the %.0f km delivery zone", km, s.cfg.MaxDeliveryKm)
	}
	return nil
}

var codeSpan = big.NewInt(900000)

// securityCode returns a 6-digit code between 100000 and 999999.
func securityCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// ConfirmPayment asks the gateway for the payment's state and records it. A
// paid order becomes visible to drivers and its unclaimed timeout starts now.
func (s *Service) ConfirmPayment(ctx context.Context, actor Actor, id types.ID, reference string) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr("load order", err)
	}
	switch actor.Role {
	case RoleAdmin, RoleSystem:
	case RoleCustomer:
		if actor.ID != o.UserID {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}
	if o.PaymentStatus == payment.StatusPaid {
		return o, nil
	}
	if o.PaymentStatus != payment.StatusPending || o.Status != StatusPending {
		return nil, ErrInvalidTransition
	}
	ref := strings.TrimSpace(reference)
	if ref == "" {
		ref = o.PaymentReference
	}
	if ref == "" {
		return nil, validationf("missing payment reference")
	}
	if s.gateway == nil {
		return nil, dependency("confirm payment", errors.New("no payment gateway configured"))
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	charge, err := s.gateway.Retrieve(gctx, ref)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			return nil, validationf("unknown payment reference")
		}
		return nil, dependency("retrieve payment", err)
	}

	switch charge.Status {
	case payment.StatusPaid:
		if types.Differs(charge.Amount, o.Total()) {
			s.log.Warn("captured amount differs from order total",
				zap.String("order_id", string(o.ID)),
				zap.String("captured", charge.Amount.String()),
				zap.String("total", o.Total().String()),
			)
		}
	case payment.StatusFailed, payment.StatusCancelled:
	default:
		return nil, ErrPaymentPending
	}

	ok, err := s.store.MarkPayment(ctx, o.ID, payment.StatusPending, charge.Status, ref, s.now())
	if err != nil {
		return nil, storeErr("mark payment", err)
	}
	updated, err := s.store.Get(ctx, o.ID)
	if err != nil {
		return nil, storeErr("reload order", err)
	}
	if ok && charge.Status == payment.StatusPaid {
		s.record(ctx, eventFor(EventPaid, updated, updated.Status, updated.Status, actor))
	}
	return updated, nil
}
