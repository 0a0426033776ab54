// README: Order service: lifecycle engine wiring, reads with price reconciliation, audit and notifications.
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cvneat/internal/modules/payment"
	"cvneat/internal/modules/pricing"
	"cvneat/internal/types"
)

// Repository is the order store. Implementations must apply every mutation
// as a single conditional write.
type Repository interface {
	CreateWithItems(ctx context.Context, o *Order, items []LineItem) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	LineItems(ctx context.Context, orderID types.ID) ([]LineItem, error)
	CorrectTotals(ctx context.Context, id types.ID, subtotal decimal.Decimal, split pricing.Split) error
	UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error)
	Claim(ctx context.Context, id, driverID types.ID, deliveryMinutes *int) (*Order, bool, error)
	ListAvailable(ctx context.Context, limit int) ([]*Order, error)
	ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]*Order, error)
	ListByRestaurant(ctx context.Context, restaurantID types.ID, status Status, limit int) ([]*Order, error)
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error)
	MarkPayment(ctx context.Context, id types.ID, from, to payment.Status, reference string, at time.Time) (bool, error)
	RecordRefund(ctx context.Context, id types.ID, r RefundRecord) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
	GetRestaurant(ctx context.Context, id types.ID) (*Restaurant, error)
	RestaurantByOwner(ctx context.Context, ownerID types.ID) (*Restaurant, error)
	MissingMenuItems(ctx context.Context, restaurantID types.ID, ids []types.ID) ([]types.ID, error)
}

type Pricing interface {
	Commission(subtotal decimal.Decimal, ratePercent *decimal.Decimal) pricing.Split
	SplitFees(captured, subtotal decimal.Decimal) pricing.Fees
	PlatformFee() decimal.Decimal
}

type Gateway interface {
	Retrieve(ctx context.Context, reference string) (payment.Charge, error)
	Refund(ctx context.Context, req payment.RefundRequest) (payment.Refund, error)
}

// Notifier receives lifecycle events. Delivery is best-effort.
type Notifier interface {
	Publish(ctx context.Context, e Event) error
}

type ZoneChecker interface {
	DistanceKm(ctx context.Context, origin, destination string) (float64, error)
}

type Config struct {
	// ExpireAfter is how long a paid order may wait for a driver.
	ExpireAfter      time.Duration
	SweepInterval    time.Duration
	SweepBatch       int
	ReconcileTimeout time.Duration
	GatewayTimeout   time.Duration
	NotifyTimeout    time.Duration
	ListLimit        int
	// MaxDeliveryKm disables the zone check when zero.
	MaxDeliveryKm float64
}

func DefaultConfig() Config {
	return Config{
		ExpireAfter:      10 * time.Minute,
		SweepInterval:    time.Minute,
		SweepBatch:       100,
		ReconcileTimeout: 2 * time.Second,
		GatewayTimeout:   10 * time.Second,
		NotifyTimeout:    3 * time.Second,
		ListLimit:        50,
		MaxDeliveryKm:    8,
	}
}

type Service struct {
	store    Repository
	pricing  Pricing
	gateway  Gateway
	notifier Notifier
	zones    ZoneChecker
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithGateway(g Gateway) Option { return func(s *Service) { s.gateway = g } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithZoneChecker(z ZoneChecker) Option { return func(s *Service) { s.zones = z } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Repository, pricing Pricing, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:   store,
		pricing: pricing,
		cfg:     cfg,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// View is an order as shown to one of its parties.
type View struct {
	*Order
	Items []LineItem   `json:"items"`
	Fees  pricing.Fees `json:"fees"`
	// Due is the total computed from the reconciled fees.
	Due decimal.Decimal `json:"total"`
}

// Get loads an order for a viewer. The fee split is reconciled against the
// payment gateway when possible; the stored subtotal is never changed here.
func (s *Service) Get(ctx context.Context, viewer Actor, id types.ID) (*View, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr("load order", err)
	}
	if !canView(o, viewer) {
		return nil, ErrForbidden
	}
	items, err := s.store.LineItems(ctx, id)
	if err != nil {
		return nil, storeErr("load line items", err)
	}
	fees := s.reconcile(ctx, o)
	total := o.Subtotal.Add(fees.DeliveryFee).Add(fees.PlatformFee).Sub(o.DiscountAmount)
	return &View{
		Order: o,
		Items: items,
		Fees:  fees,
		Due:   types.Round2(types.NonNegative(total)),
	}, nil
}

func (s *Service) reconcile(ctx context.Context, o *Order) pricing.Fees {
	stored := pricing.Fees{DeliveryFee: o.DeliveryFee, PlatformFee: o.PlatformFee}
	if s.gateway == nil || o.PaymentReference == "" {
		return stored
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReconcileTimeout)
	defer cancel()

	charge, err := s.gateway.Retrieve(ctx, o.PaymentReference)
	if err != nil {
		s.log.Warn("price reconciliation skipped",
			zap.String("order_id", string(o.ID)),
			zap.Error(err),
		)
		return stored
	}
	if charge.Status != payment.StatusPaid && charge.Status != payment.StatusRefunded {
		return stored
	}
	expected := o.Total()
	if !types.Differs(charge.Amount, expected) {
		return stored
	}
	s.log.Info("stored fees disagree with captured amount",
		zap.String("order_id", string(o.ID)),
		zap.String("captured", charge.Amount.String()),
		zap.String("expected", expected.String()),
	)
	// The discount was taken off before capture, so it is added back before
	// attributing the fees.
	return s.pricing.SplitFees(charge.Amount.Add(o.DiscountAmount), o.Subtotal)
}

// RestaurantForOwner resolves the restaurant managed by a user.
func (s *Service) RestaurantForOwner(ctx context.Context, ownerID types.ID) (*Restaurant, error) {
	r, err := s.store.RestaurantByOwner(ctx, ownerID)
	if err != nil {
		return nil, storeErr("load restaurant", err)
	}
	return r, nil
}

func (s *Service) ListForDriver(ctx context.Context, driverID types.ID) ([]*Order, error) {
	orders, err := s.store.ListByDriver(ctx, driverID, s.cfg.ListLimit)
	if err != nil {
		return nil, storeErr("list driver orders", err)
	}
	return orders, nil
}

func (s *Service) ListForRestaurant(ctx context.Context, actor Actor, status Status) ([]*Order, error) {
	if actor.Role != RoleRestaurant || actor.RestaurantID == "" {
		return nil, ErrForbidden
	}
	orders, err := s.store.ListByRestaurant(ctx, actor.RestaurantID, status, s.cfg.ListLimit)
	if err != nil {
		return nil, storeErr("list restaurant orders", err)
	}
	return orders, nil
}

// record appends the audit row and publishes the event. Neither failure is
// reported to the caller.
func (s *Service) record(ctx context.Context, e Event) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if err := s.store.AppendEvent(ctx, &e); err != nil {
		s.log.Warn("append order event failed",
			zap.String("order_id", string(e.OrderID)),
			zap.String("kind", string(e.Kind)),
			zap.Error(err),
		)
	}
	if s.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
	defer cancel()
	if err := s.notifier.Publish(nctx, e); err != nil {
		s.log.Warn("publish order event failed",
			zap.String("order_id", string(e.OrderID)),
			zap.String("kind", string(e.Kind)),
			zap.Error(err),
		)
	}
}

func eventFor(kind EventKind, o *Order, from, to Status, actor Actor) Event {
	e := Event{
		Kind:         kind,
		OrderID:      o.ID,
		RestaurantID: o.RestaurantID,
		UserID:       o.UserID,
		DriverID:     o.DriverID,
		FromStatus:   from,
		ToStatus:     to,
		ActorType:    actor.Role,
	}
	if actor.ID != "" {
		id := actor.ID
		e.ActorID = &id
	}
	return e
}
