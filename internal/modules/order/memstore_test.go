package order

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cvneat/internal/modules/payment"
	"cvneat/internal/modules/pricing"
	"cvneat/internal/types"
)

// memStore is an in-memory Repository. Every write checks its precondition
// under one mutex, which gives the same at-most-one-winner guarantee as the
// conditional UPDATEs of the Postgres store.
type memStore struct {
	mu          sync.Mutex
	orders      map[types.ID]*Order
	items       map[types.ID][]LineItem
	events      []Event
	restaurants map[types.ID]*Restaurant
	menus       map[types.ID]types.ID
	nextItemID  int64

	// dropItems simulates line items lost after the order row was written.
	dropItems bool
}

func newMemStore() *memStore {
	return &memStore{
		orders:      map[types.ID]*Order{},
		items:       map[types.ID][]LineItem{},
		restaurants: map[types.ID]*Restaurant{},
		menus:       map[types.ID]types.ID{},
	}
}

func cloneOrder(o *Order) *Order {
	c := *o
	if o.DriverID != nil {
		d := *o.DriverID
		c.DriverID = &d
	}
	if o.PreparationMinutes != nil {
		v := *o.PreparationMinutes
		c.PreparationMinutes = &v
	}
	if o.DeliveryMinutes != nil {
		v := *o.DeliveryMinutes
		c.DeliveryMinutes = &v
	}
	return &c
}

func (m *memStore) addRestaurant(r *Restaurant, menuIDs ...types.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restaurants[r.ID] = r
	for _, id := range menuIDs {
		m.menus[id] = r.ID
	}
}

// put stores an order as is, for tests that need a specific starting state.
func (m *memStore) put(o *Order, items ...LineItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = cloneOrder(o)
	if len(items) > 0 {
		m.items[o.ID] = append([]LineItem(nil), items...)
	}
}

func (m *memStore) eventsFor(id types.ID) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.OrderID == id {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) CreateWithItems(_ context.Context, o *Order, items []LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.restaurants[o.RestaurantID]; !ok {
		return ErrRestaurantNotFound
	}
	m.orders[o.ID] = cloneOrder(o)
	if m.dropItems {
		return nil
	}
	stored := make([]LineItem, len(items))
	for i, it := range items {
		m.nextItemID++
		it.ID = m.nextItemID
		it.OrderID = o.ID
		stored[i] = it
	}
	m.items[o.ID] = stored
	return nil
}

func (m *memStore) Get(_ context.Context, id types.ID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *memStore) LineItems(_ context.Context, orderID types.ID) ([]LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LineItem(nil), m.items[orderID]...), nil
}

func (m *memStore) CorrectTotals(_ context.Context, id types.ID, subtotal decimal.Decimal, split pricing.Split) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Subtotal = subtotal
	o.CommissionRate = split.RatePercent
	o.CommissionAmount = split.CommissionAmount
	o.RestaurantPayout = split.RestaurantPayout
	return nil
}

func (m *memStore) UpdateStatus(_ context.Context, u StatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[u.OrderID]
	if !ok || o.Status != u.From {
		return false, nil
	}
	if u.DriverID != nil && !o.attachedTo(*u.DriverID) {
		return false, nil
	}
	if u.RequireNoDriver && o.HasDriver() {
		return false, nil
	}
	o.Status = u.To
	o.StatusVersion++
	if u.RejectionReason != "" {
		o.RejectionReason = u.RejectionReason
	}
	if u.CancellationReason != "" {
		o.CancellationReason = u.CancellationReason
	}
	if u.PreparationMinutes != nil {
		v := *u.PreparationMinutes
		o.PreparationMinutes = &v
	}
	o.UpdatedAt = time.Now()
	return true, nil
}

func (m *memStore) Claim(_ context.Context, id, driverID types.ID, deliveryMinutes *int) (*Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.HasDriver() || o.PaymentStatus != payment.StatusPaid {
		return nil, false, nil
	}
	switch o.Status {
	case StatusPending, StatusPreparing, StatusReady:
	default:
		return nil, false, nil
	}
	d := driverID
	o.DriverID = &d
	if claimStartsDelivery(o.Status) {
		o.Status = StatusDelivering
		o.StatusVersion++
	}
	if deliveryMinutes != nil {
		v := *deliveryMinutes
		o.DeliveryMinutes = &v
	}
	now := time.Now()
	o.ClaimedAt = &now
	return cloneOrder(o), true, nil
}

func (m *memStore) filter(keep func(*Order) bool, less func(a, b *Order) bool, limit int) []*Order {
	var out []*Order
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *memStore) ListAvailable(_ context.Context, limit int) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(o *Order) bool {
		return o.Status == StatusPending && !o.HasDriver() && o.PaymentStatus == payment.StatusPaid
	}, func(a, b *Order) bool { return a.CreatedAt.Before(b.CreatedAt) }, limit), nil
}

func (m *memStore) ListByDriver(_ context.Context, driverID types.ID, limit int) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(o *Order) bool { return o.attachedTo(driverID) },
		func(a, b *Order) bool { return a.CreatedAt.After(b.CreatedAt) }, limit), nil
}

func (m *memStore) ListByRestaurant(_ context.Context, restaurantID types.ID, status Status, limit int) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(o *Order) bool {
		return o.RestaurantID == restaurantID && (status == StatusNone || o.Status == status)
	}, func(a, b *Order) bool { return a.CreatedAt.After(b.CreatedAt) }, limit), nil
}

func (m *memStore) ListExpired(_ context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter(func(o *Order) bool {
		return o.Status == StatusPending && !o.HasDriver() && o.PaymentStatus == payment.StatusPaid &&
			!o.DeliveryRequestedAt.After(cutoff)
	}, func(a, b *Order) bool { return a.DeliveryRequestedAt.Before(b.DeliveryRequestedAt) }, limit), nil
}

func (m *memStore) MarkPayment(_ context.Context, id types.ID, from, to payment.Status, reference string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.PaymentStatus != from {
		return false, nil
	}
	o.PaymentStatus = to
	if reference != "" {
		o.PaymentReference = reference
	}
	if to == payment.StatusPaid {
		o.DeliveryRequestedAt = at
	}
	return true, nil
}

func (m *memStore) RecordRefund(_ context.Context, id types.ID, r RefundRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.PaymentStatus != payment.StatusPaid {
		return false, nil
	}
	o.PaymentStatus = payment.StatusRefunded
	o.RefundReference = r.Reference
	o.RefundAmount = decimal.NewNullDecimal(r.Amount)
	at := r.At
	o.RefundedAt = &at
	return true, nil
}

func (m *memStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func (m *memStore) GetRestaurant(_ context.Context, id types.ID) (*Restaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.restaurants[id]
	if !ok {
		return nil, ErrRestaurantNotFound
	}
	c := *r
	return &c, nil
}

func (m *memStore) RestaurantByOwner(_ context.Context, ownerID types.ID) (*Restaurant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.restaurants {
		if r.OwnerID == ownerID {
			c := *r
			return &c, nil
		}
	}
	return nil, ErrRestaurantNotFound
}

func (m *memStore) MissingMenuItems(_ context.Context, restaurantID types.ID, ids []types.ID) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var missing []types.ID
	for _, id := range ids {
		if m.menus[id] != restaurantID {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// fakeGateway is a scriptable payment gateway.
type fakeGateway struct {
	mu            sync.Mutex
	charges       map[string]payment.Charge
	retrieveErr   error
	retrieveDelay time.Duration
	refundErr     error
	refunds       []payment.RefundRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{charges: map[string]payment.Charge{}}
}

func (g *fakeGateway) setCharge(ref, amount string, status payment.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges[ref] = payment.Charge{Reference: ref, Amount: decimal.RequireFromString(amount), Status: status}
}

func (g *fakeGateway) Retrieve(ctx context.Context, reference string) (payment.Charge, error) {
	g.mu.Lock()
	delay, rerr := g.retrieveDelay, g.retrieveErr
	c, ok := g.charges[reference]
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return payment.Charge{}, ctx.Err()
		}
	}
	if rerr != nil {
		return payment.Charge{}, rerr
	}
	if !ok {
		return payment.Charge{}, payment.ErrNotFound
	}
	return c, nil
}

func (g *fakeGateway) Refund(_ context.Context, req payment.RefundRequest) (payment.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return payment.Refund{}, g.refundErr
	}
	g.refunds = append(g.refunds, req)
	return payment.Refund{ID: "re_" + req.Metadata["order_id"], Amount: req.Amount, Status: "succeeded"}, nil
}

func (g *fakeGateway) refundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, e Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

type fixedZone struct {
	km  float64
	err error
}

func (z fixedZone) DistanceKm(context.Context, string, string) (float64, error) {
	return z.km, z.err
}

var errGatewayDown = errors.New("gateway unavailable")
