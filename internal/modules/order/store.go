// README: Order store backed by PostgreSQL; every mutation is a single conditional UPDATE.
package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"cvneat/internal/modules/payment"
	"cvneat/internal/modules/pricing"
	"cvneat/internal/types"
)

// StatusUpdate is a guarded status change. The update only applies while the
// order is still in From and the driver preconditions hold.
type StatusUpdate struct {
	OrderID types.ID
	From    Status
	To      Status
	// DriverID, when set, requires the order to be held by that driver.
	DriverID *types.ID
	// RequireNoDriver requires driver_id to still be NULL.
	RequireNoDriver    bool
	RejectionReason    string
	CancellationReason string
	PreparationMinutes *int
}

type RefundRecord struct {
	Reference string
	Amount    decimal.Decimal
	At        time.Time
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const orderColumns = `
	id, status, status_version, restaurant_id, user_id, driver_id,
	subtotal, delivery_fee, platform_fee, discount_amount,
	commission_rate, commission_amount, restaurant_payout,
	payment_status, payment_reference, refund_amount, refund_reference, refunded_at,
	delivery_address, city, postal_code, customer_name, customer_phone, customer_email,
	security_code, rejection_reason, cancellation_reason, preparation_minutes, delivery_minutes,
	created_at, updated_at, delivery_requested_at, claimed_at`

// Stored payment statuses may still carry the gateway's "succeeded".
const paidStatuses = `('paid','succeeded')`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var driverID, paymentStatus, paymentRef, refundRef sql.NullString
	var customerEmail, rejection, cancellation sql.NullString
	var refundedAt, claimedAt sql.NullTime

	err := row.Scan(
		&o.ID, &o.Status, &o.StatusVersion, &o.RestaurantID, &o.UserID, &driverID,
		&o.Subtotal, &o.DeliveryFee, &o.PlatformFee, &o.DiscountAmount,
		&o.CommissionRate, &o.CommissionAmount, &o.RestaurantPayout,
		&paymentStatus, &paymentRef, &o.RefundAmount, &refundRef, &refundedAt,
		&o.DeliveryAddress, &o.City, &o.PostalCode, &o.CustomerName, &o.CustomerPhone, &customerEmail,
		&o.SecurityCode, &rejection, &cancellation, &o.PreparationMinutes, &o.DeliveryMinutes,
		&o.CreatedAt, &o.UpdatedAt, &o.DeliveryRequestedAt, &claimedAt,
	)
	if err != nil {
		return nil, err
	}
	if driverID.Valid {
		d := types.ID(driverID.String)
		o.DriverID = &d
	}
	o.PaymentStatus = payment.Canonical(paymentStatus.String)
	o.PaymentReference = paymentRef.String
	o.RefundReference = refundRef.String
	o.CustomerEmail = customerEmail.String
	o.RejectionReason = rejection.String
	o.CancellationReason = cancellation.String
	o.RefundedAt = toTimePtr(refundedAt)
	o.ClaimedAt = toTimePtr(claimedAt)
	return &o, nil
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]*Order, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateWithItems inserts the order and its line items in one transaction.
func (s *Store) CreateWithItems(ctx context.Context, o *Order, items []LineItem) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, status, status_version, restaurant_id, user_id,
			subtotal, delivery_fee, platform_fee, discount_amount,
			commission_rate, commission_amount, restaurant_payout,
			payment_status, payment_reference,
			delivery_address, city, postal_code, customer_name, customer_phone, customer_email,
			security_code, created_at, updated_at, delivery_requested_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, NULLIF($14, ''),
			$15, $16, $17, $18, $19, NULLIF($20, ''),
			$21, $22, $22, $23
		)`,
		string(o.ID), string(o.Status), o.StatusVersion, string(o.RestaurantID), string(o.UserID),
		o.Subtotal, o.DeliveryFee, o.PlatformFee, o.DiscountAmount,
		o.CommissionRate, o.CommissionAmount, o.RestaurantPayout,
		string(o.PaymentStatus), o.PaymentReference,
		o.DeliveryAddress, o.City, o.PostalCode, o.CustomerName, o.CustomerPhone, o.CustomerEmail,
		o.SecurityCode, o.CreatedAt, o.DeliveryRequestedAt,
	)
	if err != nil {
		return mapWriteErr(err)
	}

	batch := &pgx.Batch{}
	for _, it := range items {
		supplements, customizations := it.Extras.split()
		supJSON, err := json.Marshal(supplements)
		if err != nil {
			return err
		}
		custJSON, err := json.Marshal(customizations)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO order_items (order_id, menu_id, kind, name, quantity, unit_price, supplements, customizations)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			string(o.ID), string(it.MenuRefID), string(it.Kind), it.Name, it.Quantity, it.UnitPrice, supJSON, custJSON,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return mapWriteErr(err)
	}
	return tx.Commit(ctx)
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == pgerrcode.ForeignKeyViolation && pgErr.ConstraintName == "orders_restaurant_id_fkey":
		return fmt.Errorf("%w: %s", ErrRestaurantNotFound, pgErr.Detail)
	case pgErr.Code == pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Detail)
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (s *Store) LineItems(ctx context.Context, orderID types.ID) ([]LineItem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, menu_id, kind, name, quantity, unit_price, supplements, customizations
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`, string(orderID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var it LineItem
		var supJSON, custJSON []byte
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MenuRefID, &it.Kind, &it.Name, &it.Quantity, &it.UnitPrice, &supJSON, &custJSON); err != nil {
			return nil, err
		}
		var supplements, customizations Extras
		if err := json.Unmarshal(supJSON, &supplements); err != nil {
			return nil, fmt.Errorf("order item %d supplements: %w", it.ID, err)
		}
		if err := json.Unmarshal(custJSON, &customizations); err != nil {
			return nil, fmt.Errorf("order item %d customizations: %w", it.ID, err)
		}
		it.Extras = append(supplements, customizations...)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) CorrectTotals(ctx context.Context, id types.ID, subtotal decimal.Decimal, split pricing.Split) error {
	_, err := s.db.Exec(ctx, `
		UPDATE orders
		SET subtotal = $2, commission_rate = $3, commission_amount = $4, restaurant_payout = $5, updated_at = now()
		WHERE id = $1`,
		string(id), subtotal, split.RatePercent, split.CommissionAmount, split.RestaurantPayout,
	)
	return err
}

func (s *Store) UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $2,
			status_version = status_version + 1,
			rejection_reason = COALESCE(NULLIF($4, ''), rejection_reason),
			cancellation_reason = COALESCE(NULLIF($5, ''), cancellation_reason),
			preparation_minutes = COALESCE($6, preparation_minutes),
			updated_at = now()
		WHERE id = $1
		  AND status = $3
		  AND ($7::text IS NULL OR driver_id = $7)
		  AND (NOT $8 OR driver_id IS NULL)`,
		string(u.OrderID), string(u.To), string(u.From),
		u.RejectionReason, u.CancellationReason, u.PreparationMinutes,
		toStringPtr(u.DriverID), u.RequireNoDriver,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Claim attaches a driver in a single conditional UPDATE. The status only
// moves to en_livraison when the order was already being prepared or ready.
// It reports false when the precondition did not match.
func (s *Store) Claim(ctx context.Context, id, driverID types.ID, deliveryMinutes *int) (*Order, bool, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `
		UPDATE orders
		SET driver_id = $2,
			status_version = status_version + CASE WHEN status IN ('en_preparation','pret_a_livrer') THEN 1 ELSE 0 END,
			status = CASE WHEN status IN ('en_preparation','pret_a_livrer') THEN 'en_livraison' ELSE status END,
			delivery_minutes = COALESCE($3, delivery_minutes),
			claimed_at = now(),
			updated_at = now()
		WHERE id = $1
		  AND driver_id IS NULL
		  AND status IN ('en_attente','en_preparation','pret_a_livrer')
		  AND payment_status IN `+paidStatuses+`
		RETURNING `+orderColumns,
		string(id), string(driverID), deliveryMinutes,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

func (s *Store) ListAvailable(ctx context.Context, limit int) ([]*Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'en_attente'
		  AND driver_id IS NULL
		  AND payment_status IN `+paidStatuses+`
		ORDER BY created_at ASC
		LIMIT $1`, limit)
}

func (s *Store) ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]*Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(driverID), limit)
}

// ListByRestaurant filters by status when one is given.
func (s *Store) ListByRestaurant(ctx context.Context, restaurantID types.ID, status Status, limit int) ([]*Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE restaurant_id = $1
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`, string(restaurantID), string(status), limit)
}

func (s *Store) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'en_attente'
		  AND driver_id IS NULL
		  AND payment_status IN `+paidStatuses+`
		  AND delivery_requested_at <= $1
		ORDER BY delivery_requested_at ASC
		LIMIT $2`, cutoff, limit)
}

// MarkPayment moves payment_status from one value to another. Becoming paid
// restarts the unclaimed-order clock.
func (s *Store) MarkPayment(ctx context.Context, id types.ID, from, to payment.Status, reference string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET payment_status = $3,
			payment_reference = COALESCE(NULLIF($4, ''), payment_reference),
			delivery_requested_at = CASE WHEN $3 = 'paid' THEN $5 ELSE delivery_requested_at END,
			updated_at = now()
		WHERE id = $1 AND payment_status = $2`,
		string(id), string(from), string(to), reference, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordRefund only applies to orders still marked paid.
func (s *Store) RecordRefund(ctx context.Context, id types.ID, r RefundRecord) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET payment_status = 'refunded',
			refund_reference = $2,
			refund_amount = $3,
			refunded_at = $4,
			updated_at = now()
		WHERE id = $1 AND payment_status IN `+paidStatuses,
		string(id), r.Reference, r.Amount, r.At,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_state_events (
			order_id, kind, from_status, to_status, actor_type, actor_id, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`,
		string(e.OrderID),
		string(e.Kind),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorType),
		toStringPtr(e.ActorID),
		e.Note,
		e.CreatedAt,
	)
	return err
}

func (s *Store) GetRestaurant(ctx context.Context, id types.ID) (*Restaurant, error) {
	return s.scanRestaurant(s.db.QueryRow(ctx, `
		SELECT id, owner_id, name, address, city, postal_code, commission_rate
		FROM restaurants WHERE id = $1`, string(id)))
}

func (s *Store) RestaurantByOwner(ctx context.Context, ownerID types.ID) (*Restaurant, error) {
	return s.scanRestaurant(s.db.QueryRow(ctx, `
		SELECT id, owner_id, name, address, city, postal_code, commission_rate
		FROM restaurants WHERE owner_id = $1
		ORDER BY created_at
		LIMIT 1`, string(ownerID)))
}

func (s *Store) scanRestaurant(row pgx.Row) (*Restaurant, error) {
	var r Restaurant
	var rate decimal.NullDecimal
	err := row.Scan(&r.ID, &r.OwnerID, &r.Name, &r.Address, &r.City, &r.PostalCode, &rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRestaurantNotFound
	}
	if err != nil {
		return nil, err
	}
	if rate.Valid {
		r.CommissionRate = &rate.Decimal
	}
	return &r, nil
}

// MissingMenuItems returns the ids that are not on the restaurant's menu.
func (s *Store) MissingMenuItems(ctx context.Context, restaurantID types.ID, ids []types.ID) ([]types.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	want := make([]string, len(ids))
	for i, id := range ids {
		want[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
		SELECT w.id
		FROM unnest($2::text[]) AS w(id)
		WHERE NOT EXISTS (
			SELECT 1 FROM menus m WHERE m.id = w.id AND m.restaurant_id = $1
		)`, string(restaurantID), want)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var missing []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		missing = append(missing, types.ID(id))
	}
	return missing, rows.Err()
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
