// README: Pricing value objects (line amounts, order totals, commission split, fee split).
package pricing

import "github.com/shopspring/decimal"

// Line is the priced part of an order line item. UnitPrice already includes
// every supplement and customization.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Totals struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	PlatformFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// Split is the commission taken by the platform and what is left for the restaurant.
type Split struct {
	RatePercent      decimal.Decimal
	CommissionAmount decimal.Decimal
	RestaurantPayout decimal.Decimal
}

// Fees is the delivery/platform fee pair shown to clients.
type Fees struct {
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	Reconciled  bool            `json:"reconciled"`
}
