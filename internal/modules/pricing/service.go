// README: Pricing service: authoritative totals, commission and fee split.
package pricing

import (
	"github.com/shopspring/decimal"

	"cvneat/internal/types"
)

var hundred = decimal.NewFromInt(100)

type Config struct {
	PlatformFee              decimal.Decimal
	DefaultCommissionPercent decimal.Decimal
}

type Service struct {
	platformFee       decimal.Decimal
	defaultCommission decimal.Decimal
}

func NewService(cfg Config) *Service {
	return &Service{
		platformFee:       cfg.PlatformFee,
		defaultCommission: cfg.DefaultCommissionPercent,
	}
}

// RecomputeTotals derives the authoritative subtotal from line items. Client
// supplied subtotals never enter this computation.
func RecomputeTotals(lines []Line, deliveryFee, platformFee, discount decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	subtotal = types.Round2(subtotal)
	total := subtotal.Add(deliveryFee).Add(platformFee).Sub(discount)
	return Totals{
		Subtotal:    subtotal,
		DeliveryFee: types.Round2(deliveryFee),
		PlatformFee: types.Round2(platformFee),
		Discount:    types.Round2(discount),
		Total:       types.Round2(types.NonNegative(total)),
	}
}

// Commission applies the restaurant's percentage (or the default when the
// restaurant has none) to the subtotal.
func (s *Service) Commission(subtotal decimal.Decimal, ratePercent *decimal.Decimal) Split {
	rate := s.defaultCommission
	if ratePercent != nil && !ratePercent.IsNegative() {
		rate = *ratePercent
	}
	commission := types.Round2(subtotal.Mul(rate).Div(hundred))
	return Split{
		RatePercent:      rate,
		CommissionAmount: commission,
		RestaurantPayout: types.Round2(subtotal.Sub(commission)),
	}
}

// SplitFees attributes a captured amount to the fixed platform fee first and
// the remainder to delivery. The subtotal is taken as given.
func (s *Service) SplitFees(captured, subtotal decimal.Decimal) Fees {
	rest := types.NonNegative(captured.Sub(subtotal))
	platform := s.platformFee
	if rest.LessThan(platform) {
		platform = rest
	}
	return Fees{
		DeliveryFee: types.Round2(rest.Sub(platform)),
		PlatformFee: types.Round2(platform),
		Reconciled:  true,
	}
}

func (s *Service) PlatformFee() decimal.Decimal {
	return s.platformFee
}
