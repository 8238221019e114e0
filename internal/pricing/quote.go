package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-menu-orders/internal/apperr"
)

const (
	quoteBaseCents    = 199
	quoteCentsPerKm   = 80
	quoteBaseMinutes  = 30
	quoteMinutesPerKm = 4

	// DefaultQuoteDistanceKm is used when a quote request omits the distance.
	DefaultQuoteDistanceKm = 5.0
)

type DeliveryQuote struct {
	FeeCents   int64 `json:"fee"`
	ETAMinutes int   `json:"eta_minutes"`
}

// Quote prices a delivery of distanceKm. Rounding is half away from zero.
func Quote(distanceKm float64) (DeliveryQuote, error) {
	if math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) || distanceKm < 0 {
		return DeliveryQuote{}, apperr.Validation(apperr.CodeInvalidDistance, "distance_km must be a non-negative number")
	}
	km := decimal.NewFromFloat(distanceKm)

	fee := decimal.NewFromInt(quoteBaseCents).
		Add(km.Mul(decimal.NewFromInt(quoteCentsPerKm))).
		Round(0)
	eta := km.Mul(decimal.NewFromInt(quoteMinutesPerKm)).Round(0)

	return DeliveryQuote{
		FeeCents:   fee.IntPart(),
		ETAMinutes: quoteBaseMinutes + int(eta.IntPart()),
	}, nil
}
