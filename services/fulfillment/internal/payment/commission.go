package payment

import "github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"

// Rate is a platform commission in basis points with a ceiling.
type Rate struct {
	BasisPoints int64
	Cap         domain.Cents
}

var (
	RelicenseRate = Rate{BasisPoints: 600, Cap: 60000}
	PurchaseRate  = Rate{BasisPoints: 500, Cap: 5000}
)

func (r Rate) Of(price domain.Cents) domain.Cents {
	return Commission(price, r.BasisPoints, r.Cap)
}

// Commission is min(cap, round(price * rate)), rounding half up to the cent.
func Commission(price domain.Cents, basisPoints int64, cap domain.Cents) domain.Cents {
	if price <= 0 || basisPoints <= 0 {
		return 0
	}
	fee := (price*basisPoints + 5000) / 10000
	return min(fee, cap)
}
