package billing

import "bizworks/api_bursar/pkg/config"

const (
	defaultCurrencyEnv      = "BILLING_CURRENCY"
	defaultCurrencyFallback = "NGN"
)

// DefaultCurrency returns the billing currency used when no currency is specified.
func DefaultCurrency() string {
	return config.GetEnv(defaultCurrencyEnv, defaultCurrencyFallback)
}

// KoboPerUnit is the subunit scale for NGN amounts stored as kobo.
const KoboPerUnit = 100
