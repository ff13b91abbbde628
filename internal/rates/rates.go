// Package rates converts transaction amounts into the settlement currency
// using a fixed reference-rate table.
//
// Spend limits and counters are tracked in a single settlement currency (KES
// by default); merchant charges may arrive in any currency. The table is a
// snapshot of reference rates, not a live feed — rate drift is an accepted
// operational concern, not a correctness one.
package rates

import "strings"

// SettlementCurrency is the currency all limits and counters are tracked in.
const SettlementCurrency = "KES"

// referenceRates maps an ISO currency code to its value in KES per unit.
var referenceRates = map[string]float64{
	"KES": 1.0,
	"USD": 129.50,
	"EUR": 140.25,
	"GBP": 163.80,
	"UGX": 0.035,
	"TZS": 0.052,
	"ZAR": 7.10,
	"AED": 35.25,
	"INR": 1.55,
	"CNY": 17.85,
}

// Convert converts an amount in the given currency into the settlement
// currency. ok is false when no reference rate is known; callers degrade to
// treating the amount as already-settlement-currency (and should log it).
func Convert(amount float64, currency string) (settled float64, ok bool) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == SettlementCurrency {
		return amount, true
	}
	rate, found := referenceRates[code]
	if !found {
		return amount, false
	}
	return amount * rate, true
}

// Known reports whether a reference rate exists for the currency.
func Known(currency string) bool {
	_, found := referenceRates[strings.ToUpper(strings.TrimSpace(currency))]
	return found
}
