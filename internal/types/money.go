// README: Common money value object used across modules.
package types

// CurrencyIQD is the only currency the platform bills in today.
const CurrencyIQD = "IQD"

// Money holds an amount in whole currency units. Fares and commission are
// rounded to whole dinars before they reach this type.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func IQD(amount int64) Money {
	return Money{Amount: amount, Currency: CurrencyIQD}
}
