// README: Driver debt ledger types.
package debt

import "time"

const (
	EntryCharge     = "charge"
	EntryPayment    = "payment"
	EntryAdjustment = "adjustment"
)

// Driver is the debt-relevant slice of the users row. Amounts are whole IQD.
type Driver struct {
	ID                int64   `json:"id"`
	Debt              int64   `json:"debt"`
	DebtLimitOverride *int64  `json:"debt_limit_override"`
	Blocked           bool    `json:"blocked"`
	BlockReason       *string `json:"block_reason"`
}

type LedgerEntry struct {
	ID           int64     `json:"id"`
	DriverID     int64     `json:"driver_id"`
	RideID       *int64    `json:"ride_id"`
	Amount       int64     `json:"amount"`
	EntryType    string    `json:"entry_type"`
	BalanceAfter int64     `json:"balance_after"`
	Note         *string   `json:"note"`
	AdminID      *int64    `json:"admin_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChargeResult reports the balance movement of a single commission charge.
type ChargeResult struct {
	DriverID int64  `json:"driver_id"`
	Amount   int64  `json:"amount"`
	NewDebt  int64  `json:"new_debt"`
	Blocked  bool   `json:"blocked"`
	Limit    *int64 `json:"limit"`
}
