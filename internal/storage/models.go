package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertRecord captures one emitted buy alert for auditing and export.
type AlertRecord struct {
	ID          int64
	Hash        string
	Buyer       string
	TokenAmount decimal.Decimal
	USDValue    decimal.Decimal
	Price       decimal.Decimal
	PriceSource string
	Category    string
	TxTime      time.Time
	CreatedAt   time.Time
}
