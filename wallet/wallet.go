// Package wallet keeps per-user, per-currency balances. A balance only moves
// together with a LedgerEntry written in the same database transaction.
package wallet

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind classifies a ledger entry
type EntryKind string

const (
	KindDeposit EntryKind = "deposit"
	KindCharge  EntryKind = "charge"
	KindRefund  EntryKind = "refund"
)

func (k EntryKind) Valid() bool {
	switch k {
	case KindDeposit, KindCharge, KindRefund:
		return true
	}
	return false
}

// Wallet is one balance per user per currency
type Wallet struct {
	ID        string          `json:"id" gorm:"primaryKey"`
	UserID    string          `json:"userId" gorm:"not null;uniqueIndex:idx_wallet_owner_currency"`
	Currency  string          `json:"currency" gorm:"not null;uniqueIndex:idx_wallet_owner_currency"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:numeric(24,8);not null"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// LedgerEntry records a single balance movement. Reference correlates the
// entry with its cause (a payment order id, a server id) and is unique per kind.
type LedgerEntry struct {
	ID        string          `json:"id" gorm:"primaryKey"`
	WalletID  string          `json:"walletId" gorm:"not null;index"`
	UserID    string          `json:"userId" gorm:"not null;index"`
	Currency  string          `json:"currency" gorm:"not null"`
	Kind      EntryKind       `json:"kind" gorm:"not null;uniqueIndex:idx_ledger_kind_reference"`
	Reference string          `json:"reference" gorm:"not null;uniqueIndex:idx_ledger_kind_reference"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:numeric(24,8);not null"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:numeric(24,8);not null"` // balance after this entry
	CreatedAt time.Time       `json:"createdAt"`
}

// Change describes a balance movement to apply. Amount is always positive;
// KindCharge subtracts it.
type Change struct {
	UserID    string
	Currency  string
	Kind      EntryKind
	Amount    decimal.Decimal
	Reference string
}

// NormalizeCurrency is the canonical form of a currency code
func NormalizeCurrency(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
