package payment

import (
	"time"

	"github.com/miragespace/vpsdash/gateway"

	"github.com/shopspring/decimal"
)

// Transaction is one crypto deposit attempt. Rows are append-only.
type Transaction struct {
	OrderID               string          `json:"orderId" gorm:"primaryKey"`
	UserID                string          `json:"userId" gorm:"not null;index"`
	PaymentID             string          `json:"paymentId" gorm:"index"` // gateway-assigned
	BaseAmount            decimal.Decimal `json:"baseAmount" gorm:"type:numeric(24,8);not null"`
	FeeAmount             decimal.Decimal `json:"feeAmount" gorm:"type:numeric(24,8);not null"`
	TotalAmount           decimal.Decimal `json:"totalAmount" gorm:"type:numeric(24,8);not null"`
	PriceCurrency         string          `json:"priceCurrency" gorm:"not null"`
	Currency              string          `json:"currency" gorm:"not null"`
	PayAddress            string          `json:"payAddress"`
	PayAmount             decimal.Decimal `json:"payAmount" gorm:"type:numeric(24,8)"`
	Status                gateway.Status  `json:"status" gorm:"not null;index"`
	ConfirmationsRequired int             `json:"confirmationsRequired"`
	ActuallyPaid          decimal.Decimal `json:"actuallyPaid" gorm:"type:numeric(24,8)"`
	PayinHash             string          `json:"payinHash"`
	PayoutHash            string          `json:"payoutHash"`
	Credited              bool            `json:"credited" gorm:"not null;default:false"`
	CreditedAmount        decimal.Decimal `json:"creditedAmount" gorm:"type:numeric(24,8)"`
	ExpiresAt             *time.Time      `json:"expiresAt"`
	CreatedAt             time.Time       `json:"createdAt" gorm:"index"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

func (Transaction) TableName() string {
	return "payment_transactions"
}

var statusRank = map[gateway.Status]int{
	gateway.StatusWaiting:       0,
	gateway.StatusConfirming:    1,
	gateway.StatusConfirmed:     2,
	gateway.StatusSending:       3,
	gateway.StatusPartiallyPaid: 4,
	gateway.StatusFinished:      5,
	gateway.StatusFailed:        5,
	gateway.StatusExpired:       5,
	gateway.StatusRefunded:      5,
}

// Rank orders statuses by payment progress. Unknown statuses rank -1.
func Rank(s gateway.Status) int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

func Terminal(s gateway.Status) bool {
	return Rank(s) == 5
}

// CreditBearing statuses credit the wallet when they carry a positive amount
func CreditBearing(s gateway.Status) bool {
	return s == gateway.StatusFinished || s == gateway.StatusPartiallyPaid
}

// advances reports whether update moves cur forward. A terminal status is
// never replaced; an equal rank only counts when it brings new information.
func advances(cur *Transaction, update *gateway.Payment) bool {
	if Terminal(cur.Status) {
		return false
	}
	next := Rank(update.PaymentStatus)
	if next < 0 {
		return false
	}
	prev := Rank(cur.Status)
	if next > prev {
		return true
	}
	if next < prev || Terminal(update.PaymentStatus) {
		return false
	}
	if update.PaymentStatus != cur.Status {
		return false
	}
	if update.ActuallyPaid.Valid && !update.ActuallyPaid.Decimal.Equal(cur.ActuallyPaid) {
		return true
	}
	if update.PayinHash != "" && update.PayinHash != cur.PayinHash {
		return true
	}
	if update.PayoutHash != "" && update.PayoutHash != cur.PayoutHash {
		return true
	}
	return false
}

// creditAmount is outcome_amount when it is denominated in the deposit's
// currency, else actually_paid, else zero.
func creditAmount(cur *Transaction, update *gateway.Payment) decimal.Decimal {
	if update.OutcomeAmount.Valid && update.OutcomeAmount.Decimal.IsPositive() &&
		normalizeCurrency(update.OutcomeCurrency) == cur.Currency {
		return update.OutcomeAmount.Decimal
	}
	if update.ActuallyPaid.Valid && update.ActuallyPaid.Decimal.IsPositive() {
		return update.ActuallyPaid.Decimal
	}
	return decimal.Zero
}
