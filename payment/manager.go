package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miragespace/vpsdash/apperror"
	"github.com/miragespace/vpsdash/fee"
	"github.com/miragespace/vpsdash/gateway"
	"github.com/miragespace/vpsdash/metrics"
	"github.com/miragespace/vpsdash/notify"
	"github.com/miragespace/vpsdash/wallet"

	"github.com/lithammer/shortuuid/v3"
	extErrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gateway is the subset of gateway.Client used by Manager
type Gateway interface {
	CreatePayment(ctx context.Context, req gateway.CreatePaymentRequest) (*gateway.Payment, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (*gateway.Payment, error)
	ListCurrencies(ctx context.Context) ([]string, error)
}

var _ Gateway = &gateway.Client{}

// DefaultMinDeposit is the smallest accepted base amount
var DefaultMinDeposit = decimal.RequireFromString("20.00")

type ManagerOptions struct {
	Logger   *zap.Logger
	DB       *gorm.DB
	Gateway  Gateway
	Wallets  *wallet.Manager
	Notifier notify.Sink
	Metrics  *metrics.Metrics

	Fees          fee.Table
	MinDeposit    decimal.Decimal
	PriceCurrency string        // currency deposits are priced in, "usd" when empty
	CallbackURL   string        // absolute URL of the webhook route
	Expiry        time.Duration // recorded expiry of a new deposit, 0 for none
}

// Manager handles deposit creation and the atomic status/credit path
type Manager struct {
	ManagerOptions
}

func NewManager(option ManagerOptions) (*Manager, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Gateway == nil {
		return nil, fmt.Errorf("nil Gateway is invalid")
	}
	if option.Wallets == nil {
		return nil, fmt.Errorf("nil Wallets is invalid")
	}
	if option.CallbackURL == "" {
		return nil, fmt.Errorf("empty CallbackURL is invalid")
	}
	if option.Notifier == nil {
		option.Notifier = notify.Nop{}
	}
	if option.Fees.Rules == nil && option.Fees.Families == nil && option.Fees.Default.Type == "" {
		option.Fees = fee.DefaultTable
	}
	if option.MinDeposit.IsZero() {
		option.MinDeposit = DefaultMinDeposit
	}
	if option.PriceCurrency == "" {
		option.PriceCurrency = "usd"
	}
	if err := option.DB.AutoMigrate(&Transaction{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize payment.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

func normalizeCurrency(c string) string {
	return wallet.NormalizeCurrency(c)
}

// CreateRequest is a user's deposit request
type CreateRequest struct {
	UserID   string
	Amount   decimal.Decimal
	Currency string
}

// Create validates the request before any gateway call, computes the fee
// once, and persists the deposit as returned by the gateway.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Transaction, error) {
	currency := normalizeCurrency(req.Currency)
	if req.UserID == "" {
		return nil, apperror.Validation("Missing user id")
	}
	if currency == "" {
		return nil, apperror.Validation("Missing currency")
	}
	if req.Amount.LessThan(m.MinDeposit) {
		return nil, apperror.Validation(fmt.Sprintf("Minimum deposit is %s", m.MinDeposit.StringFixed(2)))
	}

	base := req.Amount.Round(2)
	feeAmount := m.Fees.Compute(currency, base)
	total := base.Add(feeAmount)
	orderID := shortuuid.New()

	logger := m.Logger.With(
		zap.String("UserID", req.UserID),
		zap.String("OrderID", orderID),
	)

	p, err := m.Gateway.CreatePayment(ctx, gateway.CreatePaymentRequest{
		PriceAmount:      total,
		PriceCurrency:    m.PriceCurrency,
		PayCurrency:      currency,
		OrderID:          orderID,
		OrderDescription: fmt.Sprintf("Wallet deposit %s %s", base.StringFixed(2), strings.ToUpper(m.PriceCurrency)),
		CallbackURL:      m.CallbackURL,
	})
	if err != nil {
		logger.Error("Payment gateway rejected deposit",
			zap.Error(err),
		)
		return nil, apperror.Provider(err, "Payment gateway could not create the deposit: "+err.Error())
	}

	status := p.PaymentStatus
	if Rank(status) < 0 {
		status = gateway.StatusWaiting
	}
	txn := Transaction{
		OrderID:               orderID,
		UserID:                req.UserID,
		PaymentID:             string(p.PaymentID),
		BaseAmount:            base,
		FeeAmount:             feeAmount,
		TotalAmount:           total,
		PriceCurrency:         m.PriceCurrency,
		Currency:              currency,
		PayAddress:            p.PayAddress,
		PayAmount:             p.PayAmount.Decimal,
		Status:                status,
		ConfirmationsRequired: p.ConfirmationsRequired,
	}
	if m.Expiry > 0 {
		expires := time.Now().Add(m.Expiry)
		txn.ExpiresAt = &expires
	}

	if result := m.DB.WithContext(ctx).Create(&txn); result.Error != nil {
		logger.Error("Unable to persist deposit after gateway accepted it",
			zap.String("PaymentID", txn.PaymentID),
			zap.Error(result.Error),
		)
		return nil, apperror.Internal(result.Error, "Cannot save deposit")
	}
	return &txn, nil
}

func (m *Manager) get(ctx context.Context, query string, args ...interface{}) (*Transaction, error) {
	txn := Transaction{}
	result := m.DB.WithContext(ctx).Where(query, args...).First(&txn)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get payment transaction")
	}
	return &txn, nil
}

// Get returns the caller's transaction. Other users' transactions are not found.
func (m *Manager) Get(ctx context.Context, userID, orderID string) (*Transaction, error) {
	txn, err := m.get(ctx, "order_id = ?", orderID)
	if err != nil {
		return nil, apperror.Internal(err, "Cannot get payment")
	}
	if txn == nil || txn.UserID != userID {
		return nil, apperror.NotFound("Cannot find payment with specific order ID")
	}
	return txn, nil
}

func (m *Manager) ListByUser(ctx context.Context, userID string) ([]Transaction, error) {
	results := make([]Transaction, 0, 1)
	result := m.DB.WithContext(ctx).Order("created_at desc").Find(&results, "user_id = ?", userID)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, apperror.Internal(result.Error, "Cannot list payments")
	}
	return results, nil
}

// ListRecent returns the newest transactions across all users
func (m *Manager) ListRecent(ctx context.Context, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	results := make([]Transaction, 0, limit)
	result := m.DB.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&results)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, apperror.Internal(result.Error, "Cannot list payments")
	}
	return results, nil
}

func (m *Manager) Currencies(ctx context.Context) ([]string, error) {
	currencies, err := m.Gateway.ListCurrencies(ctx)
	if err != nil {
		m.Logger.Error("Unable to list gateway currencies",
			zap.Error(err),
		)
		return nil, apperror.Provider(err, "Payment gateway could not list currencies")
	}
	return currencies, nil
}

// Outcome describes what ApplyUpdate did
type Outcome struct {
	OrderID        string          `json:"orderId"`
	PaymentID      string          `json:"paymentId"`
	PreviousStatus gateway.Status  `json:"previousStatus"`
	Status         gateway.Status  `json:"status"`
	Advanced       bool            `json:"advanced"`
	Credited       bool            `json:"credited"`
	CreditAmount   decimal.Decimal `json:"creditAmount"`
	Currency       string          `json:"currency"`
	UserID         string          `json:"-"`
}

// Full reports whether a credit came from a completed payment
func (o *Outcome) Full() bool {
	return o.Credited && o.Status == gateway.StatusFinished
}

// ApplyUpdate applies a gateway status report in one transaction: it decides
// whether the report advances the stored status, persists it with a
// compare-and-swap on the previous status, and credits the wallet at most
// once through a compare-and-swap on the credited flag.
func (m *Manager) ApplyUpdate(ctx context.Context, update *gateway.Payment) (*Outcome, error) {
	out := &Outcome{
		OrderID:   update.OrderID,
		PaymentID: string(update.PaymentID),
		Status:    update.PaymentStatus,
	}
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur Transaction
		q := tx.Clauses(clause.Locking{Strength: "UPDATE"})
		var res *gorm.DB
		if update.OrderID != "" {
			res = q.First(&cur, "order_id = ?", update.OrderID)
		} else {
			res = q.First(&cur, "payment_id = ?", string(update.PaymentID))
		}
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return apperror.NotFound("Cannot find payment for callback")
		}
		if res.Error != nil {
			return extErrors.Wrap(res.Error, "Cannot lock payment transaction")
		}
		out.OrderID = cur.OrderID
		out.UserID = cur.UserID
		out.Currency = cur.Currency
		out.PreviousStatus = cur.Status
		if update.PaymentID != "" && cur.PaymentID != "" && string(update.PaymentID) != cur.PaymentID {
			return apperror.Validation("Callback payment id does not match the order")
		}

		if !advances(&cur, update) {
			out.Status = cur.Status
			return nil
		}

		changes := map[string]interface{}{
			"status": update.PaymentStatus,
		}
		if update.ActuallyPaid.Valid {
			changes["actually_paid"] = update.ActuallyPaid.Decimal
		}
		if update.PayinHash != "" {
			changes["payin_hash"] = update.PayinHash
		}
		if update.PayoutHash != "" {
			changes["payout_hash"] = update.PayoutHash
		}
		if cur.PayAddress == "" && update.PayAddress != "" {
			changes["pay_address"] = update.PayAddress
		}
		if cur.PaymentID == "" && update.PaymentID != "" {
			changes["payment_id"] = string(update.PaymentID)
		}
		swap := tx.Model(&Transaction{}).
			Where("order_id = ? AND status = ?", cur.OrderID, cur.Status).
			Updates(changes)
		if swap.Error != nil {
			return extErrors.Wrap(swap.Error, "Cannot update payment status")
		}
		if swap.RowsAffected != 1 {
			// a concurrent delivery moved the row first
			out.Status = cur.Status
			return nil
		}
		out.Advanced = true

		if !CreditBearing(update.PaymentStatus) {
			return nil
		}
		amount := creditAmount(&cur, update)
		if !amount.IsPositive() {
			return nil
		}
		flip := tx.Model(&Transaction{}).
			Where("order_id = ? AND credited = ?", cur.OrderID, false).
			Updates(map[string]interface{}{
				"credited":        true,
				"credited_amount": amount,
			})
		if flip.Error != nil {
			return extErrors.Wrap(flip.Error, "Cannot mark payment credited")
		}
		if flip.RowsAffected != 1 {
			return nil
		}
		if _, err := m.Wallets.ApplyTx(tx, wallet.Change{
			UserID:    cur.UserID,
			Currency:  cur.Currency,
			Kind:      wallet.KindDeposit,
			Amount:    amount,
			Reference: cur.OrderID,
		}); err != nil {
			return err
		}
		out.Credited = true
		out.CreditAmount = amount
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Credited {
		m.Metrics.IncCredit(out.Currency)
		event := notify.EventDepositPartial
		if out.Full() {
			event = notify.EventDepositCredited
		}
		m.alert(ctx, event, map[string]string{
			"orderId":  out.OrderID,
			"userId":   out.UserID,
			"status":   string(out.Status),
			"amount":   out.CreditAmount.String(),
			"currency": out.Currency,
		})
	}
	return out, nil
}

// Refresh polls the gateway for the caller's deposit and applies the result
// through the same path as a callback.
func (m *Manager) Refresh(ctx context.Context, userID, orderID string) (*Outcome, error) {
	txn, err := m.Get(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if txn.PaymentID == "" {
		return nil, apperror.New(apperror.KindConflict, "Deposit has no gateway payment yet")
	}
	p, err := m.Gateway.GetPaymentStatus(ctx, txn.PaymentID)
	if err != nil {
		m.Logger.Error("Unable to poll payment status",
			zap.String("UserID", userID),
			zap.String("OrderID", orderID),
			zap.Error(err),
		)
		return nil, apperror.Provider(err, "Payment gateway could not report the deposit status")
	}
	p.OrderID = txn.OrderID
	return m.ApplyUpdate(ctx, p)
}

func (m *Manager) alert(ctx context.Context, event notify.Event, fields map[string]string) {
	nctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Notifier.Notify(nctx, notify.Alert{Event: event, Time: time.Now(), Fields: fields}); err != nil {
		m.Logger.Warn("Unable to publish alert",
			zap.String("Event", string(event)),
			zap.Error(err),
		)
	}
}
