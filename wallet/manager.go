package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/miragespace/vpsdash/apperror"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInsufficientBalance is returned when a charge exceeds the balance
var ErrInsufficientBalance = errors.New("insufficient balance")

type Options struct {
	Logger *zap.Logger
	DB     *gorm.DB
}

// Manager handles the database operations relating to Wallet and LedgerEntry
type Manager struct {
	Options
}

func NewManager(option Options) (*Manager, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if err := option.DB.AutoMigrate(&Wallet{}, &LedgerEntry{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize wallet.Manager")
	}
	return &Manager{
		Options: option,
	}, nil
}

// Apply runs ApplyTx in its own transaction
func (m *Manager) Apply(ctx context.Context, change Change) (*LedgerEntry, error) {
	var entry *LedgerEntry
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = m.ApplyTx(tx, change)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ApplyTx moves the balance and writes the ledger entry on tx. The caller owns
// the transaction, so a failure anywhere rolls back both.
func (m *Manager) ApplyTx(tx *gorm.DB, change Change) (*LedgerEntry, error) {
	change.Currency = NormalizeCurrency(change.Currency)
	if change.UserID == "" || change.Currency == "" || change.Reference == "" {
		return nil, apperror.Validation("Wallet change requires user, currency and reference")
	}
	if !change.Kind.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("Unknown ledger entry kind %q", change.Kind))
	}
	if !change.Amount.IsPositive() {
		return nil, apperror.Validation("Wallet change amount must be positive")
	}

	seed := Wallet{
		ID:       uuid.New().String(),
		UserID:   change.UserID,
		Currency: change.Currency,
		Balance:  decimal.Zero,
	}
	if res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed); res.Error != nil {
		return nil, extErrors.Wrap(res.Error, "Cannot create wallet")
	}

	var w Wallet
	res := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND currency = ?", change.UserID, change.Currency).
		First(&w)
	if res.Error != nil {
		return nil, extErrors.Wrap(res.Error, "Cannot lock wallet")
	}

	delta := change.Amount
	if change.Kind == KindCharge {
		delta = delta.Neg()
	}
	next := w.Balance.Add(delta)
	if next.IsNegative() {
		return nil, apperror.Wrap(apperror.KindConflict, ErrInsufficientBalance, "Insufficient balance")
	}

	if res := tx.Model(&w).Update("balance", next); res.Error != nil {
		return nil, extErrors.Wrap(res.Error, "Cannot update wallet balance")
	}

	entry := LedgerEntry{
		ID:        uuid.New().String(),
		WalletID:  w.ID,
		UserID:    w.UserID,
		Currency:  w.Currency,
		Kind:      change.Kind,
		Reference: change.Reference,
		Amount:    change.Amount,
		Balance:   next,
	}
	if res := tx.Create(&entry); res.Error != nil {
		return nil, extErrors.Wrap(res.Error, "Cannot write ledger entry")
	}

	m.Logger.Info("Wallet balance changed",
		zap.String("UserID", w.UserID),
		zap.String("Currency", w.Currency),
		zap.String("Kind", string(change.Kind)),
		zap.String("Reference", change.Reference),
		zap.String("Amount", change.Amount.String()),
		zap.String("Balance", next.String()),
	)
	return &entry, nil
}

func (m *Manager) Balance(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	var w Wallet
	result := m.DB.WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID, NormalizeCurrency(currency)).
		First(&w)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return decimal.Zero, extErrors.Wrap(result.Error, "Cannot get wallet balance")
	}
	return w.Balance, nil
}

func (m *Manager) List(ctx context.Context, userID string) ([]Wallet, error) {
	results := make([]Wallet, 0, 1)
	result := m.DB.WithContext(ctx).Order("currency asc").Find(&results, "user_id = ?", userID)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list wallets")
	}
	return results, nil
}

func (m *Manager) Entries(ctx context.Context, userID string) ([]LedgerEntry, error) {
	results := make([]LedgerEntry, 0, 1)
	result := m.DB.WithContext(ctx).Order("created_at desc").Find(&results, "user_id = ?", userID)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list ledger entries")
	}
	return results, nil
}
