// Package ledger moves money between the outside world and account balances.
// Every call runs on transaction-scoped repositories handed in by the caller,
// so the balance change commits or rolls back together with the state change
// it pays for.
package ledger

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/metrics/prom"
)

// DebitInput describes a self-service spend.
type DebitInput struct {
	AccountID     uint
	Amount        int64
	Reason        string
	ReferenceType string
	ReferenceID   uint
}

// CreditInput describes money added to an account. Operator credits skip
// the ban check.
type CreditInput struct {
	AccountID     uint
	Amount        int64
	Reason        string
	ReferenceType string
	ReferenceID   uint
	ByOperator    bool
}

// Debit locks the account, refuses banned accounts and subtracts Amount if
// the balance covers it. Returns the new balance.
func Debit(repos *repository.Repositories, in DebitInput) (int64, error) {
	if in.Amount < 0 {
		return 0, apperr.Validation("debit amount must not be negative")
	}
	account, err := lockAccount(repos, in.AccountID)
	if err != nil {
		return 0, err
	}
	if account.IsBanned {
		return 0, apperr.ErrAccountBanned
	}
	if account.BalanceMinorUnits < in.Amount {
		return 0, insufficient(account.BalanceMinorUnits, in.Amount)
	}

	// A zero amount changes nothing; MySQL would report no affected row.
	if in.Amount > 0 {
		ok, err := repos.Account.DebitIfSufficient(account.ID, in.Amount)
		if err != nil {
			return 0, fmt.Errorf("debit account %d: %w", account.ID, err)
		}
		if !ok {
			return 0, insufficient(account.BalanceMinorUnits, in.Amount)
		}
	}

	balance := account.BalanceMinorUnits - in.Amount
	if err := appendEntry(repos, account.ID, -in.Amount, balance, in.Reason, in.ReferenceType, in.ReferenceID); err != nil {
		return 0, err
	}
	return balance, nil
}

// Credit adds Amount to the balance. No upper bound is enforced.
func Credit(repos *repository.Repositories, in CreditInput) (int64, error) {
	if in.Amount <= 0 {
		return 0, apperr.Validation("credit amount must be positive")
	}
	account, err := lockAccount(repos, in.AccountID)
	if err != nil {
		return 0, err
	}
	if account.IsBanned && !in.ByOperator {
		return 0, apperr.ErrAccountBanned
	}
	if err := repos.Account.Credit(account.ID, in.Amount); err != nil {
		return 0, fmt.Errorf("credit account %d: %w", account.ID, err)
	}

	balance := account.BalanceMinorUnits + in.Amount
	if err := appendEntry(repos, account.ID, in.Amount, balance, in.Reason, in.ReferenceType, in.ReferenceID); err != nil {
		return 0, err
	}
	return balance, nil
}

// RecordDebit counts a committed debit. Call it after the transaction that
// ran Debit has committed.
func RecordDebit(reason string, amount int64) {
	if amount > 0 {
		prom.LedgerMovements.WithLabelValues("debit", reason).Add(float64(amount))
	}
}

// RecordCredit counts a committed credit.
func RecordCredit(reason string, amount int64) {
	if amount > 0 {
		prom.LedgerMovements.WithLabelValues("credit", reason).Add(float64(amount))
	}
}

func lockAccount(repos *repository.Repositories, id uint) (*models.Account, error) {
	account, err := repos.Account.LockByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account %d: %w", id, err)
	}
	return account, nil
}

func appendEntry(repos *repository.Repositories, accountID uint, delta, after int64, reason, refType string, refID uint) error {
	entry := &models.BalanceEntry{
		AccountID:              accountID,
		DeltaMinorUnits:        delta,
		BalanceAfterMinorUnits: after,
		Reason:                 reason,
		ReferenceType:          refType,
		ReferenceID:            refID,
	}
	if err := repos.BalanceEntry.Create(entry); err != nil {
		return fmt.Errorf("append balance entry: %w", err)
	}
	return nil
}

func insufficient(balance, amount int64) error {
	return apperr.New(apperr.CodeInsufficientBalance,
		fmt.Sprintf("balance %d is below the required %d", balance, amount))
}
