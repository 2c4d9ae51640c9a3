package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/metrics/prom"
)

func setup(t *testing.T, balance int64, banned bool) (*repository.Factory, *models.Account) {
	t.Helper()
	f := repository.NewFactory(dbtest.Open(t))
	acc := &models.Account{Name: "Provider", Email: "p@example.com", Role: models.RoleProvider, BalanceMinorUnits: balance, IsBanned: banned}
	require.NoError(t, f.GetRepositories().Account.Create(acc))
	return f, acc
}

func balanceOf(t *testing.T, f *repository.Factory, id uint) int64 {
	t.Helper()
	acc, err := f.GetRepositories().Account.GetByID(id)
	require.NoError(t, err)
	return acc.BalanceMinorUnits
}

func TestDebitAndCredit(t *testing.T) {
	f, acc := setup(t, 1000, false)
	ctx := context.Background()

	err := f.Transaction(ctx, func(repos *repository.Repositories) error {
		bal, err := Debit(repos, DebitInput{AccountID: acc.ID, Amount: 400, Reason: models.BalanceReasonActivation})
		require.NoError(t, err)
		assert.Equal(t, int64(600), bal)

		bal, err = Credit(repos, CreditInput{AccountID: acc.ID, Amount: 50, Reason: models.BalanceReasonTopUp})
		require.NoError(t, err)
		assert.Equal(t, int64(650), bal)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(650), balanceOf(t, f, acc.ID))

	entries, err := f.GetRepositories().BalanceEntry.ListByAccount(acc.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(50), entries[0].DeltaMinorUnits)
	assert.Equal(t, int64(-400), entries[1].DeltaMinorUnits)
	assert.Equal(t, int64(650), entries[0].BalanceAfterMinorUnits)
}

func TestDebitInsufficientChangesNothing(t *testing.T) {
	f, acc := setup(t, 100, false)

	err := f.Transaction(context.Background(), func(repos *repository.Repositories) error {
		_, err := Debit(repos, DebitInput{AccountID: acc.ID, Amount: 101, Reason: models.BalanceReasonActivation})
		return err
	})
	assert.True(t, errors.Is(err, apperr.ErrInsufficientBalance))
	assert.Equal(t, int64(100), balanceOf(t, f, acc.ID))

	entries, _ := f.GetRepositories().BalanceEntry.ListByAccount(acc.ID, 0, 10)
	assert.Empty(t, entries)
}

func TestBanRules(t *testing.T) {
	f, acc := setup(t, 1000, true)
	ctx := context.Background()

	err := f.Transaction(ctx, func(repos *repository.Repositories) error {
		_, err := Debit(repos, DebitInput{AccountID: acc.ID, Amount: 1, Reason: models.BalanceReasonActivation})
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrAccountBanned)

	err = f.Transaction(ctx, func(repos *repository.Repositories) error {
		_, err := Credit(repos, CreditInput{AccountID: acc.ID, Amount: 10, Reason: models.BalanceReasonTopUp})
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrAccountBanned)

	err = f.Transaction(ctx, func(repos *repository.Repositories) error {
		_, err := Credit(repos, CreditInput{AccountID: acc.ID, Amount: 10, Reason: models.BalanceReasonOperatorCredit, ByOperator: true})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1010), balanceOf(t, f, acc.ID))
}

func TestUnknownAccountAndInvalidAmounts(t *testing.T) {
	f, acc := setup(t, 0, false)
	repos := f.GetRepositories()

	_, err := Debit(repos, DebitInput{AccountID: 999, Amount: 1})
	assert.ErrorIs(t, err, apperr.ErrAccountNotFound)

	_, err = Credit(repos, CreditInput{AccountID: acc.ID, Amount: 0})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = Debit(repos, DebitInput{AccountID: acc.ID, Amount: -5})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	bal, err := Debit(repos, DebitInput{AccountID: acc.ID, Amount: 0, Reason: models.BalanceReasonActivation})
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	f, acc := setup(t, 1000, false)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.Transaction(ctx, func(repos *repository.Repositories) error {
				_, err := Debit(repos, DebitInput{AccountID: acc.ID, Amount: 300, Reason: models.BalanceReasonActivation})
				return err
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, int64(100), balanceOf(t, f, acc.ID))
	sum, err := f.GetRepositories().BalanceEntry.SumByAccount(acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-900), sum)
}

func TestMovementsAreCountedAfterCommitOnly(t *testing.T) {
	f, acc := setup(t, 1000, false)
	debits := prom.LedgerMovements.WithLabelValues("debit", models.BalanceReasonActivation)
	before := testutil.ToFloat64(debits)

	errAfterDebit := errors.New("assignment insert failed")
	err := f.Transaction(context.Background(), func(repos *repository.Repositories) error {
		_, err := Debit(repos, DebitInput{AccountID: acc.ID, Amount: 400, Reason: models.BalanceReasonActivation})
		require.NoError(t, err)
		return errAfterDebit
	})
	assert.ErrorIs(t, err, errAfterDebit)
	assert.Equal(t, int64(1000), balanceOf(t, f, acc.ID))
	assert.Equal(t, before, testutil.ToFloat64(debits))

	RecordDebit(models.BalanceReasonActivation, 400)
	RecordDebit(models.BalanceReasonActivation, 0)
	assert.Equal(t, before+400, testutil.ToFloat64(debits))
}
