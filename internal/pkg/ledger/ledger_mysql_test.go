package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/database"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/database/dbtest"
)

func TestMySQLConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := repository.NewFactory(dbtest.OpenMySQL(t))
	acc := &models.Account{Name: "Provider", Email: "p@example.com", Role: models.RoleProvider, BalanceMinorUnits: 1000}
	require.NoError(t, f.GetRepositories().Account.Create(acc))

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			for attempt := 0; attempt < 5; attempt++ {
				err = f.Transaction(context.Background(), func(repos *repository.Repositories) error {
					_, err := Debit(repos, DebitInput{AccountID: acc.ID, Amount: 300, Reason: models.BalanceReasonActivation})
					return err
				})
				if !database.IsRetryable(err) {
					break
				}
			}
			if err == nil {
				succeeded.Add(1)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), succeeded.Load())
	assert.Equal(t, int64(100), balanceOf(t, f, acc.ID))
	sum, err := f.GetRepositories().BalanceEntry.SumByAccount(acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-900), sum)
}
