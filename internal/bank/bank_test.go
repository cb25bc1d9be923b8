package bank

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/dcb-go/core/app"
	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/projection"
)

func runBank(t *testing.T) *app.App {
	t.Helper()
	opts := projection.DefaultOptions()
	opts.SafeWindow = 0
	a, err := app.Run(app.Config{
		Store:             dcb.NewInMemoryStore(),
		Types:             EventTypes(),
		TagProjectors:     TagProjectors(),
		Projectors:        Projectors(),
		ProjectionOptions: &opts,
	})
	require.NoError(t, err)
	t.Cleanup(a.Stop)
	return a
}

func TestBank_Commands(t *testing.T) {
	a := runBank(t)
	ctx := t.Context()
	exec := a.Executor()

	_, err := exec.Execute(ctx, OpenAccount("alice", "Alice", 100))
	require.NoError(t, err)
	_, err = exec.Execute(ctx, OpenAccount("bob", "Bob", 0))
	require.NoError(t, err)

	_, err = exec.Execute(ctx, OpenAccount("alice", "Alice", 5))
	require.ErrorIs(t, err, ErrAccountExists)

	_, err = exec.Execute(ctx, Deposit("bob", 20))
	require.NoError(t, err)
	_, err = exec.Execute(ctx, Transfer("alice", "bob", 30))
	require.NoError(t, err)

	alice, err := ReadAccount(ctx, a.Host(), "alice")
	require.NoError(t, err)
	require.Equal(t, 70, alice.Balance)
	bob, err := ReadAccount(ctx, a.Host(), "bob")
	require.NoError(t, err)
	require.Equal(t, 50, bob.Balance)

	_, err = exec.Execute(ctx, Transfer("bob", "alice", 51))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = exec.Execute(ctx, Transfer("bob", "bob", 1))
	require.ErrorIs(t, err, ErrSameAccount)
	_, err = exec.Execute(ctx, Transfer("bob", "carol", 1))
	require.ErrorIs(t, err, ErrAccountNotFound)
	_, err = exec.Execute(ctx, Deposit("bob", 0))
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = exec.Execute(ctx, Deposit("bob:1", 5))
	require.ErrorIs(t, err, dcb.ErrValidation)

	_, err = ReadAccount(ctx, a.Host(), "carol")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestBank_ConcurrentTransfersKeepTotal(t *testing.T) {
	a := runBank(t)
	ctx := t.Context()
	exec := a.Executor()

	accounts := []string{"a", "b", "c", "d"}
	for _, id := range accounts {
		_, err := exec.Execute(ctx, OpenAccount(id, id, 1000))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			from, to := accounts[i%4], accounts[(i+1)%4]
			_, err := exec.ExecuteWithRetry(ctx, Transfer(from, to, 10), dcb.WithMaxTries(100))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	total := 0
	for _, id := range accounts {
		acc, err := ReadAccount(ctx, a.Host(), id)
		require.NoError(t, err)
		total += acc.Balance
	}
	require.Equal(t, 4000, total)

	ledger, ok := a.Projection(LedgerProjector)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		s, err := ledger.UnsafeState(ctx)
		if err != nil {
			return false
		}
		l := s.Payload.(Ledger)
		return l.Transfers == 40
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ledger.PromoteAll(ctx))
	s, err := ledger.State(ctx)
	require.NoError(t, err)
	require.Equal(t, Ledger{Accounts: 4, TotalBalance: 4000, Transfers: 40, Volume: 400}, s.Payload.(Ledger))
}

func TestProjectAccount(t *testing.T) {
	s, err := projectAccount(Account{}, dcb.Event{Payload: AccountOpened{AccountID: "x", Owner: "X", InitialBalance: 5}})
	require.NoError(t, err)
	s, err = projectAccount(s, dcb.Event{Payload: MoneyTransferred{From: "y", To: "x", Amount: 3}})
	require.NoError(t, err)
	require.Equal(t, Account{ID: "x", Owner: "X", Balance: 8}, s)

	_, err = projectAccount(s, dcb.Event{Type: "Unknown", Payload: struct{}{}})
	require.Error(t, err)
}
