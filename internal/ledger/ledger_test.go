package ledger

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLedgerAdmitDecrementsFromInitialBalance(t *testing.T) {
	t.Parallel()

	l := New(0)
	for k := 1; k <= 10; k++ {
		require.True(t, l.Admit("alice"))
		require.Equal(t, DefaultInitialBalance-k, l.Balance("alice"))
	}
}

func TestLedgerBalanceDoesNotInitialize(t *testing.T) {
	t.Parallel()

	l := New(5)
	require.Equal(t, 0, l.Balance("ghost"))
	require.True(t, l.Admit("ghost"))
	require.Equal(t, 4, l.Balance("ghost"))
}

func TestLedgerDeniesAtZeroWithoutMutation(t *testing.T) {
	t.Parallel()

	l := New(2)
	require.True(t, l.Admit("bob"))
	require.True(t, l.Admit("bob"))
	require.False(t, l.Admit("bob"))
	require.False(t, l.Admit("bob"))
	require.Equal(t, 0, l.Balance("bob"))
}

func TestLedgerSetFloorsAtZero(t *testing.T) {
	t.Parallel()

	l := New(10)
	l.Set("carol", -4)
	require.Equal(t, 0, l.Balance("carol"))
	require.False(t, l.Admit("carol"))

	l.Set("carol", 1)
	require.True(t, l.Admit("carol"))
	require.False(t, l.Admit("carol"))
}

func TestLedgerConcurrentAdmissionNeverOverspends(t *testing.T) {
	t.Parallel()

	const initial = 50
	l := New(initial)

	var (
		wg       sync.WaitGroup
		admitted atomic.Int64
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit("dave") {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(initial), admitted.Load())
	require.Equal(t, 0, l.Balance("dave"))
}
