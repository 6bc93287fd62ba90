package reconcile

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cleared-dev/recon/internal/model"
)

func TestKeyedLocks_OppositeOrderDoesNotDeadlock(t *testing.T) {
	k := newKeyedLocks()
	counter := 0
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys := []string{"chg:a", "txn:b"}
			if i%2 == 1 {
				keys = []string{"txn:b", "chg:a"}
			}
			unlock := k.lock(keys...)
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)
	assert.Zero(t, k.size())
}

func TestKeyedLocks_DuplicateKeys(t *testing.T) {
	k := newKeyedLocks()
	unlock := k.lock("chg:a", "chg:a")
	assert.Equal(t, 1, k.size())
	unlock()
	assert.Zero(t, k.size())
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Bound: BoundTransactionUnallocated, Requested: 50000, Available: 30000}
	assert.Equal(t, model.Amount(20000), err.Excess())
	assert.EqualError(t, err, "matched amount 500.00 exceeds transaction_unallocated 300.00 by 200.00")

	neg := &ValidationError{Bound: BoundPositive, Requested: -100}
	assert.EqualError(t, neg, "matched amount -1.00 must be positive")
}
