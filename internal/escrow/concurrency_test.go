package escrow

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/safetransfer/internal/ledger"
)

const racers = 8

// race runs fn concurrently and returns the errors in no particular order.
func race(n int, fn func(i int) error) []error {
	var wg sync.WaitGroup
	errs := make([]error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func countResults(t *testing.T, errs []error, loser error) (wins int) {
	t.Helper()
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, loser):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	return wins
}

func TestConcurrentInitialize_SameTuple(t *testing.T) {
	f := newFixture(t)

	reqs := make([]InitializeRequest, racers)
	for i := range reqs {
		reqs[i] = f.initRequest(t, 1, escrowAmount)
	}
	errs := race(racers, func(i int) error {
		_, err := f.svc.Initialize(context.Background(), reqs[i])
		return err
	})

	assert.Equal(t, 1, countResults(t, errs, ErrDuplicateInstance))
	assert.Equal(t, uint64(1_317_000_000), f.tokens(t, f.sender.Address()))
}

func TestConcurrentComplete_SameRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.initialize(t, 1, escrowAmount)
	require.NoError(t, err)

	req := f.completeRequest(t, 1)
	errs := race(racers, func(int) error {
		_, err := f.svc.Complete(context.Background(), req)
		return err
	})

	assert.Equal(t, 1, countResults(t, errs, ErrWrongStage))
	assert.Equal(t, uint64(escrowAmount), f.tokens(t, f.receiver.Address()))
}

func TestConcurrentCompleteAndPullBack(t *testing.T) {
	f := newFixture(t)
	_, err := f.initialize(t, 1, escrowAmount)
	require.NoError(t, err)

	creq, preq := f.completeRequest(t, 1), f.pullBackRequest(t, 1)
	errs := race(racers, func(i int) error {
		if i%2 == 0 {
			_, err := f.svc.Complete(context.Background(), creq)
			return err
		}
		_, err := f.svc.PullBack(context.Background(), preq)
		return err
	})
	require.Equal(t, 1, countResults(t, errs, ErrWrongStage))

	res, err := f.svc.Find(context.Background(), f.tuple(1))
	require.NoError(t, err)
	switch res.Record.Stage {
	case StageCompleted:
		assert.Equal(t, uint64(escrowAmount), f.tokens(t, f.receiver.Address()))
		assert.Equal(t, uint64(1_317_000_000), f.tokens(t, f.sender.Address()))
	case StagePulledBack:
		assert.Zero(t, f.tokens(t, f.receiver.Address()))
		assert.Equal(t, uint64(fundedTokens), f.tokens(t, f.sender.Address()))
	default:
		t.Fatalf("unexpected stage %s", res.Record.Stage)
	}
}

func TestConcurrentInitialize_DistinctInstances(t *testing.T) {
	f := newFixture(t)

	reqs := make([]InitializeRequest, racers)
	for i := range reqs {
		reqs[i] = f.initRequest(t, uint64(i+1), 1_000)
	}
	errs := race(racers, func(i int) error {
		_, err := f.svc.Initialize(context.Background(), reqs[i])
		return err
	})
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, uint64(fundedTokens-racers*1_000), f.tokens(t, f.sender.Address()))
}

// The same lifecycle must hold on every durable backend.
func TestLifecycle_Backends(t *testing.T) {
	backends := map[string]func(t *testing.T) ledger.Backend{
		"memory": func(*testing.T) ledger.Backend { return ledger.NewMemoryBackend() },
		"pebble": func(t *testing.T) ledger.Backend {
			b, err := ledger.OpenPebble(filepath.Join(t.TempDir(), "pebble"))
			require.NoError(t, err)
			return b
		},
		"bolt": func(t *testing.T) ledger.Backend {
			b, err := ledger.OpenBolt(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			return b
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			f := newFixtureWithBackend(t, open(t))
			ctx := context.Background()

			opened, err := f.initialize(t, 1, escrowAmount)
			require.NoError(t, err)
			assert.Equal(t, uint64(1_317_000_000), f.tokens(t, f.sender.Address()))
			assert.Equal(t, uint64(escrowAmount), f.holdingBalance(t, opened.Record.HoldingAddress))

			_, err = f.initialize(t, 1, escrowAmount)
			assert.ErrorIs(t, err, ErrDuplicateInstance)

			_, err = f.initialize(t, 2, fundedTokens)
			assert.ErrorIs(t, err, ErrInsufficientFunds)

			_, err = f.complete(t, 1)
			require.NoError(t, err)
			assert.Equal(t, uint64(escrowAmount), f.tokens(t, f.receiver.Address()))
			assert.False(t, f.exists(t, opened.Record.HoldingAddress))

			_, err = f.pullBack(t, 1)
			assert.ErrorIs(t, err, ErrWrongStage)

			_, err = f.initialize(t, 3, escrowAmount)
			require.NoError(t, err)
			_, err = f.pullBack(t, 3)
			require.NoError(t, err)
			assert.Equal(t, uint64(1_317_000_000), f.tokens(t, f.sender.Address()))

			rec, err := f.svc.Get(ctx, opened.RecordAddress)
			require.NoError(t, err)
			assert.Equal(t, StageCompleted, rec.Stage)

			req := f.initRequest(t, 4, 1)
			errs := race(racers, func(int) error {
				_, err := f.svc.Initialize(ctx, req)
				return err
			})
			assert.Equal(t, 1, countResults(t, errs, ErrDuplicateInstance))
		})
	}
}
