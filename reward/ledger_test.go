package reward

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_GetUnknownUser(t *testing.T) {
	l := NewLedger(1200)
	assert.Equal(t, 0, l.Get("nobody"))
}

func TestLedger_Add(t *testing.T) {
	tests := []struct {
		name    string
		max     int
		deltas  []int
		want    int
		wantErr error
	}{
		{name: "single grant", max: 1200, deltas: []int{100}, want: 100},
		{name: "accumulates", max: 1200, deltas: []int{100, 200, 50}, want: 350},
		{name: "zero delta", max: 1200, deltas: []int{0}, want: 0},
		{name: "clamped at max", max: 1200, deltas: []int{1000, 500}, want: 1200},
		{name: "exact max", max: 1200, deltas: []int{1200}, want: 1200},
		{name: "negative rejected", max: 1200, deltas: []int{-1}, wantErr: ErrNegativeDelta},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger(tt.max)
			var last int
			var err error
			for _, d := range tt.deltas {
				last, err = l.Add("u1", d)
			}
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, last)
			assert.Equal(t, tt.want, l.Get("u1"))
		})
	}
}

func TestLedger_NegativeDeltaLeavesBalance(t *testing.T) {
	l := NewLedger(1200)
	_, err := l.Add("u1", 100)
	require.NoError(t, err)

	_, err = l.Add("u1", -50)
	require.ErrorIs(t, err, ErrNegativeDelta)
	assert.Equal(t, 100, l.Get("u1"))
}

// Concurrent grants must all be reflected (no lost update) and no observer
// may ever see a balance above the cap.
func TestLedger_ConcurrentAdd(t *testing.T) {
	const (
		workers = 50
		grants  = 20
		delta   = 7
		max     = workers*grants*delta - 100 // force clamping
	)

	l := NewLedger(max)

	var wg sync.WaitGroup
	violations := make(chan int, workers*grants*2)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range grants {
				balance, err := l.Add("u1", delta)
				if err != nil {
					t.Error(err)
					return
				}
				if balance > max {
					violations <- balance
				}
				if observed := l.Get("u1"); observed > max {
					violations <- observed
				}
			}
		}()
	}
	wg.Wait()
	close(violations)

	for v := range violations {
		t.Errorf("observed balance %d above cap %d", v, max)
	}
	assert.Equal(t, max, l.Get("u1"))
}

// Grants below the cap must never lose an update.
func TestLedger_ConcurrentAddNoLostUpdates(t *testing.T) {
	const (
		workers = 50
		grants  = 20
		delta   = 3
	)

	l := NewLedger(1 << 30)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range grants {
				if _, err := l.Add("u1", delta); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*grants*delta, l.Get("u1"))
}

func TestLedger_IndependentUsers(t *testing.T) {
	l := NewLedger(1200)
	_, err := l.Add("u1", 100)
	require.NoError(t, err)
	_, err = l.Add("u2", 200)
	require.NoError(t, err)

	assert.Equal(t, 100, l.Get("u1"))
	assert.Equal(t, 200, l.Get("u2"))
}
