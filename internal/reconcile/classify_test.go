package reconcile

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	secs := func(d time.Duration) *big.Int { return big.NewInt(now.Add(d).Unix()) }

	tests := []struct {
		name      string
		snap      Snapshot
		pending   bool
		wantState State
		wantDelay time.Duration
	}{
		{"completed wins over everything", Snapshot{ID: big.NewInt(1), EndTime: secs(time.Hour), Completed: true}, true, StateSettled, 0},
		{"completed in the past", Snapshot{ID: big.NewInt(1), EndTime: secs(-time.Hour), Completed: true}, false, StateSettled, 0},
		{"ended a second ago", Snapshot{ID: big.NewInt(2), EndTime: secs(-time.Second)}, false, StateOverdue, 0},
		{"ends exactly now", Snapshot{ID: big.NewInt(2), EndTime: secs(0)}, false, StateOverdue, 0},
		{"overdue ignores pending jobs", Snapshot{ID: big.NewInt(2), EndTime: secs(-time.Minute)}, true, StateOverdue, 0},
		{"future with pending job", Snapshot{ID: big.NewInt(3), EndTime: secs(10 * time.Second)}, true, StateScheduledAlready, 10 * time.Second},
		{"future without pending job", Snapshot{ID: big.NewInt(3), EndTime: secs(10 * time.Second)}, false, StateNeedsScheduling, 10 * time.Second},
		{"missing end time", Snapshot{ID: big.NewInt(4)}, false, StateOverdue, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, delay := Classify(tt.snap, now, tt.pending)
			assert.Equal(t, tt.wantState, state)
			assert.Equal(t, tt.wantDelay, delay)
		})
	}
}

func TestClassify_MillisecondClock(t *testing.T) {
	// Local time 250ms past the second; the ledger end time is whole seconds.
	now := time.Date(2026, 3, 1, 12, 0, 0, int(250*time.Millisecond), time.UTC)
	end := big.NewInt(time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC).Unix())

	state, delay := Classify(Snapshot{ID: big.NewInt(1), EndTime: end}, now, false)
	assert.Equal(t, StateNeedsScheduling, state)
	assert.Equal(t, 750*time.Millisecond, delay)
}

func TestClassify_HugeEndTimeDoesNotOverflow(t *testing.T) {
	end, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	state, delay := Classify(Snapshot{ID: big.NewInt(1), EndTime: end}, time.Now(), false)
	assert.Equal(t, StateNeedsScheduling, state)
	assert.Greater(t, delay, time.Duration(0))
}
