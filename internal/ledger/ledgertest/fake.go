// Package ledgertest provides an in-memory ledger for tests.
package ledgertest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"rafflekeeper/apps/backend/internal/ledger"
)

// Fake mimics the fund contract. SelectWinners settles the current round and
// opens the next.
type Fake struct {
	mu        sync.Mutex
	rounds    map[string]*ledger.Round
	entries   map[string]*big.Int
	winners   map[string][]common.Address
	current   *big.Int
	roundLen  time.Duration
	now       func() time.Time
	submitted int

	// SubmitErrs are returned by successive SelectWinners calls before the
	// fake starts succeeding.
	SubmitErrs []error
	// ReadErr, when set, fails every read.
	ReadErr error
	// SubmitHook runs at the start of every SelectWinners call.
	SubmitHook func()
}

func New(now func() time.Time) *Fake {
	return &Fake{
		rounds:   map[string]*ledger.Round{},
		entries:  map[string]*big.Int{},
		winners:  map[string][]common.Address{},
		current:  big.NewInt(0),
		roundLen: 24 * time.Hour,
		now:      now,
	}
}

// AddRound stores a round and makes it current if its id is the highest so far.
func (f *Fake) AddRound(id int64, end time.Time, completed bool, entries int64) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	rid := big.NewInt(id)
	f.rounds[rid.String()] = &ledger.Round{
		ID:        rid,
		StartTime: big.NewInt(end.Add(-f.roundLen).Unix()),
		EndTime:   big.NewInt(end.Unix()),
		PrizePool: big.NewInt(0),
		Donations: big.NewInt(0),
		Completed: completed,
		RequestID: big.NewInt(0),
	}
	f.entries[rid.String()] = big.NewInt(entries)
	if rid.Cmp(f.current) > 0 {
		f.current = rid
	}
	return f
}

// SetEntries changes the entry count of a round.
func (f *Fake) SetEntries(id int64, n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[big.NewInt(id).String()] = big.NewInt(n)
}

// Complete marks a round completed without a submission, as another
// keeper would.
func (f *Fake) Complete(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rounds[big.NewInt(id).String()]; ok {
		r.Completed = true
	}
}

// Submissions counts SelectWinners calls that reached the chain.
func (f *Fake) Submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted
}

func (f *Fake) CurrentRoundID(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, &ledger.TransientReadError{Op: "currentRaffleId", Err: f.ReadErr}
	}
	return new(big.Int).Set(f.current), nil
}

func (f *Fake) GetRound(ctx context.Context, id *big.Int) (*ledger.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, &ledger.TransientReadError{Op: "raffles", Err: f.ReadErr}
	}
	r, ok := f.rounds[id.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrRoundNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (f *Fake) GetEntryCount(ctx context.Context, id *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, &ledger.TransientReadError{Op: "raffleTotalEntries", Err: f.ReadErr}
	}
	if n, ok := f.entries[id.String()]; ok {
		return new(big.Int).Set(n), nil
	}
	return big.NewInt(0), nil
}

func (f *Fake) GetWinners(ctx context.Context, id *big.Int) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, &ledger.TransientReadError{Op: "getRaffleWinners", Err: f.ReadErr}
	}
	return append([]common.Address(nil), f.winners[id.String()]...), nil
}

func (f *Fake) GetRunnerUps(ctx context.Context, id *big.Int) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, &ledger.TransientReadError{Op: "getRaffleRunnerUps", Err: f.ReadErr}
	}
	return nil, nil
}

// SelectWinners settles the current round, reverting like the contract when
// it is already completed or has no entries.
func (f *Fake) SelectWinners(ctx context.Context) (common.Hash, error) {
	if f.SubmitHook != nil {
		f.SubmitHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.SubmitErrs) > 0 {
		err := f.SubmitErrs[0]
		f.SubmitErrs = f.SubmitErrs[1:]
		return common.Hash{}, err
	}

	r, ok := f.rounds[f.current.String()]
	if !ok || r.Completed {
		return common.Hash{}, ledger.ErrAlreadyCompleted
	}
	if f.entries[r.ID.String()].Sign() == 0 {
		return common.Hash{}, ledger.ErrNoEntries
	}

	f.submitted++
	r.Completed = true
	f.winners[r.ID.String()] = []common.Address{
		common.BigToAddress(big.NewInt(int64(0x1000 + f.submitted))),
	}

	next := new(big.Int).Add(r.ID, big.NewInt(1))
	end := f.now().Add(f.roundLen)
	f.rounds[next.String()] = &ledger.Round{
		ID:        next,
		StartTime: big.NewInt(f.now().Unix()),
		EndTime:   big.NewInt(end.Unix()),
		PrizePool: big.NewInt(0),
		Donations: big.NewInt(0),
		RequestID: big.NewInt(0),
	}
	f.entries[next.String()] = big.NewInt(0)
	f.current = next

	return common.BigToHash(big.NewInt(int64(f.submitted))), nil
}
