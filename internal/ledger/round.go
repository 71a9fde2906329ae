package ledger

import (
	"math/big"
	"time"
)

// Round mirrors one entry of the contract's raffles mapping. All numeric
// fields stay *big.Int; timestamps are ledger-clock seconds.
type Round struct {
	ID        *big.Int
	StartTime *big.Int
	EndTime   *big.Int
	PrizePool *big.Int
	Donations *big.Int
	Completed bool
	RequestID *big.Int
}

// EndsAt returns the end of the round window as wall-clock time. Values that
// do not fit an int64 are clamped to the far future.
func (r *Round) EndsAt() time.Time {
	return SecondsToTime(r.EndTime)
}

var maxUnixSeconds = big.NewInt(1 << 40)

func SecondsToTime(secs *big.Int) time.Time {
	if secs == nil || secs.Sign() <= 0 {
		return time.Unix(0, 0)
	}
	if secs.Cmp(maxUnixSeconds) > 0 {
		return time.Unix(maxUnixSeconds.Int64(), 0)
	}
	return time.Unix(secs.Int64(), 0)
}
