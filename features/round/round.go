package round

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"rafflekeeper/apps/backend/internal/ledger"
)

// View is the JSON form of a round. Ledger integers are decimal strings.
type View struct {
	ID           string    `json:"id"`
	StartTime    string    `json:"start_time"`
	EndTime      string    `json:"end_time"`
	EndsAt       time.Time `json:"ends_at"`
	PrizePool    string    `json:"prize_pool"`
	Donations    string    `json:"donations"`
	Completed    bool      `json:"completed"`
	RequestID    string    `json:"request_id"`
	TotalEntries string    `json:"total_entries,omitempty"`
}

func toView(r *ledger.Round, entries *big.Int) View {
	v := View{
		ID:        str(r.ID),
		StartTime: str(r.StartTime),
		EndTime:   str(r.EndTime),
		EndsAt:    r.EndsAt().UTC(),
		PrizePool: str(r.PrizePool),
		Donations: str(r.Donations),
		Completed: r.Completed,
		RequestID: str(r.RequestID),
	}
	if entries != nil {
		v.TotalEntries = entries.String()
	}
	return v
}

func str(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func hexes(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}
