package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"rafflekeeper/apps/backend/internal/reconcile"
)

const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"

	EntityRaffle = "raffle"
)

// Event is a change notification from the indexer.
type Event struct {
	Op     string `json:"op"`
	Entity string `json:"entity"`
	Data   struct {
		New json.RawMessage `json:"new"`
		Old json.RawMessage `json:"old"`
	} `json:"data"`
}

// raffleRow is the indexed raffle entity. Numeric columns arrive as strings
// or numbers depending on the indexer sink.
type raffleRow struct {
	ID           bigNumber `json:"id"`
	EndTime      bigNumber `json:"endTime"`
	EndTimeSnake bigNumber `json:"end_time"`
	Completed    flexBool  `json:"completed"`
}

// RaffleSnapshot decodes a raffle row into a reconciliation snapshot.
func RaffleSnapshot(raw json.RawMessage) (reconcile.Snapshot, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return reconcile.Snapshot{}, fmt.Errorf("raffle row is empty")
	}
	var row raffleRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return reconcile.Snapshot{}, fmt.Errorf("decode raffle row: %w", err)
	}
	if row.ID.Int == nil {
		return reconcile.Snapshot{}, fmt.Errorf("raffle row has no id")
	}
	end := row.EndTime.Int
	if end == nil {
		end = row.EndTimeSnake.Int
	}
	return reconcile.Snapshot{ID: row.ID.Int, EndTime: end, Completed: bool(row.Completed)}, nil
}

type bigNumber struct {
	*big.Int
}

func (n *bigNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid integer %q", s)
	}
	n.Int = v
	return nil
}

type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(string(b)), `"`)) {
	case "true", "t", "1":
		*f = true
	case "false", "f", "0", "", "null":
		*f = false
	default:
		return fmt.Errorf("invalid boolean %s", b)
	}
	return nil
}
