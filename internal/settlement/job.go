package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"rafflekeeper/apps/backend/internal/queue"
)

// JobPayload is the body of a settlement job. The round id is a decimal
// string so it survives JSON without precision loss.
type JobPayload struct {
	RoundID string `json:"round_id"`
}

func NewJobPayload(roundID *big.Int) JobPayload {
	return JobPayload{RoundID: roundID.String()}
}

func (p JobPayload) Round() (*big.Int, error) {
	id, ok := new(big.Int).SetString(p.RoundID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid round id %q", p.RoundID)
	}
	return id, nil
}

// HandleJob is the queue handler for settlement jobs. No-op outcomes complete
// the job; submission failures return an error so the queue retries.
func (e *Executor) HandleJob(ctx context.Context, job *queue.Job) error {
	var p JobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode settlement payload: %w", err)
	}
	id, err := p.Round()
	if err != nil {
		return err
	}
	_, err = e.Settle(ctx, id)
	return err
}
