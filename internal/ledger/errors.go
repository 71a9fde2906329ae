package ledger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRoundNotFound = errors.New("round not found")

	// ErrNoEntries and ErrAlreadyCompleted are the two expected revert
	// reasons of the settlement call.
	ErrNoEntries        = errors.New("round has no entries")
	ErrAlreadyCompleted = errors.New("round already completed")

	ErrReadOnly          = errors.New("ledger client has no signer")
	ErrTransactionFailed = errors.New("settlement transaction failed on-chain")
)

// TransientReadError wraps RPC failures of read calls. The caller may retry;
// the read never returned data.
type TransientReadError struct {
	Op  string
	Err error
}

func (e *TransientReadError) Error() string {
	return fmt.Sprintf("ledger read %s: %v", e.Op, e.Err)
}

func (e *TransientReadError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var tr *TransientReadError
	return errors.As(err, &tr)
}

// classifyRevert maps the contract's expected revert strings to sentinels.
// It returns nil for any other error.
func classifyRevert(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no entries in raffle"):
		return fmt.Errorf("%w: %v", ErrNoEntries, err)
	case strings.Contains(msg, "already completed"):
		return fmt.Errorf("%w: %v", ErrAlreadyCompleted, err)
	}
	return nil
}
