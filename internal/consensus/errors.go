package consensus

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoValidators = errors.New("no validators configured")
	ErrNoPending    = errors.New("no pending records to validate")
	// ErrValidatorUnreachable is the injected validator fault.
	ErrValidatorUnreachable = errors.New("validator node unreachable")
	// ErrVoteTimeout marks a validator that did not report within the vote timeout.
	ErrVoteTimeout = errors.New("vote timed out")
	// ErrInvalidBlock is the reason given by a validator that voted against.
	ErrInvalidBlock = errors.New("invalid block")
)

// WindowError refuses an attempt made before the batch window elapsed.
type WindowError struct {
	Remaining time.Duration
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("batch window not reached (%.1fs remaining)", e.Remaining.Seconds())
}

// RejectedError reports a vote that did not reach quorum.
type RejectedError struct {
	Votes    int
	Required int
	Results  []VoteResult
}

func (e *RejectedError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "consensus failed (%d/%d votes)\nvalidation errors:", e.Votes, e.Required)
	for _, r := range e.Results {
		if r.Approved {
			continue
		}
		fmt.Fprintf(&sb, "\n%s: %s", r.Validator, r.Reason())
	}
	return sb.String()
}

// StorageFailedError reports a block that won the vote but could not be
// persisted. The pending records are kept for the next attempt.
type StorageFailedError struct {
	Err error
}

func (e *StorageFailedError) Error() string {
	return fmt.Sprintf("block storage failed: %v", e.Err)
}

func (e *StorageFailedError) Unwrap() error {
	return e.Err
}

// ProcessError reports an unexpected fault inside an attempt. Fingerprint
// identifies the fault in the logs.
type ProcessError struct {
	Fingerprint string
	Cause       string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("consensus process failed: %s", e.Fingerprint)
}
