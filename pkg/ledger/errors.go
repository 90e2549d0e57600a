package ledger

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrInvalidAmount       = errors.New("amount must be a positive whole number")
	ErrInvalidMode         = errors.New("payment mode must be one of cash, dd, online")
	ErrInvalidReference    = errors.New("a reference number is required for dd and online payments")
	ErrInvalidFeeType      = errors.New("fee type must be college or transport")
	ErrInvalidQuota        = errors.New("quota must be government or management")
	ErrInvalidYear         = errors.New("year must be between 1 and 4")
	ErrOverpaymentRejected = errors.New("payment exceeds the outstanding balance")
	ErrStudentNotFound     = errors.New("student not found")
	ErrUSNRequired         = errors.New("usn is required for management quota")

	// ErrConflictingConfirmation is returned when a completed order is confirmed again
	// with a different gateway payment id.
	ErrConflictingConfirmation = errors.New("order was already confirmed with a different payment")
	// ErrOrderClosed is returned when an order expired or failed before confirmation.
	ErrOrderClosed = errors.New("order is no longer payable")
)

// PartialBatchFailure reports the students a bulk assignment could not update.
type PartialBatchFailure struct {
	Total  int
	Failed []Outcome
}

func (e *PartialBatchFailure) Error() string {
	usns := make([]string, 0, len(e.Failed))
	for _, o := range e.Failed {
		usns = append(usns, o.USN)
	}
	return fmt.Sprintf("fee assignment failed for %d of %d students: %s", len(e.Failed), e.Total, strings.Join(usns, ", "))
}
