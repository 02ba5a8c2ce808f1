package settlement

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTender matches every structural tender problem.
	ErrInvalidTender = errors.New("invalid tender")
	// ErrSettlementMismatch matches every non-exact reconciliation.
	ErrSettlementMismatch = errors.New("settlement mismatch")
)

// InvalidTenderError reports a tender that cannot be reconciled at all.
type InvalidTenderError struct {
	Reason string
}

func (e *InvalidTenderError) Error() string { return "invalid tender: " + e.Reason }

func (e *InvalidTenderError) Is(target error) bool { return target == ErrInvalidTender }

func (e *InvalidTenderError) ErrorCode() string { return "INVALID_TENDER" }

func (e *InvalidTenderError) ErrorDetails() any {
	return map[string]string{"reason": e.Reason}
}

func invalidTender(reason string) error {
	return &InvalidTenderError{Reason: reason}
}

// MismatchError blocks settlement when the outcome is anything but exact.
type MismatchError struct {
	Outcome Outcome
}

func (e *MismatchError) Error() string {
	switch e.Outcome.Kind {
	case OutcomeShort, OutcomeOver:
		return fmt.Sprintf("settlement %s by %s", e.Outcome.Kind, e.Outcome.By)
	default:
		if e.Outcome.Reason != "" {
			return fmt.Sprintf("settlement %s: %s", e.Outcome.Kind, e.Outcome.Reason)
		}
		return fmt.Sprintf("settlement %s", e.Outcome.Kind)
	}
}

func (e *MismatchError) Is(target error) bool { return target == ErrSettlementMismatch }

func (e *MismatchError) ErrorCode() string { return "SETTLEMENT_MISMATCH" }

func (e *MismatchError) ErrorDetails() any {
	details := map[string]string{"outcome": string(e.Outcome.Kind)}
	if !e.Outcome.By.IsZero() {
		details["by"] = e.Outcome.By.String()
	}
	if e.Outcome.Reason != "" {
		details["reason"] = e.Outcome.Reason
	}
	return details
}
