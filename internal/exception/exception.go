// Package exception defines the error taxonomy shared by every trading component.
package exception

import (
	"errors"
	"fmt"
)

// Taxonomy roots. Component errors wrap exactly one of these.
var (
	ErrTransientFetch   = errors.New("transient fetch error")
	ErrSafetyViolation  = errors.New("safety violation")
	ErrListGovernance   = errors.New("list governance error")
	ErrWalletAllocation = errors.New("wallet allocation error")
	ErrExecution        = errors.New("execution error")
)

// Specific failures.
var (
	ErrBreakerTripped = fmt.Errorf("%w: circuit breaker tripped", ErrSafetyViolation)
	ErrPoisonToken    = fmt.Errorf("%w: poison token", ErrSafetyViolation)

	ErrUnknownEntry    = fmt.Errorf("%w: unknown identifier for list", ErrListGovernance)
	ErrUnknownListType = fmt.Errorf("%w: unknown list type", ErrListGovernance)
	ErrListDenied      = fmt.Errorf("%w: asset not permitted by list policy", ErrListGovernance)

	ErrInsufficientWallets = fmt.Errorf("%w: insufficient wallets", ErrWalletAllocation)
	ErrInvalidSize         = fmt.Errorf("%w: invalid size", ErrWalletAllocation)
	ErrUnknownWallet       = fmt.Errorf("%w: unknown wallet", ErrWalletAllocation)

	ErrInvalidTransition = errors.New("invalid strategy state transition")
	ErrUnknownStrategy   = errors.New("strategy not found")
	ErrDuplicateStrategy = errors.New("strategy already registered")
)

// Kind names the taxonomy root of err, or "other" when err is outside of it.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTransientFetch):
		return "transient_fetch"
	case errors.Is(err, ErrSafetyViolation):
		return "safety_violation"
	case errors.Is(err, ErrListGovernance):
		return "list_governance"
	case errors.Is(err, ErrWalletAllocation):
		return "wallet_allocation"
	case errors.Is(err, ErrExecution):
		return "execution"
	default:
		return "other"
	}
}
