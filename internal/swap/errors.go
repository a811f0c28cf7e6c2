// =============================
// File: internal/swap/errors.go
// =============================
package swap

import (
	"errors"
	"fmt"
)

var ErrInvalidAddress = errors.New("invalid address")

// InsufficientBalanceError means the requested amount plus the required
// fees exceeds what the wallet holds. Raised before any transaction is
// constructed.
type InsufficientBalanceError struct {
	Required  uint64
	Available uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d lamports, have %d", e.Required, e.Available)
}

func IsInsufficientBalanceError(err error) bool {
	var ibe *InsufficientBalanceError
	return errors.As(err, &ibe)
}
