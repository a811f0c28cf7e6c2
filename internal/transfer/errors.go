// internal/transfer/errors.go
package transfer

import (
	"errors"
	"fmt"
)

var ErrInvalidAddress = errors.New("invalid recipient address")

// InsufficientBalanceError means the transfer amount plus the network fee
// exceeds the wallet balance. Raised before anything is submitted.
type InsufficientBalanceError struct {
	Required  uint64
	Available uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d, have %d", e.Required, e.Available)
}

func IsInsufficientBalanceError(err error) bool {
	var ibe *InsufficientBalanceError
	return errors.As(err, &ibe)
}
