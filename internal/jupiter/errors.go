// internal/jupiter/errors.go
package jupiter

import (
	"errors"
	"fmt"
)

// ProviderError is an error the aggregator itself reported inside an
// otherwise-successful response. Op distinguishes the quote endpoint from
// the swap build endpoint so callers can map it to their own failure class.
type ProviderError struct {
	Op      string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("aggregator %s error: %s", e.Op, e.Message)
}

// IsQuoteError reports whether err is a provider error from the quote step.
func IsQuoteError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Op == "quote"
}

// IsSwapBuildError reports whether err is a provider error from the swap
// build step.
func IsSwapBuildError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Op == "swap"
}
