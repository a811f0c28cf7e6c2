// internal/solrpc/errors.go
package solrpc

import "strings"

// The network rejects duplicate submissions of an already-landed transaction
// with a dedicated error; resend loops treat it as harmless.
func IsAlreadyProcessedError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already been processed")
}

// IsBlockhashNotFoundError reports whether the node no longer knows the
// referenced blockhash, which happens once the validity window has passed.
func IsBlockhashNotFoundError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BlockhashNotFound")
}

// IsNodeBehindError reports whether the serving node lags the cluster.
func IsNodeBehindError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Node is behind")
}
