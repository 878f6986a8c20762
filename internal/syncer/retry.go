package syncer

import "github.com/draftsync/internal/remote"

// FailureClass is the retry policy bucket for a failed attempt.
type FailureClass int

const (
	// FailureRetryableFast: connectivity loss; retried the moment the
	// reachability monitor reports the network is back.
	FailureRetryableFast FailureClass = iota
	// FailureRetryableBackoff: transient server failure; retried on the
	// scheduler's re-scan cadence.
	FailureRetryableBackoff
	// FailureTerminal: requires user action; no automatic re-attempt.
	FailureTerminal
)

// Classify maps a sync failure to its retry policy. Stateless: the
// per-post bookkeeping lives in the coordinator.
func Classify(err error) FailureClass {
	if kind, ok := remote.KindOf(err); ok {
		switch kind {
		case remote.KindConnectivity:
			return FailureRetryableFast
		case remote.KindServer:
			return FailureRetryableBackoff
		default:
			return FailureTerminal
		}
	}
	// Storage and unknown failures are terminal: retrying without a
	// consistent local state risks data loss.
	return FailureTerminal
}
