// Package protocol tracks the wire serial version in use: a current
// version, decremented under compare-and-swap when the server reports it
// does not support the version an attempt used.
package protocol

import "sync/atomic"

// DefaultVersion is the newest protocol version the driver speaks; the
// negotiator steps down from here as UnsupportedProtocol responses arrive.
const DefaultVersion = 4

// MinVersion is the oldest version the driver is able to speak at all; a
// decrement request below this fails.
const MinVersion = 2

// Negotiator tracks the current serial version behind an atomic so
// concurrent execution-loop goroutines can race a decrement safely: only
// the first to react to a failure at a given version actually decrements.
type Negotiator struct {
	version int32
}

// NewNegotiator starts at DefaultVersion.
func NewNegotiator() *Negotiator {
	return &Negotiator{version: DefaultVersion}
}

// CurrentVersion returns the version observed right now. The execution
// loop reads this once at the top of each attempt to detect whether
// another goroutine already advanced past the failure this attempt is
// about to react to.
func (n *Negotiator) CurrentVersion() int {
	return int(atomic.LoadInt32(&n.version))
}

// DecrementSerialVersion only actually decrements if the live version still
// equals observed, meaning this goroutine is the first to react to the
// failure at that version. A concurrent caller that already moved the
// version past observed (before this call, or by winning the
// compare-and-swap) causes this to report true without changing anything
// further,
// since the loop only needs "can I retry at a version different from the
// one that just failed", not "did I personally perform the decrement".
func (n *Negotiator) DecrementSerialVersion(observed int) bool {
	current := int(atomic.LoadInt32(&n.version))
	if current != observed {
		// Someone else already moved it; this attempt can simply retry
		// against the new version.
		return current > MinVersion-1
	}
	next := int32(observed - 1)
	if next < MinVersion {
		return false
	}
	if atomic.CompareAndSwapInt32(&n.version, int32(observed), next) {
		return true
	}
	// Lost the race: another caller moved the version first.
	return int(atomic.LoadInt32(&n.version)) >= MinVersion
}
