// Package trigger implements the capture trigger predicates. Each kind is a
// pure function of the current sample, the previous sample of the trigger
// channel and the configured threshold; level kinds ignore the previous
// sample. The wire encoding of Kind is part of the textual protocol
// (osci_trigger / osci_info) and must stay stable.
package trigger

import "strconv"

// Kind selects the trigger condition. The integer values are the protocol
// encoding; 0-3 match the original firmware enum.
type Kind uint8

const (
	None        Kind = 0 // never fires, capture auto-starts
	RisingEdge  Kind = 1
	FallingEdge Kind = 2
	EitherEdge  Kind = 3
	Equal       Kind = 4
	Above       Kind = 5
	Below       Kind = 6
)

// Valid reports whether k is a known trigger kind.
func (k Kind) Valid() bool {
	return k <= Below
}

// Edge reports whether k compares against the previous sample. The capture
// engine only maintains previous-sample memory for edge kinds.
func (k Kind) Edge() bool {
	switch k {
	case RisingEdge, FallingEdge, EitherEdge:
		return true
	}
	return false
}

// Fired evaluates the trigger condition. The inclusive/exclusive split on the
// edge comparisons prevents double-firing when a sample lands exactly on the
// threshold: rising fires on cur >= th && prev < th, falling on
// cur <= th && prev > th.
func (k Kind) Fired(current, previous, threshold float32) bool {
	switch k {
	case None:
		return false
	case RisingEdge:
		return current >= threshold && previous < threshold
	case FallingEdge:
		return current <= threshold && previous > threshold
	case EitherEdge:
		return (current >= threshold && previous < threshold) ||
			(current <= threshold && previous > threshold)
	case Equal:
		return current == threshold
	case Above:
		return current > threshold
	case Below:
		return current < threshold
	}
	return false
}

// ParseKind converts a protocol token (ASCII decimal) into a Kind.
func ParseKind(token string) (Kind, bool) {
	n, err := strconv.ParseUint(token, 10, 8)
	if err != nil {
		return None, false
	}
	k := Kind(n)
	if !k.Valid() {
		return None, false
	}
	return k, true
}

// String names the kind for logs and info output.
func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case RisingEdge:
		return "rising"
	case FallingEdge:
		return "falling"
	case EitherEdge:
		return "either"
	case Equal:
		return "equal"
	case Above:
		return "above"
	case Below:
		return "below"
	}
	return "unknown"
}
