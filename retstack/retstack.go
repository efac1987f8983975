// Package retstack implements the bounded return-address stack the
// trace decoder pushes to on a call and pops from on a return.
//
// This diverges from the original C nexusrv_return_stack (a fixed
// ring buffer that silently evicts the oldest entry on overflow and
// asserts on pop-when-empty): the specification this package
// implements calls for lazy doubling growth up to a configured
// maximum, a no-op push once that maximum is reached, and a fallible
// pop that reports nexuserr.ErrTraceRetstackEmpty instead of crashing. See
// DESIGN.md for the rationale.
package retstack

import "github.com/ganboing/nexusrv-go/nexuserr"

// Stack is a bounded LIFO of return addresses.
type Stack struct {
	entries []uint64
	max     uint
}

// New returns a Stack that never grows past max entries.
func New(max uint) *Stack {
	return &Stack{max: max}
}

// Push appends addr. Once the stack holds max entries, Push is a
// no-op (the new call site is dropped; the oldest entries are kept
// rather than evicted). Otherwise the backing slice grows by doubling, capped at
// max, the same amortized-growth idiom as append(nil, ...) but
// bounded.
func (s *Stack) Push(addr uint64) {
	if uint(len(s.entries)) >= s.max {
		return
	}
	if cap(s.entries) == len(s.entries) {
		newCap := cap(s.entries) * 2
		if newCap == 0 {
			newCap = 1
		}
		if uint(newCap) > s.max {
			newCap = int(s.max)
		}
		grown := make([]uint64, len(s.entries), newCap)
		copy(grown, s.entries)
		s.entries = grown
	}
	s.entries = append(s.entries, addr)
}

// Pop removes and returns the most recently pushed address. It fails
// with nexuserr.ErrTraceRetstackEmpty when the stack is empty.
func (s *Stack) Pop() (uint64, error) {
	if len(s.entries) == 0 {
		return 0, nexuserr.ErrTraceRetstackEmpty
	}
	last := len(s.entries) - 1
	addr := s.entries[last]
	s.entries = s.entries[:last]
	return addr, nil
}

// Clear empties the stack without releasing its backing array.
func (s *Stack) Clear() { s.entries = s.entries[:0] }

// Used returns the number of entries currently on the stack.
func (s *Stack) Used() uint { return uint(len(s.entries)) }
