package permission

import (
	"math/bits"
	"sort"
)

// Set is a deduplicated collection of permission codes. Codes known to a
// frozen registry live in a bitset; anything else lives in a map. A Set is
// not safe for concurrent mutation; once built it may be read concurrently.
// A nil *Set is empty.
type Set struct {
	registry *Registry
	words    []uint64
	extra    map[string]struct{}
}

// NewSet returns an empty set. reg may be nil; an unfrozen registry is
// ignored, since its bit assignments can still change.
func NewSet(reg *Registry, codes ...string) *Set {
	s := &Set{}
	if reg != nil && reg.Frozen() {
		s.registry = reg
		s.words = make([]uint64, reg.MaxBits()/64)
	}
	s.Add(codes...)
	return s
}

// Add inserts codes. Empty strings are ignored.
func (s *Set) Add(codes ...string) {
	for _, code := range codes {
		if code == "" {
			continue
		}
		if s.registry != nil {
			if bit, ok := s.registry.Bit(code); ok {
				s.words[bit/64] |= 1 << uint(bit%64)
				continue
			}
		}
		if s.extra == nil {
			s.extra = make(map[string]struct{})
		}
		s.extra[code] = struct{}{}
	}
}

// Has reports whether code is in the set.
func (s *Set) Has(code string) bool {
	if s == nil || code == "" {
		return false
	}
	if s.registry != nil {
		if bit, ok := s.registry.Bit(code); ok {
			return s.words[bit/64]&(1<<uint(bit%64)) != 0
		}
	}
	_, ok := s.extra[code]
	return ok
}

// HasAll reports whether every code is present. It is true for no codes.
func (s *Set) HasAll(codes []string) bool {
	for _, c := range codes {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// HasAny reports whether at least one code is present. It is false for no codes.
func (s *Set) HasAny(codes []string) bool {
	for _, c := range codes {
		if s.Has(c) {
			return true
		}
	}
	return false
}

// Len returns the number of codes.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	n := len(s.extra)
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Codes returns the codes in sorted order.
func (s *Set) Codes() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, s.Len())
	for i, w := range s.words {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			if code, ok := s.registry.Code(i*64 + bit); ok {
				out = append(out, code)
			}
			w &^= 1 << uint(bit)
		}
	}
	for code := range s.extra {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
