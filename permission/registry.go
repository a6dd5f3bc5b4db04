package permission

import (
	"errors"
	"fmt"
	"sync"
)

// Registry maps permission codes to bit positions. Supported widths are 64,
// 128, 256 and 512 bits.
type Registry struct {
	maxBits int

	mu        sync.RWMutex
	codeToBit map[string]int
	bitToCode map[int]string
	frozen    bool
}

// NewRegistry returns an empty registry with room for maxBits codes.
func NewRegistry(maxBits int) (*Registry, error) {
	if maxBits != 64 && maxBits != 128 && maxBits != 256 && maxBits != 512 {
		return nil, errors.New("invalid maxBits")
	}

	return &Registry{
		maxBits:   maxBits,
		codeToBit: make(map[string]int),
		bitToCode: make(map[int]string),
	}, nil
}

// Register assigns the next free bit to code, which must parse with
// ParseCode. It fails after Freeze.
func (r *Registry) Register(code string) (int, error) {
	if _, err := ParseCode(code); err != nil {
		return -1, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}
	if _, exists := r.codeToBit[code]; exists {
		return -1, fmt.Errorf("permission already registered: %s", code)
	}

	nextBit := len(r.codeToBit)
	if nextBit >= r.maxBits {
		return -1, errors.New("permission limit exceeded")
	}

	r.codeToBit[code] = nextBit
	r.bitToCode[nextBit] = code

	return nextBit, nil
}

// RegisterAll registers each code in order, stopping at the first error.
func (r *Registry) RegisterAll(codes ...string) error {
	for _, c := range codes {
		if _, err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Bit returns the bit index for code.
func (r *Registry) Bit(code string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.codeToBit[code]
	return bit, ok
}

// Code returns the code assigned to bit.
func (r *Registry) Code(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.bitToCode[bit]
	return code, ok
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Count returns the number of registered codes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.codeToBit)
}

// MaxBits returns the registry width.
func (r *Registry) MaxBits() int { return r.maxBits }
