package model

import (
	"strconv"

	"github.com/operio-dev/1nproject/internal/domain"
)

// PoolSize is the number of member numbers on offer: 1..PoolSize.
const PoolSize = 100000

// NumberPool describes which member numbers can be claimed.
type NumberPool struct {
	Max     int
	blocked map[int]struct{}
}

// NewNumberPool returns a pool of 1..size without the blocked numbers.
// A non-positive size falls back to PoolSize.
func NewNumberPool(size int, blocked []int) NumberPool {
	if size <= 0 {
		size = PoolSize
	}
	p := NumberPool{Max: size, blocked: make(map[int]struct{}, len(blocked))}
	for _, n := range blocked {
		if n >= 1 && n <= size {
			p.blocked[n] = struct{}{}
		}
	}
	return p
}

// Validate returns a *domain.ValidationError when n cannot be claimed.
func (p NumberPool) Validate(n int) error {
	if n < 1 || n > p.Max {
		return domain.NewValidationError("number", "must be between 1 and "+strconv.Itoa(p.Max))
	}
	if _, ok := p.blocked[n]; ok {
		return domain.NewValidationError("number", "number is not available for allocation")
	}
	return nil
}

func (p NumberPool) Capacity() int {
	return p.Max - len(p.blocked)
}
