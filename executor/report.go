package executor

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// UnitResult is the outcome of one execution unit.
type UnitResult struct {
	Index        int
	ID           uuid.UUID
	Duration     time.Duration
	Instructions uint64
	Error        error
}

// Report collects the outcome of every unit of one Execute call.
type Report struct {
	// Requested is the concurrency the caller asked for.
	Requested int
	// Effective is the concurrency actually used.
	Effective int
	// Clamped is set when Requested was below 1.
	Clamped bool
	Units   []UnitResult
}

// Failed returns the number of units that reported an error.
func (r *Report) Failed() int {
	n := 0
	for _, u := range r.Units {
		if u.Error != nil {
			n++
		}
	}
	return n
}

// Err aggregates the unit errors, or returns nil if every unit succeeded.
func (r *Report) Err() error {
	var result *multierror.Error
	for _, u := range r.Units {
		if u.Error != nil {
			result = multierror.Append(result, fmt.Errorf("unit %d: %w", u.Index, u.Error))
		}
	}
	return result.ErrorOrNil()
}
