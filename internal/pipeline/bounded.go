package pipeline

import (
	"context"
	"errors"
	"time"

	"genpipe/internal/domain"
)

// DefaultStageTimeout is the wall-clock ceiling for one generation call.
const DefaultStageTimeout = 30 * time.Minute

// OutcomeKind tags the result of a bounded call.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeTimeout
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "failure"
	}
}

// Outcome is Ok(value), Err(Timeout) or Err(ProviderFailure).
type Outcome[T any] struct {
	Kind  OutcomeKind
	Value T
	Err   error
	Stage string
	Limit time.Duration
}

// Unwrap converts the outcome to the usual value/error pair. A timeout becomes a
// *domain.TimeoutError; a failure returns the call's own error.
func (o Outcome[T]) Unwrap() (T, error) {
	switch o.Kind {
	case OutcomeOK:
		return o.Value, nil
	case OutcomeTimeout:
		var zero T
		return zero, &domain.TimeoutError{Stage: o.Stage, Limit: o.Limit}
	default:
		var zero T
		return zero, o.Err
	}
}

// Bounded runs call with a hard deadline of limit. The call gets a context that is
// cancelled at the deadline; if it does not return by then the outcome is a timeout
// regardless, and its late result is discarded.
func Bounded[T any](ctx context.Context, limit time.Duration, stage string, call func(context.Context) (T, error)) Outcome[T] {
	if limit <= 0 {
		limit = DefaultStageTimeout
	}
	out := Outcome[T]{Stage: stage, Limit: limit}

	cctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call(cctx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			out.Kind = OutcomeOK
			out.Value = r.value
			return out
		}
		if timedOut(ctx, cctx, r.err) {
			out.Kind = OutcomeTimeout
			return out
		}
		out.Kind = OutcomeFailure
		out.Err = r.err
		return out
	case <-cctx.Done():
		if ctx.Err() == nil {
			out.Kind = OutcomeTimeout
			return out
		}
		out.Kind = OutcomeFailure
		out.Err = ctx.Err()
		return out
	}
}

func timedOut(parent, bounded context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	return errors.Is(bounded.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}
