package runtime

import (
	"context"
	"log/slog"
	"strings"

	"github.com/phindagijimana/neuroinsight-local-sub000/internal/apperrors"
)

// Selector holds the ordered list of runtimes and picks the first one
// whose probe passes. Probe results are not cached across calls.
type Selector struct {
	runtimes []Runtime
}

// NewSelector creates a selector over the given runtimes in preference
// order.
func NewSelector(runtimes ...Runtime) *Selector {
	return &Selector{runtimes: runtimes}
}

// Select returns the first usable runtime.
func (s *Selector) Select(ctx context.Context) (Runtime, error) {
	return s.SelectExcluding(ctx, nil)
}

// SelectExcluding returns the first usable runtime whose name is not in
// excluded. The lifecycle manager uses it for one-shot fallback: each
// environment is attempted at most once per job run, so a flapping
// environment cannot bounce a job back and forth.
func (s *Selector) SelectExcluding(ctx context.Context, excluded map[string]bool) (Runtime, error) {
	var probeErrs []string
	for _, rt := range s.runtimes {
		if excluded[rt.Name()] {
			continue
		}
		if err := rt.Probe(ctx); err != nil {
			slog.Debug("Runtime probe failed", "runtime", rt.Name(), "error", err)
			probeErrs = append(probeErrs, rt.Name()+": "+err.Error())
			continue
		}
		return rt, nil
	}
	if len(probeErrs) == 0 {
		return nil, apperrors.RuntimeUnavailable("all environments already attempted")
	}
	return nil, apperrors.RuntimeUnavailable(strings.Join(probeErrs, "; "))
}

// Resolve returns the runtime that owns the handle's prefix.
func (s *Selector) Resolve(handle string) (Runtime, error) {
	name, _, err := SplitHandle(handle)
	if err != nil {
		return nil, apperrors.Validation("handle", err.Error())
	}
	for _, rt := range s.runtimes {
		if rt.Name() == name {
			return rt, nil
		}
	}
	return nil, apperrors.NotFound("runtime", name)
}

// Alive dispatches a liveness lookup to the runtime owning the handle.
func (s *Selector) Alive(ctx context.Context, handle string) (bool, error) {
	rt, err := s.Resolve(handle)
	if err != nil {
		return false, err
	}
	return rt.Alive(ctx, handle)
}

// Cancel dispatches a best-effort termination to the runtime owning the
// handle.
func (s *Selector) Cancel(ctx context.Context, handle string) error {
	rt, err := s.Resolve(handle)
	if err != nil {
		return err
	}
	return rt.Cancel(ctx, handle)
}

// Ready reports whether at least one runtime passes its probe. Used by
// the health checker.
func (s *Selector) Ready(ctx context.Context) error {
	_, err := s.Select(ctx)
	return err
}
