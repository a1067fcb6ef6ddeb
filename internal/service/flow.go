package service

import (
	"context"
	"log/slog"
	"sync"

	domainsession "github.com/attuned-ai/attuned/internal/domain/session"
	"github.com/attuned-ai/attuned/internal/observability/statsd"
)

// StateSource is the controller surface the router depends on.
type StateSource interface {
	State() State
	Subscribe() (<-chan struct{}, func())
}

// MountFunc is invoked when the resolved flow changes. Implementations
// swap the visible navigator stack (or its headless equivalent).
type MountFunc func(domainsession.Flow)

// FlowRouterOptions groups dependencies for FlowRouter.
type FlowRouterOptions struct {
	Source  StateSource
	Mount   MountFunc
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// FlowRouter projects controller state onto exactly one mounted
// top-level flow. It holds no state of its own beyond the currently
// mounted flow; every evaluation derives the target flow from a fresh
// controller snapshot.
type FlowRouter struct {
	source  StateSource
	mount   MountFunc
	logger  *slog.Logger
	metrics statsd.Sink

	mu      sync.Mutex
	current domainsession.Flow
	mounts  int
}

// NewFlowRouter constructs a router. Nothing is mounted until the first
// Evaluate (or Run).
func NewFlowRouter(opts FlowRouterOptions) *FlowRouter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var metrics statsd.Sink = statsd.Nop{}
	if opts.Metrics != nil {
		metrics = opts.Metrics
	}
	return &FlowRouter{
		source:  opts.Source,
		mount:   opts.Mount,
		logger:  logger,
		metrics: metrics,
	}
}

// Run evaluates once immediately, then re-evaluates on every controller
// change signal until ctx is done. The signal channel coalesces, so a
// burst of state changes collapses into one evaluation of the latest
// state, which is all the mount decision needs.
func (r *FlowRouter) Run(ctx context.Context) error {
	signal, unsubscribe := r.source.Subscribe()
	defer unsubscribe()

	r.Evaluate()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-signal:
			r.Evaluate()
		}
	}
}

// Evaluate resolves the flow for the current controller state and
// remounts only when it differs from the mounted one. Re-evaluating with
// unchanged inputs produces no transition, so redundant signals are
// harmless.
func (r *FlowRouter) Evaluate() domainsession.Flow {
	st := r.source.State()
	flow := domainsession.ResolveFlow(st.Status, st.Session)

	r.mu.Lock()
	changed := flow != r.current
	if changed {
		r.current = flow
		r.mounts++
	}
	r.mu.Unlock()

	if changed {
		r.logger.Info("mounting flow", "flow", flow)
		r.metrics.Count("flow.mount", 1, map[string]string{"flow": string(flow)})
		if r.mount != nil {
			r.mount(flow)
		}
	}
	return flow
}

// Current reports the mounted flow ("" before the first evaluation).
func (r *FlowRouter) Current() domainsession.Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// MountCount reports how many mounts have happened. Test hook for
// asserting that redundant evaluations do not remount.
func (r *FlowRouter) MountCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mounts
}
