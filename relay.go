// Package relay is the request-routing and coordination core of a
// distributed, document-oriented service runtime. A node hosts many
// independent stateful services, each owned by exactly one cluster member at
// a time, reachable through a uniform operation abstraction (action + path +
// body + completion continuation).
//
// Three mechanisms implement correct request delivery on an unreliable
// network:
//   - Owner forwarding: a request arriving at the wrong replica is
//     transparently redirected to the owning replica, with bounded retries
//     and expiration-aware cancellation.
//   - Join: N independent operations are issued concurrently and a single
//     aggregate continuation fires exactly once, with optional batched
//     back-pressure.
//   - Task bridging: an asynchronous multi-step task is surfaced as a single
//     request/response by subscribing to the task's notification stream and
//     replaying its terminal state.
//
// Basic usage:
//
//	rt, _ := relay.New(&relay.Config{NodeID: "node1"}, logger)
//	rt.RegisterTaskFactory("/core/tasks", relay.NewCapabilitySet(
//	    relay.CapabilityReplication, relay.CapabilityOwnerSelection))
//
//	op := relay.NewPost("/core/tasks").
//	    SetBody(state).
//	    SetCompletion(func(o *relay.Operation, err error) { ... })
//	rt.SendRequest(op)
package relay

import (
	"log/slog"

	"github.com/eleven-am/relay/internal/adapters/memory"
	"github.com/eleven-am/relay/internal/adapters/retry"
	"github.com/eleven-am/relay/internal/adapters/transport"
	"github.com/eleven-am/relay/internal/core"
	"github.com/eleven-am/relay/internal/domain"
	"github.com/eleven-am/relay/internal/ports"
)

// Runtime wires a service host, the owner-forwarding filter chain, the retry
// tracker and the inter-node transport into one embeddable unit.
type Runtime struct {
	config  *domain.Config
	host    *memory.Host
	chain   *core.Chain
	tracker *retry.Tracker
	client  *transport.Client
	logger  *slog.Logger
}

// New builds a runtime from cfg, filling unset fields from defaults.
func New(cfg *Config, logger *slog.Logger) (*Runtime, error) {
	full, err := cfg.WithDefaults()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	host := memory.NewHost(full.NodeID, "", logger)
	client := transport.NewClient(full.Transport, logger)
	tracker := retry.New(host, full.Retry, logger)
	chain := core.NewChain(host, logger, core.NewForwardFilter(logger))

	host.SetChain(chain)
	host.SetRemoteSender(client)
	host.SetRetryTracker(tracker)

	return &Runtime{
		config:  full,
		host:    host,
		chain:   chain,
		tracker: tracker,
		client:  client,
		logger:  logger,
	}, nil
}

// Host exposes the runtime's service host to collaborators.
func (r *Runtime) Host() ports.ServiceHost {
	return r.host
}

// SendRequest submits an operation to the pipeline. If the operation carries
// no expiration, the configured operation timeout is applied.
func (r *Runtime) SendRequest(op *Operation) {
	if op.Expiration() == 0 {
		op.SetExpirationIn(r.config.OperationTimeout)
	}
	r.host.SendRequest(op)
}

// RegisterService attaches a service with the given routing descriptor and an
// optional handler; a nil handler gets generic document handling.
func (r *Runtime) RegisterService(desc ServiceDescriptor, handler func(op *Operation)) {
	r.host.RegisterService(desc, handler)
}

// RegisterTaskFactory attaches a direct-task-aware factory at path. Children
// are created with the declared capability set.
func (r *Runtime) RegisterTaskFactory(path string, childCapabilities CapabilitySet) *TaskFactory {
	factory := core.NewTaskFactory(r.host, path, core.CreateHandler(r.host.ChildCreateHandler(path)), r.logger)
	r.host.RegisterService(ports.ServiceDescriptor{
		Path:              path,
		Capabilities:      domain.NewCapabilitySet(domain.CapabilityFactory),
		ChildCapabilities: childCapabilities,
	}, factory.HandleRequest)
	return factory
}

// SetSelectOwnerFunc injects the cluster's ownership resolution.
func (r *Runtime) SetSelectOwnerFunc(fn memory.SelectOwnerFunc) {
	r.host.SetSelectOwnerFunc(fn)
}

// HTTPHandler returns the inbound HTTP surface feeding the pipeline.
func (r *Runtime) HTTPHandler() *transport.Handler {
	return transport.NewHandler(r.host, r.logger)
}

// Close stops background retry scheduling.
func (r *Runtime) Close() {
	r.tracker.Stop()
}
