package core

import (
	"log/slog"
	"sync"

	"github.com/eleven-am/relay/internal/domain"
	"github.com/eleven-am/relay/internal/ports"
)

// FilterResult is the routing decision a filter returns for an operation.
type FilterResult int

const (
	// FilterContinue hands the operation to the next filter, or to local
	// handling when no filters remain.
	FilterContinue FilterResult = iota

	// FilterSuspend parks the operation; the filter resumes it later through
	// ProcessingContext.Resume.
	FilterSuspend

	// FilterFailedStop stops processing; the filter has failed the operation.
	FilterFailedStop

	// FilterSuccessStop stops processing; the filter has completed the
	// operation.
	FilterSuccessStop
)

type Filter interface {
	ProcessRequest(op *domain.Operation, ctx *ProcessingContext) FilterResult
}

// OperationHandler receives operations that passed every filter.
type OperationHandler func(op *domain.Operation)

// ProcessingContext is the transient per-request state of one pass through
// the chain. It exists only for the lifetime of one routing decision.
type ProcessingContext struct {
	chain   *Chain
	host    ports.ServiceHost
	op      *domain.Operation
	handler OperationHandler
	index   int

	mu        sync.Mutex
	service   *ports.ServiceDescriptor
	suspend   func(op *domain.Operation)
	suspended bool
}

func (ctx *ProcessingContext) Host() ports.ServiceHost {
	return ctx.host
}

// SetService records the resolved local service for downstream filters and
// the final handler.
func (ctx *ProcessingContext) SetService(desc *ports.ServiceDescriptor) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.service = desc
}

func (ctx *ProcessingContext) Service() *ports.ServiceDescriptor {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.service
}

// SetSuspendConsumer installs the function invoked after the current filter
// returns FilterSuspend. The consumer owns the operation until it calls
// Resume.
func (ctx *ProcessingContext) SetSuspendConsumer(consumer func(op *domain.Operation)) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.suspend = consumer
}

// Resume continues a suspended pass with the given outcome. Resuming more
// than once per suspension is ignored.
func (ctx *ProcessingContext) Resume(op *domain.Operation, result FilterResult, err error) {
	ctx.mu.Lock()
	if !ctx.suspended {
		ctx.mu.Unlock()
		return
	}
	ctx.suspended = false
	ctx.mu.Unlock()

	if result != FilterContinue {
		if err != nil {
			ctx.chain.logger.Debug("operation stopped by filter",
				"op", op.ID(), "path", op.Path(), "error", err)
		}
		return
	}

	ctx.index++
	ctx.chain.run(ctx)
}

// Chain runs an operation through an ordered set of filters before local
// handling. The owner-forwarding filter is its first consumer.
type Chain struct {
	filters []Filter
	host    ports.ServiceHost
	logger  *slog.Logger
}

func NewChain(host ports.ServiceHost, logger *slog.Logger, filters ...Filter) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		filters: filters,
		host:    host,
		logger:  logger.With("component", "processing-chain"),
	}
}

// ProcessRequest runs op through the chain. handler is invoked only if every
// filter continues.
func (c *Chain) ProcessRequest(op *domain.Operation, handler OperationHandler) {
	ctx := &ProcessingContext{
		chain:   c,
		host:    c.host,
		op:      op,
		handler: handler,
	}
	c.run(ctx)
}

func (c *Chain) run(ctx *ProcessingContext) {
	for ctx.index < len(c.filters) {
		filter := c.filters[ctx.index]
		switch filter.ProcessRequest(ctx.op, ctx) {
		case FilterContinue:
			ctx.index++
		case FilterSuspend:
			ctx.mu.Lock()
			consumer := ctx.suspend
			ctx.suspend = nil
			ctx.suspended = true
			ctx.mu.Unlock()
			if consumer != nil {
				consumer(ctx.op)
			}
			return
		case FilterFailedStop, FilterSuccessStop:
			return
		}
	}

	if ctx.handler != nil {
		ctx.handler(ctx.op)
	}
}
