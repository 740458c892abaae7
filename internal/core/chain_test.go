package core

import (
	"testing"

	"github.com/eleven-am/relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedFilter struct {
	result  FilterResult
	consume func(op *domain.Operation, ctx *ProcessingContext)
	calls   int
}

func (f *scriptedFilter) ProcessRequest(op *domain.Operation, ctx *ProcessingContext) FilterResult {
	f.calls++
	if f.result == FilterSuspend {
		ctx.SetSuspendConsumer(func(op *domain.Operation) {
			f.consume(op, ctx)
		})
	}
	return f.result
}

func TestChainRunsFiltersInOrderThenHandler(t *testing.T) {
	first := &scriptedFilter{result: FilterContinue}
	second := &scriptedFilter{result: FilterContinue}

	handled := false
	chain := NewChain(newStubHost(), nil, first, second)
	chain.ProcessRequest(domain.NewGet("/svc/doc"), func(op *domain.Operation) {
		handled = true
	})

	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.True(t, handled)
}

func TestChainStopsOnFailedStop(t *testing.T) {
	first := &scriptedFilter{result: FilterFailedStop}
	second := &scriptedFilter{result: FilterContinue}

	chain := NewChain(newStubHost(), nil, first, second)
	chain.ProcessRequest(domain.NewGet("/svc/doc"), func(op *domain.Operation) {
		t.Fatal("handler must not run after a stop")
	})

	assert.Equal(t, 0, second.calls)
}

func TestChainSuspendAndResumeContinues(t *testing.T) {
	var captured *ProcessingContext
	suspending := &scriptedFilter{result: FilterSuspend}
	suspending.consume = func(op *domain.Operation, ctx *ProcessingContext) {
		captured = ctx
	}
	downstream := &scriptedFilter{result: FilterContinue}

	handled := 0
	chain := NewChain(newStubHost(), nil, suspending, downstream)
	op := domain.NewGet("/svc/doc")
	chain.ProcessRequest(op, func(o *domain.Operation) {
		handled++
	})

	// parked: nothing past the suspending filter ran yet
	require.NotNil(t, captured)
	assert.Equal(t, 0, downstream.calls)
	assert.Equal(t, 0, handled)

	captured.Resume(op, FilterContinue, nil)
	assert.Equal(t, 1, downstream.calls)
	assert.Equal(t, 1, handled)

	// a second resume of the same suspension is ignored
	captured.Resume(op, FilterContinue, nil)
	assert.Equal(t, 1, downstream.calls)
	assert.Equal(t, 1, handled)
}

func TestChainResumeWithStopEndsProcessing(t *testing.T) {
	var captured *ProcessingContext
	suspending := &scriptedFilter{result: FilterSuspend}
	suspending.consume = func(op *domain.Operation, ctx *ProcessingContext) {
		captured = ctx
	}

	handled := false
	chain := NewChain(newStubHost(), nil, suspending)
	op := domain.NewGet("/svc/doc")
	chain.ProcessRequest(op, func(o *domain.Operation) {
		handled = true
	})

	captured.Resume(op, FilterFailedStop, assert.AnError)
	assert.False(t, handled)
}

func TestChainServiceVisibleDownstream(t *testing.T) {
	host := newStubHost()
	host.addService(ownedServiceDescriptor("/svc/doc"))

	var seen string
	resolver := &scriptedFilter{result: FilterContinue}
	inspector := filterFunc(func(op *domain.Operation, ctx *ProcessingContext) FilterResult {
		if desc, _ := ctx.Host().FindService(op.Path()); desc != nil {
			ctx.SetService(desc)
		}
		if svc := ctx.Service(); svc != nil {
			seen = svc.Path
		}
		return FilterContinue
	})

	chain := NewChain(host, nil, resolver, inspector)
	chain.ProcessRequest(domain.NewGet("/svc/doc"), nil)

	assert.Equal(t, "/svc/doc", seen)
}

type filterFunc func(op *domain.Operation, ctx *ProcessingContext) FilterResult

func (f filterFunc) ProcessRequest(op *domain.Operation, ctx *ProcessingContext) FilterResult {
	return f(op, ctx)
}
