package core

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/eleven-am/relay/internal/domain"
	"github.com/eleven-am/relay/internal/ports"
)

// JoinedCompletionHandler receives the aggregate outcome of a Join: every
// member operation keyed by id, and the per-member failures (nil when all
// members succeeded). ctx is the context captured when the join was created,
// regardless of which goroutine completed the last member.
type JoinedCompletionHandler func(ctx context.Context, ops map[uint64]*domain.Operation, failures map[uint64]error)

// Join fans out a set of independent operations and invokes a single
// aggregate handler exactly once, after every member has reached a terminal
// state and after each member's own completion handler has run.
//
// Each member's continuation is wrapped, never replaced: the original
// per-operation handler still fires for every member.
type Join struct {
	ctx        context.Context
	operations map[uint64]*domain.Operation
	order      []uint64
	completion JoinedCompletionHandler

	failuresMu sync.Mutex
	failures   map[uint64]error

	pending  atomic.Int32
	inFlight atomic.Int32

	sendMu    sync.Mutex
	sender    ports.RequestSender
	next      int
	batchSize int

	finalized  bool
	dispatched atomic.Bool
}

// NewJoin creates a join over a fixed set of operations. At least one
// operation is required.
func NewJoin(ctx context.Context, ops ...*domain.Operation) (*Join, error) {
	j := newJoin(ctx)
	if err := j.SetOperations(ops...); err != nil {
		return nil, err
	}
	return j, nil
}

// NewEmptyJoin creates a join whose operations are supplied later through
// SetOperations.
func NewEmptyJoin(ctx context.Context) *Join {
	return newJoin(ctx)
}

func newJoin(ctx context.Context) *Join {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Join{
		ctx:        ctx,
		operations: make(map[uint64]*domain.Operation),
	}
}

// SetOperations finalizes the member set. It may be called once; supplying
// zero operations or re-setting an already finalized join is a programmer
// error reported synchronously.
func (j *Join) SetOperations(ops ...*domain.Operation) error {
	if len(ops) == 0 {
		return domain.ErrNoOperations
	}
	if j.finalized {
		return domain.ErrOperationsAlreadySet
	}
	j.finalized = true

	for _, op := range ops {
		j.operations[op.ID()] = op
		j.order = append(j.order, op.ID())
		op.NestCompletion(j.memberCompletion)
		j.pending.Add(1)
	}
	return nil
}

// SetCompletion registers the aggregate handler.
func (j *Join) SetCompletion(h JoinedCompletionHandler) *Join {
	j.completion = h
	return j
}

// SendWith dispatches all members immediately through sender.
func (j *Join) SendWith(sender ports.RequestSender) error {
	return j.send(sender, 0)
}

// SendWithBatch dispatches at most batchSize members concurrently. As each
// in-flight member completes, exactly one queued member is released.
func (j *Join) SendWithBatch(sender ports.RequestSender, batchSize int) error {
	if batchSize <= 0 {
		return domain.ErrInvalidBatchSize
	}
	return j.send(sender, batchSize)
}

func (j *Join) send(sender ports.RequestSender, batchSize int) error {
	if sender == nil {
		return domain.ErrNilSender
	}
	if !j.finalized || len(j.order) == 0 {
		return domain.ErrNothingToSend
	}

	j.sendMu.Lock()
	if j.sender != nil {
		j.sendMu.Unlock()
		return domain.ErrJoinInFlight
	}
	j.sender = sender
	j.batchSize = batchSize
	j.dispatched.Store(true)

	// Collect the initial batch before sending anything: a synchronous
	// completion would call sendNext and race the iteration otherwise.
	var batch []*domain.Operation
	for j.next < len(j.order) {
		batch = append(batch, j.operations[j.order[j.next]])
		j.next++
		if batchSize > 0 && len(batch) == batchSize {
			break
		}
	}
	j.sendMu.Unlock()

	for _, op := range batch {
		j.dispatch(op)
	}
	return nil
}

func (j *Join) dispatch(op *domain.Operation) {
	if j.batchSize > 0 && j.inFlight.Add(1) > int32(j.batchSize) {
		panic(domain.Error{
			Type:    domain.ErrorTypeCoordination,
			Message: domain.ErrBatchLimitViolated.Error(),
		})
	}
	j.sender.SendRequest(op)
}

func (j *Join) sendNext() {
	j.sendMu.Lock()
	if j.sender == nil {
		j.sendMu.Unlock()
		return
	}
	var op *domain.Operation
	if j.next < len(j.order) {
		op = j.operations[j.order[j.next]]
		j.next++
	}
	j.sendMu.Unlock()

	if op != nil {
		j.dispatch(op)
	}
}

// memberCompletion is nested on every member. It records failures, releases
// the next queued member and, on the pending count's transition to zero,
// delivers each member's original continuation followed by the aggregate
// handler.
func (j *Join) memberCompletion(o *domain.Operation, err error) {
	if err != nil {
		j.failuresMu.Lock()
		if j.failures == nil {
			j.failures = make(map[uint64]error)
		}
		j.failures[o.ID()] = err
		j.failuresMu.Unlock()
	}

	j.inFlight.Add(-1)
	j.sendNext()

	if j.pending.Add(-1) != 0 {
		return
	}

	for _, id := range j.order {
		op := j.operations[id]
		if t := j.Failure(id); t != nil {
			op.Fail(t)
		} else {
			op.Complete()
		}
	}

	if j.completion != nil {
		j.completion(j.ctx, j.operations, j.failuresSnapshot())
	}
}

// Abort fails every member with err before any dispatch has happened. Once
// members have been handed to a sender their outcomes are in transit and the
// abort is rejected; in-flight sends observe cancellation through their own
// completions instead of being force-failed.
func (j *Join) Abort(err error) error {
	if j.dispatched.Load() {
		return domain.ErrJoinInFlight
	}
	for _, id := range j.order {
		j.operations[id].Fail(err)
	}
	return nil
}

func (j *Join) IsEmpty() bool {
	return len(j.operations) == 0
}

// Operations returns the member map. The map is structurally frozen once the
// join is finalized and safe for concurrent iteration.
func (j *Join) Operations() map[uint64]*domain.Operation {
	return j.operations
}

func (j *Join) Operation(id uint64) *domain.Operation {
	return j.operations[id]
}

// Failures returns the per-member failure map; nil when no member failed.
func (j *Join) Failures() map[uint64]error {
	return j.failuresSnapshot()
}

func (j *Join) Failure(id uint64) error {
	j.failuresMu.Lock()
	defer j.failuresMu.Unlock()
	if j.failures == nil {
		return nil
	}
	return j.failures[id]
}

func (j *Join) failuresSnapshot() map[uint64]error {
	j.failuresMu.Lock()
	defer j.failuresMu.Unlock()
	return j.failures
}
