package relay

import (
	"context"

	"github.com/eleven-am/relay/internal/core"
	"github.com/eleven-am/relay/internal/domain"
	"github.com/eleven-am/relay/internal/ports"
)

// Operation is the unit of work: a request descriptor with a completion
// continuation.
type Operation = domain.Operation

// Action is the HTTP-like verb of an operation.
type Action = domain.Action

const (
	ActionGet    = domain.ActionGet
	ActionPost   = domain.ActionPost
	ActionPut    = domain.ActionPut
	ActionPatch  = domain.ActionPatch
	ActionDelete = domain.ActionDelete
)

// CompletionHandler receives an operation's terminal outcome.
type CompletionHandler = domain.CompletionHandler

// Join fans out independent operations and joins their completions into one
// aggregate outcome.
type Join = core.Join

// JoinedCompletionHandler receives a join's aggregate outcome.
type JoinedCompletionHandler = core.JoinedCompletionHandler

// TaskFactory bridges direct task creation into a deferred response.
type TaskFactory = core.TaskFactory

// TaskState is the shared document body of task-like services.
type TaskState = domain.TaskState

// TaskInfo describes a task's execution mode and stage.
type TaskInfo = domain.TaskInfo

// TaskStage is a task's lifecycle stage.
type TaskStage = domain.TaskStage

const (
	TaskStageCreated   = domain.TaskStageCreated
	TaskStageStarted   = domain.TaskStageStarted
	TaskStageFinished  = domain.TaskStageFinished
	TaskStageFailed    = domain.TaskStageFailed
	TaskStageCancelled = domain.TaskStageCancelled
)

// Capability flags drive the routing decision for a service path.
type Capability = domain.Capability

const (
	CapabilityOwnerSelection = domain.CapabilityOwnerSelection
	CapabilityReplication    = domain.CapabilityReplication
	CapabilityPersistence    = domain.CapabilityPersistence
	CapabilityFactory        = domain.CapabilityFactory
	CapabilityUtility        = domain.CapabilityUtility
)

type CapabilitySet = domain.CapabilitySet

// ServiceDescriptor is the routing-relevant view of a registered service.
type ServiceDescriptor = ports.ServiceDescriptor

// RequestSender sends an operation and delivers its outcome through the
// operation's completion chain.
type RequestSender = ports.RequestSender

// Config configures a runtime.
type Config = domain.Config

func NewOperation(action Action, path string) *Operation { return domain.NewOperation(action, path) }
func NewGet(path string) *Operation                      { return domain.NewGet(path) }
func NewPost(path string) *Operation                     { return domain.NewPost(path) }
func NewPut(path string) *Operation                      { return domain.NewPut(path) }
func NewPatch(path string) *Operation                    { return domain.NewPatch(path) }
func NewDelete(path string) *Operation                   { return domain.NewDelete(path) }

func NewCapabilitySet(caps ...Capability) CapabilitySet {
	return domain.NewCapabilitySet(caps...)
}

// NowMicros is the absolute microsecond clock expirations are measured
// against.
func NowMicros() int64 { return domain.NowMicros() }

// NewJoin creates a join over a fixed, non-empty set of operations.
func NewJoin(ctx context.Context, ops ...*Operation) (*Join, error) {
	return core.NewJoin(ctx, ops...)
}

// NewEmptyJoin creates a join whose operations are supplied later.
func NewEmptyJoin(ctx context.Context) *Join {
	return core.NewEmptyJoin(ctx)
}
