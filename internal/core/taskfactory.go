package core

import (
	"log/slog"
	"sync/atomic"

	"github.com/eleven-am/relay/internal/domain"
	"github.com/eleven-am/relay/internal/ports"
)

// StatNameActiveSubscriptionCount is the approximate count of direct-task
// subscriptions a factory currently holds. Best-effort only.
const StatNameActiveSubscriptionCount = "subscriptionCount"

// CreateHandler performs the generic creation handling a factory applies to
// requests the bridge does not intercept.
type CreateHandler func(op *domain.Operation)

// TaskFactory bridges asynchronous task execution into a single
// client-visible request. A POST creating a task with taskInfo.isDirect=true
// is held open: the factory creates the child task, subscribes to its
// notification stream and completes the original POST only when the task
// reaches a terminal stage. Everything else passes through to the generic
// creation handler.
type TaskFactory struct {
	host   ports.ServiceHost
	path   string
	create CreateHandler
	logger *slog.Logger
}

func NewTaskFactory(host ports.ServiceHost, path string, create CreateHandler, logger *slog.Logger) *TaskFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskFactory{
		host:   host,
		path:   path,
		create: create,
		logger: logger.With("component", "task-factory", "path", path),
	}
}

func (f *TaskFactory) Path() string {
	return f.path
}

// HandleRequest intercepts direct-task creations and delegates everything
// else. Idempotent POSTs converted to PUTs are treated as creations.
func (f *TaskFactory) HandleRequest(op *domain.Operation) {
	isIdempotentPut := op.Action() == domain.ActionPut &&
		op.HasOption(domain.OptionPostToPut)

	if op.Action() != domain.ActionPost && !isIdempotentPut {
		f.create(op)
		return
	}

	if !op.HasBody() {
		op.Fail(domain.ErrBodyRequired)
		return
	}

	var initState domain.TaskState
	if err := op.DecodeBody(&initState); err != nil {
		op.Fail(domain.Error{Type: domain.ErrorTypeValidation, Message: "invalid task body: " + err.Error()})
		return
	}

	if initState.TaskInfo == nil || !initState.TaskInfo.Direct {
		f.create(op)
		return
	}

	// only a request direct from a client is bridged; forwarded or replicated
	// requests would create duplicate subscriptions across replicas
	if op.HasOption(domain.OptionFromReplication) || op.HasOption(domain.OptionForwarded) {
		f.create(op)
		return
	}

	f.handleDirectTaskPost(op, &initState)
}

// handleDirectTaskPost issues the real creation while keeping the child task
// unaware of the pending POST: the task stays a plain state machine that
// PATCHes itself.
func (f *TaskFactory) handleDirectTaskPost(post *domain.Operation, initState *domain.TaskState) {
	if initState.TaskInfo.Stage == "" {
		initState.TaskInfo.Stage = domain.TaskStageCreated
		post.SetBody(initState)
	}

	clonedPost := post.Clone().SetCompletion(func(o *domain.Operation, err error) {
		if err != nil {
			post.SetStatusCode(o.StatusCode())
			if o.HasBody() {
				post.SetBody(o.Body())
			}
			post.Fail(err)
			return
		}
		f.subscribeToChildTask(o, post)
	})
	clonedPost.ToggleOption(domain.OptionConnectionSharing, true)

	f.create(clonedPost)
}

func (f *TaskFactory) subscribeToChildTask(o *domain.Operation, post *domain.Operation) {
	stats := f.host.Stats(f.path)

	// Duplicate unsubscribes can drive the approximate count below zero;
	// clamp it before tracking a new subscription.
	if stats.Value(StatNameActiveSubscriptionCount) < 0 {
		stats.Set(StatNameActiveSubscriptionCount, 0)
	}

	var created domain.TaskState
	if err := o.DecodeBody(&created); err != nil {
		post.Fail(domain.Error{Type: domain.ErrorTypeInternal, Message: "task created with unreadable state: " + err.Error()})
		return
	}

	subscribe := domain.NewPost(created.DocumentSelfLink).
		SetCompletion(func(so *domain.Operation, err error) {
			if err == nil {
				stats.Adjust(StatNameActiveSubscriptionCount, 1)
				return
			}
			post.SetStatusCode(so.StatusCode())
			if so.HasBody() {
				post.SetBody(so.Body())
			}
			post.Fail(err)
		})

	var taskComplete atomic.Bool
	expiration := created.DocumentExpirationMicros

	req := ports.SubscriptionRequest{
		TargetPath:       created.DocumentSelfLink,
		ReplayState:      true,
		ExpirationMicros: expiration,
	}

	notify := func(nOp *domain.Operation) {
		nOp.Complete()
		switch nOp.Action() {
		case domain.ActionPut, domain.ActionPatch:
			var task domain.TaskState
			if err := nOp.DecodeBody(&task); err != nil {
				f.logger.Warn("unreadable task notification", "path", nOp.Path(), "error", err)
				return
			}
			if task.TaskInfo == nil || domain.IsTaskInProgress(task.TaskInfo) {
				return
			}
			if taskComplete.CompareAndSwap(false, true) {
				// terminal stage (finished or failed): replay it as the
				// response to the original post
				post.SetBody(nOp.Body())
				post.Complete()
				f.stopDirectTaskSubscription(subscribe, nOp.Path())
			}
		case domain.ActionDelete:
			if domain.NowMicros() < expiration {
				// self deletion before the task's own deadline is anomalous
				if taskComplete.CompareAndSwap(false, true) {
					post.SetStatusCode(domain.StatusTimeout)
					post.Fail(domain.Error{
						Type:    domain.ErrorTypeTimeout,
						Message: "task deleted before reaching a terminal stage",
					})
					f.stopDirectTaskSubscription(subscribe, nOp.Path())
				}
				return
			}
			// expired and self deleted: the terminal PUT/PATCH may have been
			// superseded by the deletion, treat it as the terminal signal
			if taskComplete.CompareAndSwap(false, true) {
				post.Complete()
				f.stopDirectTaskSubscription(subscribe, nOp.Path())
			}
		}
	}

	f.host.Subscriptions().Subscribe(subscribe, req, notify)
}

// stopDirectTaskSubscription stops a subscription, adjusting the active count
// only once the binding is known to be gone. A target that already stopped
// cannot confirm anything, so only the counter is adjusted; a not-found
// failure means the host already destroyed the binding, which counts too.
func (f *TaskFactory) stopDirectTaskSubscription(sub *domain.Operation, targetPath string) {
	stats := f.host.Stats(f.path)

	if !f.host.ServiceAvailable(targetPath) {
		stats.Adjust(StatNameActiveSubscriptionCount, -1)
		return
	}

	unsub := sub.Clone().
		SetAction(domain.ActionDelete).
		SetCompletion(func(o *domain.Operation, err error) {
			if err != nil && !domain.IsServiceNotFound(err) {
				return
			}
			stats.Adjust(StatNameActiveSubscriptionCount, -1)
		})
	f.host.Subscriptions().Unsubscribe(unsub)
}
