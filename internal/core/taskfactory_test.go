package core

import (
	"testing"
	"time"

	"github.com/eleven-am/relay/internal/domain"
	"github.com/eleven-am/relay/internal/xjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFactoryPath = "/core/test-tasks"

// creationRecorder is the generic creation delegate: it stores the state it
// receives and completes the operation with it.
type creationRecorder struct {
	created  []*domain.Operation
	failWith error
}

func (c *creationRecorder) handle(op *domain.Operation) {
	c.created = append(c.created, op)
	if c.failWith != nil {
		op.SetStatusCode(domain.StatusInternalError)
		op.Fail(c.failWith)
		return
	}
	op.Complete()
}

func newTestTaskFactory(host *stubHost) (*TaskFactory, *creationRecorder) {
	recorder := &creationRecorder{}
	return NewTaskFactory(host, testFactoryPath, recorder.handle, nil), recorder
}

func directTaskBody(selfLink string, expiration time.Duration) *domain.TaskState {
	return &domain.TaskState{
		DocumentSelfLink:         selfLink,
		DocumentExpirationMicros: domain.NowMicros() + expiration.Microseconds(),
		TaskInfo:                 &domain.TaskInfo{Direct: true},
	}
}

func terminalNotification(path string, stage domain.TaskStage) *domain.Operation {
	state := &domain.TaskState{
		DocumentSelfLink: path,
		TaskInfo:         &domain.TaskInfo{Stage: stage},
	}
	return domain.NewPatch(path).SetBody(state)
}

func TestTaskFactoryPassesThroughNonDirectRequests(t *testing.T) {
	tests := []struct {
		name string
		op   func() *domain.Operation
	}{
		{
			name: "get",
			op: func() *domain.Operation {
				return domain.NewGet(testFactoryPath)
			},
		},
		{
			name: "post without direct",
			op: func() *domain.Operation {
				return domain.NewPost(testFactoryPath).SetBody(&domain.TaskState{
					TaskInfo: &domain.TaskInfo{},
				})
			},
		},
		{
			name: "forwarded direct post",
			op: func() *domain.Operation {
				op := domain.NewPost(testFactoryPath).SetBody(&domain.TaskState{
					TaskInfo: &domain.TaskInfo{Direct: true},
				})
				return op.ToggleOption(domain.OptionForwarded, true)
			},
		},
		{
			name: "replicated direct post",
			op: func() *domain.Operation {
				op := domain.NewPost(testFactoryPath).SetBody(&domain.TaskState{
					TaskInfo: &domain.TaskInfo{Direct: true},
				})
				return op.ToggleOption(domain.OptionFromReplication, true)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newStubHost()
			factory, recorder := newTestTaskFactory(host)

			op := tt.op()
			factory.HandleRequest(op)

			require.Len(t, recorder.created, 1)
			// passed through untouched, not cloned
			assert.Same(t, op, recorder.created[0])
			assert.Nil(t, host.subs.notify)
		})
	}
}

func TestTaskFactoryRejectsMissingBody(t *testing.T) {
	host := newStubHost()
	factory, recorder := newTestTaskFactory(host)

	var failure error
	op := domain.NewPost(testFactoryPath).SetCompletion(func(o *domain.Operation, err error) {
		failure = err
	})
	factory.HandleRequest(op)

	assert.ErrorIs(t, failure, domain.ErrBodyRequired)
	assert.Empty(t, recorder.created)
}

func TestTaskFactoryCreationFailurePropagatesVerbatim(t *testing.T) {
	host := newStubHost()
	factory, recorder := newTestTaskFactory(host)
	recorder.failWith = assert.AnError

	var failure error
	post := domain.NewPost(testFactoryPath).
		SetBody(directTaskBody("/core/test-tasks/t0", time.Minute)).
		SetCompletion(func(o *domain.Operation, err error) {
			failure = err
		})
	factory.HandleRequest(post)

	assert.ErrorIs(t, failure, assert.AnError)
	assert.Equal(t, domain.StatusInternalError, post.StatusCode())
	assert.Nil(t, host.subs.notify)
}

func TestTaskFactoryDirectTaskCompletesOnTerminalPatch(t *testing.T) {
	host := newStubHost()
	host.available["/core/test-tasks/t1"] = true
	factory, recorder := newTestTaskFactory(host)

	completions := 0
	post := domain.NewPost(testFactoryPath).
		SetBody(directTaskBody("/core/test-tasks/t1", time.Minute)).
		SetCompletion(func(o *domain.Operation, err error) {
			completions++
			assert.NoError(t, err)

			var state domain.TaskState
			require.NoError(t, o.DecodeBody(&state))
			assert.Equal(t, domain.TaskStageFinished, state.TaskInfo.Stage)
		})

	factory.HandleRequest(post)

	// the creation went through a clone; the client post is still pending
	require.Len(t, recorder.created, 1)
	assert.NotSame(t, post, recorder.created[0])
	assert.Equal(t, 0, completions)

	// a missing initial stage was normalized to created
	var created domain.TaskState
	require.NoError(t, recorder.created[0].DecodeBody(&created))
	assert.Equal(t, domain.TaskStageCreated, created.TaskInfo.Stage)

	// subscription is active, configured for replay and task expiration
	require.NotNil(t, host.subs.notify)
	assert.True(t, host.subs.request.ReplayState)
	assert.Equal(t, "/core/test-tasks/t1", host.subs.request.TargetPath)
	stats := host.Stats(testFactoryPath)
	assert.Equal(t, 1.0, stats.Value(StatNameActiveSubscriptionCount))

	// in-progress notification is ignored
	host.subs.notify(terminalNotification("/core/test-tasks/t1", domain.TaskStageStarted))
	assert.Equal(t, 0, completions)

	// terminal notification completes the post exactly once
	host.subs.notify(terminalNotification("/core/test-tasks/t1", domain.TaskStageFinished))
	assert.Equal(t, 1, completions)
	require.Len(t, host.subs.unsubscribed, 1)
	assert.Equal(t, domain.ActionDelete, host.subs.unsubscribed[0].Action())
	assert.Equal(t, 0.0, stats.Value(StatNameActiveSubscriptionCount))

	// duplicate terminal notification is swallowed
	host.subs.notify(terminalNotification("/core/test-tasks/t1", domain.TaskStageFailed))
	assert.Equal(t, 1, completions)
	assert.Len(t, host.subs.unsubscribed, 1)
}

func TestTaskFactoryIdempotentPutIsBridged(t *testing.T) {
	host := newStubHost()
	factory, recorder := newTestTaskFactory(host)

	post := domain.NewPut(testFactoryPath).
		SetBody(directTaskBody("/core/test-tasks/t2", time.Minute)).
		ToggleOption(domain.OptionPostToPut, true)

	factory.HandleRequest(post)

	require.Len(t, recorder.created, 1)
	assert.NotSame(t, post, recorder.created[0])
	assert.NotNil(t, host.subs.notify)
}

func TestTaskFactorySelfDeleteBeforeExpirationFailsWithTimeout(t *testing.T) {
	host := newStubHost()
	host.available["/core/test-tasks/t3"] = true
	factory, _ := newTestTaskFactory(host)

	var failure error
	post := domain.NewPost(testFactoryPath).
		SetBody(directTaskBody("/core/test-tasks/t3", time.Hour)).
		SetCompletion(func(o *domain.Operation, err error) {
			failure = err
		})
	factory.HandleRequest(post)
	require.NotNil(t, host.subs.notify)

	host.subs.notify(domain.NewDelete("/core/test-tasks/t3"))

	require.Error(t, failure)
	assert.Equal(t, domain.StatusTimeout, post.StatusCode())
	assert.Len(t, host.subs.unsubscribed, 1)
}

func TestTaskFactorySelfDeleteAfterExpirationIsBenign(t *testing.T) {
	host := newStubHost()
	host.available["/core/test-tasks/t4"] = true
	factory, _ := newTestTaskFactory(host)

	completions := 0
	post := domain.NewPost(testFactoryPath).
		SetBody(directTaskBody("/core/test-tasks/t4", -time.Second)).
		SetCompletion(func(o *domain.Operation, err error) {
			completions++
			assert.NoError(t, err)
		})
	factory.HandleRequest(post)
	require.NotNil(t, host.subs.notify)

	host.subs.notify(domain.NewDelete("/core/test-tasks/t4"))
	assert.Equal(t, 1, completions)

	// a racing duplicate deletion stays swallowed
	host.subs.notify(domain.NewDelete("/core/test-tasks/t4"))
	assert.Equal(t, 1, completions)
}

// a subscription that reached its deadline is destroyed host side before the
// unsubscribe arrives; the not-found answer still releases the counted
// subscription
func TestTaskFactoryExpiredSubscriptionReleasesCounter(t *testing.T) {
	host := newStubHost()
	host.available["/core/test-tasks/t9"] = true
	host.subs.unsubscribeMissing = true
	factory, _ := newTestTaskFactory(host)

	completions := 0
	post := domain.NewPost(testFactoryPath).
		SetBody(directTaskBody("/core/test-tasks/t9", -time.Second)).
		SetCompletion(func(o *domain.Operation, err error) {
			completions++
			assert.NoError(t, err)
		})
	factory.HandleRequest(post)
	require.NotNil(t, host.subs.notify)
	stats := host.Stats(testFactoryPath)
	require.Equal(t, 1.0, stats.Value(StatNameActiveSubscriptionCount))

	host.subs.notify(domain.NewDelete("/core/test-tasks/t9"))

	assert.Equal(t, 1, completions)
	require.Len(t, host.subs.unsubscribed, 1)
	assert.Equal(t, 0.0, stats.Value(StatNameActiveSubscriptionCount))
}

func TestTaskFactoryStopOnUnavailableServiceOnlyAdjustsCounter(t *testing.T) {
	host := newStubHost()
	// service never marked available: unsubscribing cannot be confirmed
	factory, _ := newTestTaskFactory(host)

	post := domain.NewPost(testFactoryPath).
		SetBody(directTaskBody("/core/test-tasks/t5", time.Minute)).
		SetCompletion(func(o *domain.Operation, err error) {})
	factory.HandleRequest(post)
	require.NotNil(t, host.subs.notify)

	host.subs.notify(terminalNotification("/core/test-tasks/t5", domain.TaskStageFinished))

	assert.Empty(t, host.subs.unsubscribed)
	assert.Equal(t, 0.0, host.Stats(testFactoryPath).Value(StatNameActiveSubscriptionCount))
}

func TestTaskFactoryClampsNegativeSubscriptionCount(t *testing.T) {
	host := newStubHost()
	host.Stats(testFactoryPath).Set(StatNameActiveSubscriptionCount, -2)
	factory, _ := newTestTaskFactory(host)

	post := domain.NewPost(testFactoryPath).
		SetBody(directTaskBody("/core/test-tasks/t6", time.Minute)).
		SetCompletion(func(o *domain.Operation, err error) {})
	factory.HandleRequest(post)

	// clamped to zero before the new subscription was counted
	assert.Equal(t, 1.0, host.Stats(testFactoryPath).Value(StatNameActiveSubscriptionCount))
}

func TestTaskFactorySubscribeFailureFailsPost(t *testing.T) {
	host := newStubHost()
	host.subs.subscribeErr = assert.AnError
	factory, _ := newTestTaskFactory(host)

	var failure error
	post := domain.NewPost(testFactoryPath).
		SetBody(directTaskBody("/core/test-tasks/t7", time.Minute)).
		SetCompletion(func(o *domain.Operation, err error) {
			failure = err
		})
	factory.HandleRequest(post)

	assert.ErrorIs(t, failure, assert.AnError)
}

// notification bodies delivered as raw bytes decode the same way as typed
// ones; the transport hands them over undecoded
func TestTaskFactoryHandlesRawNotificationBodies(t *testing.T) {
	host := newStubHost()
	host.available["/core/test-tasks/t8"] = true
	factory, _ := newTestTaskFactory(host)

	completions := 0
	post := domain.NewPost(testFactoryPath).
		SetBody(directTaskBody("/core/test-tasks/t8", time.Minute)).
		SetCompletion(func(o *domain.Operation, err error) {
			completions++
		})
	factory.HandleRequest(post)
	require.NotNil(t, host.subs.notify)

	raw, err := xjson.Marshal(&domain.TaskState{
		DocumentSelfLink: "/core/test-tasks/t8",
		TaskInfo:         &domain.TaskInfo{Stage: domain.TaskStageFailed},
	})
	require.NoError(t, err)

	host.subs.notify(domain.NewPut("/core/test-tasks/t8").SetBody(xjson.RawMessage(raw)))
	assert.Equal(t, 1, completions)
}
