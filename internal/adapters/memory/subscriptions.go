package memory

import (
	"time"

	"github.com/eleven-am/relay/internal/domain"
	"github.com/eleven-am/relay/internal/ports"
	"github.com/google/uuid"
)

// subscriptionManager is the Host's view as a ports.SubscriptionManager.
// Subscriptions are keyed per target path by the subscriber operation's id,
// so a clone of the subscribe operation identifies the binding to remove.
type subscriptionManager Host

func (m *subscriptionManager) host() *Host {
	return (*Host)(m)
}

func (m *subscriptionManager) Subscribe(op *domain.Operation, req ports.SubscriptionRequest, notify ports.NotificationHandler) {
	h := m.host()

	if req.ExpirationMicros > 0 && req.ExpirationMicros <= domain.NowMicros() {
		op.Fail(domain.NewCancellationError(req.ExpirationMicros))
		return
	}

	h.mu.Lock()
	entry, ok := h.services[req.TargetPath]
	if !ok || !entry.available {
		h.mu.Unlock()
		domain.FailServiceNotFound(op.SetPath(req.TargetPath))
		return
	}

	sub := &subscription{
		id:         uuid.NewString(),
		targetPath: req.TargetPath,
		notify:     notify,
	}
	if req.ExpirationMicros > 0 {
		delay := time.Duration(req.ExpirationMicros-domain.NowMicros()) * time.Microsecond
		subscriberID := op.ID()
		sub.timer = time.AfterFunc(delay, func() {
			m.expire(req.TargetPath, subscriberID)
		})
	}
	if h.subs[req.TargetPath] == nil {
		h.subs[req.TargetPath] = make(map[uint64]*subscription)
	}
	h.subs[req.TargetPath][op.ID()] = sub

	var replay []byte
	if req.ReplayState {
		replay = h.documents[req.TargetPath]
	}
	h.mu.Unlock()

	op.Complete()

	if replay != nil {
		nOp := domain.NewPut(req.TargetPath).SetBody(replay)
		notify(nOp)
	}
}

func (m *subscriptionManager) Unsubscribe(op *domain.Operation) {
	h := m.host()
	target := op.Path()

	h.mu.Lock()
	bindings, ok := h.subs[target]
	if ok {
		var sub *subscription
		if sub, ok = bindings[op.ID()]; ok {
			if sub.timer != nil {
				sub.timer.Stop()
			}
			delete(bindings, op.ID())
			if len(bindings) == 0 {
				delete(h.subs, target)
			}
		}
	}
	h.mu.Unlock()

	if !ok {
		domain.FailServiceNotFound(op)
		return
	}
	op.Complete()
}

// expire removes an overdue binding and delivers a deletion notification
// carrying the target's last known state, so the subscriber observes a
// terminal signal instead of waiting past the deadline. A binding already
// removed by Unsubscribe or a document deletion is left alone.
func (m *subscriptionManager) expire(targetPath string, subscriberID uint64) {
	h := m.host()

	h.mu.Lock()
	bindings := h.subs[targetPath]
	sub, ok := bindings[subscriberID]
	if ok {
		delete(bindings, subscriberID)
		if len(bindings) == 0 {
			delete(h.subs, targetPath)
		}
	}
	last := h.documents[targetPath]
	h.mu.Unlock()

	if !ok {
		return
	}

	nOp := domain.NewDelete(targetPath)
	if last != nil {
		nOp.SetBody(last)
	}
	sub.notify(nOp)
}

// ActiveSubscriptions reports how many bindings exist against path.
func (h *Host) ActiveSubscriptions(path string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[path])
}
